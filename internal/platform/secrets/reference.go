package secrets

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const latestVersion = "latest"

// Ref is a parsed secret reference of the form secret://name?version=3&project=p.
// The legacy sm:// scheme is accepted and normalised to secret://.
type Ref struct {
	// Name is the canonical secret://name form used for caching and fallback lookups.
	Name    string
	Secret  string
	Version string
	Project string
}

// ParseRef validates raw and splits it into its components.
func ParseRef(raw string) (Ref, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Ref{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		trimmed = "secret://" + rest
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return Ref{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return Ref{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	secret := strings.Trim(u.Host+u.Path, "/")
	if secret == "" {
		return Ref{}, fmt.Errorf("secrets: reference %q names no secret", raw)
	}
	query := u.Query()
	return Ref{
		Name:    "secret://" + secret,
		Secret:  secret,
		Version: strings.TrimSpace(query.Get("version")),
		Project: strings.TrimSpace(query.Get("project")),
	}, nil
}

// resource renders the Secret Manager version path for ref.
func (r Ref) resource(project, version string) string {
	return "projects/" + project + "/secrets/" + r.Secret + "/versions/" + version
}

func versionedKey(name, version string) string {
	return name + "#" + version
}

// fingerprint hides secret names from metric attributes.
func (r Ref) fingerprint() string {
	sum := sha256.Sum256([]byte(r.Name))
	return hex.EncodeToString(sum[:8])
}
