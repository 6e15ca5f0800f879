package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// SecretResolver resolves secret:// references.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret calls f.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// SecretError reports a reference that could not be resolved.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// MissingSecretsError lists required secrets that resolved to nothing. Error only prints
// hashed names so the message is safe to log.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the config field names of the missing secrets, sorted.
func (e *MissingSecretsError) Names() []string {
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

// RedactedNames returns the hashed field names, sorted.
func (e *MissingSecretsError) RedactedNames() []string {
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

// secretFields names every config field that may hold a secret reference.
func secretFields(cfg *Config) map[string]*string {
	return map[string]*string{
		"Fulfillment.ProductionAPIKey": &cfg.Fulfillment.ProductionAPIKey,
	}
}

// resolveSecrets replaces references in place. Plain values pass through untouched; the
// legacy sm:// scheme is rewritten to secret:// before lookup.
func resolveSecrets(ctx context.Context, cfg *Config, resolver SecretResolver) error {
	for _, field := range secretFields(cfg) {
		value := strings.TrimSpace(*field)
		if rest, ok := strings.CutPrefix(value, "sm://"); ok {
			value = "secret://" + rest
		}
		if !strings.HasPrefix(value, "secret://") {
			continue
		}
		if resolver == nil {
			return &SecretError{Ref: value, Err: errSecretResolverNotConfigured}
		}
		resolved, err := resolver.ResolveSecret(ctx, value)
		if err != nil {
			return &SecretError{Ref: value, Err: err}
		}
		*field = resolved
	}
	return nil
}

func missingSecrets(cfg *Config, required []string) *MissingSecretsError {
	fields := secretFields(cfg)
	seen := make(map[string]bool)
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if field, ok := fields[name]; !ok || strings.TrimSpace(*field) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}
