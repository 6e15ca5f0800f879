package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// localFile holds developer overrides read from a KEY=VALUE file. Keys are secret
// references, optionally carrying ?version=N to target one version.
type localFile struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

func newLocalFile(path string) *localFile {
	return &localFile{path: strings.TrimSpace(path)}
}

// lookup returns the override for ref at version, preferring an exact version entry.
func (l *localFile) lookup(ref Ref, version string) (string, bool, error) {
	l.once.Do(l.load)
	if l.err != nil {
		return "", false, l.err
	}
	if v, ok := l.values[versionedKey(ref.Name, version)]; ok {
		return v, true, nil
	}
	v, ok := l.values[ref.Name]
	return v, ok, nil
}

func (l *localFile) load() {
	l.values = map[string]string{}
	if l.path == "" {
		return
	}
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		l.err = fmt.Errorf("secrets: open %s: %w", l.path, err)
		return
	}
	defer f.Close()

	values, err := parseLocalFile(f)
	if err != nil {
		l.err = fmt.Errorf("secrets: read %s: %w", l.path, err)
		return
	}
	l.values = values
}

func parseLocalFile(r io.Reader) (map[string]string, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		value = strings.TrimSpace(value)

		ref, err := ParseRef(key)
		if err != nil {
			values[key] = value
			continue
		}
		values[ref.Name] = value
		if ref.Version != "" {
			values[versionedKey(ref.Name, ref.Version)] = value
		}
	}
	return values, scanner.Err()
}
