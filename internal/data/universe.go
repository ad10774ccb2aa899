package data

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed universes.yaml
var defaultUniverses []byte

// Universes maps a lower-case universe name to its tickers.
type Universes map[string][]string

type universeFile struct {
	Universes map[string][]string `yaml:"universes"`
}

func parseUniverses(raw []byte) (Universes, error) {
	var f universeFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse universes: %w", err)
	}
	u := make(Universes, len(f.Universes))
	for name, tickers := range f.Universes {
		ts := NormalizeTickers(tickers)
		if len(ts) == 0 {
			return nil, fmt.Errorf("universe %q has no tickers", name)
		}
		u[strings.ToLower(name)] = ts
	}
	return u, nil
}

// LoadUniverses returns the built-in universes, overlaid with the ones in
// path when path is not empty. A universe defined in the file replaces the
// built-in one of the same name.
func LoadUniverses(path string) (Universes, error) {
	u, err := parseUniverses(defaultUniverses)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return u, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read universe file: %w", err)
	}
	extra, err := parseUniverses(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for name, tickers := range extra {
		u[name] = tickers
	}
	return u, nil
}

// Lookup returns a copy of the named universe, matched case-insensitively.
func (u Universes) Lookup(name string) ([]string, bool) {
	ts, ok := u[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, false
	}
	return append([]string(nil), ts...), true
}

// Names lists the universes alphabetically.
func (u Universes) Names() []string {
	names := make([]string, 0, len(u))
	for n := range u {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
