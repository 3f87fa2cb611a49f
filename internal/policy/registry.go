package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnknownVersion is returned when a requested policy version is not loaded.
var ErrUnknownVersion = errors.New("unknown policy version")

// Registry holds compiled policy sets keyed by version.
type Registry struct {
	sets map[string]*Set
	def  string
}

// NewRegistry indexes sets by version. An empty defaultVersion picks the
// only set when exactly one is given.
func NewRegistry(defaultVersion string, sets ...*Set) (*Registry, error) {
	r := &Registry{sets: make(map[string]*Set, len(sets))}
	for _, s := range sets {
		if s == nil {
			continue
		}
		if _, dup := r.sets[s.Version]; dup {
			return nil, fmt.Errorf("policy version %q loaded twice", s.Version)
		}
		r.sets[s.Version] = s
	}

	defaultVersion = strings.TrimSpace(defaultVersion)
	if defaultVersion == "" && len(r.sets) == 1 {
		for v := range r.sets {
			defaultVersion = v
		}
	}
	if defaultVersion != "" {
		if _, ok := r.sets[defaultVersion]; !ok {
			return nil, fmt.Errorf("default policy version %q: %w", defaultVersion, ErrUnknownVersion)
		}
	}
	r.def = defaultVersion
	return r, nil
}

// LoadRegistry compiles every *.yaml, *.yml and *.json document in dir plus
// the explicitly listed files.
func LoadRegistry(dir string, files []string, defaultVersion string) (*Registry, error) {
	var paths []string
	if strings.TrimSpace(dir) != "" {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read policy dir: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".yaml", ".yml", ".json":
				paths = append(paths, filepath.Join(dir, e.Name()))
			}
		}
		sort.Strings(paths)
	}
	paths = append(paths, files...)

	sets := make([]*Set, 0, len(paths))
	for _, p := range paths {
		s, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		sets = append(sets, s)
	}
	return NewRegistry(defaultVersion, sets...)
}

// Get returns the set for version, or the default set when version is empty.
// With no default configured an empty version yields a nil set, which
// applies as "no rules".
func (r *Registry) Get(version string) (*Set, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		if r == nil || r.def == "" {
			return nil, nil
		}
		return r.sets[r.def], nil
	}
	if r != nil {
		if s, ok := r.sets[version]; ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownVersion, version)
}

// Default returns the default version, if any.
func (r *Registry) Default() string {
	if r == nil {
		return ""
	}
	return r.def
}

// Versions lists loaded versions in sorted order.
func (r *Registry) Versions() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.sets))
	for v := range r.sets {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
