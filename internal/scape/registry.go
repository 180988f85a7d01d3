package scape

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps normalized scape names to scapes.
type Registry struct {
	mu     sync.RWMutex
	scapes map[string]Scape
}

func NewRegistry() *Registry {
	return &Registry{scapes: make(map[string]Scape)}
}

// DefaultRegistry returns a registry holding the built-in scapes.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, s := range []Scape{
		XORScape{},
		CartPoleLiteScape{},
		NewPursuitScape(PursuitConfig{}),
		NewDuelScape(DuelConfig{}),
	} {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) Register(s Scape) error {
	if s == nil {
		return fmt.Errorf("scape is required")
	}
	key := normalizeName(s.Name())
	if key == "" {
		return fmt.Errorf("scape name is required")
	}
	in, out := s.Arity()
	if in <= 0 || out <= 0 {
		return fmt.Errorf("scape %s: invalid arity %d/%d", key, in, out)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.scapes[key]; exists {
		return fmt.Errorf("%w: %s", ErrScapeExists, key)
	}
	r.scapes[key] = s
	return nil
}

func (r *Registry) Get(name string) (Scape, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scapes[normalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScapeNotFound, name)
	}
	return s, nil
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scapes))
	for name := range r.scapes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
