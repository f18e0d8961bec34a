package workload

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownProfile is returned by Lookup for unregistered names.
var ErrUnknownProfile = errors.New("workload: unknown profile")

// Registry maps profile names to profiles.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{profiles: make(map[string]Profile)}
}

// Register adds p. Registering the same name twice is an error.
func (r *Registry) Register(p Profile) error {
	if p == nil || p.Name() == "" {
		return errors.New("workload: profile must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.profiles[p.Name()]; exists {
		return fmt.Errorf("workload: profile %q already registered", p.Name())
	}
	r.profiles[p.Name()] = p
	return nil
}

// Lookup returns the profile registered under name.
func (r *Registry) Lookup(name string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownProfile, name)
	}
	return p, nil
}

// Names lists registered profile names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Profiles returns registered profiles sorted by name.
func (r *Registry) Profiles() []Profile {
	names := r.Names()
	out := make([]Profile, 0, len(names))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		out = append(out, r.profiles[name])
	}
	return out
}
