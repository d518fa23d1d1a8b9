package network

import (
	"slices"
	"sync"

	"github.com/gateway-fm/tpsbench/pkg/types"
)

// Registry holds network presets. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[types.Network]*Target
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[types.Network]*Target),
	}
}

// Register adds or replaces a preset.
func (r *Registry) Register(t *Target) {
	if t == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[t.Name] = t
}

// Get returns a copy of the named preset, or nil if it is unknown.
// Callers may override fields on the copy without affecting the registry.
func (r *Registry) Get(name types.Network) *Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.entries[name]
	if !ok {
		return nil
	}
	c := *t
	return &c
}

// Names returns all registered preset names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, string(name))
	}
	slices.Sort(names)
	return names
}

// DefaultRegistry returns a registry with the local and testnet presets.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Local())
	r.Register(Testnet())
	return r
}
