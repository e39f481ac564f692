package llm

import (
	"fmt"
	"slices"
	"sync"

	"codex-stream/internal/domain"
)

// Registry holds named Streamers.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]Streamer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		streams: make(map[string]Streamer),
	}
}

// Register adds s under s.Name(). Names are unique.
func (r *Registry) Register(s Streamer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	if _, exists := r.streams[name]; exists {
		return domain.NewDomainError("Registry.Register", domain.ErrDuplicate, fmt.Sprintf("provider %q", name))
	}
	r.streams[name] = s
	return nil
}

// Get retrieves a Streamer by name.
func (r *Registry) Get(name string) (Streamer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.streams[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return s, nil
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.streams))
	for name := range r.streams {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
