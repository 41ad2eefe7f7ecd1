package dom

import "sync"

// Registry tracks the containers the host has made available, keyed by
// instance id. All methods are concurrent-safe.
type Registry struct {
	class      string
	containers map[string]*Container
	mu         sync.RWMutex
}

// NewRegistry creates an empty registry. New containers get the given root
// class.
func NewRegistry(class string) *Registry {
	return &Registry{
		class:      class,
		containers: make(map[string]*Container),
	}
}

// Attach returns the container for id, creating it if needed.
func (r *Registry) Attach(id string) *Container {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.containers[id]; ok {
		return c
	}
	c := NewContainer(id, r.class)
	r.containers[id] = c
	return c
}

// Lookup returns the container for id if the host attached one.
func (r *Registry) Lookup(id string) (*Container, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.containers[id]
	return c, ok
}

// Detach forgets the container for id.
func (r *Registry) Detach(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.containers, id)
}

// IDs returns the ids of all attached containers.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.containers))
	for id := range r.containers {
		ids = append(ids, id)
	}
	return ids
}
