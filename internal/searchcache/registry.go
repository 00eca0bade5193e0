package searchcache

import "sync"

// Registry tracks live caches so a full reindex or a disable can move
// their scopes onto fresh snapshots.
type Registry struct {
	mu     sync.Mutex
	caches map[*Cache]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{caches: make(map[*Cache]struct{})}
}

func (r *Registry) add(c *Cache) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caches[c] = struct{}{}
}

func (r *Registry) remove(c *Cache) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.caches, c)
}

// Len returns the number of tracked caches.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.caches)
}

// InvalidateAll detaches the searchers of every tracked cache. A scope that
// keeps running reopens searchers on its next lookup and sees the latest
// commit. Nothing is closed here: each scope closes its own searchers.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	caches := make([]*Cache, 0, len(r.caches))
	for c := range r.caches {
		caches = append(caches, c)
	}
	r.mu.Unlock()

	for _, c := range caches {
		c.Detach()
	}
}
