// Package searchcache scopes index searchers to a unit of work such as a
// request or a CLI command.
//
// A Cache travels in a context. The first lookup of a kind opens a
// searcher; later lookups in the same scope reuse it. The scope owner
// closes every searcher exactly once when the work ends.
package searchcache

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Aman-CERP/issueindex/internal/index"
)

// Supplier opens a searcher on demand.
type Supplier func() (*index.Searcher, error)

// Cache holds at most one current searcher per index kind. Searchers
// replaced by Detach stay open until CloseSearchers, since code in the
// scope may still hold them.
type Cache struct {
	mu        sync.Mutex
	searchers map[index.Kind]*index.Searcher
	retired   []*index.Searcher
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{searchers: make(map[index.Kind]*index.Searcher)}
}

// Retrieve returns the cached searcher for kind, calling supplier at most
// once per kind until CloseSearchers. A supplier error is returned and
// nothing is cached.
func (c *Cache) Retrieve(kind index.Kind, supplier Supplier) (*index.Searcher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.searchers[kind]; ok {
		return s, nil
	}
	s, err := supplier()
	if err != nil {
		return nil, err
	}
	c.searchers[kind] = s
	return s, nil
}

// RetrieveIssueSearcher returns the scope's issue searcher.
func (c *Cache) RetrieveIssueSearcher(ix *index.IssueIndexer) (*index.Searcher, error) {
	return c.Retrieve(index.KindIssue, ix.OpenIssueSearcher)
}

// RetrieveCommentSearcher returns the scope's comment searcher.
func (c *Cache) RetrieveCommentSearcher(ix *index.IssueIndexer) (*index.Searcher, error) {
	return c.Retrieve(index.KindComment, ix.OpenCommentSearcher)
}

// RetrieveChangeHistorySearcher returns the scope's change-history searcher.
func (c *Cache) RetrieveChangeHistorySearcher(ix *index.IssueIndexer) (*index.Searcher, error) {
	return c.Retrieve(index.KindChangeHistory, ix.OpenChangeHistorySearcher)
}

// Detach forgets the current searchers without closing them. The next
// lookup of a kind opens a fresh snapshot; handles already given out keep
// reading their old snapshot until the scope closes.
func (c *Cache) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.searchers {
		c.retired = append(c.retired, s)
	}
	c.searchers = make(map[index.Kind]*index.Searcher)
}

// Len returns the number of current searchers.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.searchers)
}

// CloseSearchers closes and forgets every cached searcher, detached ones
// included. Close failures are logged and do not stop the loop. It is a
// no-op on an empty cache.
func (c *Cache) CloseSearchers() {
	c.mu.Lock()
	searchers := c.retired
	for _, s := range c.searchers {
		searchers = append(searchers, s)
	}
	c.searchers = make(map[index.Kind]*index.Searcher)
	c.retired = nil
	c.mu.Unlock()

	for _, s := range searchers {
		if err := s.Close(); err != nil {
			slog.Warn("searcher_close_failed",
				slog.String("kind", string(s.Kind())),
				slog.String("error", err.Error()))
		}
	}
}

type contextKey struct{}

// WithCache returns ctx carrying a fresh cache, and the cache.
func WithCache(ctx context.Context) (context.Context, *Cache) {
	c := New()
	return context.WithValue(ctx, contextKey{}, c), c
}

// FromContext returns the cache carried by ctx, or nil.
func FromContext(ctx context.Context) *Cache {
	c, _ := ctx.Value(contextKey{}).(*Cache)
	return c
}

// Scope runs fn with a cache in its context and closes the cache's
// searchers when fn returns or panics. When registry is non-nil the cache
// is tracked there for the duration of fn.
func Scope(ctx context.Context, registry *Registry, fn func(ctx context.Context) error) error {
	ctx, c := WithCache(ctx)
	if registry != nil {
		registry.add(c)
		defer registry.remove(c)
	}
	defer c.CloseSearchers()
	return fn(ctx)
}
