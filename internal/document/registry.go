package document

import (
	"context"
	"sync"
)

// EntityType keys the extractor registry.
type EntityType string

const (
	EntityIssue         EntityType = "issue"
	EntityComment       EntityType = "comment"
	EntityChangeHistory EntityType = "change_history"
)

// FieldExtractor contributes fields to documents of one entity type.
//
// Extract receives the entity (*entity.Issue, *entity.Comment or
// *entity.ChangeGroup) and returns the names of the fields it added. A
// returned error or a panic drops only this extractor's contribution,
// unless the error wraps ErrFatal.
type FieldExtractor interface {
	Name() string
	Extract(ctx context.Context, e any, b *Builder) ([]string, error)
}

// VisibilityChecker is implemented by extractors whose fields may be hidden
// for some entities. Fields of extractors without it are always visible.
type VisibilityChecker interface {
	Visible(e any) bool
}

// Func adapts a function to a FieldExtractor.
func Func(name string, fn func(ctx context.Context, e any, b *Builder) ([]string, error)) FieldExtractor {
	return funcExtractor{name: name, fn: fn}
}

type funcExtractor struct {
	name string
	fn   func(ctx context.Context, e any, b *Builder) ([]string, error)
}

func (f funcExtractor) Name() string { return f.name }

func (f funcExtractor) Extract(ctx context.Context, e any, b *Builder) ([]string, error) {
	return f.fn(ctx, e, b)
}

// Registry holds plugin extractors per entity type in registration order.
type Registry struct {
	mu     sync.RWMutex
	byType map[EntityType][]FieldExtractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[EntityType][]FieldExtractor)}
}

// Register appends ex to the extractors of t.
func (r *Registry) Register(t EntityType, ex FieldExtractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[t] = append(r.byType[t], ex)
}

// Extractors returns a copy of the extractors registered for t.
func (r *Registry) Extractors(t EntityType) []FieldExtractor {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]FieldExtractor, len(r.byType[t]))
	copy(out, r.byType[t])
	return out
}
