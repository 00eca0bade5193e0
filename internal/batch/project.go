package batch

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/issueindex/internal/entity"
	"github.com/Aman-CERP/issueindex/internal/scope"
	"github.com/Aman-CERP/issueindex/internal/store"
)

// ProjectBatcher yields exactly one batch per project, in listing order.
// A project without issues yields an empty batch.
type ProjectBatcher struct {
	source store.Source
	filter *scope.Filter
}

// NewProjectBatcher creates a project batcher. filter may be nil.
func NewProjectBatcher(source store.Source, filter *scope.Filter) *ProjectBatcher {
	return &ProjectBatcher{source: source, filter: filter}
}

// Iterator implements Batcher.
func (b *ProjectBatcher) Iterator(ctx context.Context) Iterator {
	return &projectIterator{ctx: ctx, batcher: b}
}

type projectIterator struct {
	ctx      context.Context
	batcher  *ProjectBatcher
	projects []*entity.Project
	listed   bool
	pos      int
	current  Batch
	err      error
}

func (it *projectIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}

	if !it.listed {
		it.listed = true
		projects, err := it.batcher.source.ListProjects(it.ctx)
		if err != nil {
			it.err = fmt.Errorf("failed to list projects: %w", err)
			return false
		}
		if it.projects, err = it.batcher.filter.Apply(projects); err != nil {
			it.err = err
			return false
		}
	}

	if it.pos >= len(it.projects) {
		return false
	}
	p := it.projects[it.pos]
	it.pos++

	cur, err := it.batcher.source.IssuesByProject(it.ctx, p.ID)
	if err != nil {
		it.err = err
		return false
	}
	issues, err := store.Collect(cur)
	if err != nil {
		it.err = fmt.Errorf("failed to read issues of project %s: %w", p.Key, err)
		return false
	}
	for _, is := range issues {
		if is.ProjectKey == "" {
			is.ProjectKey = p.Key
		}
	}

	it.current = Batch{Label: "project:" + p.Key, Issues: issues}
	return true
}

func (it *projectIterator) Batch() Batch { return it.current }

func (it *projectIterator) Err() error { return it.err }
