package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/issueindex/internal/entity"
)

// DefaultProjectCacheSize bounds the project lookup cache.
const DefaultProjectCacheSize = 256

// Retriever fetches the child entities of an issue so the indexer can
// build dependent documents. It only reads; it never mutates the store.
type Retriever struct {
	source   Source
	projects *lru.Cache[int64, *entity.Project]
}

// NewRetriever wraps source. cacheSize <= 0 selects DefaultProjectCacheSize.
func NewRetriever(source Source, cacheSize int) (*Retriever, error) {
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if cacheSize <= 0 {
		cacheSize = DefaultProjectCacheSize
	}
	cache, err := lru.New[int64, *entity.Project](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create project cache: %w", err)
	}
	return &Retriever{source: source, projects: cache}, nil
}

// Source returns the underlying storage collaborator.
func (r *Retriever) Source() Source {
	return r.source
}

// Comments returns the comments of issue. A nil issue yields none.
func (r *Retriever) Comments(ctx context.Context, issue *entity.Issue) ([]*entity.Comment, error) {
	if issue == nil {
		return nil, nil
	}
	comments, err := r.source.CommentsForIssue(ctx, issue.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve comments of issue %d: %w", issue.ID, err)
	}
	return comments, nil
}

// ChangeGroups returns the change history of issue. A nil issue yields none.
func (r *Retriever) ChangeGroups(ctx context.Context, issue *entity.Issue) ([]*entity.ChangeGroup, error) {
	if issue == nil {
		return nil, nil
	}
	groups, err := r.source.ChangeGroupsForIssue(ctx, issue.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve change history of issue %d: %w", issue.ID, err)
	}
	return groups, nil
}

// Project resolves a project by id through the cache.
func (r *Retriever) Project(ctx context.Context, id int64) (*entity.Project, error) {
	if p, ok := r.projects.Get(id); ok {
		return p, nil
	}
	p, err := r.source.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	r.projects.Add(id, p)
	return p, nil
}

// Issue loads a single issue and fills in its project key.
func (r *Retriever) Issue(ctx context.Context, id int64) (*entity.Issue, error) {
	issue, err := r.source.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Enrich(ctx, issue)
	return issue, nil
}

// Enrich fills ProjectKey on issues loaded without it. Missing projects
// are logged and left blank.
func (r *Retriever) Enrich(ctx context.Context, issues ...*entity.Issue) {
	for _, is := range issues {
		if is == nil || is.ProjectKey != "" {
			continue
		}
		p, err := r.Project(ctx, is.ProjectID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				slog.Debug("project_lookup_failed",
					slog.Int64("project_id", is.ProjectID),
					slog.String("error", err.Error()))
			}
			continue
		}
		is.ProjectKey = p.Key
	}
}

// Forget drops a cached project, e.g. after it was renamed.
func (r *Retriever) Forget(projectID int64) {
	r.projects.Remove(projectID)
}
