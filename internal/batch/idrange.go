package batch

import (
	"context"
	"fmt"
	"math"

	"github.com/Aman-CERP/issueindex/internal/entity"
	ierrors "github.com/Aman-CERP/issueindex/internal/errors"
	"github.com/Aman-CERP/issueindex/internal/scope"
	"github.com/Aman-CERP/issueindex/internal/store"
)

// IDRangeBatcher walks issue ids from the highest down in batches of at
// most size issues.
//
// Issues created above the cursor after iteration started are not
// visited; the next incremental index picks them up.
type IDRangeBatcher struct {
	source store.Source
	size   int
	filter *scope.Filter
}

// NewIDRangeBatcher creates an id-range batcher. size must be at least 1.
// When filter is set, issues of rejected projects are left out and ranges
// that end up empty are skipped.
func NewIDRangeBatcher(source store.Source, size int, filter *scope.Filter) (*IDRangeBatcher, error) {
	if size < 1 {
		return nil, ierrors.ValidationError(fmt.Sprintf("batch size must be at least 1, got %d", size), nil)
	}
	return &IDRangeBatcher{source: source, size: size, filter: filter}, nil
}

// Iterator implements Batcher.
func (b *IDRangeBatcher) Iterator(ctx context.Context) Iterator {
	return &idRangeIterator{ctx: ctx, batcher: b, upper: math.MaxInt64}
}

type idRangeIterator struct {
	ctx     context.Context
	batcher *IDRangeBatcher
	upper   int64
	done    bool
	allowed map[int64]bool
	current Batch
	err     error
}

func (it *idRangeIterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}

	for {
		if err := it.ctx.Err(); err != nil {
			it.err = err
			return false
		}

		maxID, ok, err := it.batcher.source.MaxIssueID(it.ctx, it.upper)
		if err != nil {
			it.err = fmt.Errorf("failed to find max issue id: %w", err)
			return false
		}
		if !ok {
			it.done = true
			return false
		}

		issues, err := it.batcher.source.IssuesUpTo(it.ctx, maxID, it.batcher.size)
		if err != nil {
			it.err = fmt.Errorf("failed to read issues up to %d: %w", maxID, err)
			return false
		}
		if len(issues) == 0 {
			it.done = true
			return false
		}

		low := issues[len(issues)-1].ID
		if low <= math.MinInt64+1 {
			it.done = true
		} else {
			it.upper = low - 1
		}

		kept, err := it.applyFilter(issues)
		if err != nil {
			it.err = err
			return false
		}
		if len(kept) == 0 {
			if it.done {
				return false
			}
			continue
		}

		it.current = Batch{Label: fmt.Sprintf("ids:%d-%d", low, maxID), Issues: kept}
		return true
	}
}

func (it *idRangeIterator) applyFilter(issues []*entity.Issue) ([]*entity.Issue, error) {
	f := it.batcher.filter
	if f.MatchesAll() {
		return issues, nil
	}

	if it.allowed == nil {
		projects, err := it.batcher.source.ListProjects(it.ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list projects: %w", err)
		}
		accepted, err := f.Apply(projects)
		if err != nil {
			return nil, err
		}
		it.allowed = make(map[int64]bool, len(accepted))
		for _, p := range accepted {
			it.allowed[p.ID] = true
		}
	}

	kept := issues[:0:0]
	for _, is := range issues {
		if it.allowed[is.ProjectID] {
			kept = append(kept, is)
		}
	}
	return kept, nil
}

func (it *idRangeIterator) Batch() Batch { return it.current }

func (it *idRangeIterator) Err() error { return it.err }
