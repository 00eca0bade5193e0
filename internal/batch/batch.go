// Package batch partitions the issue corpus into bounded, disjoint batches
// so a full reindex never holds more than one batch in memory.
//
// Every call to Iterator takes a fresh snapshot of the scope. Iterators are
// single use: once Next returns false they stay exhausted.
package batch

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/issueindex/internal/entity"
	ierrors "github.com/Aman-CERP/issueindex/internal/errors"
	"github.com/Aman-CERP/issueindex/internal/scope"
	"github.com/Aman-CERP/issueindex/internal/store"
)

// Strategy names.
const (
	StrategyProject = "project"
	StrategyIDRange = "idrange"
)

// Batch is an ordered, possibly empty group of issues.
type Batch struct {
	// Label identifies the partition, e.g. "project:OPS" or "ids:901-1000".
	Label  string
	Issues []*entity.Issue
}

// Len returns the number of issues in the batch.
func (b Batch) Len() int {
	return len(b.Issues)
}

// Batcher produces batches covering one scope.
type Batcher interface {
	Iterator(ctx context.Context) Iterator
}

// Iterator walks the batches of one scope snapshot.
type Iterator interface {
	// Next advances to the next batch. It returns false at the end or on
	// error; check Err afterwards.
	Next() bool
	Batch() Batch
	Err() error
}

// New returns the batcher for strategy. size is the id-range batch size
// and is ignored by the project strategy.
func New(strategy string, source store.Source, size int, filter *scope.Filter) (Batcher, error) {
	switch strategy {
	case "", StrategyProject:
		return NewProjectBatcher(source, filter), nil
	case StrategyIDRange:
		b, err := NewIDRangeBatcher(source, size, filter)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, ierrors.New(ierrors.ErrCodeUnknownStrategy,
			fmt.Sprintf("unknown batching strategy %q", strategy), nil).
			WithSuggestion("Use 'project' or 'idrange'")
	}
}
