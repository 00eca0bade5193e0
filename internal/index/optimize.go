package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blevesearch/bleve/v2/index/scorch/mergeplan"

	ierrors "github.com/Aman-CERP/issueindex/internal/errors"
)

// forceMerger is implemented by engines that can compact on demand.
type forceMerger interface {
	ForceMerge(ctx context.Context, mo *mergeplan.MergePlanOptions) error
}

// Optimize compacts every index into as few segments as possible. Kinds
// whose engine cannot merge on demand are skipped. Two optimizes of the
// same kind never run at once.
func (ix *IssueIndexer) Optimize(ctx context.Context) error {
	if err := ix.check(); err != nil {
		return err
	}

	for _, k := range Kinds {
		if err := ix.optimizeKind(ctx, ix.handles[k]); err != nil {
			return err
		}
	}
	return nil
}

func (ix *IssueIndexer) optimizeKind(ctx context.Context, h *handle) error {
	h.optimizeMu.Lock()
	defer h.optimizeMu.Unlock()

	idx, err := h.index()
	if err != nil {
		return ix.writeError(h.kind, err)
	}

	adv, err := idx.Advanced()
	if err != nil {
		return ierrors.New(ierrors.ErrCodeOptimizeFailed, fmt.Sprintf("failed to access %s index", h.kind), err)
	}
	fm, ok := adv.(forceMerger)
	if !ok {
		slog.Debug("optimize_unsupported", slog.String("kind", string(h.kind)))
		return nil
	}

	start := time.Now()
	opts := mergeplan.SingleSegmentMergePlanOptions
	if err := fm.ForceMerge(ctx, &opts); err != nil {
		return ierrors.New(ierrors.ErrCodeOptimizeFailed, fmt.Sprintf("failed to optimize %s index", h.kind), err)
	}
	slog.Debug("index_optimized",
		slog.String("kind", string(h.kind)),
		slog.Duration("duration", time.Since(start)))
	return nil
}
