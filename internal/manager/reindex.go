package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/google/uuid"

	"github.com/Aman-CERP/issueindex/internal/batch"
	ierrors "github.com/Aman-CERP/issueindex/internal/errors"
	"github.com/Aman-CERP/issueindex/internal/index"
	"github.com/Aman-CERP/issueindex/internal/scope"
	"github.com/Aman-CERP/issueindex/internal/store"
)

// MarkerName is the file left in the data dir while a full reindex is
// running. Its presence after the run means the indexes are partial.
const MarkerName = "reindex.lock"

// ReindexOptions tunes one full reindex.
type ReindexOptions struct {
	// Strategy overrides the configured batcher: project or idrange.
	Strategy string

	// Scope is a CEL expression over `project`; empty means all projects.
	Scope string

	// OnProgress is called after each engine commit. It may be called from
	// a goroutine other than the caller's.
	OnProgress func(Progress)
}

// Progress describes a running reindex.
type Progress struct {
	RunID string

	// Label is the current batch label.
	Label   string
	Batches int
	Issues  int

	// Total is the number of issues in the store, or 0 when the run is
	// scoped and the total is unknown.
	Total int64
}

// ReindexAll rebuilds every index from scratch. It returns Disabled when
// indexing is off and LockUnavailable, without blocking, when another full
// reindex holds the lock. Otherwise it returns the elapsed time.
//
// The lock is held for the whole run and released on every path; the
// searcher caches are invalidated afterwards. A failed run leaves the
// marker in place so HasIncompleteReindex reports it.
func (m *Manager) ReindexAll(ctx context.Context, opts ReindexOptions) (time.Duration, error) {
	if !m.IsEnabled() {
		slog.Info("reindex_skipped", slog.String("reason", "indexing disabled"))
		return Disabled, nil
	}
	if m.closed.Load() {
		return 0, index.ErrShutdown
	}

	batcher, err := m.batcher(opts)
	if err != nil {
		return 0, err
	}

	ok, err := m.lock.TryAcquire()
	if err != nil {
		return 0, err
	}
	if !ok {
		slog.Info("reindex_skipped", slog.String("reason", "lock unavailable"))
		return LockUnavailable, nil
	}
	m.reindexing.Store(true)
	defer func() {
		m.reindexing.Store(false)
		m.releaseLock()
		m.caches.InvalidateAll()
	}()

	runID := uuid.NewString()
	start := time.Now()
	slog.Info("reindex_started",
		slog.String("run_id", runID),
		slog.String("strategy", m.strategy(opts)),
		slog.String("scope", opts.Scope))

	if err := writeMarker(m.cfg.DataDir, runID); err != nil {
		return 0, err
	}
	if err := m.indexer.DeleteIndexes(ctx); err != nil {
		return 0, m.failed(runID, err)
	}

	res, err := m.runBatches(ctx, runID, batcher, opts, false, nil)
	if err != nil {
		return 0, m.failed(runID, err)
	}
	if err := m.indexer.Optimize(ctx); err != nil {
		return 0, m.failed(runID, err)
	}
	m.sinceOptimize.Store(0)

	if err := removeMarker(m.cfg.DataDir); err != nil {
		return 0, err
	}

	d := elapsed(start)
	slog.Info("reindex_complete",
		slog.String("run_id", runID),
		slog.Int("issues", res.Issues),
		slog.Int("comments", res.Comments),
		slog.Int("changes", res.Changes),
		slog.Int("skipped", res.Skipped),
		slog.Duration("duration", d))
	return d, nil
}

// ReindexAllBackground refreshes every index in place, without deleting
// it first, so searches keep working during the run. The issue ids
// indexed when the run starts are recorded; those the run did not visit
// and the store no longer has are removed at the end. Issues indexed by
// events while the run is going are never candidates. A scoped run does
// not remove anything.
func (m *Manager) ReindexAllBackground(ctx context.Context, opts ReindexOptions) (time.Duration, error) {
	if !m.IsEnabled() {
		return Disabled, nil
	}
	if m.closed.Load() {
		return 0, index.ErrShutdown
	}

	batcher, err := m.batcher(opts)
	if err != nil {
		return 0, err
	}

	ok, err := m.lock.TryAcquire()
	if err != nil {
		return 0, err
	}
	if !ok {
		return LockUnavailable, nil
	}
	m.reindexing.Store(true)
	defer func() {
		m.reindexing.Store(false)
		m.releaseLock()
		m.caches.InvalidateAll()
	}()

	runID := uuid.NewString()
	start := time.Now()
	slog.Info("background_reindex_started", slog.String("run_id", runID))

	var indexed *roaring64.Bitmap
	if opts.Scope == "" {
		if indexed, err = m.indexedIssueIDs(ctx); err != nil {
			return 0, m.failed(runID, err)
		}
	}

	seen := roaring64.New()
	res, err := m.runBatches(ctx, runID, batcher, opts, true, func(b batch.Batch) {
		for _, is := range b.Issues {
			seen.Add(uint64(is.ID))
		}
	})
	if err != nil {
		return 0, m.failed(runID, err)
	}

	removed := 0
	if indexed != nil {
		removed, err = m.removeUnseen(ctx, indexed, seen)
		if err != nil {
			return 0, m.failed(runID, err)
		}
	}
	if err := m.indexer.Optimize(ctx); err != nil {
		return 0, m.failed(runID, err)
	}
	m.sinceOptimize.Store(0)

	d := elapsed(start)
	slog.Info("background_reindex_complete",
		slog.String("run_id", runID),
		slog.Int("issues", res.Issues),
		slog.Uint64("seen", seen.GetCardinality()),
		slog.Int("removed", removed),
		slog.Duration("duration", d))
	return d, nil
}

// indexedIssueIDs snapshots the ids of the current issue documents.
func (m *Manager) indexedIssueIDs(ctx context.Context) (*roaring64.Bitmap, error) {
	s, err := m.indexer.OpenIssueSearcher()
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.Close() }()

	ids := roaring64.New()
	err = s.AllIDs(ctx, func(id string) error {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil || n < 0 {
			slog.Warn("unexpected_document_id", slog.String("id", id))
			return nil
		}
		ids.Add(uint64(n))
		return nil
	})
	return ids, err
}

// removeUnseen deindexes the issues that were indexed before the run, were
// not visited by it, and are missing from the store.
func (m *Manager) removeUnseen(ctx context.Context, indexed, seen *roaring64.Bitmap) (int, error) {
	candidates := roaring64.AndNot(indexed, seen)

	var stale []int64
	it := candidates.Iterator()
	for it.HasNext() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		id := int64(it.Next())
		_, err := m.source.GetIssue(ctx, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			stale = append(stale, id)
		case err != nil:
			return 0, fmt.Errorf("failed to check issue %d: %w", id, err)
		default:
			slog.Debug("unseen_issue_kept", slog.Int64("issue_id", id))
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	res, err := m.indexer.DeindexIDs(ctx, stale)
	return res.Issues, err
}

func (m *Manager) strategy(opts ReindexOptions) string {
	if opts.Strategy != "" {
		return opts.Strategy
	}
	return m.cfg.Strategy
}

func (m *Manager) batcher(opts ReindexOptions) (batch.Batcher, error) {
	filter, err := scope.Compile(opts.Scope)
	if err != nil {
		return nil, err
	}
	return batch.New(m.strategy(opts), m.source, m.cfg.BatchSize, filter)
}

// runBatches pulls batches in order and writes each in batch mode. onBatch
// sees every batch after it was written.
func (m *Manager) runBatches(ctx context.Context, runID string, b batch.Batcher, opts ReindexOptions, replace bool, onBatch func(batch.Batch)) (index.Result, error) {
	var (
		total    index.Result
		progress = Progress{RunID: runID}
	)
	if opts.Scope == "" {
		if n, err := m.source.CountIssues(ctx); err == nil {
			progress.Total = n
		}
	}

	it := b.Iterator(ctx)
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		bt := it.Batch()
		progress.Label = bt.Label
		progress.Batches++
		if bt.Len() == 0 {
			continue
		}

		before := progress.Issues
		res, err := m.indexer.IndexIssuesBatchMode(ctx, bt.Issues, index.BatchOptions{
			WriterThreads: m.cfg.WriterThreads,
			BatchSize:     m.cfg.BatchSize,
			Replace:       replace,
			OnProgress: func(done int) {
				if opts.OnProgress != nil {
					p := progress
					p.Issues = before + done
					opts.OnProgress(p)
				}
			},
		})
		total.Add(res)
		if err != nil {
			return total, fmt.Errorf("batch %s: %w", bt.Label, err)
		}
		progress.Issues = before + bt.Len()

		if onBatch != nil {
			onBatch(bt)
		}
		slog.Debug("reindex_batch_complete",
			slog.String("run_id", runID),
			slog.String("batch", bt.Label),
			slog.Int("issues", bt.Len()))
	}
	return total, it.Err()
}

func (m *Manager) failed(runID string, err error) error {
	slog.Error("reindex_failed",
		slog.String("run_id", runID),
		slog.Any("error", ierrors.FormatForLog(err)))
	return err
}

// HasIncompleteReindex reports whether a full reindex started in dataDir
// did not finish.
func HasIncompleteReindex(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, MarkerName))
	return err == nil
}

func writeMarker(dataDir, runID string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	content := runID + " " + time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(filepath.Join(dataDir, MarkerName), []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write reindex marker: %w", err)
	}
	return nil
}

func removeMarker(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, MarkerName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove reindex marker: %w", err)
	}
	return nil
}
