// Package manager orchestrates indexing: full rebuilds under the reindex
// lock, incremental updates driven by entity events, threshold-driven
// optimize and the enable/disable toggle.
//
// Every operation returns a sentinel rather than an error when indexing is
// disabled (Disabled) or when a full reindex already holds the lock
// (LockUnavailable), so callers never branch on manager state.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/issueindex/internal/config"
	"github.com/Aman-CERP/issueindex/internal/entity"
	"github.com/Aman-CERP/issueindex/internal/index"
	"github.com/Aman-CERP/issueindex/internal/lock"
	"github.com/Aman-CERP/issueindex/internal/searchcache"
	"github.com/Aman-CERP/issueindex/internal/store"
)

// Sentinel results of duration-returning operations.
const (
	// Disabled is returned when indexing is switched off. No work was done.
	Disabled time.Duration = 0

	// LockUnavailable is returned when another full reindex holds the lock.
	LockUnavailable time.Duration = -1
)

// State is the manager's externally visible state.
type State string

const (
	StateDisabled    State = "disabled"
	StateIdle        State = "idle"
	StateReindexing  State = "reindexing"
	StateIncremental State = "incremental"
)

// Config tunes the manager.
type Config struct {
	// DataDir receives the incomplete-reindex marker.
	DataDir string

	Enabled bool

	// Strategy is the default batcher for full reindex.
	Strategy string

	// BatchSize is the id-range batch size and the engine batch size.
	BatchSize int

	WriterThreads int

	// OptimizeAfter is the number of incrementally touched issues that
	// triggers an optimize.
	OptimizeAfter int
}

// ConfigFrom derives the manager configuration from the loaded config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		DataDir:       cfg.Index.RootPath,
		Enabled:       cfg.Index.IsEnabled(),
		Strategy:      cfg.Index.Strategy,
		BatchSize:     cfg.Index.BatchSize,
		WriterThreads: cfg.Index.WriterThreads,
		OptimizeAfter: cfg.Index.OptimizeAfter,
	}
}

// Deps are the collaborators of a Manager. Caches may be nil.
type Deps struct {
	Indexer *index.IssueIndexer
	Source  store.Source
	Lock    lock.ReindexLock
	Caches  *searchcache.Registry
}

// Manager is safe for concurrent use.
type Manager struct {
	cfg     Config
	indexer *index.IssueIndexer
	source  store.Source
	lock    lock.ReindexLock
	caches  *searchcache.Registry

	enabled       atomic.Bool
	reindexing    atomic.Bool
	inFlight      atomic.Int32
	sinceOptimize atomic.Int64
	optimizing    atomic.Bool
	closed        atomic.Bool
}

// New creates a manager.
func New(cfg Config, deps Deps) (*Manager, error) {
	if deps.Indexer == nil {
		return nil, errors.New("indexer is required")
	}
	if deps.Source == nil {
		return nil, errors.New("source is required")
	}
	if deps.Lock == nil {
		deps.Lock = lock.NewLocalLock()
	}
	if deps.Caches == nil {
		deps.Caches = searchcache.NewRegistry()
	}
	if cfg.DataDir == "" {
		cfg.DataDir = deps.Indexer.Config().RootPath
	}
	if cfg.OptimizeAfter <= 0 {
		cfg.OptimizeAfter = 4000
	}

	m := &Manager{
		cfg:     cfg,
		indexer: deps.Indexer,
		source:  deps.Source,
		lock:    deps.Lock,
		caches:  deps.Caches,
	}
	m.enabled.Store(cfg.Enabled)
	return m, nil
}

// Indexer returns the underlying indexer.
func (m *Manager) Indexer() *index.IssueIndexer {
	return m.indexer
}

// Caches returns the registry of live searcher caches.
func (m *Manager) Caches() *searchcache.Registry {
	return m.caches
}

// Enable switches indexing on. Indexes reopen lazily on next use.
func (m *Manager) Enable() {
	if m.enabled.CompareAndSwap(false, true) {
		slog.Info("indexing_enabled")
	}
}

// Disable switches indexing off and closes every open searcher. Calls made
// while disabled return their sentinel and do nothing.
func (m *Manager) Disable() {
	if m.enabled.CompareAndSwap(true, false) {
		m.caches.InvalidateAll()
		slog.Info("indexing_disabled")
	}
}

// IsEnabled reports whether indexing is on.
func (m *Manager) IsEnabled() bool {
	return m.enabled.Load()
}

// State reports the current state. A full reindex takes precedence over
// concurrent incremental updates.
func (m *Manager) State() State {
	switch {
	case !m.enabled.Load():
		return StateDisabled
	case m.reindexing.Load():
		return StateReindexing
	case m.inFlight.Load() > 0:
		return StateIncremental
	default:
		return StateIdle
	}
}

// Reindex replaces the documents of one issue.
func (m *Manager) Reindex(ctx context.Context, issue *entity.Issue) (int, error) {
	return m.ReindexIssues(ctx, []*entity.Issue{issue})
}

// ReindexIssues replaces the documents of issues and returns the number of
// issue documents written.
func (m *Manager) ReindexIssues(ctx context.Context, issues []*entity.Issue) (int, error) {
	return m.incremental(ctx, func() (int, error) {
		res, err := m.indexer.ReindexIssues(ctx, issues)
		return res.Issues, err
	})
}

// Index adds the documents of newly created issues.
func (m *Manager) Index(ctx context.Context, issues []*entity.Issue) (int, error) {
	return m.incremental(ctx, func() (int, error) {
		res, err := m.indexer.IndexIssues(ctx, issues)
		return res.Issues, err
	})
}

// Deindex removes an issue and its comment and change documents.
func (m *Manager) Deindex(ctx context.Context, issue *entity.Issue) (int, error) {
	if issue == nil {
		return 0, nil
	}
	return m.DeindexIDs(ctx, []int64{issue.ID})
}

// DeindexIDs removes issues by id.
func (m *Manager) DeindexIDs(ctx context.Context, ids []int64) (int, error) {
	return m.incremental(ctx, func() (int, error) {
		res, err := m.indexer.DeindexIDs(ctx, ids)
		return res.Issues, err
	})
}

// ReindexComments replaces the documents of individual comments and
// returns the number of comment documents written.
func (m *Manager) ReindexComments(ctx context.Context, comments []*entity.Comment) (int, error) {
	return m.incremental(ctx, func() (int, error) {
		res, err := m.indexer.ReindexComments(ctx, comments)
		return res.Comments, err
	})
}

// ReindexIDs loads issues by id and reindexes them. Ids no longer in the
// store are deindexed. It returns the number of issues touched.
func (m *Manager) ReindexIDs(ctx context.Context, ids []int64) (int, error) {
	if !m.IsEnabled() {
		return 0, nil
	}

	var (
		found []*entity.Issue
		gone  []int64
	)
	for _, id := range ids {
		is, err := m.source.GetIssue(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			gone = append(gone, id)
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to load issue %d: %w", id, err)
		}
		found = append(found, is)
	}

	n, err := m.ReindexIssues(ctx, found)
	if err != nil {
		return n, err
	}
	d, err := m.DeindexIDs(ctx, gone)
	return n + d, err
}

func (m *Manager) incremental(ctx context.Context, fn func() (int, error)) (int, error) {
	if !m.IsEnabled() {
		return 0, nil
	}
	m.inFlight.Add(1)
	defer m.inFlight.Add(-1)

	n, err := fn()
	if err != nil {
		return n, err
	}
	m.maybeOptimize(ctx, n)
	return n, nil
}

// maybeOptimize runs an optimize once the issues touched since the last
// one exceed the threshold. One caller at a time optimizes; the counter
// only drops by what that optimize covered, and only when it ran.
func (m *Manager) maybeOptimize(ctx context.Context, touched int) {
	if touched <= 0 {
		return
	}
	if m.sinceOptimize.Add(int64(touched)) <= int64(m.cfg.OptimizeAfter) {
		return
	}
	if !m.optimizing.CompareAndSwap(false, true) {
		return
	}
	defer m.optimizing.Store(false)

	d, err := m.Optimize(ctx)
	switch {
	case err != nil:
		slog.Warn("threshold_optimize_failed", slog.String("error", err.Error()))
	case d == LockUnavailable:
		slog.Debug("threshold_optimize_skipped", slog.String("reason", "reindex in progress"))
	}
}

// Optimize compacts the indexes. It takes the reindex lock so that it never
// overlaps a full rebuild, and returns LockUnavailable when one is running.
// Only the touches counted before a successful optimize are cleared.
func (m *Manager) Optimize(ctx context.Context) (time.Duration, error) {
	if !m.IsEnabled() {
		return Disabled, nil
	}
	if m.closed.Load() {
		return 0, index.ErrShutdown
	}

	ok, err := m.lock.TryAcquire()
	if err != nil {
		return 0, err
	}
	if !ok {
		return LockUnavailable, nil
	}
	defer m.releaseLock()

	start := time.Now()
	covered := m.sinceOptimize.Load()
	if err := m.indexer.Optimize(ctx); err != nil {
		return 0, err
	}
	m.sinceOptimize.Add(-covered)
	return elapsed(start), nil
}

// Shutdown detaches every tracked searcher and closes the indexer. Open
// scopes still close their own searchers. It is safe to call more than
// once.
func (m *Manager) Shutdown() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.caches.InvalidateAll()
	return m.indexer.Shutdown()
}

func (m *Manager) releaseLock() {
	if err := m.lock.Release(); err != nil {
		slog.Error("reindex_lock_release_failed", slog.String("error", err.Error()))
	}
}

// elapsed never returns a sentinel value for completed work.
func elapsed(start time.Time) time.Duration {
	return max(time.Since(start), time.Nanosecond)
}
