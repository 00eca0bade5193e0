package async

import (
	"context"
	"sync"
	"time"

	"github.com/Aman-CERP/issueindex/internal/manager"
)

// ReindexFunc runs a reindex; manager.ReindexAll and
// manager.ReindexAllBackground both fit.
type ReindexFunc func(ctx context.Context, opts manager.ReindexOptions) (time.Duration, error)

// Runner runs one reindex in a background goroutine. It is single use.
type Runner struct {
	reindex  ReindexFunc
	opts     manager.ReindexOptions
	progress *Progress

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	started bool
	running bool
	result  time.Duration
	err     error
}

// NewRunner creates a runner for fn. opts.OnProgress, if set, is still
// called in addition to the runner's own tracking.
func NewRunner(fn ReindexFunc, opts manager.ReindexOptions) *Runner {
	return &Runner{
		reindex:  fn,
		opts:     opts,
		progress: NewProgress(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Progress returns the run's tracker.
func (r *Runner) Progress() *Progress {
	return r.progress
}

// IsRunning reports whether the run is in progress.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start begins the run and returns immediately. Later calls do nothing.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.running = true
	r.mu.Unlock()

	r.progress.Start()
	go r.run(ctx)
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.doneCh)
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	opts := r.opts
	user := opts.OnProgress
	opts.OnProgress = func(p manager.Progress) {
		r.progress.Update(p)
		if user != nil {
			user(p)
		}
	}

	d, err := r.reindex(ctx, opts)

	r.mu.Lock()
	r.result, r.err = d, err
	r.mu.Unlock()

	switch {
	case err != nil:
		r.progress.SetError(err.Error())
	case d == manager.LockUnavailable:
		r.progress.SetSkipped("another reindex is running")
	case d == manager.Disabled:
		r.progress.SetSkipped("indexing is disabled")
	default:
		r.progress.SetDone()
	}
}

// Stop cancels the run and waits for it to end. It is safe to call on a
// runner that never started.
func (r *Runner) Stop() {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return
	}
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

// Wait blocks until the run ends and returns the reindex result.
func (r *Runner) Wait() (time.Duration, error) {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return 0, nil
	}

	<-r.doneCh
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}
