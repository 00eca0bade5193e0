// Package async runs full reindexes in the background and tracks their
// progress for status reporting.
package async

import (
	"sync"
	"time"

	"github.com/Aman-CERP/issueindex/internal/manager"
)

// RunStatus is the state of a background run.
type RunStatus string

const (
	// StatusPending indicates the run has not started.
	StatusPending RunStatus = "pending"
	// StatusRunning indicates batches are being written.
	StatusRunning RunStatus = "running"
	// StatusDone indicates the run completed.
	StatusDone RunStatus = "done"
	// StatusSkipped indicates no work was done: indexing was disabled or
	// another reindex held the lock.
	StatusSkipped RunStatus = "skipped"
	// StatusFailed indicates the run ended with an error.
	StatusFailed RunStatus = "failed"
)

// Snapshot is an immutable copy of a run's progress.
type Snapshot struct {
	RunID          string  `json:"run_id,omitempty"`
	Status         string  `json:"status"`
	Batch          string  `json:"batch,omitempty"`
	Batches        int     `json:"batches"`
	Issues         int     `json:"issues"`
	Total          int64   `json:"total"`
	ProgressPct    float64 `json:"progress_pct"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	Message        string  `json:"message,omitempty"`
}

// Progress tracks one run. It is safe for concurrent use.
type Progress struct {
	mu sync.RWMutex

	status    RunStatus
	runID     string
	batch     string
	batches   int
	issues    int
	total     int64
	startTime time.Time
	endTime   time.Time
	message   string
}

// NewProgress returns a pending tracker.
func NewProgress() *Progress {
	return &Progress{status: StatusPending}
}

// Start marks the run as running.
func (p *Progress) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusRunning
	p.startTime = time.Now()
}

// Update records manager progress.
func (p *Progress) Update(mp manager.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.runID = mp.RunID
	p.batch = mp.Label
	p.batches = mp.Batches
	p.issues = mp.Issues
	p.total = mp.Total
}

// SetDone marks the run as complete.
func (p *Progress) SetDone() {
	p.finish(StatusDone, "")
}

// SetSkipped marks the run as skipped for reason.
func (p *Progress) SetSkipped(reason string) {
	p.finish(StatusSkipped, reason)
}

// SetError marks the run as failed.
func (p *Progress) SetError(message string) {
	p.finish(StatusFailed, message)
}

func (p *Progress) finish(status RunStatus, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = status
	p.message = message
	p.endTime = time.Now()
}

// Status returns the current status.
func (p *Progress) Status() RunStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Snapshot returns a copy of the current state.
func (p *Progress) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var pct float64
	if p.total > 0 {
		pct = min(float64(p.issues)/float64(p.total)*100.0, 100.0)
	}

	var elapsed time.Duration
	switch {
	case p.startTime.IsZero():
	case p.endTime.IsZero():
		elapsed = time.Since(p.startTime)
	default:
		elapsed = p.endTime.Sub(p.startTime)
	}

	return Snapshot{
		RunID:          p.runID,
		Status:         string(p.status),
		Batch:          p.batch,
		Batches:        p.batches,
		Issues:         p.issues,
		Total:          p.total,
		ProgressPct:    pct,
		ElapsedSeconds: int(elapsed.Seconds()),
		Message:        p.message,
	}
}
