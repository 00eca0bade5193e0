package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces bursts of file events. Editors often write a config
// file as create, several writes and a rename within milliseconds; the
// debouncer emits one batch per path once the burst has been quiet for
// the window. A create followed by a delete cancels out.
type Debouncer struct {
	window time.Duration

	mu      sync.Mutex
	pending map[string]FileEvent
	order   []string
	timer   *time.Timer
	output  chan []FileEvent
	stopped bool
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]FileEvent),
		output:  make(chan []FileEvent, 10),
	}
}

// Add records an event and restarts the window.
func (d *Debouncer) Add(ev FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	prev, seen := d.pending[ev.Path]
	switch {
	case !seen:
		d.pending[ev.Path] = ev
		d.order = append(d.order, ev.Path)
	case prev.Operation == OpCreate && ev.Operation == OpDelete:
		delete(d.pending, ev.Path)
		d.order = remove(d.order, ev.Path)
	case prev.Operation == OpCreate && ev.Operation == OpModify:
	case prev.Operation == OpDelete && ev.Operation == OpCreate:
		ev.Operation = OpModify
		d.pending[ev.Path] = ev
	default:
		d.pending[ev.Path] = ev
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.order) == 0 {
		return
	}

	batch := make([]FileEvent, 0, len(d.order))
	for _, p := range d.order {
		batch = append(batch, d.pending[p])
	}
	d.pending = make(map[string]FileEvent)
	d.order = nil

	select {
	case d.output <- batch:
	default:
		slog.Warn("debouncer_output_full", slog.Int("batch_size", len(batch)))
	}
}

// Output delivers debounced batches. It is closed by Stop.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop discards pending events and closes Output. Safe to call twice.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}

func remove(paths []string, p string) []string {
	out := paths[:0]
	for _, x := range paths {
		if x != p {
			out = append(out, x)
		}
	}
	return out
}
