package ui

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// PlainRenderer writes one line per batch, for CI and pipes.
type PlainRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error { return nil }

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(ev ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.Total > 0 {
		_, _ = fmt.Fprintf(r.out, "[INDEX] %d/%d issues - batch %s\n", ev.Issues, ev.Total, ev.Batch)
		return
	}
	_, _ = fmt.Fprintf(r.out, "[INDEX] %d issues - batch %s\n", ev.Issues, ev.Batch)
}

// Fail implements Renderer.
func (r *PlainRenderer) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.out, "ERROR: %v\n", err)
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stats.Skipped != "" {
		_, _ = fmt.Fprintf(r.out, "Skipped: %s\n", stats.Skipped)
		return
	}
	_, _ = fmt.Fprintf(r.out, "Complete: %d issues in %d batches in %s\n",
		stats.Issues, stats.Batches, stats.Duration.Round(100*time.Millisecond))
	for _, kind := range sortedKeys(stats.Docs) {
		_, _ = fmt.Fprintf(r.out, "  %-9s %d docs\n", kind+":", stats.Docs[kind])
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
