package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// IndexStatus describes one index directory.
type IndexStatus struct {
	Kind string `json:"kind"`
	Docs uint64 `json:"docs"`
	Size int64  `json:"size_bytes"`
}

// StatusInfo is the output of the status command.
type StatusInfo struct {
	DataDir           string        `json:"data_dir"`
	Enabled           bool          `json:"enabled"`
	State             string        `json:"state"`
	StoreIssues       int64         `json:"store_issues"`
	StoreComments     int64         `json:"store_comments"`
	Indexes           []IndexStatus `json:"indexes"`
	Consistent        bool          `json:"consistent"`
	IncompleteReindex bool          `json:"incomplete_reindex"`
	LastModified      time.Time     `json:"last_modified,omitzero"`
}

// StatusRenderer writes StatusInfo as text or JSON.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes a human-readable report.
func (r *StatusRenderer) Render(info StatusInfo) error {
	w := &errWriter{w: r.out}
	w.printf("%s\n\n", r.styles.Header.Render("Issue index: "+info.DataDir))
	w.printf("  Indexing:     %s\n", r.flag(info.Enabled, "enabled", "disabled"))
	w.printf("  State:        %s\n", info.State)
	if !info.LastModified.IsZero() {
		w.printf("  Last written: %s\n", formatTime(info.LastModified))
	}
	w.printf("\n  Store:\n")
	w.printf("    Issues:     %d\n", info.StoreIssues)
	w.printf("    Comments:   %d\n", info.StoreComments)
	w.printf("\n  Indexes:\n")
	var total int64
	for _, idx := range info.Indexes {
		w.printf("    %-10s  %8d docs  %s\n", idx.Kind+":", idx.Docs, FormatBytes(idx.Size))
		total += idx.Size
	}
	w.printf("    %-10s  %8s       %s\n\n", "total:", "", FormatBytes(total))
	w.printf("  Consistent:   %s\n", r.flag(info.Consistent, "yes", "no"))
	if info.IncompleteReindex {
		w.printf("  %s\n", r.styles.Warning.Render("A previous full reindex did not complete; run `issueindex reindex`."))
	}
	return w.err
}

// RenderJSON writes info as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func (r *StatusRenderer) flag(ok bool, yes, no string) string {
	if ok {
		return r.styles.Success.Render(yes)
	}
	return r.styles.Warning.Render(no)
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

func formatTime(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day")
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// FormatBytes formats a byte count for humans.
func FormatBytes(n int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.1f GB", float64(n)/gb)
	case n >= mb:
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%.1f KB", float64(n)/kb)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
