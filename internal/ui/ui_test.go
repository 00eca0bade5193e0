package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRenderer_BufferIsPlain(t *testing.T) {
	// Given: a non-terminal output
	buf := &bytes.Buffer{}

	// When/Then: the plain renderer is chosen
	_, ok := NewRenderer(NewConfig(buf)).(*PlainRenderer)
	assert.True(t, ok)

	_, err := NewTUIRenderer(NewConfig(buf))
	assert.Error(t, err)
	assert.False(t, IsTTY(buf))
}

func TestDetectCI(t *testing.T) {
	t.Setenv("GITHUB_ACTIONS", "true")
	assert.True(t, DetectCI())
}

func TestPlainRenderer_Lifecycle(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))
	require.NoError(t, r.Start(context.Background()))

	// When: two batches and a completion are reported
	r.UpdateProgress(ProgressEvent{Batch: "OPS", Batches: 1, Issues: 3, Total: 5})
	r.UpdateProgress(ProgressEvent{Batch: "WEB", Batches: 2, Issues: 5})
	r.Complete(CompletionStats{
		Issues: 5, Batches: 2, Duration: 1500 * time.Millisecond,
		Docs: map[string]uint64{"issues": 5, "comments": 7},
	})
	require.NoError(t, r.Stop())

	// Then: every line is plain text
	out := buf.String()
	assert.Contains(t, out, "[INDEX] 3/5 issues - batch OPS\n")
	assert.Contains(t, out, "[INDEX] 5 issues - batch WEB\n")
	assert.Contains(t, out, "Complete: 5 issues in 2 batches in 1.5s")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("comments:")), bytes.Index(buf.Bytes(), []byte("issues:   ")))
	assert.NotContains(t, out, "\x1b[")
}

func TestPlainRenderer_SkipAndFail(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Fail(errors.New("disk full"))
	r.Complete(CompletionStats{Skipped: "another reindex is running"})

	assert.Equal(t, "ERROR: disk full\nSkipped: another reindex is running\n", buf.String())
}

func TestTracker_FractionAndETA(t *testing.T) {
	// Given: a tracker whose clock advances 10s
	now := time.Unix(0, 0)
	tr := newTracker(func() time.Time { return now })
	now = now.Add(10 * time.Second)

	// When: a quarter of the issues are done
	tr.Update(ProgressEvent{Issues: 25, Total: 100})
	s := tr.Stats()

	// Then: fraction, rate and ETA follow
	assert.InDelta(t, 0.25, s.Fraction, 1e-9)
	assert.InDelta(t, 2.5, s.Rate, 1e-9)
	assert.Equal(t, 30*time.Second, s.ETA)

	// And: the next estimate is smoothed toward the new sample
	now = now.Add(10 * time.Second)
	tr.Update(ProgressEvent{Issues: 80, Total: 100})
	s = tr.Stats()
	assert.InDelta(t, 0.3*float64(5*time.Second)+0.7*float64(30*time.Second), float64(s.ETA), 10)
}

func TestTracker_UnknownTotal(t *testing.T) {
	tr := NewTracker()
	tr.Update(ProgressEvent{Issues: 10})
	tr.Fail(errors.New("boom"))

	s := tr.Stats()
	assert.Zero(t, s.Fraction)
	assert.Zero(t, s.ETA)
	assert.EqualError(t, s.Err, "boom")
}

func TestReindexModel_Views(t *testing.T) {
	tr := NewTracker()
	m := newReindexModel(tr, "Issue reindex", NoColorStyles())

	// Given: progress with a known total
	tr.Update(ProgressEvent{RunID: "r1", Batch: "OPS", Batches: 1, Issues: 2, Total: 4})
	_, cmd := m.Update(progressMsg{})
	assert.Nil(t, cmd)

	view := m.View()
	assert.Contains(t, view, "Issue reindex")
	assert.Contains(t, view, "50%")
	assert.Contains(t, view, "2 / 4 issues")
	assert.Contains(t, view, "Batch: OPS (1)")
	assert.Contains(t, view, "run r1")

	// When: the run completes
	_, cmd = m.Update(completeMsg(CompletionStats{Issues: 4, Batches: 2, Duration: 65 * time.Second}))
	require.NotNil(t, cmd)
	view = m.View()
	assert.Contains(t, view, "Reindex complete")
	assert.Contains(t, view, "1m 5s")
}

func TestReindexModel_FailAndQuit(t *testing.T) {
	m := newReindexModel(NewTracker(), "t", NoColorStyles())
	m.Update(failMsg{errors.New("lock lost")})
	assert.Contains(t, m.View(), "Reindex failed: lock lost")

	m = newReindexModel(NewTracker(), "t", NoColorStyles())
	m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Equal(t, "Cancelled.\n", m.View())

	m = newReindexModel(NewTracker(), "t", NoColorStyles())
	m.Update(completeMsg(CompletionStats{Skipped: "indexing is disabled"}))
	assert.Contains(t, m.View(), "Skipped: indexing is disabled")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", formatDuration(45*time.Second))
	assert.Equal(t, "2m", formatDuration(2*time.Minute))
	assert.Equal(t, "1h 30m", formatDuration(90*time.Minute))
}

func TestStatusRenderer(t *testing.T) {
	info := StatusInfo{
		DataDir:     "/data/.issueindex",
		Enabled:     true,
		State:       "idle",
		StoreIssues: 12,
		Indexes: []IndexStatus{
			{Kind: "issues", Docs: 12, Size: 2048},
			{Kind: "comments", Docs: 30, Size: 3 * 1024 * 1024},
		},
		Consistent:        false,
		IncompleteReindex: true,
	}

	t.Run("text", func(t *testing.T) {
		buf := &bytes.Buffer{}
		require.NoError(t, NewStatusRenderer(buf, true).Render(info))
		out := buf.String()
		assert.Contains(t, out, "Issue index: /data/.issueindex")
		assert.Contains(t, out, "Indexing:     enabled")
		assert.Contains(t, out, "2.0 KB")
		assert.Contains(t, out, "3.0 MB")
		assert.Contains(t, out, "Consistent:   no")
		assert.Contains(t, out, "did not complete")
	})

	t.Run("json", func(t *testing.T) {
		buf := &bytes.Buffer{}
		require.NoError(t, NewStatusRenderer(buf, true).RenderJSON(info))
		var got map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, "idle", got["state"])
		assert.Equal(t, true, got["incomplete_reindex"])
		assert.NotContains(t, got, "last_modified")
	})
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "2.0 GB", FormatBytes(2<<30))
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "just now", formatTime(time.Now()))
	assert.Equal(t, "1 hour ago", formatTime(time.Now().Add(-61*time.Minute)))
	assert.Equal(t, "3 days ago", formatTime(time.Now().Add(-73*time.Hour)))
}
