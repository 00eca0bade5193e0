package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer draws a live progress panel with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	tracker *Tracker
	model   *reindexModel
	program *tea.Program
	done    chan struct{}
}

// NewTUIRenderer fails when the output is not a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}
	tracker := NewTracker()
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   newReindexModel(tracker, cfg.Title, GetStyles(cfg.NoColor)),
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(ev ProgressEvent) {
	r.tracker.Update(ev)
	r.send(progressMsg(ev))
}

// Fail implements Renderer.
func (r *TUIRenderer) Fail(err error) {
	r.tracker.Fail(err)
	r.send(failMsg{err})
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.send(completeMsg(stats))
}

func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Stop implements Renderer. It waits briefly for the final frame.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p == nil {
		return nil
	}

	p.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

type progressMsg ProgressEvent
type failMsg struct{ err error }
type completeMsg CompletionStats
type tickMsg time.Time

type reindexModel struct {
	tracker  *Tracker
	title    string
	styles   Styles
	spinner  spinner.Model
	bar      progress.Model
	width    int
	stats    *CompletionStats
	err      error
	quitting bool
}

func newReindexModel(tracker *Tracker, title string, styles Styles) *reindexModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Active
	return &reindexModel{
		tracker: tracker,
		title:   title,
		styles:  styles,
		spinner: s,
		bar: progress.New(
			progress.WithSolidFill(ColorAccent),
			progress.WithWidth(40),
			progress.WithoutPercentage(),
		),
		width: 80,
	}
}

func (m *reindexModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *reindexModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-20, 20)
	case progressMsg:
		return m, nil
	case failMsg:
		m.err = msg.err
		return m, tea.Quit
	case completeMsg:
		stats := CompletionStats(msg)
		m.stats = &stats
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *reindexModel) View() string {
	switch {
	case m.quitting:
		return "Cancelled.\n"
	case m.err != nil:
		return m.styles.Error.Render("✗ Reindex failed: "+m.err.Error()) + "\n"
	case m.stats != nil:
		return m.renderComplete()
	}

	s := m.tracker.Stats()
	var lines []string
	lines = append(lines, m.styles.Header.Render(m.title))

	if s.Total > 0 {
		pct := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", s.Fraction*100))
		lines = append(lines, m.bar.ViewAs(s.Fraction)+"  "+pct)
		lines = append(lines, m.styles.Label.Render(fmt.Sprintf("%d / %d issues", s.Issues, s.Total)))
	} else {
		lines = append(lines, fmt.Sprintf("%s %d issues", m.spinner.View(), s.Issues))
	}

	meta := []string{fmt.Sprintf("Batch: %s (%d)", orDash(s.Batch), s.Batches), fmt.Sprintf("Rate: %.0f/s", s.Rate)}
	if s.ETA > 0 {
		meta = append(meta, "ETA: "+formatDuration(s.ETA))
	}
	lines = append(lines, m.styles.Label.Render(strings.Join(meta, "  •  ")))
	if s.RunID != "" {
		lines = append(lines, m.styles.Dim.Render("run "+s.RunID))
	}

	return m.styles.Panel.Width(max(m.width-4, 40)).Render(strings.Join(lines, "\n")) +
		"\n" + m.styles.Dim.Render("q to quit")
}

func (m *reindexModel) renderComplete() string {
	if m.stats.Skipped != "" {
		return m.styles.Warning.Render("⚠ Skipped: "+m.stats.Skipped) + "\n"
	}
	lines := []string{
		m.styles.Success.Render("✓ Reindex complete"),
		"",
		fmt.Sprintf("%s  %s", m.styles.Label.Render("Issues:  "), m.styles.Active.Render(fmt.Sprint(m.stats.Issues))),
		fmt.Sprintf("%s  %s", m.styles.Label.Render("Batches: "), m.styles.Active.Render(fmt.Sprint(m.stats.Batches))),
		fmt.Sprintf("%s  %s", m.styles.Label.Render("Duration:"), m.styles.Active.Render(formatDuration(m.stats.Duration))),
	}
	for _, kind := range sortedKeys(m.stats.Docs) {
		lines = append(lines, fmt.Sprintf("%s  %d docs", m.styles.Label.Render(fmt.Sprintf("%-9s", kind+":")), m.stats.Docs[kind]))
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccent)).
		Padding(1, 2).
		Render(strings.Join(lines, "\n")) + "\n"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		if s := int(d.Seconds()) % 60; s != 0 {
			return fmt.Sprintf("%dm %ds", int(d.Minutes()), s)
		}
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

var _ Renderer = (*TUIRenderer)(nil)
