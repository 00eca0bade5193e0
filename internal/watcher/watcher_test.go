package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/issueindex/internal/config"
)

type toggle struct {
	enabled  atomic.Bool
	enables  atomic.Int32
	disables atomic.Int32
}

func (t *toggle) Enable()         { t.enabled.Store(true); t.enables.Add(1) }
func (t *toggle) Disable()        { t.enabled.Store(false); t.disables.Add(1) }
func (t *toggle) IsEnabled() bool { return t.enabled.Load() }

func writeConfig(t *testing.T, path string, enabled bool) {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Index.Enabled = &enabled
	require.NoError(t, cfg.WriteYAML(path))
}

func TestDebouncer_CoalescesBurst(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	// When: a burst of writes hits one file
	for range 5 {
		d.Add(FileEvent{Path: "config.yaml", Operation: OpModify})
		time.Sleep(5 * time.Millisecond)
	}

	// Then: one event comes out
	select {
	case batch := <-d.Output():
		require.Len(t, batch, 1)
		assert.Equal(t, OpModify, batch[0].Operation)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for debounced batch")
	}
}

func TestDebouncer_CoalescingRules(t *testing.T) {
	tests := []struct {
		name string
		ops  []Operation
		want []Operation
	}{
		{"create then modify stays create", []Operation{OpCreate, OpModify}, []Operation{OpCreate}},
		{"create then delete cancels", []Operation{OpCreate, OpDelete}, nil},
		{"delete then create is modify", []Operation{OpDelete, OpCreate}, []Operation{OpModify}},
		{"modify then delete is delete", []Operation{OpModify, OpDelete}, []Operation{OpDelete}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(20 * time.Millisecond)
			defer d.Stop()
			for _, op := range tt.ops {
				d.Add(FileEvent{Path: "a", Operation: op})
			}

			select {
			case batch := <-d.Output():
				var got []Operation
				for _, ev := range batch {
					got = append(got, ev.Operation)
				}
				assert.Equal(t, tt.want, got)
			case <-time.After(150 * time.Millisecond):
				assert.Nil(t, tt.want, "expected a batch")
			}
		})
	}
}

func TestDebouncer_StopIsIdempotent(t *testing.T) {
	d := NewDebouncer(time.Millisecond)
	d.Stop()
	d.Stop()
	d.Add(FileEvent{Path: "a"})

	_, open := <-d.Output()
	assert.False(t, open)
}

func TestReload_AppliesToggle(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.ProjectConfigName)
	target := &toggle{}
	target.enabled.Store(true)

	var reloaded []*config.Config
	w := New(path, target, 0)
	w.OnReload = func(c *config.Config) { reloaded = append(reloaded, c) }

	// When: the file disables indexing
	writeConfig(t, path, false)
	w.Reload()

	// Then: the target was disabled once
	assert.False(t, target.IsEnabled())
	assert.Equal(t, int32(1), target.disables.Load())

	// When: the same content is reloaded, nothing toggles
	w.Reload()
	assert.Equal(t, int32(1), target.disables.Load())

	// When: the file is broken, the state is kept
	require.NoError(t, os.WriteFile(path, []byte("index: [unclosed"), 0o644))
	w.Reload()
	assert.False(t, target.IsEnabled())
	assert.Len(t, reloaded, 2)
}

func TestConfigWatcher_ReactsToFileChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.ProjectConfigName)
	writeConfig(t, path, true)

	target := &toggle{}
	target.enabled.Store(true)

	var mu sync.Mutex
	reloads := 0
	w := New(path, target, 20*time.Millisecond)
	w.OnReload = func(*config.Config) {
		mu.Lock()
		reloads++
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { require.NoError(t, w.Stop()) }()

	// When: an unrelated file changes, nothing happens
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644))

	// When: indexing is disabled in the config file
	writeConfig(t, path, false)

	// Then: the target follows
	require.Eventually(t, func() bool { return !target.IsEnabled() }, 2*time.Second, 10*time.Millisecond)

	// When: it is enabled again
	writeConfig(t, path, true)
	require.Eventually(t, func() bool { return target.IsEnabled() }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), target.enables.Load())
}

func TestConfigWatcher_StartTwiceAndStopUnstarted(t *testing.T) {
	dir := t.TempDir()
	w := New(filepath.Join(dir, "c.yaml"), &toggle{}, 0)
	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	idle := New(filepath.Join(dir, "c.yaml"), &toggle{}, 0)
	assert.NoError(t, idle.Stop())
}

func TestConfigWatcher_MissingDirectory(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "absent", "c.yaml"), &toggle{}, 0)
	assert.Error(t, w.Start(context.Background()))
}

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "DELETE", OpDelete.String())
	assert.Equal(t, "UNKNOWN", Operation(42).String())
}
