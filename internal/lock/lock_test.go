package lock

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/issueindex/internal/config"
)

func locks(t *testing.T) map[string]func() ReindexLock {
	dir := t.TempDir()
	return map[string]func() ReindexLock{
		"local": func() ReindexLock { return NewLocalLock() },
		"file":  func() ReindexLock { return NewFileLock(filepath.Join(dir, "nested", "reindex.flock")) },
	}
}

func TestReindexLock_TryAcquireRelease(t *testing.T) {
	for name, mk := range locks(t) {
		t.Run(name, func(t *testing.T) {
			l := mk()

			// When: acquiring a free lock
			ok, err := l.TryAcquire()
			require.NoError(t, err)
			assert.True(t, ok)

			// Then: a second attempt fails without blocking
			ok, err = l.TryAcquire()
			require.NoError(t, err)
			assert.False(t, ok)

			// And: release makes it available again
			require.NoError(t, l.Release())
			ok, err = l.TryAcquire()
			require.NoError(t, err)
			assert.True(t, ok)
			require.NoError(t, l.Release())
		})
	}
}

func TestReindexLock_ReleaseWithoutAcquireIsNoop(t *testing.T) {
	for name, mk := range locks(t) {
		t.Run(name, func(t *testing.T) {
			l := mk()
			assert.NoError(t, l.Release())
			assert.NoError(t, l.Release())
		})
	}
}

func TestReindexLock_ConcurrentAcquireHasOneWinner(t *testing.T) {
	for name, mk := range locks(t) {
		t.Run(name, func(t *testing.T) {
			l := mk()
			var winners atomic.Int32
			var wg sync.WaitGroup
			start := make(chan struct{})

			for range 16 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					ok, err := l.TryAcquire()
					assert.NoError(t, err)
					if ok {
						winners.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()

			assert.Equal(t, int32(1), winners.Load())
			require.NoError(t, l.Release())
		})
	}
}

func TestFileLock_ExcludesOtherInstances(t *testing.T) {
	// Given: two lock instances over one file, as two processes would hold
	path := filepath.Join(t.TempDir(), "reindex.flock")
	a := NewFileLock(path)
	b := NewFileLock(path)

	ok, err := a.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)

	_, err = os.Stat(a.Path())
	require.NoError(t, err, "lock file should exist")

	// Then: the other instance cannot acquire it
	ok, err = b.TryAcquire()
	require.NoError(t, err)
	assert.False(t, ok)

	// When: the holder releases
	require.NoError(t, a.Release())

	// Then: the other instance can proceed
	ok, err = b.TryAcquire()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Release())
}

func TestFromConfig(t *testing.T) {
	l, err := FromConfig(config.LockConfig{Kind: "local"})
	require.NoError(t, err)
	assert.IsType(t, &LocalLock{}, l)

	path := filepath.Join(t.TempDir(), "reindex.flock")
	l, err = FromConfig(config.LockConfig{Kind: "file", Path: path})
	require.NoError(t, err)
	require.IsType(t, &FileLock{}, l)
	assert.Equal(t, path, l.(*FileLock).Path())

	_, err = FromConfig(config.LockConfig{Kind: "file"})
	assert.Error(t, err)

	_, err = FromConfig(config.LockConfig{Kind: "zookeeper"})
	assert.Error(t, err)
}
