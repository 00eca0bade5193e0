package searchcache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/issueindex/internal/index"
	"github.com/Aman-CERP/issueindex/internal/store"
	"github.com/Aman-CERP/issueindex/internal/store/storetest"
)

func newIndexer(t *testing.T) *index.IssueIndexer {
	t.Helper()
	s := storetest.NewSQLite(t, storetest.Projects(2))
	r, err := store.NewRetriever(s, 0)
	require.NoError(t, err)
	ix, err := index.New(index.DefaultConfig(t.TempDir()), index.NewFactories(nil), r)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Shutdown() })
	return ix
}

func TestRetrieve_SuppliesOncePerKind(t *testing.T) {
	ix := newIndexer(t)
	c := New()

	calls := 0
	supplier := func() (*index.Searcher, error) {
		calls++
		return ix.OpenIssueSearcher()
	}

	// When: retrieving the same kind twice
	first, err := c.Retrieve(index.KindIssue, supplier)
	require.NoError(t, err)
	second, err := c.Retrieve(index.KindIssue, supplier)
	require.NoError(t, err)

	// Then: the supplier ran once and the same searcher came back
	assert.Equal(t, 1, calls)
	assert.Same(t, first, second)

	// When: the cache is closed, the next lookup supplies again
	c.CloseSearchers()
	assert.Equal(t, 0, c.Len())
	third, err := c.Retrieve(index.KindIssue, supplier)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NotSame(t, first, third)
	c.CloseSearchers()
}

func TestRetrieve_SupplierErrorIsNotCached(t *testing.T) {
	c := New()
	boom := errors.New("index unavailable")

	_, err := c.Retrieve(index.KindComment, func() (*index.Searcher, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())
}

func TestRetrieveHelpers_OneSearcherPerKind(t *testing.T) {
	ix := newIndexer(t)
	c := New()
	defer c.CloseSearchers()

	is, err := c.RetrieveIssueSearcher(ix)
	require.NoError(t, err)
	cs, err := c.RetrieveCommentSearcher(ix)
	require.NoError(t, err)
	hs, err := c.RetrieveChangeHistorySearcher(ix)
	require.NoError(t, err)

	assert.Equal(t, index.KindIssue, is.Kind())
	assert.Equal(t, index.KindComment, cs.Kind())
	assert.Equal(t, index.KindChangeHistory, hs.Kind())
	assert.Equal(t, 3, c.Len())
}

func TestCloseSearchers_EmptyIsNoop(t *testing.T) {
	c := New()
	c.CloseSearchers()
	c.CloseSearchers()
	assert.Equal(t, 0, c.Len())
}

func TestFromContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	ctx, c := WithCache(context.Background())
	assert.Same(t, c, FromContext(ctx))
}

func TestScope_ClosesOnReturnAndPanic(t *testing.T) {
	ix := newIndexer(t)
	reg := NewRegistry()

	// Given: a scope that opens a searcher and fails
	var seen *Cache
	err := Scope(context.Background(), reg, func(ctx context.Context) error {
		seen = FromContext(ctx)
		_, err := seen.RetrieveIssueSearcher(ix)
		require.NoError(t, err)
		assert.Equal(t, 1, reg.Len())
		return errors.New("request failed")
	})

	// Then: the error passes through and the cache was emptied and untracked
	assert.EqualError(t, err, "request failed")
	require.NotNil(t, seen)
	assert.Equal(t, 0, seen.Len())
	assert.Equal(t, 0, reg.Len())

	// Given: a scope that panics
	assert.Panics(t, func() {
		_ = Scope(context.Background(), reg, func(ctx context.Context) error {
			seen = FromContext(ctx)
			_, _ = seen.RetrieveCommentSearcher(ix)
			panic("handler bug")
		})
	})

	// Then: teardown still ran
	assert.Equal(t, 0, seen.Len())
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_InvalidateAll(t *testing.T) {
	ix := newIndexer(t)
	reg := NewRegistry()

	var held *index.Searcher
	err := Scope(context.Background(), reg, func(ctx context.Context) error {
		c := FromContext(ctx)
		var err error
		held, err = c.RetrieveIssueSearcher(ix)
		require.NoError(t, err)

		// When: a reindex invalidates live caches mid-scope
		reg.InvalidateAll()

		// Then: the scope's cache is empty and reopens on demand
		assert.Equal(t, 0, c.Len())
		fresh, err := c.RetrieveIssueSearcher(ix)
		require.NoError(t, err)
		assert.NotSame(t, held, fresh)
		assert.Equal(t, 1, c.Len())

		// And: the detached searcher still reads
		_, err = held.DocCount()
		assert.NoError(t, err)
		return nil
	})
	require.NoError(t, err)

	// And: the scope closed the detached searcher on exit
	_, err = held.DocCount()
	assert.ErrorIs(t, err, index.ErrSearcherClosed)
}
