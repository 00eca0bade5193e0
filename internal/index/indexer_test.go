package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/issueindex/internal/document"
	"github.com/Aman-CERP/issueindex/internal/entity"
	ierrors "github.com/Aman-CERP/issueindex/internal/errors"
	"github.com/Aman-CERP/issueindex/internal/store"
	"github.com/Aman-CERP/issueindex/internal/store/storetest"
)

func newTestIndexer(t *testing.T, ds *store.Dataset, registry *document.Registry) (*IssueIndexer, *store.SQLiteStore) {
	t.Helper()
	s := storetest.NewSQLite(t, ds)
	r, err := store.NewRetriever(s, 0)
	require.NoError(t, err)

	ix, err := New(DefaultConfig(t.TempDir()), NewFactories(registry), r)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Shutdown() })
	return ix, s
}

func allIssues(t *testing.T, s *store.SQLiteStore) []*entity.Issue {
	t.Helper()
	issues, err := s.IssuesUpTo(context.Background(), 1<<62, 100000)
	require.NoError(t, err)
	return issues
}

func docCount(t *testing.T, ix *IssueIndexer, kind Kind) uint64 {
	t.Helper()
	s, err := ix.OpenSearcher(kind)
	require.NoError(t, err)
	defer s.Close()
	n, err := s.DocCount()
	require.NoError(t, err)
	return n
}

func counts(t *testing.T, ix *IssueIndexer) [3]uint64 {
	return [3]uint64{docCount(t, ix, KindIssue), docCount(t, ix, KindComment), docCount(t, ix, KindChangeHistory)}
}

func TestNew_Validation(t *testing.T) {
	s := storetest.NewSQLite(t, nil)
	r, err := store.NewRetriever(s, 0)
	require.NoError(t, err)

	_, err = New(Config{}, NewFactories(nil), r)
	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCodeInvalidPath, ierrors.GetCode(err))

	_, err = New(DefaultConfig(t.TempDir()), NewFactories(nil), nil)
	assert.Error(t, err)
}

func TestIndexIssues_WritesAllKinds(t *testing.T) {
	ctx := context.Background()

	// Given: three issues, each with one comment and one change group
	ix, s := newTestIndexer(t, storetest.Projects(3), nil)

	// When: indexing them
	res, err := ix.IndexIssues(ctx, allIssues(t, s))

	// Then: every kind holds three documents
	require.NoError(t, err)
	assert.Equal(t, Result{Issues: 3, Comments: 3, Changes: 3}, res)
	assert.Equal(t, [3]uint64{3, 3, 3}, counts(t, ix))
}

func TestIndexIssues_EmptyInput(t *testing.T) {
	ix, _ := newTestIndexer(t, nil, nil)

	res, err := ix.IndexIssues(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestReindexIssues_Idempotent(t *testing.T) {
	ctx := context.Background()
	ix, s := newTestIndexer(t, storetest.Projects(2, 2), nil)
	issues := allIssues(t, s)

	// Given: a reindex of every issue
	_, err := ix.ReindexIssues(ctx, issues)
	require.NoError(t, err)
	first := counts(t, ix)
	firstDoc := storedDoc(t, ix, KindIssue, "1")

	// When: running the same reindex again
	_, err = ix.ReindexIssues(ctx, issues)
	require.NoError(t, err)

	// Then: nothing changed
	assert.Equal(t, first, counts(t, ix))
	assert.Equal(t, firstDoc, storedDoc(t, ix, KindIssue, "1"))
}

func storedDoc(t *testing.T, ix *IssueIndexer, kind Kind, id string) map[string][]string {
	t.Helper()
	s, err := ix.OpenSearcher(kind)
	require.NoError(t, err)
	defer s.Close()
	doc, err := s.Document(id)
	require.NoError(t, err)
	return doc
}

func TestReindexIssues_ReplacesStaleChildren(t *testing.T) {
	ctx := context.Background()
	ix, s := newTestIndexer(t, storetest.Projects(2), nil)
	_, err := ix.IndexIssues(ctx, allIssues(t, s))
	require.NoError(t, err)

	// Given: issue 1 lost its comment and got a new summary
	require.NoError(t, s.DeleteComment(ctx, 10))
	issue, err := s.GetIssue(ctx, 1)
	require.NoError(t, err)
	issue.Summary = "Kernel panic in scheduler"
	require.NoError(t, s.SaveIssue(ctx, issue))

	// When: reindexing that issue
	_, err = ix.ReindexIssues(ctx, []*entity.Issue{issue})
	require.NoError(t, err)

	// Then: the stale comment is gone and the new text is searchable
	assert.Equal(t, uint64(1), docCount(t, ix, KindComment))
	searcher, err := ix.OpenIssueSearcher()
	require.NoError(t, err)
	defer searcher.Close()
	hits, err := searcher.Match(ctx, document.FieldSummary, "scheduler", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "1", hits[0].ID)
}

func TestDeindexIssues_LeavesSiblingComments(t *testing.T) {
	ctx := context.Background()

	// Given: issue 1 with two comments and issue 2 with one
	ds := storetest.Projects(2)
	ds.Comments = append(ds.Comments, &entity.Comment{ID: 11, IssueID: 1, Body: "second comment"})
	ix, s := newTestIndexer(t, ds, nil)
	_, err := ix.IndexIssues(ctx, allIssues(t, s))
	require.NoError(t, err)
	require.Equal(t, uint64(3), docCount(t, ix, KindComment))

	// When: deindexing issue 1
	res, err := ix.DeindexIssues(ctx, []*entity.Issue{{ID: 1}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Issues)

	// Then: only issue 2 and its comment and change group remain
	assert.Equal(t, [3]uint64{1, 1, 1}, counts(t, ix))
	doc := storedDoc(t, ix, KindComment, "20")
	require.NotNil(t, doc)
	assert.Equal(t, []string{"2"}, doc[document.FieldIssueID])
}

func TestReindexComments(t *testing.T) {
	ctx := context.Background()
	ix, s := newTestIndexer(t, storetest.Projects(1), nil)
	_, err := ix.IndexIssues(ctx, allIssues(t, s))
	require.NoError(t, err)

	t.Run("rejects nil", func(t *testing.T) {
		_, err := ix.ReindexComments(ctx, []*entity.Comment{nil})
		require.Error(t, err)
		assert.Equal(t, ierrors.ErrCodeInvalidInput, ierrors.GetCode(err))
	})

	t.Run("replaces body", func(t *testing.T) {
		c, err := s.GetComment(ctx, 10)
		require.NoError(t, err)
		c.Body = "reproduced on staging"

		res, err := ix.ReindexComments(ctx, []*entity.Comment{c})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Comments)

		doc := storedDoc(t, ix, KindComment, "10")
		assert.Equal(t, []string{"reproduced on staging"}, doc[document.FieldBody])
		assert.Equal(t, []string{"P1-1"}, doc[document.FieldIssueKey])
	})

	t.Run("empty body removes the document", func(t *testing.T) {
		res, err := ix.ReindexComments(ctx, []*entity.Comment{{ID: 10, IssueID: 1}})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Empty)
		assert.Equal(t, uint64(0), docCount(t, ix, KindComment))
	})
}

func TestBatchMode_FallsBackBelowMinimum(t *testing.T) {
	ctx := context.Background()
	ix, s := newTestIndexer(t, storetest.Projects(5), nil)

	var progress []int
	res, err := ix.IndexIssuesBatchMode(ctx, allIssues(t, s), BatchOptions{
		OnProgress: func(done int) { progress = append(progress, done) },
	})

	require.NoError(t, err)
	assert.Equal(t, 5, res.Issues)
	assert.Equal(t, []int{5}, progress)
}

func TestBatchMode_ConcurrentBuild(t *testing.T) {
	ctx := context.Background()

	// Given: enough issues to take the concurrent path with small batches
	ix, s := newTestIndexer(t, storetest.Projects(80, 45), nil)
	issues := allIssues(t, s)
	require.GreaterOrEqual(t, len(issues), ix.Config().MinBatchSize)

	var last int
	res, err := ix.IndexIssuesBatchMode(ctx, issues, BatchOptions{
		WriterThreads: 4,
		BatchSize:     30,
		OnProgress:    func(done int) { last = done },
	})

	// Then: everything was written exactly once
	require.NoError(t, err)
	assert.Equal(t, 125, res.Issues)
	assert.Equal(t, 125, res.Comments)
	assert.Equal(t, 125, last)
	assert.Equal(t, [3]uint64{125, 125, 125}, counts(t, ix))
}

func TestBatchMode_CancelledContext(t *testing.T) {
	ix, s := newTestIndexer(t, storetest.Projects(60), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ix.IndexIssuesBatchMode(ctx, allIssues(t, s), BatchOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFatalExtractorPropagates(t *testing.T) {
	ctx := context.Background()
	reg := document.NewRegistry()
	reg.Register(document.EntityIssue, document.Func("broken", func(context.Context, any, *document.Builder) ([]string, error) {
		return nil, fmt.Errorf("store handle lost: %w", document.ErrFatal)
	}))
	ix, s := newTestIndexer(t, storetest.Projects(1), reg)

	_, err := ix.ReindexIssues(ctx, allIssues(t, s))

	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCodeDocumentFailed, ierrors.GetCode(err))
	assert.ErrorIs(t, err, document.ErrFatal)
}

func TestFatalExtractorPanic_BatchModeReturnsError(t *testing.T) {
	ctx := context.Background()
	reg := document.NewRegistry()
	reg.Register(document.EntityIssue, document.Func("corrupt", func(_ context.Context, e any, _ *document.Builder) ([]string, error) {
		if is, ok := e.(*entity.Issue); ok && is.ID == 42 {
			panic(fmt.Errorf("arena corrupted: %w", document.ErrFatal))
		}
		return nil, nil
	}))
	ix, s := newTestIndexer(t, storetest.Projects(60), reg)
	issues := allIssues(t, s)
	require.GreaterOrEqual(t, len(issues), ix.cfg.MinBatchSize)

	// When: one worker's extractor panics with a fatal error
	var err error
	require.NotPanics(t, func() {
		_, err = ix.IndexIssuesBatchMode(ctx, issues, BatchOptions{WriterThreads: 4})
	})

	// Then: the run fails with a document error instead of crashing
	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCodeDocumentFailed, ierrors.GetCode(err))
	assert.ErrorIs(t, err, document.ErrFatal)
}

func TestIsolatedExtractorFailureKeepsDocument(t *testing.T) {
	ctx := context.Background()
	reg := document.NewRegistry()
	reg.Register(document.EntityIssue, document.Func("flaky", func(context.Context, any, *document.Builder) ([]string, error) {
		panic("boom")
	}))
	ix, s := newTestIndexer(t, storetest.Projects(1), reg)

	res, err := ix.ReindexIssues(ctx, allIssues(t, s))

	require.NoError(t, err)
	assert.Equal(t, 1, res.Issues)
	doc := storedDoc(t, ix, KindIssue, "1")
	assert.Equal(t, []string{"Issue 1 summary"}, doc[document.FieldSummary])
}

func TestSearcher_SnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	ix, s := newTestIndexer(t, storetest.Projects(4), nil)
	issues := allIssues(t, s)
	_, err := ix.IndexIssues(ctx, issues[:2])
	require.NoError(t, err)

	// Given: a searcher opened before more writes
	old, err := ix.OpenIssueSearcher()
	require.NoError(t, err)
	defer old.Close()

	// When: two more issues are committed
	_, err = ix.IndexIssues(ctx, issues[2:])
	require.NoError(t, err)

	// Then: the old snapshot is unchanged and a new one sees everything
	n, err := old.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
	assert.Equal(t, uint64(4), docCount(t, ix, KindIssue))
}

func TestSearcher_TermAllIDsAndClose(t *testing.T) {
	ctx := context.Background()
	ix, s := newTestIndexer(t, storetest.Projects(2, 1), nil)
	_, err := ix.IndexIssues(ctx, allIssues(t, s))
	require.NoError(t, err)

	searcher, err := ix.OpenIssueSearcher()
	require.NoError(t, err)

	hits, err := searcher.Term(ctx, document.FieldProjectKey, "P1", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	var ids []string
	require.NoError(t, searcher.AllIDs(ctx, func(id string) error {
		ids = append(ids, id)
		return nil
	}))
	assert.ElementsMatch(t, []string{"1", "2", "3"}, ids)

	missing, err := searcher.Document("999")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, searcher.Close())
	require.NoError(t, searcher.Close(), "close is idempotent")
}

func TestSearcher_ReadsAfterCloseFail(t *testing.T) {
	ctx := context.Background()
	ix, s := newTestIndexer(t, storetest.Projects(2), nil)
	_, err := ix.IndexIssues(ctx, allIssues(t, s))
	require.NoError(t, err)

	// Given: a closed searcher
	searcher, err := ix.OpenIssueSearcher()
	require.NoError(t, err)
	require.NoError(t, searcher.Close())

	// Then: every read reports the closed state instead of touching the snapshot
	_, err = searcher.DocCount()
	assert.ErrorIs(t, err, ErrSearcherClosed)
	_, err = searcher.Document("1")
	assert.ErrorIs(t, err, ErrSearcherClosed)
	_, err = searcher.Match(ctx, document.FieldSummary, "summary", 10)
	assert.ErrorIs(t, err, ErrSearcherClosed)
	err = searcher.AllIDs(ctx, func(string) error { return nil })
	assert.ErrorIs(t, err, ErrSearcherClosed)
}

func TestSearcher_CloseWaitsForReads(t *testing.T) {
	ctx := context.Background()
	ix, s := newTestIndexer(t, storetest.Projects(3), nil)
	_, err := ix.IndexIssues(ctx, allIssues(t, s))
	require.NoError(t, err)

	searcher, err := ix.OpenIssueSearcher()
	require.NoError(t, err)

	closed := make(chan error, 1)
	seen := 0
	err = searcher.AllIDs(ctx, func(id string) error {
		seen++
		if seen > 1 {
			return nil
		}

		// When: Close is called while the iteration is running
		go func() { closed <- searcher.Close() }()
		require.Eventually(t, func() bool {
			_, err := searcher.DocCount()
			return errors.Is(err, ErrSearcherClosed)
		}, time.Second, time.Millisecond)

		// Then: Close waits for the iteration to finish
		select {
		case <-closed:
			t.Fatal("close returned while a read was in flight")
		default:
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, seen)
	require.NoError(t, <-closed)
}

func TestOptimizeAndDeleteIndexes(t *testing.T) {
	ctx := context.Background()
	ix, s := newTestIndexer(t, storetest.Projects(3), nil)
	issues := allIssues(t, s)
	for _, is := range issues {
		_, err := ix.IndexIssues(ctx, []*entity.Issue{is})
		require.NoError(t, err)
	}

	require.NoError(t, ix.Optimize(ctx))
	assert.Equal(t, [3]uint64{3, 3, 3}, counts(t, ix))

	require.NoError(t, ix.DeleteIndexes(ctx))
	assert.Equal(t, [3]uint64{0, 0, 0}, counts(t, ix))
}

func TestShutdown(t *testing.T) {
	ctx := context.Background()
	ix, s := newTestIndexer(t, storetest.Projects(1), nil)
	_, err := ix.IndexIssues(ctx, allIssues(t, s))
	require.NoError(t, err)

	require.NoError(t, ix.Shutdown())
	require.NoError(t, ix.Shutdown(), "shutdown is idempotent")

	_, err = ix.IndexIssues(ctx, allIssues(t, s))
	assert.ErrorIs(t, err, ErrShutdown)
	_, err = ix.OpenIssueSearcher()
	assert.ErrorIs(t, err, ErrShutdown)
	assert.ErrorIs(t, ix.Optimize(ctx), ErrShutdown)
}

func TestOpen_RecoversCorruptIndex(t *testing.T) {
	ctx := context.Background()
	s := storetest.NewSQLite(t, storetest.Projects(1))
	r, err := store.NewRetriever(s, 0)
	require.NoError(t, err)
	root := t.TempDir()

	// Given: an issue index directory with an empty meta file
	dir := filepath.Join(root, string(KindIssue))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index_meta.json"), nil, 0o644))

	// When: indexing into it
	ix, err := New(DefaultConfig(root), NewFactories(nil), r)
	require.NoError(t, err)
	defer ix.Shutdown()
	_, err = ix.IndexIssues(ctx, allIssues(t, s))

	// Then: the index was recreated
	require.NoError(t, err)
	assert.Equal(t, uint64(1), docCount(t, ix, KindIssue))
}

func TestWriteError_Codes(t *testing.T) {
	ix := &IssueIndexer{}

	// Given: failures from the underlying index
	full := ix.writeError(KindIssue, fmt.Errorf("failed to execute batch: %w", syscall.ENOSPC))
	other := ix.writeError(KindIssue, fmt.Errorf("boom"))

	// Then: a full disk is reported distinctly and fatally
	assert.Equal(t, ierrors.ErrCodeDiskFull, ierrors.GetCode(full))
	assert.Equal(t, ierrors.ErrCodeIndexFailed, ierrors.GetCode(other))
	assert.ErrorIs(t, ix.writeError(KindIssue, ErrShutdown), ErrShutdown)
}
