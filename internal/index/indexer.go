// Package index maintains the issue, comment and change-history indexes.
//
// Each kind is one bleve index under the configured root. Physical writes
// to a kind are serialized; readers open snapshot Searchers and never wait
// for writers. Updates are applied as atomic bleve batches keyed by
// document id, so a reader sees either the old or the new version of an
// issue and never a gap.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"syscall"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/Aman-CERP/issueindex/internal/document"
	"github.com/Aman-CERP/issueindex/internal/entity"
	ierrors "github.com/Aman-CERP/issueindex/internal/errors"
	"github.com/Aman-CERP/issueindex/internal/store"
)

// ErrShutdown is returned by every operation after Shutdown.
var ErrShutdown = ierrors.New(ierrors.ErrCodeIndexerShutdown, "indexer is shut down", nil)

// Config configures an IssueIndexer.
type Config struct {
	// RootPath holds one directory per index kind.
	RootPath string

	// BatchSize bounds the number of documents per bleve batch in batch mode.
	BatchSize int

	// MinBatchSize is the smallest input that uses batch mode.
	MinBatchSize int

	// WriterThreads bounds concurrent document construction in batch mode.
	WriterThreads int

	// MaxQueueSize bounds built-but-unwritten documents in batch mode.
	MaxQueueSize int
}

// DefaultConfig returns the defaults for root.
func DefaultConfig(root string) Config {
	return Config{
		RootPath:      root,
		BatchSize:     500,
		MinBatchSize:  50,
		WriterThreads: 20,
		MaxQueueSize:  1000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.RootPath)
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MinBatchSize <= 0 {
		c.MinBatchSize = d.MinBatchSize
	}
	if c.WriterThreads <= 0 {
		c.WriterThreads = d.WriterThreads
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
	return c
}

// Factories bundles the document factories used by the indexer.
type Factories struct {
	Issue         *document.IssueFactory
	Comment       *document.CommentFactory
	ChangeHistory *document.ChangeHistoryFactory
}

// NewFactories creates all three factories over one plugin registry.
// registry may be nil.
func NewFactories(registry *document.Registry) Factories {
	return Factories{
		Issue:         document.NewIssueFactory(registry),
		Comment:       document.NewCommentFactory(registry),
		ChangeHistory: document.NewChangeHistoryFactory(registry),
	}
}

// Result counts the work done by one call.
type Result struct {
	Issues   int
	Comments int
	Changes  int

	// Empty counts entities that produced no document.
	Empty int

	// Skipped counts issues dropped because their documents failed to build.
	Skipped int
}

// Add accumulates other into r.
func (r *Result) Add(other Result) {
	r.Issues += other.Issues
	r.Comments += other.Comments
	r.Changes += other.Changes
	r.Empty += other.Empty
	r.Skipped += other.Skipped
}

// IssueIndexer writes issue, comment and change-history documents.
type IssueIndexer struct {
	cfg       Config
	factories Factories
	retriever *store.Retriever
	mapping   mapping.IndexMapping
	analyzers analyzers

	handles  map[Kind]*handle
	shutdown atomic.Bool
}

// New creates an indexer. Indexes are opened lazily on first use.
func New(cfg Config, factories Factories, retriever *store.Retriever) (*IssueIndexer, error) {
	if cfg.RootPath == "" {
		return nil, ierrors.New(ierrors.ErrCodeInvalidPath, "index root path is required", nil)
	}
	if retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if factories.Issue == nil || factories.Comment == nil || factories.ChangeHistory == nil {
		factories = NewFactories(nil)
	}

	m, err := buildMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	ix := &IssueIndexer{
		cfg:       cfg.withDefaults(),
		factories: factories,
		retriever: retriever,
		mapping:   m,
		analyzers: resolveAnalyzers(m),
		handles:   make(map[Kind]*handle, len(Kinds)),
	}
	for _, k := range Kinds {
		ix.handles[k] = newHandle(k, cfg.RootPath, m)
	}
	return ix, nil
}

// Config returns the effective configuration.
func (ix *IssueIndexer) Config() Config {
	return ix.cfg
}

func (ix *IssueIndexer) check() error {
	if ix.shutdown.Load() {
		return ErrShutdown
	}
	return nil
}

// issueDocs holds every document derived from one issue.
type issueDocs struct {
	issueID  string
	issue    *document.Document
	comments []*document.Document
	changes  []*document.Document
	empty    int
	skipped  bool
}

// build derives the documents of is. Non-fatal document failures mark the
// result as skipped; store failures and fatal extractor errors are returned.
func (ix *IssueIndexer) build(ctx context.Context, is *entity.Issue) (*issueDocs, error) {
	out := &issueDocs{issueID: document.FormatID(is.ID)}
	ix.retriever.Enrich(ctx, is)

	doc, err := ix.factories.Issue.Build(ctx, is)
	if err != nil {
		return ix.buildFailed(out, is, err)
	}
	if doc == nil {
		out.empty++
	}
	out.issue = doc

	comments, err := ix.retriever.Comments(ctx, is)
	if err != nil {
		return nil, ierrors.StoreError(fmt.Sprintf("failed to load comments of issue %d", is.ID), err)
	}
	for _, c := range comments {
		cdoc, err := ix.factories.Comment.Build(ctx, c, is)
		if err != nil {
			return ix.buildFailed(out, is, err)
		}
		if cdoc == nil {
			out.empty++
			continue
		}
		out.comments = append(out.comments, cdoc)
	}

	groups, err := ix.retriever.ChangeGroups(ctx, is)
	if err != nil {
		return nil, ierrors.StoreError(fmt.Sprintf("failed to load change history of issue %d", is.ID), err)
	}
	for _, g := range groups {
		gdoc, err := ix.factories.ChangeHistory.Build(ctx, g, is)
		if err != nil {
			return ix.buildFailed(out, is, err)
		}
		if gdoc == nil {
			out.empty++
			continue
		}
		out.changes = append(out.changes, gdoc)
	}
	return out, nil
}

func (ix *IssueIndexer) buildFailed(out *issueDocs, is *entity.Issue, err error) (*issueDocs, error) {
	if errors.Is(err, document.ErrFatal) {
		return nil, ierrors.New(ierrors.ErrCodeDocumentFailed,
			fmt.Sprintf("failed to build documents for issue %d", is.ID), err)
	}
	slog.Warn("issue_documents_skipped",
		slog.Int64("issue_id", is.ID),
		slog.String("error", err.Error()))
	return &issueDocs{issueID: out.issueID, skipped: true}, nil
}

// IndexIssues adds the documents of issues. Existing documents with the
// same ids are overwritten; stale comment and change documents are kept.
func (ix *IssueIndexer) IndexIssues(ctx context.Context, issues []*entity.Issue) (Result, error) {
	return ix.write(ctx, issues, false)
}

// ReindexIssues replaces every document derived from issues. Per kind the
// delete of old documents and the add of new ones commit in one batch.
// Calling it twice with the same input leaves the indexes unchanged.
func (ix *IssueIndexer) ReindexIssues(ctx context.Context, issues []*entity.Issue) (Result, error) {
	return ix.write(ctx, issues, true)
}

func (ix *IssueIndexer) write(ctx context.Context, issues []*entity.Issue, replace bool) (Result, error) {
	var res Result
	if err := ix.check(); err != nil {
		return res, err
	}
	if len(issues) == 0 {
		return res, nil
	}

	built := make([]*issueDocs, 0, len(issues))
	for _, is := range issues {
		if is == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		d, err := ix.build(ctx, is)
		if err != nil {
			return res, err
		}
		built = append(built, d)
	}

	return ix.commit(ctx, built, replace)
}

// commit writes built documents, one atomic batch per kind.
func (ix *IssueIndexer) commit(ctx context.Context, built []*issueDocs, replace bool) (Result, error) {
	var res Result
	ops := map[Kind]*kindOps{}
	for _, k := range Kinds {
		ops[k] = &kindOps{}
	}

	for _, d := range built {
		if d.skipped {
			res.Skipped++
			continue
		}
		res.Empty += d.empty
		if replace {
			ops[KindComment].deleteByIssue = append(ops[KindComment].deleteByIssue, d.issueID)
			ops[KindChangeHistory].deleteByIssue = append(ops[KindChangeHistory].deleteByIssue, d.issueID)
		}
		if d.issue != nil {
			ops[KindIssue].add = append(ops[KindIssue].add, d.issue)
			res.Issues++
		} else if replace {
			ops[KindIssue].deleteIDs = append(ops[KindIssue].deleteIDs, d.issueID)
		}
		ops[KindComment].add = append(ops[KindComment].add, d.comments...)
		ops[KindChangeHistory].add = append(ops[KindChangeHistory].add, d.changes...)
		res.Comments += len(d.comments)
		res.Changes += len(d.changes)
	}

	for _, k := range Kinds {
		if err := ix.apply(ctx, k, ops[k]); err != nil {
			return res, err
		}
	}
	return res, nil
}

// kindOps is the pending change set for one kind.
type kindOps struct {
	deleteIDs     []string
	deleteByIssue []string
	add           []*document.Document
}

func (o *kindOps) empty() bool {
	return len(o.deleteIDs) == 0 && len(o.deleteByIssue) == 0 && len(o.add) == 0
}

// apply commits ops to kind as a single bleve batch.
func (ix *IssueIndexer) apply(ctx context.Context, kind Kind, ops *kindOps) error {
	if ops.empty() {
		return nil
	}

	h := ix.handles[kind]
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	idx, err := h.index()
	if err != nil {
		return ix.writeError(kind, err)
	}

	batch := idx.NewBatch()
	if len(ops.deleteByIssue) > 0 {
		stale, err := idsByTerm(ctx, idx, document.FieldIssueID, ops.deleteByIssue)
		if err != nil {
			return ix.writeError(kind, err)
		}
		for _, id := range stale {
			batch.Delete(id)
		}
	}
	for _, id := range ops.deleteIDs {
		batch.Delete(id)
	}
	for _, d := range ops.add {
		if err := batch.IndexAdvanced(toBleve(d, ix.analyzers)); err != nil {
			return ix.writeError(kind, fmt.Errorf("failed to stage document %s: %w", d.ID, err))
		}
	}

	if err := idx.Batch(batch); err != nil {
		return ix.writeError(kind, fmt.Errorf("failed to execute batch: %w", err))
	}
	return nil
}

func (ix *IssueIndexer) writeError(kind Kind, err error) error {
	if errors.Is(err, ErrShutdown) {
		return ErrShutdown
	}
	if errors.Is(err, syscall.ENOSPC) {
		return ierrors.New(ierrors.ErrCodeDiskFull, fmt.Sprintf("no space left writing %s index", kind), err)
	}
	return ierrors.New(ierrors.ErrCodeIndexFailed, fmt.Sprintf("failed to write %s index", kind), err)
}

// ReindexComments replaces the documents of individual comments. A comment
// whose body became empty is removed from the index.
func (ix *IssueIndexer) ReindexComments(ctx context.Context, comments []*entity.Comment) (Result, error) {
	var res Result
	if err := ix.check(); err != nil {
		return res, err
	}

	ops := &kindOps{}
	issues := map[int64]*entity.Issue{}
	for i, c := range comments {
		if c == nil {
			return res, ierrors.ValidationError(fmt.Sprintf("comment at position %d is nil", i), nil)
		}

		issue, ok := issues[c.IssueID]
		if !ok {
			var err error
			issue, err = ix.retriever.Issue(ctx, c.IssueID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return res, ierrors.StoreError(fmt.Sprintf("failed to load issue %d", c.IssueID), err)
			}
			issues[c.IssueID] = issue
		}

		doc, err := ix.factories.Comment.Build(ctx, c, issue)
		if err != nil {
			if errors.Is(err, document.ErrFatal) {
				return res, ierrors.New(ierrors.ErrCodeDocumentFailed,
					fmt.Sprintf("failed to build document for comment %d", c.ID), err)
			}
			res.Skipped++
			continue
		}
		if doc == nil {
			res.Empty++
			ops.deleteIDs = append(ops.deleteIDs, document.FormatID(c.ID))
			continue
		}
		ops.add = append(ops.add, doc)
		res.Comments++
	}

	return res, ix.apply(ctx, KindComment, ops)
}

// DeindexIssues removes the issue documents of issues together with all
// comment and change documents that reference them.
func (ix *IssueIndexer) DeindexIssues(ctx context.Context, issues []*entity.Issue) (Result, error) {
	ids := make([]int64, 0, len(issues))
	for _, is := range issues {
		if is != nil {
			ids = append(ids, is.ID)
		}
	}
	return ix.DeindexIDs(ctx, ids)
}

// DeindexIDs is DeindexIssues for callers that only hold ids, such as a
// deletion event for an issue already gone from the store.
func (ix *IssueIndexer) DeindexIDs(ctx context.Context, ids []int64) (Result, error) {
	var res Result
	if err := ix.check(); err != nil {
		return res, err
	}
	if len(ids) == 0 {
		return res, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, document.FormatID(id))
	}

	if err := ix.apply(ctx, KindIssue, &kindOps{deleteIDs: keys}); err != nil {
		return res, err
	}
	for _, k := range []Kind{KindComment, KindChangeHistory} {
		if err := ix.apply(ctx, k, &kindOps{deleteByIssue: keys}); err != nil {
			return res, err
		}
	}
	res.Issues = len(keys)
	return res, nil
}

// DeleteIndexes closes and removes every index. They are recreated empty
// on next use.
func (ix *IssueIndexer) DeleteIndexes(ctx context.Context) error {
	if err := ix.check(); err != nil {
		return err
	}
	for _, k := range Kinds {
		h := ix.handles[k]
		h.writeMu.Lock()
		err := h.drop()
		h.writeMu.Unlock()
		if err != nil {
			return ierrors.New(ierrors.ErrCodeIndexFailed, fmt.Sprintf("failed to delete %s index", k), err)
		}
	}
	slog.Info("indexes_deleted", slog.String("root", ix.cfg.RootPath))
	return nil
}

// Shutdown closes every index. It is safe to call more than once.
func (ix *IssueIndexer) Shutdown() error {
	if !ix.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	for _, k := range Kinds {
		h := ix.handles[k]
		h.writeMu.Lock()
		if err := h.close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s index: %w", k, err))
		}
		h.writeMu.Unlock()
	}
	slog.Debug("indexer_shutdown")
	return errors.Join(errs...)
}

// maxClauses bounds the disjunction size of one id lookup.
const maxClauses = 512

// idsByTerm returns the ids of documents whose field equals any of values.
func idsByTerm(ctx context.Context, idx bleve.Index, field string, values []string) ([]string, error) {
	var ids []string
	for start := 0; start < len(values); start += maxClauses {
		end := min(start+maxClauses, len(values))

		disjuncts := make([]query.Query, 0, end-start)
		for _, v := range values[start:end] {
			tq := bleve.NewTermQuery(v)
			tq.SetField(field)
			disjuncts = append(disjuncts, tq)
		}
		q := bleve.NewDisjunctionQuery(disjuncts...)

		const page = 1000
		for from := 0; ; from += page {
			req := bleve.NewSearchRequestOptions(q, page, from, false)
			res, err := idx.SearchInContext(ctx, req)
			if err != nil {
				return nil, fmt.Errorf("failed to look up documents by %s: %w", field, err)
			}
			for _, hit := range res.Hits {
				ids = append(ids, hit.ID)
			}
			if len(res.Hits) < page {
				break
			}
		}
	}
	return ids, nil
}
