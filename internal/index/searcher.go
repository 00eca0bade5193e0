package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/collector"
	"github.com/blevesearch/bleve/v2/search/query"
	bindex "github.com/blevesearch/bleve_index_api"

	ierrors "github.com/Aman-CERP/issueindex/internal/errors"
)

// Hit is one search result.
type Hit struct {
	ID    string
	Score float64
}

// ErrSearcherClosed is returned by reads on a closed Searcher.
var ErrSearcherClosed = ierrors.New(ierrors.ErrCodeSearcherClosed, "searcher is closed", nil)

// Searcher reads one immutable snapshot of an index. Writes committed
// after it was opened are not visible. Close releases the snapshot; it
// waits for reads in flight, and later reads fail with ErrSearcherClosed.
type Searcher struct {
	kind    Kind
	reader  bindex.IndexReader
	mapping mapping.IndexMapping

	mu       sync.Mutex
	idle     *sync.Cond
	active   int
	closed   bool
	released bool
	closeErr error
}

func newSearcher(kind Kind, reader bindex.IndexReader, m mapping.IndexMapping) *Searcher {
	s := &Searcher{kind: kind, reader: reader, mapping: m}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// acquire holds the snapshot open for one read. Reads may nest.
func (s *Searcher) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSearcherClosed
	}
	s.active++
	return nil
}

func (s *Searcher) release() {
	s.mu.Lock()
	s.active--
	if s.active == 0 {
		s.idle.Broadcast()
	}
	s.mu.Unlock()
}

// OpenIssueSearcher opens a searcher on the latest issue snapshot.
func (ix *IssueIndexer) OpenIssueSearcher() (*Searcher, error) {
	return ix.OpenSearcher(KindIssue)
}

// OpenCommentSearcher opens a searcher on the latest comment snapshot.
func (ix *IssueIndexer) OpenCommentSearcher() (*Searcher, error) {
	return ix.OpenSearcher(KindComment)
}

// OpenChangeHistorySearcher opens a searcher on the latest change-history
// snapshot.
func (ix *IssueIndexer) OpenChangeHistorySearcher() (*Searcher, error) {
	return ix.OpenSearcher(KindChangeHistory)
}

// OpenSearcher opens a searcher for kind. The caller must close it.
func (ix *IssueIndexer) OpenSearcher(kind Kind) (*Searcher, error) {
	if err := ix.check(); err != nil {
		return nil, err
	}
	h, ok := ix.handles[kind]
	if !ok {
		return nil, ierrors.ValidationError(fmt.Sprintf("unknown index kind %q", kind), nil)
	}

	idx, err := h.index()
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeIndexOpen, fmt.Sprintf("failed to open %s index", kind), err)
	}
	adv, err := idx.Advanced()
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeIndexOpen, fmt.Sprintf("failed to access %s index", kind), err)
	}
	reader, err := adv.Reader()
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeIndexOpen, fmt.Sprintf("failed to open %s reader", kind), err)
	}
	return newSearcher(kind, reader, ix.mapping), nil
}

// Kind reports which index the searcher reads.
func (s *Searcher) Kind() Kind {
	return s.kind
}

// Search runs q against the snapshot and returns up to size hits ordered
// by descending score.
func (s *Searcher) Search(ctx context.Context, q query.Query, size int) ([]Hit, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	if size <= 0 {
		return []Hit{}, nil
	}

	searcher, err := q.Searcher(ctx, s.reader, s.mapping, search.SearcherOptions{})
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeInvalidQuery, "failed to prepare query", err)
	}
	defer func() { _ = searcher.Close() }()

	coll := collector.NewTopNCollector(size, 0, search.SortOrder{&search.SortScore{Desc: true}})
	if err := coll.Collect(ctx, searcher, s.reader); err != nil {
		return nil, ierrors.New(ierrors.ErrCodeSearchFailed, fmt.Sprintf("search of %s index failed", s.kind), err)
	}

	matches := coll.Results()
	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, Hit{ID: m.ID, Score: m.Score})
	}
	return hits, nil
}

// Match searches field for text, analyzed with the field's analyzer.
func (s *Searcher) Match(ctx context.Context, field, text string, size int) ([]Hit, error) {
	q := bleve.NewMatchQuery(text)
	q.SetField(field)
	return s.Search(ctx, q, size)
}

// Term searches field for an exact term.
func (s *Searcher) Term(ctx context.Context, field, term string, size int) ([]Hit, error) {
	q := bleve.NewTermQuery(term)
	q.SetField(field)
	return s.Search(ctx, q, size)
}

// DocCount returns the number of live documents in the snapshot.
func (s *Searcher) DocCount() (uint64, error) {
	if err := s.acquire(); err != nil {
		return 0, err
	}
	defer s.release()
	n, err := s.reader.DocCount()
	if err != nil {
		return 0, fmt.Errorf("failed to count %s documents: %w", s.kind, err)
	}
	return n, nil
}

// Document returns the stored fields of id, or nil when it is absent.
func (s *Searcher) Document(id string) (map[string][]string, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	doc, err := s.reader.Document(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", id, err)
	}
	if doc == nil {
		return nil, nil
	}

	out := map[string][]string{}
	doc.VisitFields(func(f bindex.Field) {
		if f.Name() == "_id" {
			return
		}
		out[f.Name()] = append(out[f.Name()], string(f.Value()))
	})
	return out, nil
}

// AllIDs calls fn with the id of every document in the snapshot. It stops
// at the first error returned by fn.
func (s *Searcher) AllIDs(ctx context.Context, fn func(id string) error) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()
	it, err := s.reader.DocIDReaderAll()
	if err != nil {
		return fmt.Errorf("failed to iterate %s documents: %w", s.kind, err)
	}
	defer func() { _ = it.Close() }()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		internal, err := it.Next()
		if err != nil {
			return fmt.Errorf("failed to iterate %s documents: %w", s.kind, err)
		}
		if internal == nil {
			return nil
		}
		id, err := s.reader.ExternalID(internal)
		if err != nil {
			return fmt.Errorf("failed to resolve document id: %w", err)
		}
		if err := fn(id); err != nil {
			return err
		}
	}
}

// Close releases the snapshot once reads in flight finish. It must not be
// called from inside an AllIDs callback. Later calls return the first
// result.
func (s *Searcher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		for !s.released {
			s.idle.Wait()
		}
		return s.closeErr
	}
	s.closed = true
	for s.active > 0 {
		s.idle.Wait()
	}
	s.closeErr = s.reader.Close()
	s.released = true
	s.idle.Broadcast()
	return s.closeErr
}
