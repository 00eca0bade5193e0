package manager

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/Aman-CERP/issueindex/internal/batch"
	"github.com/Aman-CERP/issueindex/internal/document"
	"github.com/Aman-CERP/issueindex/internal/index"
	"github.com/Aman-CERP/issueindex/internal/store"
)

// commentTolerance is the fraction by which the comment index may differ
// from the store. Comments with empty bodies have no document.
const commentTolerance = 0.1

// IsIndexConsistent compares document counts with the store. The issue
// index must match the store exactly, the comment index must be within
// commentTolerance, and the change-history index must open. Any error is
// logged and reported as inconsistent.
func (m *Manager) IsIndexConsistent(ctx context.Context) (bool, error) {
	if !m.IsEnabled() {
		return false, nil
	}

	issues, err := m.source.CountIssues(ctx)
	if err != nil {
		return false, err
	}
	comments, err := m.source.CountComments(ctx)
	if err != nil {
		return false, err
	}

	checks := []struct {
		kind     index.Kind
		expected int64
		within   func(expected, actual int64) bool
	}{
		{index.KindIssue, issues, func(e, a int64) bool { return e == a }},
		{index.KindComment, comments, func(e, a int64) bool {
			slack := int64(float64(e) * commentTolerance)
			return a >= e-slack && a <= e
		}},
		{index.KindChangeHistory, -1, nil},
	}

	for _, c := range checks {
		s, err := m.indexer.OpenSearcher(c.kind)
		if err != nil {
			slog.Warn("consistency_check_failed",
				slog.String("kind", string(c.kind)),
				slog.String("error", err.Error()))
			return false, nil
		}
		n, err := s.DocCount()
		_ = s.Close()
		if err != nil {
			slog.Warn("consistency_check_failed",
				slog.String("kind", string(c.kind)),
				slog.String("error", err.Error()))
			return false, nil
		}
		if c.within != nil && !c.within(c.expected, int64(n)) {
			slog.Info("index_inconsistent",
				slog.String("kind", string(c.kind)),
				slog.Int64("expected", c.expected),
				slog.Uint64("actual", n))
			return false, nil
		}
	}
	return true, nil
}

// InconsistencyType categorizes detected problems.
type InconsistencyType int

const (
	// InconsistencyMissingIssue is a store issue without an issue document.
	InconsistencyMissingIssue InconsistencyType = iota
	// InconsistencyOrphanIssue is an issue document without a store issue.
	InconsistencyOrphanIssue
	// InconsistencyOrphanComment is a comment document whose issue is gone.
	InconsistencyOrphanComment
	// InconsistencyOrphanChange is a change document whose issue is gone.
	InconsistencyOrphanChange
)

func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyMissingIssue:
		return "missing_issue"
	case InconsistencyOrphanIssue:
		return "orphan_issue"
	case InconsistencyOrphanComment:
		return "orphan_comment"
	case InconsistencyOrphanChange:
		return "orphan_change"
	default:
		return "unknown"
	}
}

// Inconsistency is one detected problem.
type Inconsistency struct {
	Type InconsistencyType
	ID   string
}

// CheckResult is the outcome of a consistency check.
type CheckResult struct {
	// Checked is the number of store issues verified.
	Checked         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// Consistent reports whether the check found nothing.
func (r *CheckResult) Consistent() bool {
	return len(r.Inconsistencies) == 0
}

// ConsistencyChecker cross-checks the indexes against the store document
// by document. It is O(n) in the size of the store and the indexes.
type ConsistencyChecker struct {
	source    store.Source
	indexer   *index.IssueIndexer
	batchSize int
}

// NewConsistencyChecker creates a checker.
func NewConsistencyChecker(source store.Source, indexer *index.IssueIndexer) *ConsistencyChecker {
	return &ConsistencyChecker{source: source, indexer: indexer, batchSize: 1000}
}

// Check walks the store and every index.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	res := &CheckResult{}

	inStore := roaring64.New()
	b, err := batch.NewIDRangeBatcher(c.source, c.batchSize, nil)
	if err != nil {
		return nil, err
	}
	it := b.Iterator(ctx)
	for it.Next() {
		for _, is := range it.Batch().Issues {
			inStore.Add(uint64(is.ID))
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	res.Checked = int(inStore.GetCardinality())

	issues, err := c.indexer.OpenIssueSearcher()
	if err != nil {
		return nil, err
	}
	defer func() { _ = issues.Close() }()

	indexed := roaring64.New()
	err = issues.AllIDs(ctx, func(id string) error {
		n, ok := parseID(id)
		if !ok || !inStore.Contains(n) {
			res.Inconsistencies = append(res.Inconsistencies, Inconsistency{Type: InconsistencyOrphanIssue, ID: id})
			return nil
		}
		indexed.Add(n)
		return nil
	})
	if err != nil {
		return nil, err
	}

	missing := inStore.Clone()
	missing.AndNot(indexed)
	for _, n := range missing.ToArray() {
		res.Inconsistencies = append(res.Inconsistencies, Inconsistency{
			Type: InconsistencyMissingIssue,
			ID:   strconv.FormatUint(n, 10),
		})
	}

	children := []struct {
		kind index.Kind
		typ  InconsistencyType
	}{
		{index.KindComment, InconsistencyOrphanComment},
		{index.KindChangeHistory, InconsistencyOrphanChange},
	}
	for _, ch := range children {
		s, err := c.indexer.OpenSearcher(ch.kind)
		if err != nil {
			return nil, err
		}
		err = s.AllIDs(ctx, func(id string) error {
			doc, err := s.Document(id)
			if err != nil {
				return err
			}
			for _, v := range doc[document.FieldIssueID] {
				if n, ok := parseID(v); !ok || !inStore.Contains(n) {
					res.Inconsistencies = append(res.Inconsistencies, Inconsistency{Type: ch.typ, ID: id})
					break
				}
			}
			return nil
		})
		_ = s.Close()
		if err != nil {
			return nil, err
		}
	}

	res.Duration = time.Since(start)
	slog.Debug("consistency_check_complete",
		slog.Int("checked", res.Checked),
		slog.Int("inconsistencies", len(res.Inconsistencies)),
		slog.Duration("duration", res.Duration))
	return res, nil
}

func parseID(s string) (uint64, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	return n, err == nil
}
