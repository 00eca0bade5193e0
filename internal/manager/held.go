package manager

import (
	"context"
	"sync"

	"github.com/Aman-CERP/issueindex/internal/entity"
)

// HeldQueue collects reindex requests and applies them once on Release.
// Requests for the same issue are coalesced; the latest version wins.
type HeldQueue struct {
	m *Manager

	mu       sync.Mutex
	order    []int64
	issues   map[int64]*entity.Issue
	released bool
}

// Hold starts collecting reindex requests instead of applying them.
func (m *Manager) Hold() *HeldQueue {
	return &HeldQueue{m: m, issues: make(map[int64]*entity.Issue)}
}

// Add queues issues. After Release it reindexes them immediately.
func (q *HeldQueue) Add(ctx context.Context, issues ...*entity.Issue) (int, error) {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return q.m.ReindexIssues(ctx, issues)
	}
	defer q.mu.Unlock()

	for _, is := range issues {
		if is == nil {
			continue
		}
		if _, ok := q.issues[is.ID]; !ok {
			q.order = append(q.order, is.ID)
		}
		q.issues[is.ID] = is
	}
	return 0, nil
}

// Len returns the number of distinct issues waiting.
func (q *HeldQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Release reindexes every queued issue in one call. Later calls return 0.
func (q *HeldQueue) Release(ctx context.Context) (int, error) {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return 0, nil
	}
	q.released = true
	pending := make([]*entity.Issue, 0, len(q.order))
	for _, id := range q.order {
		pending = append(pending, q.issues[id])
	}
	q.order, q.issues = nil, nil
	q.mu.Unlock()

	if len(pending) == 0 {
		return 0, nil
	}
	return q.m.ReindexIssues(ctx, pending)
}
