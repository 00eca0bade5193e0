// Package events turns entity change events into index manager calls.
//
// Events arrive as JSON on NATS subjects below a configurable prefix:
//
//	<prefix>.issue.created|updated|deleted
//	<prefix>.comment.created|updated|deleted
//	<prefix>.reindex.all
//
// A failing event is logged and does not stop the next one.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/issueindex/internal/entity"
	ierrors "github.com/Aman-CERP/issueindex/internal/errors"
	"github.com/Aman-CERP/issueindex/internal/manager"
	"github.com/Aman-CERP/issueindex/internal/store"
)

// Actions carried in the last subject token.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
	ActionAll     = "all"
)

// Event is the payload of every trigger subject.
type Event struct {
	// IssueIDs lists the issues an issue event refers to.
	IssueIDs []int64 `json:"issue_ids,omitempty"`

	// IssueID and CommentID identify a comment event.
	IssueID   int64 `json:"issue_id,omitempty"`
	CommentID int64 `json:"comment_id,omitempty"`

	// Scope, Strategy and Background tune a reindex.all event.
	Scope      string `json:"scope,omitempty"`
	Strategy   string `json:"strategy,omitempty"`
	Background bool   `json:"background,omitempty"`
}

// Manager is the subset of *manager.Manager the coordinator drives.
type Manager interface {
	ReindexIDs(ctx context.Context, ids []int64) (int, error)
	DeindexIDs(ctx context.Context, ids []int64) (int, error)
	ReindexComments(ctx context.Context, comments []*entity.Comment) (int, error)
	ReindexAll(ctx context.Context, opts manager.ReindexOptions) (time.Duration, error)
	ReindexAllBackground(ctx context.Context, opts manager.ReindexOptions) (time.Duration, error)
}

// CommentSource loads comments referenced by comment events.
type CommentSource interface {
	GetComment(ctx context.Context, id int64) (*entity.Comment, error)
}

// Coordinator dispatches events to the manager.
type Coordinator struct {
	prefix   string
	manager  Manager
	comments CommentSource
}

// NewCoordinator creates a coordinator for subjects below prefix.
func NewCoordinator(prefix string, m Manager, comments CommentSource) *Coordinator {
	return &Coordinator{prefix: prefix, manager: m, comments: comments}
}

// Subjects returns the subscriptions the coordinator needs. Each is
// consumed independently so a long reindex does not delay entity events.
func (c *Coordinator) Subjects() []string {
	return []string{
		c.prefix + ".issue.*",
		c.prefix + ".comment.*",
		c.prefix + ".reindex.all",
	}
}

// Handle processes one message and logs its outcome.
func (c *Coordinator) Handle(ctx context.Context, subject string, data []byte) {
	start := time.Now()
	n, err := c.Dispatch(ctx, subject, data)
	if err != nil {
		slog.Warn("event_failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
		return
	}
	slog.Debug("event_handled",
		slog.String("subject", subject),
		slog.Int64("result", n),
		slog.Duration("duration", time.Since(start)))
}

// Dispatch processes one message. It returns the manager's count for
// entity events and the duration sentinel or elapsed nanoseconds for
// reindex events.
func (c *Coordinator) Dispatch(ctx context.Context, subject string, data []byte) (int64, error) {
	entityName, action, err := c.parseSubject(subject)
	if err != nil {
		return 0, err
	}

	var ev Event
	if len(data) > 0 {
		if err := json.Unmarshal(data, &ev); err != nil {
			return 0, ierrors.ValidationError(fmt.Sprintf("malformed event on %s", subject), err)
		}
	}

	switch entityName {
	case "issue":
		return c.issueEvent(ctx, action, ev)
	case "comment":
		return c.commentEvent(ctx, action, ev)
	case "reindex":
		opts := manager.ReindexOptions{Strategy: ev.Strategy, Scope: ev.Scope}
		var d time.Duration
		if ev.Background {
			d, err = c.manager.ReindexAllBackground(ctx, opts)
		} else {
			d, err = c.manager.ReindexAll(ctx, opts)
		}
		if err == nil && d == manager.LockUnavailable {
			slog.Info("reindex_event_skipped", slog.String("reason", "lock unavailable"))
		}
		return int64(d), err
	}
	return 0, ierrors.ValidationError(fmt.Sprintf("unsupported subject %s", subject), nil)
}

func (c *Coordinator) parseSubject(subject string) (string, string, error) {
	rest, ok := strings.CutPrefix(subject, c.prefix+".")
	if !ok {
		return "", "", ierrors.ValidationError(fmt.Sprintf("subject %s is outside prefix %s", subject, c.prefix), nil)
	}
	entityName, action, ok := strings.Cut(rest, ".")
	if !ok {
		return "", "", ierrors.ValidationError(fmt.Sprintf("subject %s has no action", subject), nil)
	}

	switch {
	case entityName == "reindex" && action == ActionAll:
	case (entityName == "issue" || entityName == "comment") &&
		(action == ActionCreated || action == ActionUpdated || action == ActionDeleted):
	default:
		return "", "", ierrors.ValidationError(fmt.Sprintf("unsupported subject %s", subject), nil)
	}
	return entityName, action, nil
}

func (c *Coordinator) issueEvent(ctx context.Context, action string, ev Event) (int64, error) {
	ids := ev.IssueIDs
	if len(ids) == 0 && ev.IssueID != 0 {
		ids = []int64{ev.IssueID}
	}
	if len(ids) == 0 {
		return 0, ierrors.ValidationError("issue event without issue ids", nil)
	}

	var (
		n   int
		err error
	)
	if action == ActionDeleted {
		n, err = c.manager.DeindexIDs(ctx, ids)
	} else {
		n, err = c.manager.ReindexIDs(ctx, ids)
	}
	return int64(n), err
}

func (c *Coordinator) commentEvent(ctx context.Context, action string, ev Event) (int64, error) {
	if ev.CommentID == 0 {
		return 0, ierrors.ValidationError("comment event without comment id", nil)
	}

	// A comment without a body has no document, so reindexing an empty
	// comment removes it.
	comment := &entity.Comment{ID: ev.CommentID, IssueID: ev.IssueID}
	if action != ActionDeleted {
		loaded, err := c.comments.GetComment(ctx, ev.CommentID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return 0, ierrors.StoreError(fmt.Sprintf("failed to load comment %d", ev.CommentID), err)
		default:
			comment = loaded
		}
	}

	n, err := c.manager.ReindexComments(ctx, []*entity.Comment{comment})
	return int64(n), err
}
