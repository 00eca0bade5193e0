// Package mongostore implements store.Source on MongoDB.
//
// Each entity kind lives in its own collection keyed by the entity id.
// Issues carry no project key; the retriever resolves it.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Aman-CERP/issueindex/internal/entity"
	ierrors "github.com/Aman-CERP/issueindex/internal/errors"
	"github.com/Aman-CERP/issueindex/internal/store"
)

// Collection names.
const (
	ProjectsCollection     = "projects"
	IssuesCollection       = "issues"
	CommentsCollection     = "comments"
	ChangeGroupsCollection = "change_groups"
)

// Store is a MongoDB-backed store.Source. Every round trip goes through
// a circuit breaker, so a rebuild against an unreachable server fails
// fast instead of waiting out each call.
type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	breaker *ierrors.CircuitBreaker
}

var (
	_ store.Source   = (*Store)(nil)
	_ store.Importer = (*Store)(nil)
)

// Open connects to uri, verifies the connection and ensures indexes.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	// A replica set may still be electing a primary right after startup.
	ping := func() error { return client.Ping(ctx, nil) }
	if err := ierrors.Retry(ctx, ierrors.DefaultRetryConfig(), ping); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	s := New(client, client.Database(database))
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle. client may be nil when the
// caller owns the connection.
func New(client *mongo.Client, db *mongo.Database) *Store {
	return &Store{
		client:  client,
		db:      db,
		breaker: ierrors.NewCircuitBreaker("mongodb", ierrors.WithTrips(isOutage)),
	}
}

// isOutage reports whether err says something about the server rather
// than the request.
func isOutage(err error) bool {
	return !errors.Is(err, store.ErrNotFound) &&
		!errors.Is(err, mongo.ErrNoDocuments) &&
		!errors.Is(err, context.Canceled)
}

func guard[T any](s *Store, fn func() (T, error)) (T, error) {
	return ierrors.CircuitExecute(s.breaker, fn)
}

func (s *Store) do(fn func() error) error {
	return s.breaker.Execute(fn)
}

// EnsureIndexes creates the secondary indexes the batchers and the
// retriever query by.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	byIssue := mongo.IndexModel{Keys: bson.D{{Key: "issue_id", Value: 1}, {Key: "_id", Value: 1}}}

	if _, err := s.db.Collection(IssuesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "_id", Value: 1}},
	}); err != nil {
		return fmt.Errorf("failed to create issue index: %w", err)
	}
	if _, err := s.db.Collection(CommentsCollection).Indexes().CreateOne(ctx, byIssue); err != nil {
		return fmt.Errorf("failed to create comment index: %w", err)
	}
	if _, err := s.db.Collection(ChangeGroupsCollection).Indexes().CreateOne(ctx, byIssue); err != nil {
		return fmt.Errorf("failed to create change group index: %w", err)
	}
	return nil
}

// ListProjects implements store.Source.
func (s *Store) ListProjects(ctx context.Context) ([]*entity.Project, error) {
	return guard(s, func() ([]*entity.Project, error) {
		cur, err := s.db.Collection(ProjectsCollection).Find(ctx, bson.M{},
			options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
		if err != nil {
			return nil, fmt.Errorf("failed to list projects: %w", err)
		}

		var out []*entity.Project
		if err := cur.All(ctx, &out); err != nil {
			return nil, fmt.Errorf("failed to decode projects: %w", err)
		}
		return out, nil
	})
}

// GetProject implements store.Source.
func (s *Store) GetProject(ctx context.Context, id int64) (*entity.Project, error) {
	var p entity.Project
	if err := s.findOne(ctx, ProjectsCollection, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// IssuesByProject implements store.Source.
func (s *Store) IssuesByProject(ctx context.Context, projectID int64) (store.IssueCursor, error) {
	return guard(s, func() (store.IssueCursor, error) {
		cur, err := s.db.Collection(IssuesCollection).Find(ctx, bson.M{"project_id": projectID},
			options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
		if err != nil {
			return nil, fmt.Errorf("failed to query issues of project %d: %w", projectID, err)
		}
		return &cursor{ctx: ctx, cur: cur}, nil
	})
}

// MaxIssueID implements store.Source.
func (s *Store) MaxIssueID(ctx context.Context, atMost int64) (int64, bool, error) {
	var doc struct {
		ID int64 `bson:"_id"`
	}
	err := s.do(func() error {
		return s.db.Collection(IssuesCollection).FindOne(ctx,
			bson.M{"_id": bson.M{"$lte": atMost}},
			options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}}).SetProjection(bson.M{"_id": 1}),
		).Decode(&doc)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query max issue id: %w", err)
	}
	return doc.ID, true, nil
}

// IssuesUpTo implements store.Source.
func (s *Store) IssuesUpTo(ctx context.Context, maxID int64, limit int) ([]*entity.Issue, error) {
	return guard(s, func() ([]*entity.Issue, error) {
		cur, err := s.db.Collection(IssuesCollection).Find(ctx,
			bson.M{"_id": bson.M{"$lte": maxID}},
			options.Find().SetSort(bson.D{{Key: "_id", Value: -1}}).SetLimit(int64(limit)))
		if err != nil {
			return nil, fmt.Errorf("failed to query issues up to %d: %w", maxID, err)
		}

		var out []*entity.Issue
		if err := cur.All(ctx, &out); err != nil {
			return nil, fmt.Errorf("failed to decode issues: %w", err)
		}
		return out, nil
	})
}

// GetIssue implements store.Source.
func (s *Store) GetIssue(ctx context.Context, id int64) (*entity.Issue, error) {
	var is entity.Issue
	if err := s.findOne(ctx, IssuesCollection, id, &is); err != nil {
		return nil, err
	}
	return &is, nil
}

// GetComment implements store.Source.
func (s *Store) GetComment(ctx context.Context, id int64) (*entity.Comment, error) {
	var c entity.Comment
	if err := s.findOne(ctx, CommentsCollection, id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// CommentsForIssue implements store.Source.
func (s *Store) CommentsForIssue(ctx context.Context, issueID int64) ([]*entity.Comment, error) {
	var out []*entity.Comment
	if err := s.findByIssue(ctx, CommentsCollection, issueID, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ChangeGroupsForIssue implements store.Source.
func (s *Store) ChangeGroupsForIssue(ctx context.Context, issueID int64) ([]*entity.ChangeGroup, error) {
	var out []*entity.ChangeGroup
	if err := s.findByIssue(ctx, ChangeGroupsCollection, issueID, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CountIssues implements store.Source.
func (s *Store) CountIssues(ctx context.Context) (int64, error) {
	n, err := guard(s, func() (int64, error) {
		return s.db.Collection(IssuesCollection).CountDocuments(ctx, bson.M{})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count issues: %w", err)
	}
	return n, nil
}

// CountComments implements store.Source.
func (s *Store) CountComments(ctx context.Context) (int64, error) {
	n, err := guard(s, func() (int64, error) {
		return s.db.Collection(CommentsCollection).CountDocuments(ctx, bson.M{})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count comments: %w", err)
	}
	return n, nil
}

// Import upserts every record of ds.
func (s *Store) Import(ctx context.Context, ds *store.Dataset) error {
	for _, p := range ds.Projects {
		if err := s.upsert(ctx, ProjectsCollection, p.ID, p); err != nil {
			return err
		}
	}
	for _, is := range ds.Issues {
		if err := s.upsert(ctx, IssuesCollection, is.ID, is); err != nil {
			return err
		}
	}
	for _, c := range ds.Comments {
		if err := s.upsert(ctx, CommentsCollection, c.ID, c); err != nil {
			return err
		}
	}
	for _, g := range ds.ChangeGroups {
		if err := s.upsert(ctx, ChangeGroupsCollection, g.ID, g); err != nil {
			return err
		}
	}
	return nil
}

// DeleteIssue removes an issue with its comments and change history.
func (s *Store) DeleteIssue(ctx context.Context, id int64) error {
	return s.do(func() error {
		if _, err := s.db.Collection(CommentsCollection).DeleteMany(ctx, bson.M{"issue_id": id}); err != nil {
			return fmt.Errorf("failed to delete comments of issue %d: %w", id, err)
		}
		if _, err := s.db.Collection(ChangeGroupsCollection).DeleteMany(ctx, bson.M{"issue_id": id}); err != nil {
			return fmt.Errorf("failed to delete change history of issue %d: %w", id, err)
		}
		if _, err := s.db.Collection(IssuesCollection).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
			return fmt.Errorf("failed to delete issue %d: %w", id, err)
		}
		return nil
	})
}

// Close disconnects the client if this store owns it.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

func (s *Store) findOne(ctx context.Context, collection string, id int64, out any) error {
	return s.do(func() error {
		err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(out)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get %s %d: %w", collection, id, err)
		}
		return nil
	})
}

func (s *Store) findByIssue(ctx context.Context, collection string, issueID int64, out any) error {
	return s.do(func() error {
		cur, err := s.db.Collection(collection).Find(ctx, bson.M{"issue_id": issueID},
			options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
		if err != nil {
			return fmt.Errorf("failed to query %s of issue %d: %w", collection, issueID, err)
		}
		if err := cur.All(ctx, out); err != nil {
			return fmt.Errorf("failed to decode %s: %w", collection, err)
		}
		return nil
	})
}

func (s *Store) upsert(ctx context.Context, collection string, id int64, doc any) error {
	err := s.do(func() error {
		_, err := s.db.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, doc,
			options.Replace().SetUpsert(true))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %s %d: %w", collection, id, err)
	}
	return nil
}

type cursor struct {
	ctx     context.Context
	cur     *mongo.Cursor
	current *entity.Issue
	err     error
}

func (c *cursor) Next() bool {
	if c.err != nil || !c.cur.Next(c.ctx) {
		return false
	}
	var is entity.Issue
	if err := c.cur.Decode(&is); err != nil {
		c.err = fmt.Errorf("failed to decode issue: %w", err)
		return false
	}
	c.current = &is
	return true
}

func (c *cursor) Issue() *entity.Issue { return c.current }

func (c *cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.cur.Err()
}

func (c *cursor) Close() error { return c.cur.Close(c.ctx) }
