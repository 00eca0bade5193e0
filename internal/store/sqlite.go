package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // cgo driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // pure Go driver, registered as "sqlite"

	"github.com/Aman-CERP/issueindex/internal/entity"
)

// SQLiteStore is the SQLite-backed Source. It also exposes the write
// operations used by fixture import and tests.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ Source = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the store at path using driver
// "sqlite" (modernc, pure Go) or "sqlite3" (mattn, cgo). An empty path or
// ":memory:" opens an in-memory database.
func OpenSQLite(driver, path string) (*SQLiteStore, error) {
	if driver == "" {
		driver = "sqlite"
	}

	dsn := ":memory:"
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		dsn = path
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: a second one would see a different :memory: database
	// and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	if dsn != ":memory:" {
		pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS projects (
		id   INTEGER PRIMARY KEY,
		key  TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		lead TEXT
	);

	CREATE TABLE IF NOT EXISTS issues (
		id              INTEGER PRIMARY KEY,
		key             TEXT NOT NULL,
		project_id      INTEGER NOT NULL,
		parent_id       INTEGER,
		summary         TEXT,
		description     TEXT,
		environment     TEXT,
		type            TEXT,
		status          TEXT,
		priority        TEXT,
		resolution      TEXT,
		assignee        TEXT,
		reporter        TEXT,
		labels          TEXT,
		created         INTEGER,
		updated         INTEGER,
		due_date        INTEGER,
		resolution_date INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_issues_project ON issues(project_id, id);

	CREATE TABLE IF NOT EXISTS comments (
		id       INTEGER PRIMARY KEY,
		issue_id INTEGER NOT NULL,
		author   TEXT,
		body     TEXT,
		level    TEXT,
		created  INTEGER,
		updated  INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_comments_issue ON comments(issue_id);

	CREATE TABLE IF NOT EXISTS change_groups (
		id       INTEGER PRIMARY KEY,
		issue_id INTEGER NOT NULL,
		author   TEXT,
		created  INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_change_groups_issue ON change_groups(issue_id);

	CREATE TABLE IF NOT EXISTS change_items (
		group_id    INTEGER NOT NULL REFERENCES change_groups(id) ON DELETE CASCADE,
		seq         INTEGER NOT NULL,
		field       TEXT NOT NULL,
		from_value  TEXT,
		from_string TEXT,
		to_value    TEXT,
		to_string   TEXT,
		PRIMARY KEY (group_id, seq)
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

const issueColumns = `i.id, i.key, i.project_id, COALESCE(p.key, ''), i.parent_id,
	i.summary, i.description, i.environment, i.type, i.status, i.priority,
	i.resolution, i.assignee, i.reporter, i.labels,
	i.created, i.updated, i.due_date, i.resolution_date`

const issueFrom = ` FROM issues i LEFT JOIN projects p ON p.id = i.project_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(r rowScanner) (*entity.Issue, error) {
	var (
		is                                  entity.Issue
		parent                              sql.NullInt64
		summary, description, environment   sql.NullString
		typ, status, priority, resolution   sql.NullString
		assignee, reporter, labels          sql.NullString
		created, updated, due, resolutionAt sql.NullInt64
	)
	err := r.Scan(&is.ID, &is.Key, &is.ProjectID, &is.ProjectKey, &parent,
		&summary, &description, &environment, &typ, &status, &priority,
		&resolution, &assignee, &reporter, &labels,
		&created, &updated, &due, &resolutionAt)
	if err != nil {
		return nil, err
	}

	is.ParentID = parent.Int64
	is.Summary = summary.String
	is.Description = description.String
	is.Environment = environment.String
	is.Type = typ.String
	is.Status = status.String
	is.Priority = priority.String
	is.Resolution = resolution.String
	is.Assignee = assignee.String
	is.Reporter = reporter.String
	if labels.String != "" {
		if err := json.Unmarshal([]byte(labels.String), &is.Labels); err != nil {
			return nil, fmt.Errorf("failed to decode labels of issue %d: %w", is.ID, err)
		}
	}
	is.Created = fromMillis(created)
	is.Updated = fromMillis(updated)
	is.DueDate = fromMillisPtr(due)
	is.ResolutionDate = fromMillisPtr(resolutionAt)
	return &is, nil
}

func (s *SQLiteStore) checkOpen() error {
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// ListProjects implements Source.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*entity.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, key, name, COALESCE(lead, '') FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []*entity.Project
	for rows.Next() {
		var p entity.Project
		if err := rows.Scan(&p.ID, &p.Key, &p.Name, &p.Lead); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// GetProject implements Source.
func (s *SQLiteStore) GetProject(ctx context.Context, id int64) (*entity.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var p entity.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, key, name, COALESCE(lead, '') FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Key, &p.Name, &p.Lead)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project %d: %w", id, err)
	}
	return &p, nil
}

// IssuesByProject implements Source. The cursor holds the store's only
// connection until it is closed.
func (s *SQLiteStore) IssuesByProject(ctx context.Context, projectID int64) (IssueCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+issueColumns+issueFrom+` WHERE i.project_id = ? ORDER BY i.id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues of project %d: %w", projectID, err)
	}
	return &sqlCursor{rows: rows}, nil
}

// MaxIssueID implements Source.
func (s *SQLiteStore) MaxIssueID(ctx context.Context, atMost int64) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, false, err
	}

	var id sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM issues WHERE id <= ?`, atMost).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("failed to query max issue id: %w", err)
	}
	return id.Int64, id.Valid, nil
}

// IssuesUpTo implements Source.
func (s *SQLiteStore) IssuesUpTo(ctx context.Context, maxID int64, limit int) ([]*entity.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+issueColumns+issueFrom+` WHERE i.id <= ? ORDER BY i.id DESC LIMIT ?`, maxID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues up to %d: %w", maxID, err)
	}
	return Collect(&sqlCursor{rows: rows})
}

// GetIssue implements Source.
func (s *SQLiteStore) GetIssue(ctx context.Context, id int64) (*entity.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	is, err := scanIssue(s.db.QueryRowContext(ctx, `SELECT `+issueColumns+issueFrom+` WHERE i.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue %d: %w", id, err)
	}
	return is, nil
}

func scanComment(r rowScanner) (*entity.Comment, error) {
	var (
		c                   entity.Comment
		author, body, level sql.NullString
		created, updated    sql.NullInt64
	)
	if err := r.Scan(&c.ID, &c.IssueID, &author, &body, &level, &created, &updated); err != nil {
		return nil, err
	}
	c.Author = author.String
	c.Body = body.String
	c.Level = level.String
	c.Created = fromMillis(created)
	c.Updated = fromMillis(updated)
	return &c, nil
}

// GetComment implements Source.
func (s *SQLiteStore) GetComment(ctx context.Context, id int64) (*entity.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	c, err := scanComment(s.db.QueryRowContext(ctx,
		`SELECT id, issue_id, author, body, level, created, updated FROM comments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get comment %d: %w", id, err)
	}
	return c, nil
}

// CommentsForIssue implements Source.
func (s *SQLiteStore) CommentsForIssue(ctx context.Context, issueID int64) ([]*entity.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, issue_id, author, body, level, created, updated
		 FROM comments WHERE issue_id = ? ORDER BY id`, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments of issue %d: %w", issueID, err)
	}
	defer rows.Close()

	var out []*entity.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ChangeGroupsForIssue implements Source. Items are loaded with a single
// join and keep their recorded order.
func (s *SQLiteStore) ChangeGroupsForIssue(ctx context.Context, issueID int64) ([]*entity.ChangeGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.issue_id, g.author, g.created,
		       ci.field, ci.from_value, ci.from_string, ci.to_value, ci.to_string
		FROM change_groups g
		LEFT JOIN change_items ci ON ci.group_id = g.id
		WHERE g.issue_id = ?
		ORDER BY g.id, ci.seq`, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to query change groups of issue %d: %w", issueID, err)
	}
	defer rows.Close()

	var (
		out     []*entity.ChangeGroup
		current *entity.ChangeGroup
	)
	for rows.Next() {
		var (
			id, gIssue                      int64
			author                          sql.NullString
			created                         sql.NullInt64
			field, from, fromStr, to, toStr sql.NullString
		)
		if err := rows.Scan(&id, &gIssue, &author, &created, &field, &from, &fromStr, &to, &toStr); err != nil {
			return nil, fmt.Errorf("failed to scan change group: %w", err)
		}
		if current == nil || current.ID != id {
			current = &entity.ChangeGroup{
				ID:      id,
				IssueID: gIssue,
				Author:  author.String,
				Created: fromMillis(created),
			}
			out = append(out, current)
		}
		if field.Valid {
			current.Items = append(current.Items, entity.ChangeItem{
				Field:      field.String,
				From:       from.String,
				FromString: fromStr.String,
				To:         to.String,
				ToString:   toStr.String,
			})
		}
	}
	return out, rows.Err()
}

// CountIssues implements Source.
func (s *SQLiteStore) CountIssues(ctx context.Context) (int64, error) {
	return s.count(ctx, "issues")
}

// CountComments implements Source.
func (s *SQLiteStore) CountComments(ctx context.Context) (int64, error) {
	return s.count(ctx, "comments")
}

func (s *SQLiteStore) count(ctx context.Context, table string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// SaveProject inserts or replaces a project.
func (s *SQLiteStore) SaveProject(ctx context.Context, p *entity.Project) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return saveProject(ctx, tx, p)
	})
}

// SaveIssue inserts or replaces an issue.
func (s *SQLiteStore) SaveIssue(ctx context.Context, is *entity.Issue) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return saveIssue(ctx, tx, is)
	})
}

// SaveComment inserts or replaces a comment.
func (s *SQLiteStore) SaveComment(ctx context.Context, c *entity.Comment) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return saveComment(ctx, tx, c)
	})
}

// SaveChangeGroup inserts or replaces a change group and all its items.
func (s *SQLiteStore) SaveChangeGroup(ctx context.Context, g *entity.ChangeGroup) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return saveChangeGroup(ctx, tx, g)
	})
}

// DeleteIssue removes an issue with its comments and change history.
func (s *SQLiteStore) DeleteIssue(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmts := []string{
			`DELETE FROM change_items WHERE group_id IN (SELECT id FROM change_groups WHERE issue_id = ?)`,
			`DELETE FROM change_groups WHERE issue_id = ?`,
			`DELETE FROM comments WHERE issue_id = ?`,
			`DELETE FROM issues WHERE id = ?`,
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("failed to delete issue %d: %w", id, err)
			}
		}
		return nil
	})
}

// DeleteComment removes a single comment.
func (s *SQLiteStore) DeleteComment(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete comment %d: %w", id, err)
		}
		return nil
	})
}

// Import writes every record of ds in a single transaction.
func (s *SQLiteStore) Import(ctx context.Context, ds *Dataset) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, p := range ds.Projects {
			if err := saveProject(ctx, tx, p); err != nil {
				return err
			}
		}
		for _, is := range ds.Issues {
			if err := saveIssue(ctx, tx, is); err != nil {
				return err
			}
		}
		for _, c := range ds.Comments {
			if err := saveComment(ctx, tx, c); err != nil {
				return err
			}
		}
		for _, g := range ds.ChangeGroups {
			if err := saveChangeGroup(ctx, tx, g); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func saveProject(ctx context.Context, tx *sql.Tx, p *entity.Project) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projects (id, key, name, lead) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET key = excluded.key, name = excluded.name, lead = excluded.lead`,
		p.ID, p.Key, p.Name, nullString(p.Lead))
	if err != nil {
		return fmt.Errorf("failed to save project %d: %w", p.ID, err)
	}
	return nil
}

func saveIssue(ctx context.Context, tx *sql.Tx, is *entity.Issue) error {
	var labels sql.NullString
	if len(is.Labels) > 0 {
		data, err := json.Marshal(is.Labels)
		if err != nil {
			return fmt.Errorf("failed to encode labels of issue %d: %w", is.ID, err)
		}
		labels = sql.NullString{String: string(data), Valid: true}
	}

	var parent sql.NullInt64
	if is.ParentID != 0 {
		parent = sql.NullInt64{Int64: is.ParentID, Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO issues (
			id, key, project_id, parent_id, summary, description, environment,
			type, status, priority, resolution, assignee, reporter, labels,
			created, updated, due_date, resolution_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		is.ID, is.Key, is.ProjectID, parent, is.Summary, nullString(is.Description), nullString(is.Environment),
		is.Type, is.Status, nullString(is.Priority), nullString(is.Resolution),
		nullString(is.Assignee), nullString(is.Reporter), labels,
		toMillis(is.Created), toMillis(is.Updated), toMillisPtr(is.DueDate), toMillisPtr(is.ResolutionDate))
	if err != nil {
		return fmt.Errorf("failed to save issue %d: %w", is.ID, err)
	}
	return nil
}

func saveComment(ctx context.Context, tx *sql.Tx, c *entity.Comment) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO comments (id, issue_id, author, body, level, created, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.IssueID, nullString(c.Author), nullString(c.Body), nullString(c.Level),
		toMillis(c.Created), toMillis(c.Updated))
	if err != nil {
		return fmt.Errorf("failed to save comment %d: %w", c.ID, err)
	}
	return nil
}

func saveChangeGroup(ctx context.Context, tx *sql.Tx, g *entity.ChangeGroup) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM change_items WHERE group_id = ?`, g.ID); err != nil {
		return fmt.Errorf("failed to clear items of change group %d: %w", g.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO change_groups (id, issue_id, author, created) VALUES (?, ?, ?, ?)`,
		g.ID, g.IssueID, nullString(g.Author), toMillis(g.Created)); err != nil {
		return fmt.Errorf("failed to save change group %d: %w", g.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO change_items (group_id, seq, field, from_value, from_string, to_value, to_string)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare change item statement: %w", err)
	}
	defer stmt.Close()

	for seq, item := range g.Items {
		if _, err := stmt.ExecContext(ctx, g.ID, seq, item.Field,
			nullString(item.From), nullString(item.FromString),
			nullString(item.To), nullString(item.ToString)); err != nil {
			return fmt.Errorf("failed to save change item %d/%d: %w", g.ID, seq, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type sqlCursor struct {
	rows    *sql.Rows
	current *entity.Issue
	err     error
}

func (c *sqlCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	c.current, c.err = scanIssue(c.rows)
	return c.err == nil
}

func (c *sqlCursor) Issue() *entity.Issue { return c.current }

func (c *sqlCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *sqlCursor) Close() error { return c.rows.Close() }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func toMillisPtr(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return toMillis(*t)
}

func fromMillis(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.UnixMilli(n.Int64).UTC()
}

func fromMillisPtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n)
	return &t
}

// DriverName reports the registered driver for a config value, so callers
// can log which engine is in use.
func DriverName(driver string) string {
	switch strings.ToLower(driver) {
	case "sqlite3":
		return "sqlite3 (cgo)"
	default:
		return "sqlite (pure go)"
	}
}
