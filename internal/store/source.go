package store

import (
	"context"
	"errors"

	"github.com/Aman-CERP/issueindex/internal/entity"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Source is the relational storage collaborator the indexes mirror.
// Every method may be expensive; callers batch accordingly and never ask
// for the whole corpus at once.
type Source interface {
	// ListProjects returns all projects ordered by id.
	ListProjects(ctx context.Context) ([]*entity.Project, error)

	// IssuesByProject streams the issues of one project ordered by id.
	IssuesByProject(ctx context.Context, projectID int64) (IssueCursor, error)

	// MaxIssueID returns the largest issue id that is <= atMost.
	// ok is false when no such issue exists.
	MaxIssueID(ctx context.Context, atMost int64) (id int64, ok bool, err error)

	// IssuesUpTo returns at most limit issues with id <= maxID, highest first.
	IssuesUpTo(ctx context.Context, maxID int64, limit int) ([]*entity.Issue, error)

	GetIssue(ctx context.Context, id int64) (*entity.Issue, error)
	GetComment(ctx context.Context, id int64) (*entity.Comment, error)
	GetProject(ctx context.Context, id int64) (*entity.Project, error)

	CommentsForIssue(ctx context.Context, issueID int64) ([]*entity.Comment, error)
	ChangeGroupsForIssue(ctx context.Context, issueID int64) ([]*entity.ChangeGroup, error)

	CountIssues(ctx context.Context) (int64, error)
	CountComments(ctx context.Context) (int64, error)

	Close() error
}

// IssueCursor iterates over a result set without materializing it.
type IssueCursor interface {
	Next() bool
	Issue() *entity.Issue
	Err() error
	Close() error
}

// Collect drains cur into a slice and closes it.
func Collect(cur IssueCursor) ([]*entity.Issue, error) {
	defer func() { _ = cur.Close() }()

	var out []*entity.Issue
	for cur.Next() {
		out = append(out, cur.Issue())
	}
	return out, cur.Err()
}

// Dataset is a bulk payload for Import, typically read from a fixture file.
type Dataset struct {
	Projects     []*entity.Project     `yaml:"projects" json:"projects"`
	Issues       []*entity.Issue       `yaml:"issues" json:"issues"`
	Comments     []*entity.Comment     `yaml:"comments" json:"comments"`
	ChangeGroups []*entity.ChangeGroup `yaml:"change_groups" json:"change_groups"`
}

// Importer is implemented by stores that accept bulk fixture loads.
type Importer interface {
	Import(ctx context.Context, ds *Dataset) error
}
