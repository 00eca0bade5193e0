// Package storetest provides seeded in-memory stores for tests.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/issueindex/internal/entity"
	"github.com/Aman-CERP/issueindex/internal/store"
)

// Epoch is the creation time of the first fixture issue.
var Epoch = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

// NewSQLite opens an in-memory SQLite store seeded with ds and closes it
// when the test ends.
func NewSQLite(t testing.TB, ds *store.Dataset) *store.SQLiteStore {
	t.Helper()

	s, err := store.OpenSQLite("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	if ds != nil {
		require.NoError(t, s.Import(context.Background(), ds))
	}
	return s
}

// Issue returns a fixture issue with predictable text.
func Issue(id int64, project *entity.Project) *entity.Issue {
	created := Epoch.Add(time.Duration(id) * time.Hour)
	return &entity.Issue{
		ID:         id,
		Key:        fmt.Sprintf("%s-%d", project.Key, id),
		ProjectID:  project.ID,
		ProjectKey: project.Key,
		Summary:    fmt.Sprintf("Issue %d summary", id),
		Type:       "Bug",
		Status:     "Open",
		Reporter:   "reporter",
		Created:    created,
		Updated:    created,
	}
}

// Projects builds a dataset with one project per entry of counts, each
// holding counts[i] issues. Issue ids are contiguous from 1 and every issue
// gets one comment and one change group.
func Projects(counts ...int) *store.Dataset {
	ds := &store.Dataset{}
	var next int64 = 1
	for i, n := range counts {
		p := &entity.Project{
			ID:   int64(i + 1),
			Key:  fmt.Sprintf("P%d", i+1),
			Name: fmt.Sprintf("Project %d", i+1),
		}
		ds.Projects = append(ds.Projects, p)

		for j := 0; j < n; j++ {
			is := Issue(next, p)
			ds.Issues = append(ds.Issues, is)
			ds.Comments = append(ds.Comments, &entity.Comment{
				ID:      next * 10,
				IssueID: next,
				Author:  "commenter",
				Body:    fmt.Sprintf("comment on issue %d", next),
				Created: is.Created,
				Updated: is.Created,
			})
			ds.ChangeGroups = append(ds.ChangeGroups, &entity.ChangeGroup{
				ID:      next * 100,
				IssueID: next,
				Author:  "editor",
				Created: is.Created.Add(time.Minute),
				Items: []entity.ChangeItem{
					{Field: "status", From: "1", FromString: "Open", To: "3", ToString: "In Progress"},
				},
			})
			next++
		}
	}
	return ds
}

// IDs builds a single-project dataset whose issues carry exactly ids.
// Used to model sparse id spaces.
func IDs(ids ...int64) *store.Dataset {
	p := &entity.Project{ID: 1, Key: "P1", Name: "Project 1"}
	ds := &store.Dataset{Projects: []*entity.Project{p}}
	for _, id := range ids {
		ds.Issues = append(ds.Issues, Issue(id, p))
	}
	return ds
}
