// Package entity defines the records mirrored by the search indexes.
//
// The relational store owns these records. The index only ever holds
// documents derived from them, so nothing here carries index state.
package entity

import "time"

// Project is the partition key for project-scoped batching.
type Project struct {
	ID   int64  `json:"id" yaml:"id" bson:"_id"`
	Key  string `json:"key" yaml:"key" bson:"key"`
	Name string `json:"name" yaml:"name" bson:"name"`
	Lead string `json:"lead,omitempty" yaml:"lead,omitempty" bson:"lead,omitempty"`
}

// Issue is the primary indexed entity.
type Issue struct {
	ID         int64  `json:"id" yaml:"id" bson:"_id"`
	Key        string `json:"key" yaml:"key" bson:"key"`
	ProjectID  int64  `json:"project_id" yaml:"project_id" bson:"project_id"`
	ProjectKey string `json:"project_key,omitempty" yaml:"project_key,omitempty" bson:"project_key,omitempty"`

	// ParentID is zero for top-level issues.
	ParentID int64 `json:"parent_id,omitempty" yaml:"parent_id,omitempty" bson:"parent_id,omitempty"`

	Summary     string   `json:"summary" yaml:"summary" bson:"summary"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty" bson:"description,omitempty"`
	Environment string   `json:"environment,omitempty" yaml:"environment,omitempty" bson:"environment,omitempty"`
	Type        string   `json:"type" yaml:"type" bson:"type"`
	Status      string   `json:"status" yaml:"status" bson:"status"`
	Priority    string   `json:"priority,omitempty" yaml:"priority,omitempty" bson:"priority,omitempty"`
	Resolution  string   `json:"resolution,omitempty" yaml:"resolution,omitempty" bson:"resolution,omitempty"`
	Assignee    string   `json:"assignee,omitempty" yaml:"assignee,omitempty" bson:"assignee,omitempty"`
	Reporter    string   `json:"reporter,omitempty" yaml:"reporter,omitempty" bson:"reporter,omitempty"`
	Labels      []string `json:"labels,omitempty" yaml:"labels,omitempty" bson:"labels,omitempty"`

	Created        time.Time  `json:"created" yaml:"created" bson:"created"`
	Updated        time.Time  `json:"updated" yaml:"updated" bson:"updated"`
	DueDate        *time.Time `json:"due_date,omitempty" yaml:"due_date,omitempty" bson:"due_date,omitempty"`
	ResolutionDate *time.Time `json:"resolution_date,omitempty" yaml:"resolution_date,omitempty" bson:"resolution_date,omitempty"`
}

// Comment belongs to exactly one issue.
type Comment struct {
	ID      int64  `json:"id" yaml:"id" bson:"_id"`
	IssueID int64  `json:"issue_id" yaml:"issue_id" bson:"issue_id"`
	Author  string `json:"author,omitempty" yaml:"author,omitempty" bson:"author,omitempty"`
	Body    string `json:"body" yaml:"body" bson:"body"`

	// Level restricts visibility to a group or role. Empty means public.
	Level string `json:"level,omitempty" yaml:"level,omitempty" bson:"level,omitempty"`

	Created time.Time `json:"created" yaml:"created" bson:"created"`
	Updated time.Time `json:"updated" yaml:"updated" bson:"updated"`
}

// ChangeGroup is one edit of an issue, possibly touching several fields.
type ChangeGroup struct {
	ID      int64        `json:"id" yaml:"id" bson:"_id"`
	IssueID int64        `json:"issue_id" yaml:"issue_id" bson:"issue_id"`
	Author  string       `json:"author,omitempty" yaml:"author,omitempty" bson:"author,omitempty"`
	Created time.Time    `json:"created" yaml:"created" bson:"created"`
	Items   []ChangeItem `json:"items" yaml:"items" bson:"items"`
}

// ChangeItem records the old and new value of a single field.
type ChangeItem struct {
	Field      string `json:"field" yaml:"field" bson:"field"`
	From       string `json:"from,omitempty" yaml:"from,omitempty" bson:"from,omitempty"`
	FromString string `json:"from_string,omitempty" yaml:"from_string,omitempty" bson:"from_string,omitempty"`
	To         string `json:"to,omitempty" yaml:"to,omitempty" bson:"to,omitempty"`
	ToString   string `json:"to_string,omitempty" yaml:"to_string,omitempty" bson:"to_string,omitempty"`
}

// IssueIDs returns the ids of issues in order.
func IssueIDs(issues []*Issue) []int64 {
	ids := make([]int64, 0, len(issues))
	for _, is := range issues {
		ids = append(ids, is.ID)
	}
	return ids
}
