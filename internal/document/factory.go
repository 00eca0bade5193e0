package document

import (
	"context"
	"strconv"
	"strings"

	"github.com/Aman-CERP/issueindex/internal/entity"
)

// IssueFactory builds issue documents.
type IssueFactory struct {
	registry *Registry
	builtins []FieldExtractor
}

// NewIssueFactory creates a factory that runs the built-in issue extractors
// followed by the plugins registered for EntityIssue. registry may be nil.
func NewIssueFactory(registry *Registry) *IssueFactory {
	return &IssueFactory{registry: registry, builtins: issueExtractors()}
}

// Build returns the document for issue, or nil if it has nothing to index.
func (f *IssueFactory) Build(ctx context.Context, issue *entity.Issue) (*Document, error) {
	if issue == nil {
		return nil, nil
	}
	id := FormatID(issue.ID)
	return assemble(ctx, EntityIssue, id, issue, func(b *Builder) {
		b.AddKeyword(FieldID, id)
	}, append(f.builtins[:len(f.builtins):len(f.builtins)], f.registry.Extractors(EntityIssue)...))
}

// CommentFactory builds comment documents.
type CommentFactory struct {
	registry *Registry
	builtins []FieldExtractor
}

// NewCommentFactory creates a comment factory. registry may be nil.
func NewCommentFactory(registry *Registry) *CommentFactory {
	return &CommentFactory{registry: registry, builtins: commentExtractors()}
}

// Build returns the document for c. issue supplies the denormalized project
// and key fields and may be nil. A comment without a body yields nil.
func (f *CommentFactory) Build(ctx context.Context, c *entity.Comment, issue *entity.Issue) (*Document, error) {
	if c == nil || c.Body == "" {
		return nil, nil
	}
	id := FormatID(c.ID)
	return assemble(ctx, EntityComment, id, c, func(b *Builder) {
		b.AddKeyword(FieldID, id)
		b.AddKeyword(FieldIssueID, FormatID(c.IssueID))
		addIssueRelation(b, issue)
	}, append(f.builtins[:len(f.builtins):len(f.builtins)], f.registry.Extractors(EntityComment)...))
}

// ChangeHistoryFactory builds one document per change group.
type ChangeHistoryFactory struct {
	registry *Registry
	builtins []FieldExtractor
}

// NewChangeHistoryFactory creates a change history factory. registry may be nil.
func NewChangeHistoryFactory(registry *Registry) *ChangeHistoryFactory {
	return &ChangeHistoryFactory{registry: registry, builtins: changeExtractors()}
}

// Build returns the document for g. A group without items yields nil.
func (f *ChangeHistoryFactory) Build(ctx context.Context, g *entity.ChangeGroup, issue *entity.Issue) (*Document, error) {
	if g == nil || len(g.Items) == 0 {
		return nil, nil
	}
	id := FormatID(g.ID)
	return assemble(ctx, EntityChangeHistory, id, g, func(b *Builder) {
		b.AddKeyword(FieldID, id)
		b.AddKeyword(FieldIssueID, FormatID(g.IssueID))
		addIssueRelation(b, issue)
	}, append(f.builtins[:len(f.builtins):len(f.builtins)], f.registry.Extractors(EntityChangeHistory)...))
}

// FormatID renders an entity id as a document key.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ChangeFromField names the field holding the old value of a changed field.
func ChangeFromField(field string) string {
	return "ch_" + normalizeFieldName(field) + "_from"
}

// ChangeToField names the field holding the new value of a changed field.
func ChangeToField(field string) string {
	return "ch_" + normalizeFieldName(field) + "_to"
}

func normalizeFieldName(field string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(field)), " ", "_")
}

func addIssueRelation(b *Builder, issue *entity.Issue) {
	if issue == nil {
		b.AddKeyword(FieldProjectID, NoValue)
		return
	}
	b.AddKeyword(FieldProjectID, FormatID(issue.ProjectID))
	b.AddKeyword(FieldIssueKey, issue.Key)
}

func orNoValue(s string) string {
	if s == "" {
		return NoValue
	}
	return s
}

func issueExtractor(name string, fn func(is *entity.Issue, b *Builder)) FieldExtractor {
	return Func(name, func(_ context.Context, e any, b *Builder) ([]string, error) {
		if is, ok := e.(*entity.Issue); ok {
			fn(is, b)
		}
		return nil, nil
	})
}

func issueExtractors() []FieldExtractor {
	return []FieldExtractor{
		issueExtractor("key", func(is *entity.Issue, b *Builder) {
			b.AddKeyword(FieldKey, is.Key)
			b.AddKeyword(FieldProjectKey, is.ProjectKey)
		}),
		issueExtractor("project", func(is *entity.Issue, b *Builder) {
			b.AddKeyword(FieldProjectID, FormatID(is.ProjectID))
		}),
		issueExtractor("parent", func(is *entity.Issue, b *Builder) {
			if is.ParentID == 0 {
				b.AddKeyword(FieldParentID, NoValue)
				return
			}
			b.AddKeyword(FieldParentID, FormatID(is.ParentID))
		}),
		issueExtractor("text", func(is *entity.Issue, b *Builder) {
			b.AddText(FieldSummary, is.Summary)
			b.AddText(FieldDescription, is.Description)
			b.AddText(FieldEnvironment, is.Environment)
		}),
		issueExtractor("workflow", func(is *entity.Issue, b *Builder) {
			b.AddKeyword(FieldType, is.Type)
			b.AddKeyword(FieldStatus, is.Status)
			b.AddKeyword(FieldPriority, orNoValue(is.Priority))
			b.AddKeyword(FieldResolution, orNoValue(is.Resolution))
		}),
		issueExtractor("people", func(is *entity.Issue, b *Builder) {
			b.AddKeyword(FieldAssignee, orNoValue(is.Assignee))
			b.AddKeyword(FieldReporter, orNoValue(is.Reporter))
		}),
		issueExtractor("labels", func(is *entity.Issue, b *Builder) {
			if len(is.Labels) == 0 {
				b.AddKeyword(FieldLabels, NoValue)
				return
			}
			for _, l := range is.Labels {
				b.AddKeyword(FieldLabels, l)
			}
		}),
		issueExtractor("dates", func(is *entity.Issue, b *Builder) {
			b.AddKeyword(FieldCreated, EncodeDate(is.Created))
			b.AddKeyword(FieldUpdated, EncodeDate(is.Updated))
			b.AddKeyword(FieldDueDate, EncodeDatePtr(is.DueDate))
			b.AddKeyword(FieldResolutionDate, EncodeDatePtr(is.ResolutionDate))
		}),
	}
}

func commentExtractor(name string, fn func(c *entity.Comment, b *Builder)) FieldExtractor {
	return Func(name, func(_ context.Context, e any, b *Builder) ([]string, error) {
		if c, ok := e.(*entity.Comment); ok {
			fn(c, b)
		}
		return nil, nil
	})
}

func commentExtractors() []FieldExtractor {
	return []FieldExtractor{
		commentExtractor("body", func(c *entity.Comment, b *Builder) {
			b.AddText(FieldBody, c.Body)
		}),
		commentExtractor("author", func(c *entity.Comment, b *Builder) {
			b.AddKeyword(FieldAuthor, orNoValue(c.Author))
		}),
		commentExtractor("level", func(c *entity.Comment, b *Builder) {
			b.AddKeyword(FieldLevel, orNoValue(c.Level))
		}),
		commentExtractor("dates", func(c *entity.Comment, b *Builder) {
			b.AddKeyword(FieldCreated, EncodeDate(c.Created))
			b.AddKeyword(FieldUpdated, EncodeDate(c.Updated))
		}),
	}
}

func changeExtractor(name string, fn func(g *entity.ChangeGroup, b *Builder)) FieldExtractor {
	return Func(name, func(_ context.Context, e any, b *Builder) ([]string, error) {
		if g, ok := e.(*entity.ChangeGroup); ok {
			fn(g, b)
		}
		return nil, nil
	})
}

func changeExtractors() []FieldExtractor {
	return []FieldExtractor{
		changeExtractor("author", func(g *entity.ChangeGroup, b *Builder) {
			b.AddKeyword(FieldAuthor, orNoValue(g.Author))
		}),
		changeExtractor("dates", func(g *entity.ChangeGroup, b *Builder) {
			b.AddKeyword(FieldCreated, EncodeDate(g.Created))
		}),
		changeExtractor("items", func(g *entity.ChangeGroup, b *Builder) {
			for _, item := range g.Items {
				b.AddKeyword(FieldChangedFields, normalizeFieldName(item.Field))
				b.AddText(ChangeFromField(item.Field), firstNonEmpty(item.FromString, item.From))
				b.AddText(ChangeToField(item.Field), firstNonEmpty(item.ToString, item.To))
			}
		}),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
