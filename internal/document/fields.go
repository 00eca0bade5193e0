package document

// NoValue is indexed for absent scalar relations so equality and range
// queries behave the same whether or not the relation is set.
const NoValue = "-1"

// Meta fields recording which fields carry data and which are visible.
const (
	FieldNonEmptyIDs = "nonemptyfieldids"
	FieldVisibleIDs  = "visiblefieldids"
)

// Shared field names.
const (
	FieldID         = "id"
	FieldIssueID    = "issue_id"
	FieldIssueKey   = "issue_key"
	FieldProjectID  = "project_id"
	FieldProjectKey = "project_key"
	FieldAuthor     = "author"
	FieldCreated    = "created"
	FieldUpdated    = "updated"
)

// Issue field names.
const (
	FieldKey            = "key"
	FieldParentID       = "parent_id"
	FieldSummary        = "summary"
	FieldDescription    = "description"
	FieldEnvironment    = "environment"
	FieldType           = "type"
	FieldStatus         = "status"
	FieldPriority       = "priority"
	FieldResolution     = "resolution"
	FieldAssignee       = "assignee"
	FieldReporter       = "reporter"
	FieldLabels         = "labels"
	FieldDueDate        = "due_date"
	FieldResolutionDate = "resolution_date"
)

// Comment field names.
const (
	FieldBody  = "body"
	FieldLevel = "level"
)

// Change history field names. Per-item fields are built by ChangeFromField
// and ChangeToField.
const (
	FieldChangedFields = "ch_fields"
)
