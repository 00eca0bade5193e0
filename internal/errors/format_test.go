package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	// Given: an error with a suggestion
	err := New(ErrCodeIncompleteIndex, "previous reindex did not finish", nil).
		WithSuggestion("Run 'issueindex reindex' to rebuild")

	// When: formatting for CLI
	out := FormatForCLI(err)

	// Then: message, hint and code are present
	assert.Contains(t, out, "Error: previous reindex did not finish")
	assert.Contains(t, out, "Hint: Run 'issueindex reindex' to rebuild")
	assert.Contains(t, out, "Code: ERR_206_INCOMPLETE_INDEX")
}

func TestFormatForCLI_StandardErrorIsInternal(t *testing.T) {
	out := FormatForCLI(errors.New("boom"))

	assert.Contains(t, out, "Error: boom")
	assert.Contains(t, out, ErrCodeInternal)
	assert.Equal(t, "", FormatForCLI(nil))
}

func TestFormatForLog(t *testing.T) {
	// Given: an error with cause and details
	err := New(ErrCodeIndexFailed, "commit failed", errors.New("no space left")).
		WithDetail("kind", "comment")

	// When: formatting for log
	fields := FormatForLog(err)

	// Then: structured fields are present
	assert.Equal(t, ErrCodeIndexFailed, fields["error_code"])
	assert.Equal(t, "no space left", fields["cause"])
	assert.Equal(t, "comment", fields["detail_kind"])
	assert.Equal(t, "FATAL", fields["severity"])

	// And: plain errors collapse to a single field
	assert.Equal(t, map[string]any{"error": "x"}, FormatForLog(errors.New("x")))
}
