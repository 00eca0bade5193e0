package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("disk I/O error")

	// When: wrapping with IndexError
	ie := New(ErrCodeIndexFailed, "failed to commit batch", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, ie)
	assert.Equal(t, originalErr, errors.Unwrap(ie))
	assert.True(t, errors.Is(ie, originalErr))
}

func TestIndexError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "config error",
			code:     ErrCodeConfigNotFound,
			message:  "config file not found",
			expected: "[ERR_101_CONFIG_NOT_FOUND] config file not found",
		},
		{
			name:     "index error",
			code:     ErrCodeIndexFailed,
			message:  "batch commit failed",
			expected: "[ERR_505_INDEX_FAILED] batch commit failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestIndexError_Is_MatchesByCode(t *testing.T) {
	// Given: a sentinel and a wrapped instance with the same code
	sentinel := New(ErrCodeIndexerShutdown, "indexer is shut down", nil)
	err := fmt.Errorf("failed to reindex: %w", New(ErrCodeIndexerShutdown, "issue index closed", nil))

	// Then: errors.Is walks the chain and matches by code
	assert.True(t, errors.Is(err, sentinel))
	assert.False(t, errors.Is(err, New(ErrCodeIndexFailed, "other", nil)))
}

func TestIndexError_WithDetailAndSuggestion(t *testing.T) {
	// Given: a base error
	err := New(ErrCodeCorruptIndex, "issue index is corrupt", nil)

	// When: adding context
	err = err.WithDetail("path", "/var/index/issues").
		WithSuggestion("Run 'issueindex reindex'")

	// Then: both are available
	assert.Equal(t, "/var/index/issues", err.Details["path"])
	assert.Equal(t, "Run 'issueindex reindex'", err.Suggestion)
}

func TestIndexError_DerivedFromCode(t *testing.T) {
	tests := []struct {
		code          string
		wantCategory  Category
		wantSeverity  Severity
		wantRetryable bool
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{ErrCodeStoreUnavailable, CategoryStorage, SeverityWarning, true},
		{ErrCodeCorruptIndex, CategoryStorage, SeverityFatal, false},
		{ErrCodeLockUnavailable, CategoryConcurrency, SeverityWarning, true},
		{ErrCodeInvalidScope, CategoryValidation, SeverityError, false},
		{ErrCodeIndexFailed, CategoryInternal, SeverityFatal, false},
		{"BAD", CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantCategory, err.Category)
			assert.Equal(t, tt.wantSeverity, err.Severity)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestWrap_NilErrorReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestHelpers_InspectWrappedChain(t *testing.T) {
	// Given: an IndexError wrapped by fmt.Errorf
	err := fmt.Errorf("reindex run: %w", New(ErrCodeStoreUnavailable, "store down", nil))

	// Then: helpers see through the wrapping
	assert.True(t, IsRetryable(err))
	assert.False(t, IsFatal(err))
	assert.Equal(t, ErrCodeStoreUnavailable, GetCode(err))
	assert.Equal(t, "", GetCode(errors.New("plain")))
}
