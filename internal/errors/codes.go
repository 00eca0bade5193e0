// Package errors provides structured error handling for issueindex.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage and index errors
//   - 3XX: Lock and concurrency errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates relational store and on-disk index errors.
	CategoryStorage Category = "STORAGE"
	// CategoryConcurrency indicates lock contention and lifecycle races.
	CategoryConcurrency Category = "CONCURRENCY"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage and index errors (200-299)
	ErrCodeStoreUnavailable = "ERR_201_STORE_UNAVAILABLE"
	ErrCodeStoreQuery       = "ERR_202_STORE_QUERY"
	ErrCodeDiskFull         = "ERR_203_DISK_FULL"
	ErrCodeIndexOpen        = "ERR_204_INDEX_OPEN"
	ErrCodeCorruptIndex     = "ERR_205_CORRUPT_INDEX"
	ErrCodeIncompleteIndex  = "ERR_206_INCOMPLETE_INDEX"
	ErrCodeCircuitOpen      = "ERR_207_CIRCUIT_OPEN"

	// Lock and concurrency errors (300-399)
	ErrCodeLockUnavailable = "ERR_301_LOCK_UNAVAILABLE"
	ErrCodeLockFailed      = "ERR_302_LOCK_FAILED"
	ErrCodeEventBus        = "ERR_303_EVENT_BUS"

	// Validation errors (400-499)
	ErrCodeInvalidInput    = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidScope    = "ERR_402_INVALID_SCOPE"
	ErrCodeInvalidQuery    = "ERR_403_INVALID_QUERY"
	ErrCodeUnknownStrategy = "ERR_404_UNKNOWN_STRATEGY"
	ErrCodeInvalidPath     = "ERR_406_INVALID_PATH"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeDocumentFailed  = "ERR_502_DOCUMENT_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeOptimizeFailed  = "ERR_504_OPTIMIZE_FAILED"
	ErrCodeIndexFailed     = "ERR_505_INDEX_FAILED"
	ErrCodeIndexerShutdown = "ERR_506_INDEXER_SHUTDOWN"
	ErrCodeSearcherClosed  = "ERR_507_SEARCHER_CLOSED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "101" from "ERR_101_CONFIG_NOT_FOUND"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryConcurrency
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeDiskFull, ErrCodeIndexFailed:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeStoreUnavailable, ErrCodeCircuitOpen, ErrCodeLockUnavailable, ErrCodeEventBus:
		return true
	default:
		return false
	}
}
