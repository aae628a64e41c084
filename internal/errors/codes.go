// Package errors provides structured error handling for DocForge.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors (fatal, never retried)
//   - 2XX: Permanent errors (corrupt input, missing files)
//   - 3XX: Transient errors (provider timeouts, retried with backoff)
//   - 4XX: Conflict errors (stale versions, surfaced to the caller)
//   - 5XX: Cleanup errors (absorbed into the pending-cleanup queue)
//   - 6XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration errors: unregistered task
	// types, malformed payloads, missing collaborators. Never retried.
	CategoryConfig Category = "CONFIG"
	// CategoryPermanent indicates unrecoverable input errors such as
	// unparseable documents. Surfaced immediately, never retried.
	CategoryPermanent Category = "PERMANENT"
	// CategoryTransient indicates errors expected to resolve on retry,
	// such as embedding provider timeouts.
	CategoryTransient Category = "TRANSIENT"
	// CategoryConflict indicates optimistic-concurrency conflicts that
	// the caller resolves by re-fetching and retrying.
	CategoryConflict Category = "CONFLICT"
	// CategoryCleanup indicates storage cleanup failures that are
	// absorbed into the pending-cleanup queue, never raised to callers.
	CategoryCleanup Category = "CLEANUP"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but the system continues.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Configuration errors (100-199)
	ErrCodeUnregisteredTask = "ERR_101_UNREGISTERED_TASK_TYPE"
	ErrCodeBadPayload       = "ERR_102_BAD_PAYLOAD"
	ErrCodeConfigInvalid    = "ERR_103_CONFIG_INVALID"
	ErrCodeMissingDep       = "ERR_104_MISSING_COLLABORATOR"

	// Permanent errors (200-299)
	ErrCodeParseFailed  = "ERR_201_PARSE_FAILED"
	ErrCodeFileNotFound = "ERR_202_FILE_NOT_FOUND"
	ErrCodeCorruptInput = "ERR_203_CORRUPT_INPUT"

	// Transient errors (300-399)
	ErrCodeProviderTimeout     = "ERR_301_PROVIDER_TIMEOUT"
	ErrCodeEmbeddingFailed     = "ERR_302_EMBEDDING_FAILED"
	ErrCodeProviderUnavailable = "ERR_303_PROVIDER_UNAVAILABLE"

	// Conflict errors (400-499)
	ErrCodeVersionConflict = "ERR_401_VERSION_CONFLICT"
	ErrCodeDocumentBusy    = "ERR_402_DOCUMENT_BUSY"

	// Cleanup errors (500-599)
	ErrCodeCleanupFailed = "ERR_501_CLEANUP_FAILED"

	// Internal errors (600-699)
	ErrCodeInternal     = "ERR_601_INTERNAL"
	ErrCodeIndexFailed  = "ERR_602_INDEX_FAILED"
	ErrCodeSearchFailed = "ERR_603_SEARCH_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "101" from "ERR_101_UNREGISTERED_TASK_TYPE"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryPermanent
	case '3':
		return CategoryTransient
	case '4':
		return CategoryConflict
	case '5':
		return CategoryCleanup
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch categoryFromCode(code) {
	case CategoryConfig:
		return SeverityFatal
	case CategoryTransient, CategoryCleanup:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	return categoryFromCode(code) == CategoryTransient
}
