// Package errors provides structured error handling for omnidex.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage/index errors
//   - 3XX: Encoder/network errors
//   - 4XX: Validation and query errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates content store and index errors.
	CategoryStorage Category = "STORAGE"
	// CategoryEncoder indicates encoder backend and network errors.
	CategoryEncoder Category = "ENCODER"
	// CategoryValidation indicates input and query validation errors.
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

	// Storage errors (200-299)
	ErrCodeStoreCorrupt       = "ERR_201_STORE_CORRUPT"
	ErrCodeItemNotFound       = "ERR_202_ITEM_NOT_FOUND"
	ErrCodeIndexWriteConflict = "ERR_205_INDEX_WRITE_CONFLICT"

	// Encoder errors (300-399)
	ErrCodeEncoderUnavailable = "ERR_301_ENCODER_UNAVAILABLE"
	ErrCodeTranscribeFailed   = "ERR_302_TRANSCRIBE_FAILED"

	// Validation / query errors (400-499)
	ErrCodeInvalidPayload          = "ERR_401_INVALID_PAYLOAD"
	ErrCodeUnsupportedModalityPair = "ERR_402_UNSUPPORTED_MODALITY_PAIR"
	ErrCodeInvalidQuery            = "ERR_403_INVALID_QUERY"
	ErrCodeDimensionMismatch       = "ERR_404_DIMENSION_MISMATCH"
	ErrCodeQueueFull               = "ERR_407_QUEUE_FULL"
	ErrCodeQueryTimeout            = "ERR_408_QUERY_TIMEOUT"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeEmbedFailed  = "ERR_502_EMBED_FAILED"
	ErrCodeSearchFailed = "ERR_503_SEARCH_FAILED"
	ErrCodeCommitFailed = "ERR_505_COMMIT_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "301" from "ERR_301_ENCODER_UNAVAILABLE")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryEncoder
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	if code == ErrCodeStoreCorrupt {
		return SeverityFatal
	}

	// Transient errors get warning severity; they are expected under load.
	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a transient error.
// Transient errors are retried by the job queue with exponential backoff.
// Queue capacity is backpressure, not a verdict on the content, so it
// retries too. InvalidPayload and UnsupportedModalityPair are
// deliberately permanent.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEncoderUnavailable, ErrCodeIndexWriteConflict, ErrCodeQueueFull:
		return true
	default:
		return false
	}
}
