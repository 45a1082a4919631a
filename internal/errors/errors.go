package errors

import (
	stderrors "errors"
	"fmt"
)

// OmniError is the structured error type for omnidex.
// It carries a stable code, a category, and a retryable flag that the
// job queue uses to classify failures as transient or permanent.
type OmniError struct {
	// Code is the unique error code (e.g., "ERR_301_ENCODER_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Encoder, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *OmniError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *OmniError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with OmniError sentinels.
func (e *OmniError) Is(target error) bool {
	if t, ok := target.(*OmniError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *OmniError) WithDetail(key, value string) *OmniError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new OmniError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *OmniError {
	return &OmniError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a new OmniError with a formatted message.
func Newf(code string, format string, args ...any) *OmniError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates an OmniError from an existing error.
// The error's message becomes the OmniError message.
func Wrap(code string, err error) *OmniError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for the caller-facing error taxonomy. Match with errors.Is.
var (
	// ErrInvalidPayload indicates a payload that cannot decode for its
	// modality. Permanent: never retried.
	ErrInvalidPayload = New(ErrCodeInvalidPayload, "payload does not decode for its modality", nil)

	// ErrEncoderUnavailable indicates a transient encoder backend failure.
	ErrEncoderUnavailable = New(ErrCodeEncoderUnavailable, "encoder backend unavailable", nil)

	// ErrUnsupportedModalityPair indicates a query/target modality combination
	// with no configured joint encoder. Permanent query-time rejection.
	ErrUnsupportedModalityPair = New(ErrCodeUnsupportedModalityPair, "no joint encoder configured for modality pair", nil)

	// ErrQueryTimeout indicates the caller-supplied query deadline expired.
	ErrQueryTimeout = New(ErrCodeQueryTimeout, "query deadline exceeded", nil)

	// ErrIndexWriteConflict indicates a transient index write conflict.
	// Retried; last-write-wins resolves on retry.
	ErrIndexWriteConflict = New(ErrCodeIndexWriteConflict, "concurrent index write conflict", nil)

	// ErrQueueFull indicates the job queue is at capacity (backpressure).
	ErrQueueFull = New(ErrCodeQueueFull, "job queue at capacity", nil)
)

// Is reports whether any error in err's chain matches target.
// Re-exported so callers need only one errors import.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain matching target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// IsRetryable reports whether an error should be retried with backoff.
// Walks the error chain looking for an OmniError. Unknown errors are
// treated as retryable so that unclassified infrastructure hiccups do
// not permanently fail content.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var oe *OmniError
	if stderrors.As(err, &oe) {
		return oe.Retryable
	}
	return true
}

// GetCode extracts the error code from an error chain.
// Returns empty string if no OmniError is present.
func GetCode(err error) string {
	var oe *OmniError
	if stderrors.As(err, &oe) {
		return oe.Code
	}
	return ""
}
