package errors

import (
	stderrors "errors"
	"fmt"
)

// HolError is the structured error type for hol.
// It carries enough context to decide whether a run must abort and what to
// tell the user.
type HolError struct {
	// Code is the unique error code (e.g., "ERR_202_STORE_WRITE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Transit, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *HolError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *HolError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *HolError) Is(target error) bool {
	if t, ok := target.(*HolError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *HolError) WithDetail(key, value string) *HolError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *HolError) WithSuggestion(suggestion string) *HolError {
	e.Suggestion = suggestion
	return e
}

// New creates a new HolError with the given code and message.
// Category and severity are derived from the code.
func New(code string, message string, cause error) *HolError {
	return &HolError{
		Code:     code,
		Message:  message,
		Category: categoryFromCode(code),
		Severity: severityFromCode(code),
		Cause:    cause,
	}
}

// Wrap creates a HolError from an existing error.
func Wrap(code string, err error) *HolError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *HolError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *HolError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *HolError {
	return New(ErrCodeInternal, message, cause)
}

// RecordError reports a single record reference that could not be loaded or
// was rejected. It never leaves the worker that produced it.
func RecordError(path string, cause error) *HolError {
	return New(ErrCodeRecordInvalid, "skip record", cause).WithDetail("path", path)
}

// TransitError reports a message payload that could not be decoded.
func TransitError(message string, cause error) *HolError {
	return New(ErrCodeTransitMalformed, message, cause)
}

// OversizedError reports a frame larger than the transport allows.
func OversizedError(size, limit int) *HolError {
	return New(ErrCodeTransitOversized, fmt.Sprintf("frame of %d bytes exceeds limit of %d", size, limit), nil).
		WithSuggestion("raise run.max_frame_bytes or use the batch merge policy")
}

// ProcessFailure reports that a rank went away before finishing the protocol.
func ProcessFailure(rank int, cause error) *HolError {
	return New(ErrCodeProcessFailure, fmt.Sprintf("rank %d failed", rank), cause).
		WithDetail("rank", fmt.Sprint(rank))
}

// ProtocolError reports a message variant that is not valid in the current
// direction or state.
func ProtocolError(message string) *HolError {
	return New(ErrCodeProtocol, message, nil)
}

// StoreWriteError reports a flush that was rolled back.
func StoreWriteError(table string, cause error) *HolError {
	return New(ErrCodeStoreWrite, "flush "+table+" rolled back", cause).
		WithDetail("table", table).
		WithSuggestion("stored counts are unchanged; re-run the job from scratch")
}

// IsFatal checks if an error in the chain has fatal severity.
func IsFatal(err error) bool {
	var he *HolError
	if stderrors.As(err, &he) {
		return he.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first HolError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var he *HolError
	if stderrors.As(err, &he) {
		return he.Code
	}
	return ""
}

// GetCategory extracts the category from the first HolError in the chain.
func GetCategory(err error) Category {
	var he *HolError
	if stderrors.As(err, &he) {
		return he.Category
	}
	return ""
}

// HasCode reports whether any error in the chain carries code.
func HasCode(err error, code string) bool {
	return stderrors.Is(err, &HolError{Code: code})
}
