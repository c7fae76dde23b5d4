// Package errors provides structured error handling for hol.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Record and store I/O errors
//   - 3XX: Transit and process errors between ranks
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates record and store I/O errors.
	CategoryIO Category = "IO"
	// CategoryTransit indicates errors moving messages between ranks.
	CategoryTransit Category = "TRANSIT"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal aborts the whole run.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates a skipped unit of work, the run continues.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeRecordInvalid = "ERR_201_RECORD_INVALID"
	ErrCodeStoreWrite    = "ERR_202_STORE_WRITE"
	ErrCodeStoreLocked   = "ERR_203_STORE_LOCKED"
	ErrCodeCorpusMissing = "ERR_204_CORPUS_MISSING"

	// Transit errors (300-399)
	ErrCodeTransitMalformed = "ERR_301_TRANSIT_MALFORMED"
	ErrCodeTransitOversized = "ERR_302_TRANSIT_OVERSIZED"
	ErrCodeProcessFailure   = "ERR_303_PROCESS_FAILURE"
	ErrCodeProtocol         = "ERR_304_PROTOCOL_VIOLATION"

	// Validation errors (400-499)
	ErrCodeInvalidInput  = "ERR_401_INVALID_INPUT"
	ErrCodeDepthMismatch = "ERR_402_DEPTH_MISMATCH"
	ErrCodeUnknownJob    = "ERR_403_UNKNOWN_JOB"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryTransit
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeTransitMalformed, ErrCodeTransitOversized, ErrCodeProcessFailure,
		ErrCodeProtocol, ErrCodeStoreWrite:
		return SeverityFatal
	case ErrCodeRecordInvalid:
		return SeverityWarning
	}
	return SeverityError
}
