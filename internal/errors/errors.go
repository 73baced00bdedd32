// Package errors provides structured error types for the CityFlow pipeline.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across stages.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by pipeline stage.
type ErrorCategory string

const (
	ErrCategorySchema    ErrorCategory = "SCHEMA"
	ErrCategoryStorage   ErrorCategory = "STORAGE"
	ErrCategoryClean     ErrorCategory = "CLEAN"
	ErrCategoryAggregate ErrorCategory = "AGGREGATE"
	ErrCategoryReport    ErrorCategory = "REPORT"
	ErrCategoryQuery     ErrorCategory = "QUERY"
	ErrCategoryIngest    ErrorCategory = "INGEST"
	ErrCategoryInternal  ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Schema codes
	CodeMissingRequiredField = "MISSING_REQUIRED_FIELD"
	CodeEmptyBatch           = "EMPTY_BATCH"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Clean codes
	CodeBadRawBatch   = "BAD_RAW_BATCH"
	CodeTriggerFailed = "TRIGGER_FAILED"

	// Aggregate codes
	CodeBadSilverPartition = "BAD_SILVER_PARTITION"
	CodeUpsertFailed       = "UPSERT_FAILED"

	// Report codes
	CodeBadGoldPartition = "BAD_GOLD_PARTITION"

	// Query codes
	CodeScanFailed = "SCAN_FAILED"

	// Ingest codes
	CodeFeedUnavailable = "FEED_UNAVAILABLE"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// PipelineError is the structured error type used throughout the system.
type PipelineError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new PipelineError.
func New(category ErrorCategory, code, message string) *PipelineError {
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new PipelineError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *PipelineError {
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *PipelineError) WithDetails(details map[string]interface{}) *PipelineError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCategory(err error) ErrorCategory {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
func GetCode(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// isRetryable marks errors that a caller can safely retry in full.
// Every stage is an idempotent overwrite, so transient I/O and upsert
// failures are retryable; schema failures are not.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryAggregate && code == CodeUpsertFailed:
		return true
	case category == ErrCategoryClean && code == CodeTriggerFailed:
		return true
	case category == ErrCategoryIngest && code == CodeFeedUnavailable:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewSchemaError(code, message string) *PipelineError {
	return New(ErrCategorySchema, code, message)
}

func NewStorageError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewCleanError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryClean, code, message, cause)
}

func NewAggregateError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryAggregate, code, message, cause)
}

func NewReportError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryReport, code, message, cause)
}

func NewQueryError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryQuery, code, message, cause)
}

func NewInternalError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
