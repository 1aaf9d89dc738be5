package core

import (
	"context"
	"errors"
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: target_timeout, transport_error, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches predefined errors by code, so copies made with WithCause and
// friends still satisfy errors.Is(err, ErrTargetTimeout).
func (e *ExecutionError) Is(target error) bool {
	var t *ExecutionError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithMessagef is WithMessage with formatting.
func (e *ExecutionError) WithMessagef(format string, args ...interface{}) *ExecutionError {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Target errors
	ErrTargetNotFound = &ExecutionError{
		Category: ErrCategoryTarget,
		Code:     "target_not_found",
		Message:  "target not found",
	}
	ErrTargetTimeout = &ExecutionError{
		Category: ErrCategoryTarget,
		Code:     "target_timeout",
		Message:  "no visible target before timeout",
	}

	// Backend errors
	ErrTransport = &ExecutionError{
		Category: ErrCategoryTransport,
		Code:     "transport_error",
		Message:  "backend unreachable",
	}
	ErrPublishRejected = &ExecutionError{
		Category: ErrCategoryRejected,
		Code:     "publish_rejected",
		Message:  "backend rejected publishing",
	}

	// Scene errors
	ErrSceneAbort = &ExecutionError{
		Category: ErrCategoryScene,
		Code:     "scene_abort",
		Message:  "required step failed",
	}
	ErrMediaDecode = &ExecutionError{
		Category: ErrCategoryScene,
		Code:     "media_decode",
		Message:  "media payload could not be decoded",
	}
	ErrSurface = &ExecutionError{
		Category: ErrCategoryScene,
		Code:     "surface_error",
		Message:  "controlled surface rejected the action",
	}

	// Cancellation
	ErrStoppedByUser = &ExecutionError{
		Category: ErrCategoryStopped,
		Code:     "stopped_by_user",
		Message:  "stopped by caller",
	}

	// Config errors
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// CategoryOf returns the category of the first ExecutionError in err's chain.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryNone
	}
	var e *ExecutionError
	if errors.As(err, &e) {
		return e.Category
	}
	if errors.Is(err, context.Canceled) {
		return ErrCategoryStopped
	}
	return ErrCategoryUnknown
}

// IsStopped reports whether err is a cooperative cancellation.
func IsStopped(err error) bool {
	return CategoryOf(err) == ErrCategoryStopped
}

// IsRetryable reports whether an item attempt that ended with err may be retried.
func IsRetryable(err error) bool {
	switch CategoryOf(err) {
	case ErrCategoryNone, ErrCategoryStopped, ErrCategoryRejected, ErrCategoryConfig:
		return false
	default:
		return true
	}
}
