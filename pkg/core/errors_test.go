package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestExecutionError_Error(t *testing.T) {
	err := &ExecutionError{
		Category: ErrCategoryTarget,
		Code:     "test_error",
		Message:  "test message",
	}

	if got := err.Error(); got != "test message" {
		t.Errorf("Error() = %q, want %q", got, "test message")
	}
}

func TestExecutionError_ErrorWithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := ErrTransport.WithCause(cause)

	got := err.Error()
	if !strings.Contains(got, "backend unreachable") {
		t.Errorf("Error() = %q, should contain message", got)
	}
	if !strings.Contains(got, "underlying error") {
		t.Errorf("Error() = %q, should contain cause", got)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
}

func TestExecutionError_IsMatchesByCode(t *testing.T) {
	err := ErrTargetTimeout.WithMessage("no #upload within 5s").WithDetails(map[string]interface{}{"candidates": 2})
	wrapped := fmt.Errorf("scene upload: %w", err)

	if !errors.Is(wrapped, ErrTargetTimeout) {
		t.Error("copy of ErrTargetTimeout should match by code")
	}
	if errors.Is(wrapped, ErrTargetNotFound) {
		t.Error("different codes must not match")
	}
	if err.Details["candidates"] != 2 {
		t.Errorf("details not kept: %v", err.Details)
	}
}

func TestWithDetails_DoesNotMutateOriginal(t *testing.T) {
	base := ErrSceneAbort.WithDetails(map[string]interface{}{"a": 1})
	_ = base.WithDetails(map[string]interface{}{"b": 2})

	if _, ok := base.Details["b"]; ok {
		t.Error("WithDetails mutated the receiver")
	}
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ErrCategoryNone},
		{"target", ErrTargetTimeout, ErrCategoryTarget},
		{"wrapped transport", fmt.Errorf("fetch: %w", ErrTransport.WithCause(errors.New("refused"))), ErrCategoryTransport},
		{"stopped", ErrStoppedByUser, ErrCategoryStopped},
		{"context canceled", context.Canceled, ErrCategoryStopped},
		{"plain", errors.New("boom"), ErrCategoryUnknown},
	}

	for _, tt := range tests {
		if got := CategoryOf(tt.err); got != tt.want {
			t.Errorf("%s: CategoryOf() = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(ErrSceneAbort) {
		t.Error("scene abort should be retryable")
	}
	if !IsRetryable(errors.New("plain")) {
		t.Error("plain errors should be retryable")
	}
	if IsRetryable(ErrStoppedByUser) {
		t.Error("stop must never be retried")
	}
	if IsRetryable(ErrPublishRejected.WithMessage("duplicate")) {
		t.Error("rejection must not be retried")
	}
}
