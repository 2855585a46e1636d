package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestExecutionError_Error(t *testing.T) {
	err := &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "test_error",
		Message:  "test message",
	}

	if got := err.Error(); got != "test message" {
		t.Errorf("Error() = %q, want %q", got, "test message")
	}
}

func TestExecutionError_ErrorWithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := ErrPrecondition.WithMessage("application cannot be stopped").WithCause(cause)

	got := err.Error()
	if !strings.Contains(got, "application cannot be stopped") {
		t.Errorf("Error() = %q, should contain the message", got)
	}
	if !strings.Contains(got, "underlying error") {
		t.Errorf("Error() = %q, should contain the cause", got)
	}
}

func TestExecutionError_WithCauseDoesNotMutate(t *testing.T) {
	cause := errors.New("custom cause")
	newErr := ErrBusTransient.WithCause(cause)

	if newErr.Cause != cause {
		t.Error("WithCause() did not set cause")
	}
	if ErrBusTransient.Cause != nil {
		t.Error("WithCause() modified original error")
	}
}

func TestExecutionError_WithMessagef(t *testing.T) {
	err := ErrResourceNotFound.WithMessagef("desktop file for %q not found", "evince")
	if err.Message != `desktop file for "evince" not found` {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Code != ErrResourceNotFound.Code {
		t.Error("WithMessagef() changed code")
	}
}

func TestExecutionError_WithDetails(t *testing.T) {
	original := &ExecutionError{
		Code:    "test",
		Message: "test",
		Details: map[string]interface{}{"existing": "value"},
	}

	newErr := original.WithDetails(map[string]interface{}{"role": "dialog"})

	if newErr.Details["role"] != "dialog" {
		t.Error("WithDetails() did not add new details")
	}
	if newErr.Details["existing"] != "value" {
		t.Error("WithDetails() did not preserve existing details")
	}
	if _, ok := original.Details["role"]; ok {
		t.Error("WithDetails() modified original error")
	}
}

func TestExecutionError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("start evince: %w", ErrPrecondition.WithMessage("application cannot be stopped"))

	if !errors.Is(err, ErrPrecondition) {
		t.Error("errors.Is() should match a derived precondition error")
	}
	if errors.Is(err, ErrBusBlocked) {
		t.Error("errors.Is() matched an unrelated code")
	}
}

func TestExecutionError_ErrorsIsCause(t *testing.T) {
	cause := errors.New("root cause")
	err := ErrWaitTimeout.WithCause(cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is() should find the cause")
	}
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err      *ExecutionError
		category ErrorCategory
		code     string
	}{
		{ErrElementNotFound, ErrCategoryAssertion, "element_not_found"},
		{ErrElementStillVisible, ErrCategoryAssertion, "element_still_visible"},
		{ErrTextMismatch, ErrCategoryAssertion, "text_mismatch"},
		{ErrConditionNotMet, ErrCategoryAssertion, "condition_not_met"},
		{ErrWaitTimeout, ErrCategoryTimeout, "wait_timeout"},
		{ErrTimeLimitExceeded, ErrCategoryTimeLimit, "time_limit_exceeded"},
		{ErrBusTransient, ErrCategoryConnection, "bus_transient"},
		{ErrBusBlocked, ErrCategoryConnection, "bus_blocked"},
		{ErrPrecondition, ErrCategoryPrecondition, "precondition"},
		{ErrAppNotStarted, ErrCategoryApp, "app_not_started"},
		{ErrResourceNotFound, ErrCategoryNotFound, "resource_not_found"},
		{ErrInvalidConfig, ErrCategoryConfig, "invalid_config"},
		{ErrMissingRequired, ErrCategoryConfig, "missing_required"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if tt.err.Category != tt.category {
				t.Errorf("Category = %s, want %s", tt.err.Category, tt.category)
			}
			if tt.err.Code != tt.code {
				t.Errorf("Code = %s, want %s", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("Message should not be empty")
			}
		})
	}
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ErrCategoryNone},
		{"plain", errors.New("boom"), ErrCategoryNone},
		{"direct", ErrBusBlocked, ErrCategoryConnection},
		{"wrapped", fmt.Errorf("ctx: %w", ErrTextMismatch), ErrCategoryAssertion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategoryOf(tt.err); got != tt.want {
				t.Errorf("CategoryOf() = %s, want %s", got, tt.want)
			}
		})
	}
}
