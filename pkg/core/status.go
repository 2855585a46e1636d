package core

// StepStatus represents the execution status of a step
type StepStatus int

const (
	StatusPending StepStatus = iota // Not yet started
	StatusRunning                   // Currently executing
	StatusPassed                    // Completed successfully
	StatusFailed                    // Assertion failed (expected UI state didn't appear)
	StatusErrored                   // Unexpected error (bus, process, time limit)
	StatusSkipped                   // Previous step failed
	StatusWarned                    // Optional step failed (non-blocking)
)

// String returns the string representation of StepStatus
func (s StepStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusErrored:
		return "errored"
	case StatusSkipped:
		return "skipped"
	case StatusWarned:
		return "warned"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the status is a final state
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusErrored, StatusSkipped, StatusWarned:
		return true
	default:
		return false
	}
}

// IsSuccess returns true if the status indicates success (passed or warned)
func (s StepStatus) IsSuccess() bool {
	return s == StatusPassed || s == StatusWarned
}

// IsFailure returns true for failed and errored steps.
func (s StepStatus) IsFailure() bool {
	return s == StatusFailed || s == StatusErrored
}

// StatusForError maps a step error to the status it should be reported with.
// Assertion and precondition failures are failures; everything else is an error.
func StatusForError(err error) StepStatus {
	if err == nil {
		return StatusPassed
	}
	switch CategoryOf(err) {
	case ErrCategoryAssertion, ErrCategoryPrecondition:
		return StatusFailed
	default:
		return StatusErrored
	}
}

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone         ErrorCategory = iota // No error
	ErrCategoryAssertion                         // Widget missing, text mismatch, wrong title
	ErrCategoryTimeout                           // Polled condition never held
	ErrCategoryConnection                        // Accessibility bus flaking or blocked
	ErrCategoryApp                               // App failed to start
	ErrCategoryConfig                            // Invalid configuration, missing required field
	ErrCategoryPrecondition                      // App running when it should not be, or vice versa
	ErrCategoryNotFound                          // Package or desktop file absent
	ErrCategoryTimeLimit                         // Wrapped call exceeded its wall-clock budget
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryAssertion:
		return "assertion"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryApp:
		return "app"
	case ErrCategoryConfig:
		return "config"
	case ErrCategoryPrecondition:
		return "precondition"
	case ErrCategoryNotFound:
		return "not_found"
	case ErrCategoryTimeLimit:
		return "time_limit"
	default:
		return "unknown"
	}
}
