package core

import (
	"time"
)

// CommandResult represents the outcome of executing a single step
type CommandResult struct {
	// Core outcome
	Success  bool          `json:"success"`
	Error    error         `json:"-"`
	Duration time.Duration `json:"duration"`

	// Human-readable output
	Message string `json:"message,omitempty"`

	// Element information (for click, assert, setText, etc.)
	Element *ElementInfo `json:"element,omitempty"`

	// Generic data for step-specific results, e.g. evaluated script output
	Data interface{} `json:"data,omitempty"`
}

// Success builds a passing CommandResult.
func Success(msg string, elem *ElementInfo) *CommandResult {
	return &CommandResult{Success: true, Message: msg, Element: elem}
}

// Failure builds a failing CommandResult from err.
func Failure(err error, msg string) *CommandResult {
	if msg == "" && err != nil {
		msg = err.Error()
	}
	return &CommandResult{Success: false, Error: err, Message: msg}
}

// Status derives the step status from the result.
func (r *CommandResult) Status() StepStatus {
	if r.Success {
		return StatusPassed
	}
	return StatusForError(r.Error)
}

// ElementInfo represents information about an accessible widget
type ElementInfo struct {
	Name        string   `json:"name,omitempty"`
	Role        string   `json:"role,omitempty"`
	Text        string   `json:"text,omitempty"`
	Description string   `json:"description,omitempty"`
	Bounds      Bounds   `json:"bounds"`
	States      []string `json:"states,omitempty"`
}

// Bounds represents element position and size in screen coordinates
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the center point of the bounds
func (b Bounds) Center() (int, int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Contains checks if a point is within the bounds
func (b Bounds) Contains(x, y int) bool {
	return x >= b.X && x < b.X+b.Width && y >= b.Y && y < b.Y+b.Height
}

// IsEmpty reports whether the bounds have no area.
func (b Bounds) IsEmpty() bool {
	return b.Width <= 0 || b.Height <= 0
}
