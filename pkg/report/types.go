// Package report provides JSON-based test reporting with real-time updates.
//
// Layout:
//   - report.json: main index (small, rewritten on every update)
//   - scenarios/scn-XXX.json: per-scenario detail files
//   - assets/scn-XXX/: per-scenario attachments (screenshots, hierarchies, journals)
//
// Consumers poll report.json and only fetch changed scenario details.
package report

import (
	"errors"
	"time"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
)

// Version is the report schema version.
const Version = "1.0.0"

// Status represents the execution status.
type Status string

// Status values.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusErrored Status = "errored"
	StatusWarned  Status = "warned"
	StatusSkipped Status = "skipped"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusErrored, StatusWarned, StatusSkipped:
		return true
	}
	return false
}

// IsFailure reports whether the status counts against the run.
func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusErrored
}

// FromStepStatus converts an executor step status.
func FromStepStatus(s core.StepStatus) Status {
	switch s {
	case core.StatusRunning:
		return StatusRunning
	case core.StatusPassed:
		return StatusPassed
	case core.StatusFailed:
		return StatusFailed
	case core.StatusErrored:
		return StatusErrored
	case core.StatusWarned:
		return StatusWarned
	case core.StatusSkipped:
		return StatusSkipped
	default:
		return StatusPending
	}
}

// ============================================================================
// INDEX (report.json)
// ============================================================================

// Index is the main report file that binds everything together.
type Index struct {
	Version     string          `json:"version"`
	RunID       string          `json:"runId"`
	UpdateSeq   uint64          `json:"updateSeq"`
	Status      Status          `json:"status"`
	StartTime   time.Time       `json:"startTime"`
	EndTime     *time.Time      `json:"endTime,omitempty"`
	LastUpdated time.Time       `json:"lastUpdated"`
	Host        Host            `json:"host"`
	App         App             `json:"app"`
	Runner      RunnerInfo      `json:"runner"`
	Summary     Summary         `json:"summary"`
	Scenarios   []ScenarioEntry `json:"scenarios"`
}

// Host describes the machine the run happened on.
type Host struct {
	Hostname        string `json:"hostname,omitempty"`
	OS              string `json:"os,omitempty"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platformVersion,omitempty"`
	KernelVersion   string `json:"kernelVersion,omitempty"`
}

// App describes the application under test.
type App struct {
	Command  string `json:"command"`
	A11yName string `json:"a11yName,omitempty"`
	Desktop  string `json:"desktop,omitempty"`
}

// RunnerInfo contains desktop-runner information.
type RunnerInfo struct {
	Version string `json:"version"`
}

// Summary contains aggregated counts.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Running int `json:"running"`
	Pending int `json:"pending"`
}

// ScenarioEntry is the index entry for a scenario.
type ScenarioEntry struct {
	Index       int            `json:"index"`
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	SourceFile  string         `json:"sourceFile"`
	DataFile    string         `json:"dataFile"`
	AssetsDir   string         `json:"assetsDir"`
	Tags        []string       `json:"tags,omitempty"`
	Status      Status         `json:"status"`
	UpdateSeq   uint64         `json:"updateSeq"`
	StartTime   *time.Time     `json:"startTime,omitempty"`
	EndTime     *time.Time     `json:"endTime,omitempty"`
	Duration    *int64         `json:"duration,omitempty"` // milliseconds
	LastUpdated *time.Time     `json:"lastUpdated,omitempty"`
	Commands    CommandSummary `json:"commands"`
	Error       *string        `json:"error,omitempty"`
}

// CommandSummary contains command counts for a scenario.
type CommandSummary struct {
	Total   int  `json:"total"`
	Passed  int  `json:"passed"`
	Failed  int  `json:"failed"`
	Skipped int  `json:"skipped"`
	Running int  `json:"running"`
	Pending int  `json:"pending"`
	Current *int `json:"current,omitempty"`
}

// ============================================================================
// SCENARIO DETAIL (scenarios/scn-XXX.json)
// ============================================================================

// ScenarioDetail contains full scenario execution details.
type ScenarioDetail struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	SourceFile  string       `json:"sourceFile"`
	Tags        []string     `json:"tags,omitempty"`
	StartTime   time.Time    `json:"startTime"`
	EndTime     *time.Time   `json:"endTime,omitempty"`
	Duration    *int64       `json:"duration,omitempty"`
	Commands    []Command    `json:"commands"`
	Attachments []Attachment `json:"attachments,omitempty"` // Scenario-level, e.g. the journal
}

// Command represents a single step execution.
type Command struct {
	ID          string       `json:"id"`
	Index       int          `json:"index"`
	Type        string       `json:"type"`
	Label       string       `json:"label,omitempty"`
	Description string       `json:"description,omitempty"`
	Optional    bool         `json:"optional,omitempty"`
	Status      Status       `json:"status"`
	StartTime   *time.Time   `json:"startTime,omitempty"`
	EndTime     *time.Time   `json:"endTime,omitempty"`
	Duration    *int64       `json:"duration,omitempty"`
	Message     string       `json:"message,omitempty"`
	Element     *Element     `json:"element,omitempty"`
	Error       *Error       `json:"error,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	SubCommands []Command    `json:"subCommands,omitempty"`
}

// Element describes the accessible node a command acted on.
type Element struct {
	Found  bool         `json:"found"`
	Name   string       `json:"name,omitempty"`
	Role   string       `json:"role,omitempty"`
	Text   string       `json:"text,omitempty"`
	Bounds *core.Bounds `json:"bounds,omitempty"`
}

// NewElement converts executor element info; nil stays nil.
func NewElement(info *core.ElementInfo) *Element {
	if info == nil {
		return nil
	}
	e := &Element{Found: true, Name: info.Name, Role: info.Role, Text: info.Text}
	if !info.Bounds.IsEmpty() {
		b := info.Bounds
		e.Bounds = &b
	}
	return e
}

// Error contains error details.
type Error struct {
	Type    string `json:"type"` // error category: assertion, timeout, connection, ...
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// NewError converts err; nil stays nil.
func NewError(err error) *Error {
	if err == nil {
		return nil
	}
	e := &Error{Type: core.CategoryOf(err).String(), Message: err.Error()}
	var ee *core.ExecutionError
	if errors.As(err, &ee) {
		e.Code = ee.Code
	}
	return e
}

// Attachment is an artifact stored under the assets directory. Path is
// relative to the report directory.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Path        string `json:"path"`
}

// ============================================================================
// UPDATE TYPES
// ============================================================================

// CommandEnd carries the outcome of a command.
type CommandEnd struct {
	Status      Status
	Message     string
	Element     *Element
	Error       error
	Attachments []core.Attachment
	SubCommands []Command
}
