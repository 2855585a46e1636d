package scenario

import (
	"fmt"
	"sort"
	"strings"

	"github.com/devicelab-dev/desktop-runner/pkg/printmatrix"
)

// StepType represents the type of step.
type StepType string

// Step type constants.
const (
	// Application lifecycle
	StepStartApp         StepType = "startApp"
	StepEnsureRunning    StepType = "ensureRunning"
	StepCloseApp         StepType = "closeApp"
	StepKillApp          StepType = "killApp"
	StepAssertRunning    StepType = "assertRunning"
	StepAssertNotRunning StepType = "assertNotRunning"
	StepWaitForWindow    StepType = "waitForWindow"

	// Input
	StepPress    StepType = "press"
	StepPressKey StepType = "pressKey"
	StepTypeText StepType = "typeText"
	StepClick    StepType = "click"

	// Accessibility tree
	StepAssertVisible     StepType = "assertVisible"
	StepAssertNotVisible  StepType = "assertNotVisible"
	StepAssertText        StepType = "assertText"
	StepAssertWindowTitle StepType = "assertWindowTitle"
	StepSetText           StepType = "setText"
	StepSetChecked        StepType = "setChecked"
	StepSelectTab         StepType = "selectTab"
	StepDoAction          StepType = "doAction"
	StepWaitUntil         StepType = "waitUntil"

	// Flow control and scripting
	StepSleep           StepType = "sleep"
	StepDefineVariables StepType = "defineVariables"
	StepEvalScript      StepType = "evalScript"
	StepAssertTrue      StepType = "assertTrue"
	StepRetry           StepType = "retry"

	// Diagnostics
	StepTakeScreenshot StepType = "takeScreenshot"

	// Suites
	StepPrintCombinations StepType = "printCombinations"
)

// Step is the interface for all scenario steps.
type Step interface {
	Type() StepType
	IsOptional() bool
	Label() string
	Describe() string
}

// BaseStep contains common fields for all steps.
type BaseStep struct {
	StepType  StepType `yaml:"-"`
	Optional  bool     `yaml:"optional"`
	StepLabel string   `yaml:"label"`
	TimeoutMs int      `yaml:"timeout"`
}

// Type returns the step type.
func (b *BaseStep) Type() StepType { return b.StepType }

// IsOptional returns whether the step is optional.
func (b *BaseStep) IsOptional() bool { return b.Optional }

// Label returns the step label.
func (b *BaseStep) Label() string { return b.StepLabel }

// Describe returns a human-readable description.
func (b *BaseStep) Describe() string { return string(b.StepType) }

// ============================================
// Application lifecycle steps
// ============================================

// Launch methods for startApp and ensureRunning.
const (
	ViaCommand = "command"
	ViaMenu    = "menu"
)

// Close methods for closeApp.
const (
	CloseViaShortcut = "shortcut"
	CloseViaKill     = "kill"
)

// StartAppStep starts the application, retrying with recovery.
type StartAppStep struct {
	BaseStep          `yaml:",inline"`
	Via               string `yaml:"via"`
	ThroughCategories bool   `yaml:"throughCategories"`
}

// EnsureRunningStep starts the application unless it is already running.
type EnsureRunningStep struct {
	BaseStep `yaml:",inline"`
	Via      string `yaml:"via"`
}

// CloseAppStep closes the application by shortcut or by killing it.
type CloseAppStep struct {
	BaseStep `yaml:",inline"`
	Via      string `yaml:"via"`
}

// KillAppStep kills the application.
type KillAppStep struct {
	BaseStep `yaml:",inline"`
}

// AssertRunningStep asserts the application is registered.
type AssertRunningStep struct {
	BaseStep `yaml:",inline"`
}

// AssertNotRunningStep asserts the application is gone.
type AssertNotRunningStep struct {
	BaseStep `yaml:",inline"`
}

// WaitForWindowStep waits for a showing top-level window.
type WaitForWindowStep struct {
	BaseStep `yaml:",inline"`
}

// ============================================
// Input steps
// ============================================

// PressStep sends a key combination such as "<Control><Q>" or "ctrl+p".
type PressStep struct {
	BaseStep `yaml:",inline"`
	Keys     string `yaml:"keys"`
}

// PressKeyStep presses a single key.
type PressKeyStep struct {
	BaseStep `yaml:",inline"`
	Key      string `yaml:"key"`
	Repeat   int    `yaml:"repeat"`
}

// TypeTextStep types text with the configured typing delay.
type TypeTextStep struct {
	BaseStep `yaml:",inline"`
	Text     string `yaml:"text"`
}

// ClickStep clicks the centre of a node, or a screen point when x and y are
// given.
type ClickStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:",inline"`
	X        *int     `yaml:"x"`
	Y        *int     `yaml:"y"`
	Button   int      `yaml:"button"`
}

// IsPoint reports whether the click targets screen coordinates.
func (s *ClickStep) IsPoint() bool { return s.X != nil && s.Y != nil }

// ============================================
// Accessibility tree steps
// ============================================

// AssertVisibleStep asserts a node exists.
type AssertVisibleStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:",inline"`
}

// AssertNotVisibleStep asserts no node matches.
type AssertNotVisibleStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:",inline"`
}

// AssertTextStep checks a node's text contents.
type AssertTextStep struct {
	BaseStep `yaml:",inline"`
	Element  Selector `yaml:"element"`
	Equals   *string  `yaml:"equals"`
	Contains string   `yaml:"contains"`
}

// AssertWindowTitleStep checks the title of the application's window.
type AssertWindowTitleStep struct {
	BaseStep `yaml:",inline"`
	Title    string `yaml:"title"`
	Contains string `yaml:"contains"`
}

// SetTextStep replaces an editable node's text.
type SetTextStep struct {
	BaseStep `yaml:",inline"`
	Element  Selector `yaml:"element"`
	Text     string   `yaml:"text"`
}

// SetCheckedStep clicks a check box or toggle only when its state differs.
type SetCheckedStep struct {
	BaseStep `yaml:",inline"`
	Element  Selector `yaml:"element"`
	Checked  *bool    `yaml:"checked"`
}

// Want is the requested state; checked unless stated otherwise.
func (s *SetCheckedStep) Want() bool { return s.Checked == nil || *s.Checked }

// SelectTabStep selects a page tab.
type SelectTabStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:",inline"`
}

// DoActionStep invokes a named accessible action.
type DoActionStep struct {
	BaseStep `yaml:",inline"`
	Element  Selector `yaml:"element"`
	Action   string   `yaml:"action"`
}

// WaitUntilStep waits for a node to appear or disappear.
type WaitUntilStep struct {
	BaseStep   `yaml:",inline"`
	Visible    *Selector `yaml:"visible"`
	NotVisible *Selector `yaml:"notVisible"`
}

// ============================================
// Flow control and scripting steps
// ============================================

// SleepStep pauses the scenario.
type SleepStep struct {
	BaseStep `yaml:",inline"`
	Ms       int `yaml:"ms"`
}

// DefineVariablesStep defines variables.
type DefineVariablesStep struct {
	BaseStep `yaml:",inline"`
	Env      map[string]string `yaml:"env"`
}

// EvalScriptStep evaluates JavaScript.
type EvalScriptStep struct {
	BaseStep `yaml:",inline"`
	Script   string `yaml:"script"`
}

// AssertTrueStep asserts a JavaScript expression is truthy.
type AssertTrueStep struct {
	BaseStep `yaml:",inline"`
	Script   string `yaml:"script"`
}

// RetryStep retries steps on failure.
type RetryStep struct {
	BaseStep   `yaml:",inline"`
	MaxRetries string `yaml:"maxRetries"` // String for variable support
	Steps      []Step `yaml:"-"`
}

// TakeScreenshotStep takes a screenshot.
type TakeScreenshotStep struct {
	BaseStep `yaml:",inline"`
	Path     string `yaml:"path"`
}

// PrintCombinationsStep prints test documents over a matrix of settings.
// Empty lists take the default matrix values.
type PrintCombinationsStep struct {
	BaseStep    `yaml:",inline"`
	Matrix      printmatrix.Matrix `yaml:",inline"`
	DocumentDir string             `yaml:"documentDir"`
	OutputDir   string             `yaml:"outputDir"`
}

// ============================================
// Describe() implementations for detailed output
// ============================================

func (s *StartAppStep) Describe() string {
	via := s.Via
	if via == "" {
		via = ViaCommand
	}
	if s.ThroughCategories {
		return "startApp via " + via + " through categories"
	}
	return "startApp via " + via
}

func (s *CloseAppStep) Describe() string {
	if s.Via == "" {
		return "closeApp via " + CloseViaShortcut
	}
	return "closeApp via " + s.Via
}

func (s *PressStep) Describe() string {
	return "press: " + s.Keys
}

func (s *PressKeyStep) Describe() string {
	if s.Repeat > 1 {
		return fmt.Sprintf("pressKey: %s x%d", s.Key, s.Repeat)
	}
	return "pressKey: " + s.Key
}

func (s *TypeTextStep) Describe() string {
	return fmt.Sprintf("typeText: %q", s.Text)
}

func (s *ClickStep) Describe() string {
	if s.IsPoint() {
		return fmt.Sprintf("click: %d,%d", *s.X, *s.Y)
	}
	return "click: " + s.Selector.Describe()
}

func (s *AssertVisibleStep) Describe() string {
	return "assertVisible: " + s.Selector.Describe()
}

func (s *AssertNotVisibleStep) Describe() string {
	return "assertNotVisible: " + s.Selector.Describe()
}

func (s *AssertTextStep) Describe() string {
	if s.Equals != nil {
		return fmt.Sprintf("assertText: %s == %q", s.Element.Describe(), *s.Equals)
	}
	return fmt.Sprintf("assertText: %s contains %q", s.Element.Describe(), s.Contains)
}

func (s *AssertWindowTitleStep) Describe() string {
	if s.Title != "" {
		return fmt.Sprintf("assertWindowTitle: %q", s.Title)
	}
	return fmt.Sprintf("assertWindowTitle contains %q", s.Contains)
}

func (s *SetTextStep) Describe() string {
	return fmt.Sprintf("setText: %s = %q", s.Element.Describe(), s.Text)
}

func (s *SetCheckedStep) Describe() string {
	return fmt.Sprintf("setChecked: %s = %t", s.Element.Describe(), s.Want())
}

func (s *SelectTabStep) Describe() string {
	return "selectTab: " + s.Selector.Describe()
}

func (s *DoActionStep) Describe() string {
	return fmt.Sprintf("doAction: %s on %s", s.Action, s.Element.Describe())
}

func (s *WaitUntilStep) Describe() string {
	if s.Visible != nil {
		return "waitUntil visible: " + s.Visible.Describe()
	}
	if s.NotVisible != nil {
		return "waitUntil notVisible: " + s.NotVisible.Describe()
	}
	return "waitUntil"
}

func (s *SleepStep) Describe() string {
	return fmt.Sprintf("sleep: %dms", s.Ms)
}

func (s *DefineVariablesStep) Describe() string {
	names := make([]string, 0, len(s.Env))
	for k := range s.Env {
		names = append(names, k)
	}
	sort.Strings(names)
	return "defineVariables: " + strings.Join(names, ", ")
}

func (s *AssertTrueStep) Describe() string {
	return "assertTrue: " + s.Script
}

func (s *RetryStep) Describe() string {
	if s.MaxRetries == "" {
		return fmt.Sprintf("retry: %d steps", len(s.Steps))
	}
	return fmt.Sprintf("retry: %d steps (max %s)", len(s.Steps), s.MaxRetries)
}

func (s *PrintCombinationsStep) Describe() string {
	return fmt.Sprintf("printCombinations: %d combinations", len(s.Matrix.WithDefaults().Combinations()))
}
