package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/jsengine"
	"github.com/devicelab-dev/desktop-runner/pkg/scenario"
)

// envVarPattern matches ALL_CAPS identifiers that look like env variables
var envVarPattern = regexp.MustCompile(`\b([A-Z][A-Z0-9_]{2,})\b`)

// ScriptEngine handles JavaScript execution and variable management.
type ScriptEngine struct {
	js          *jsengine.Engine
	variables   map[string]string
	scenarioDir string // Directory of the current scenario (for resolving relative paths)
}

// NewScriptEngine creates a new script engine.
func NewScriptEngine() *ScriptEngine {
	return &ScriptEngine{
		js:        jsengine.New(),
		variables: make(map[string]string),
	}
}

// SetScenarioDir sets the directory relative paths are resolved against.
func (se *ScriptEngine) SetScenarioDir(dir string) {
	se.scenarioDir = dir
}

// SetVariable sets a variable in both Go map and JS engine.
func (se *ScriptEngine) SetVariable(name, value string) {
	se.variables[name] = value
	se.js.SetVariable(name, value)
}

// SetVariables sets multiple variables.
func (se *ScriptEngine) SetVariables(vars map[string]string) {
	for k, v := range vars {
		se.SetVariable(k, v)
	}
}

// ImportSystemEnv imports upper-case environment variables such as HOME or
// DISPLAY into the script engine.
func (se *ScriptEngine) ImportSystemEnv() {
	for _, env := range os.Environ() {
		name, value, ok := strings.Cut(env, "=")
		if ok && envVarPattern.MatchString(name) {
			se.SetVariable(name, value)
		}
	}
}

// GetVariable returns a variable value.
func (se *ScriptEngine) GetVariable(name string) string {
	return se.variables[name]
}

// SetAppName sets desktop.appName.
func (se *ScriptEngine) SetAppName(name string) {
	se.js.SetAppName(name)
}

// SetCopiedText records the last text read from or written to a widget.
func (se *ScriptEngine) SetCopiedText(text string) {
	se.js.SetCopiedText(text)
}

// CopiedText returns desktop.copiedText.
func (se *ScriptEngine) CopiedText() string {
	return se.js.CopiedText()
}

// SyncOutputToVariables copies JS output back to variables.
func (se *ScriptEngine) SyncOutputToVariables() {
	for k, v := range se.js.Output() {
		se.SetVariable(k, fmt.Sprintf("%v", v))
	}
}

// ExpandVariables expands ${expr} and $VAR syntax in text.
func (se *ScriptEngine) ExpandVariables(text string) string {
	if !strings.Contains(text, "$") {
		return text
	}
	text = se.js.ExpandVariables(text)
	return se.expandDollarVars(text)
}

// expandDollarVars expands $VAR syntax (without braces) using stored variables.
func (se *ScriptEngine) expandDollarVars(text string) string {
	// Longest first, so $OUTPUT_DIR is not eaten by $OUTPUT.
	names := make([]string, 0, len(se.variables))
	for name := range se.variables {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return len(names[i]) > len(names[j])
	})

	for _, name := range names {
		text = expandDollarVar(text, name, se.variables[name])
	}
	return text
}

// expandDollarVar replaces $VAR with value, checking word boundaries.
func expandDollarVar(text, name, value string) string {
	pattern := "$" + name
	idx := 0
	for {
		pos := strings.Index(text[idx:], pattern)
		if pos == -1 {
			break
		}
		pos += idx

		endPos := pos + len(pattern)
		if endPos < len(text) {
			next := text[endPos]
			if (next >= 'a' && next <= 'z') || (next >= 'A' && next <= 'Z') ||
				(next >= '0' && next <= '9') || next == '_' {
				idx = endPos
				continue
			}
		}

		text = text[:pos] + value + text[endPos:]
		idx = pos + len(value)
	}
	return text
}

// defineMissing pre-defines ALL_CAPS names used by script as undefined, so
// optional variables are falsy rather than a ReferenceError.
func (se *ScriptEngine) defineMissing(script string) {
	for _, name := range envVarPattern.FindAllString(script, -1) {
		se.js.DefineUndefinedIfMissing(name)
	}
}

// EvalCondition evaluates script with JavaScript truthiness.
func (se *ScriptEngine) EvalCondition(ctx context.Context, script string) (bool, error) {
	script = se.expandDollarVars(extractJS(script))
	se.defineMissing(script)
	return se.js.EvalBool(ctx, script)
}

// ResolvePath resolves a relative path against the scenario directory.
func (se *ScriptEngine) ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) || se.scenarioDir == "" {
		return path
	}
	return filepath.Join(se.scenarioDir, path)
}

// ============================================
// Step Execution Helpers
// ============================================

// ExecuteDefineVariables handles defineVariables step.
func (se *ScriptEngine) ExecuteDefineVariables(step *scenario.DefineVariablesStep) *core.CommandResult {
	for k, v := range step.Env {
		se.SetVariable(k, se.ExpandVariables(v))
	}
	return core.Success(fmt.Sprintf("Defined %d variable(s)", len(step.Env)), nil)
}

// ExecuteEvalScript handles evalScript step.
func (se *ScriptEngine) ExecuteEvalScript(ctx context.Context, step *scenario.EvalScriptStep) *core.CommandResult {
	script := extractJS(step.Script)
	se.defineMissing(script)
	if _, err := se.js.EvalContext(ctx, script); err != nil {
		return core.Failure(err, fmt.Sprintf("Eval failed: %v", err))
	}
	se.SyncOutputToVariables()
	return core.Success("Eval completed", nil)
}

// extractJS extracts JavaScript from ${...} wrapper if present.
func extractJS(script string) string {
	script = strings.TrimSpace(script)
	if strings.HasPrefix(script, "${") && strings.HasSuffix(script, "}") {
		return script[2 : len(script)-1]
	}
	return script
}

// ExecuteAssertTrue handles assertTrue step.
func (se *ScriptEngine) ExecuteAssertTrue(ctx context.Context, step *scenario.AssertTrueStep) *core.CommandResult {
	ok, err := se.EvalCondition(ctx, step.Script)
	if err != nil {
		return core.Failure(err, fmt.Sprintf("Assertion evaluation failed: %v", err))
	}
	if !ok {
		return core.Failure(core.ErrConditionNotMet.WithMessagef("assertTrue failed: %s", step.Script), "")
	}
	return core.Success("Assertion passed", nil)
}

// ParseInt parses an integer from string, supporting variable expansion.
func (se *ScriptEngine) ParseInt(s string, defaultVal int) int {
	s = se.ExpandVariables(s)
	s = strings.ReplaceAll(s, "_", "") // Support 10_000 format
	if val, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return val
	}
	return defaultVal
}

// ExpandStep expands variables in the string fields of a step, in place.
func (se *ScriptEngine) ExpandStep(step scenario.Step) {
	switch s := step.(type) {
	case *scenario.PressStep:
		s.Keys = se.ExpandVariables(s.Keys)
	case *scenario.PressKeyStep:
		s.Key = se.ExpandVariables(s.Key)
	case *scenario.TypeTextStep:
		s.Text = se.ExpandVariables(s.Text)
	case *scenario.ClickStep:
		se.expandSelector(&s.Selector)
	case *scenario.AssertVisibleStep:
		se.expandSelector(&s.Selector)
	case *scenario.AssertNotVisibleStep:
		se.expandSelector(&s.Selector)
	case *scenario.AssertTextStep:
		se.expandSelector(&s.Element)
		if s.Equals != nil {
			v := se.ExpandVariables(*s.Equals)
			s.Equals = &v
		}
		s.Contains = se.ExpandVariables(s.Contains)
	case *scenario.AssertWindowTitleStep:
		s.Title = se.ExpandVariables(s.Title)
		s.Contains = se.ExpandVariables(s.Contains)
	case *scenario.SetTextStep:
		se.expandSelector(&s.Element)
		s.Text = se.ExpandVariables(s.Text)
	case *scenario.SetCheckedStep:
		se.expandSelector(&s.Element)
	case *scenario.SelectTabStep:
		se.expandSelector(&s.Selector)
	case *scenario.DoActionStep:
		se.expandSelector(&s.Element)
		s.Action = se.ExpandVariables(s.Action)
	case *scenario.WaitUntilStep:
		if s.Visible != nil {
			se.expandSelector(s.Visible)
		}
		if s.NotVisible != nil {
			se.expandSelector(s.NotVisible)
		}
	case *scenario.TakeScreenshotStep:
		s.Path = se.ResolvePath(se.ExpandVariables(s.Path))
	case *scenario.PrintCombinationsStep:
		s.DocumentDir = se.ResolvePath(se.ExpandVariables(s.DocumentDir))
		s.OutputDir = se.ExpandVariables(s.OutputDir)
	}
}

// expandSelector expands variables in selector fields, including its scopes.
func (se *ScriptEngine) expandSelector(sel *scenario.Selector) {
	for cur := sel; cur != nil; cur = cur.In {
		cur.Role = se.ExpandVariables(cur.Role)
		cur.Name = se.ExpandVariables(cur.Name)
		cur.Contains = se.ExpandVariables(cur.Contains)
	}
}
