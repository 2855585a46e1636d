package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devicelab-dev/desktop-runner/pkg/a11y"
	"github.com/devicelab-dev/desktop-runner/pkg/app"
	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/diag"
	"github.com/devicelab-dev/desktop-runner/pkg/input"
	"github.com/devicelab-dev/desktop-runner/pkg/logger"
	"github.com/devicelab-dev/desktop-runner/pkg/printmatrix"
	"github.com/devicelab-dev/desktop-runner/pkg/scenario"
	"github.com/devicelab-dev/desktop-runner/pkg/wait"
)

// pressSettle follows every key combination.
const pressSettle = 500 * time.Millisecond

// execute dispatches a single non-retry step.
func (sr *scenarioRunner) execute(ctx context.Context, step scenario.Step) *core.CommandResult {
	switch s := step.(type) {
	// Application lifecycle
	case *scenario.StartAppStep:
		return sr.startApp(ctx, s)
	case *scenario.EnsureRunningStep:
		return sr.ensureRunning(ctx, s)
	case *scenario.CloseAppStep:
		return sr.closeApp(ctx, s)
	case *scenario.KillAppStep:
		return sr.killApp(ctx)
	case *scenario.AssertRunningStep:
		return sr.assertRunning(ctx)
	case *scenario.AssertNotRunningStep:
		return sr.assertNotRunning(ctx)
	case *scenario.WaitForWindowStep:
		return sr.waitForWindow(ctx)

	// Input
	case *scenario.PressStep:
		return sr.press(ctx, s)
	case *scenario.PressKeyStep:
		return sr.pressKey(ctx, s)
	case *scenario.TypeTextStep:
		return sr.typeText(ctx, s)
	case *scenario.ClickStep:
		return sr.click(ctx, s)

	// Accessibility tree
	case *scenario.AssertVisibleStep:
		return sr.assertVisible(ctx, &s.Selector, s.TimeoutMs)
	case *scenario.AssertNotVisibleStep:
		return sr.assertNotVisible(ctx, &s.Selector, s.TimeoutMs)
	case *scenario.AssertTextStep:
		return sr.assertText(ctx, s)
	case *scenario.AssertWindowTitleStep:
		return sr.assertWindowTitle(ctx, s)
	case *scenario.SetTextStep:
		return sr.setText(ctx, s)
	case *scenario.SetCheckedStep:
		return sr.setChecked(ctx, s)
	case *scenario.SelectTabStep:
		return sr.selectTab(ctx, s)
	case *scenario.DoActionStep:
		return sr.doAction(ctx, s)
	case *scenario.WaitUntilStep:
		return sr.waitUntil(ctx, s)

	// Flow control and scripting
	case *scenario.SleepStep:
		return sr.sleep(ctx, s)
	case *scenario.DefineVariablesStep:
		return sr.script.ExecuteDefineVariables(s)
	case *scenario.EvalScriptStep:
		return sr.script.ExecuteEvalScript(ctx, s)
	case *scenario.AssertTrueStep:
		return sr.script.ExecuteAssertTrue(ctx, s)

	// Diagnostics and suites
	case *scenario.TakeScreenshotStep:
		return sr.takeScreenshot(ctx, s)
	case *scenario.PrintCombinationsStep:
		return sr.printCombinations(ctx, s)
	}
	return core.Failure(core.ErrInvalidConfig.WithMessagef("unsupported step type %q", step.Type()), "")
}

// ============================================
// Application lifecycle
// ============================================

func (sr *scenarioRunner) app() (*app.Handle, error) {
	if sr.env.App == nil {
		return nil, core.ErrAppNotStarted.WithMessage("no application configured")
	}
	return sr.env.App, nil
}

func (sr *scenarioRunner) startApp(ctx context.Context, s *scenario.StartAppStep) *core.CommandResult {
	h, err := sr.app()
	if err != nil {
		return core.Failure(err, "")
	}
	var node a11y.Node
	if s.ThroughCategories {
		node, err = h.StartViaMenu(ctx, true)
	} else {
		node, err = h.StartWithRecovery(ctx, app.Via(s.Via), sr.recoverApp(h))
	}
	if err != nil {
		return core.Failure(err, fmt.Sprintf("Failed to start %s: %v", h.Name(), err))
	}
	return core.Success(fmt.Sprintf("Started %s", h.Name()), elementOf(ctx, node))
}

// recoverApp clears out a wedged instance between start attempts: every
// process whose command line mentions the application, then the cleanup
// command.
func (sr *scenarioRunner) recoverApp(h *app.Handle) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		pattern := strings.ToLower(h.Name())
		n, killErr := sr.env.killByCmdline(ctx, pattern)
		logger.Info("recovering %s: pkill -f %s signalled %d process(es)", h.Name(), pattern, n)
		var cleanupErr error
		if sr.env.Diag != nil {
			cleanupErr = sr.env.Diag.Cleanup(ctx)
		}
		return errors.Join(killErr, cleanupErr)
	}
}

func (sr *scenarioRunner) ensureRunning(ctx context.Context, s *scenario.EnsureRunningStep) *core.CommandResult {
	h, err := sr.app()
	if err != nil {
		return core.Failure(err, "")
	}
	running, err := h.IsRunning(ctx)
	if err != nil {
		return core.Failure(err, "")
	}
	if running {
		return core.Success(fmt.Sprintf("%s is already running", h.Name()), nil)
	}
	node, err := h.StartWithRecovery(ctx, app.Via(s.Via), sr.recoverApp(h))
	if err != nil {
		return core.Failure(err, fmt.Sprintf("Failed to start %s: %v", h.Name(), err))
	}
	return core.Success(fmt.Sprintf("Started %s", h.Name()), elementOf(ctx, node))
}

func (sr *scenarioRunner) closeApp(ctx context.Context, s *scenario.CloseAppStep) *core.CommandResult {
	h, err := sr.app()
	if err != nil {
		return core.Failure(err, "")
	}
	switch s.Via {
	case scenario.CloseViaShortcut, "":
		err = h.CloseViaShortcut(ctx)
	case scenario.CloseViaKill:
		err = h.Kill(ctx)
	default:
		err = core.ErrInvalidConfig.WithMessagef("unknown close method %q", s.Via)
	}
	if err != nil {
		return core.Failure(err, "")
	}
	return core.Success(fmt.Sprintf("Closed %s", h.Name()), nil)
}

func (sr *scenarioRunner) killApp(ctx context.Context) *core.CommandResult {
	h, err := sr.app()
	if err != nil {
		return core.Failure(err, "")
	}
	if err := h.Kill(ctx); err != nil {
		return core.Failure(err, "")
	}
	return core.Success(fmt.Sprintf("Killed %s", h.Name()), nil)
}

func (sr *scenarioRunner) assertRunning(ctx context.Context) *core.CommandResult {
	h, err := sr.app()
	if err != nil {
		return core.Failure(err, "")
	}
	node, err := h.AssertStarted(ctx)
	if err != nil {
		return core.Failure(err, "")
	}
	return core.Success(fmt.Sprintf("%s is running", h.Name()), elementOf(ctx, node))
}

func (sr *scenarioRunner) assertNotRunning(ctx context.Context) *core.CommandResult {
	h, err := sr.app()
	if err != nil {
		return core.Failure(err, "")
	}
	if err := h.AssertStopped(ctx); err != nil {
		return core.Failure(err, "")
	}
	return core.Success(fmt.Sprintf("%s is not running", h.Name()), nil)
}

func (sr *scenarioRunner) waitForWindow(ctx context.Context) *core.CommandResult {
	h, err := sr.app()
	if err != nil {
		return core.Failure(err, "")
	}
	node, err := h.WaitForWindow(ctx)
	if err != nil {
		return core.Failure(err, "")
	}
	return core.Success(fmt.Sprintf("%s has a window", h.Name()), elementOf(ctx, node))
}

// ============================================
// Input
// ============================================

func (sr *scenarioRunner) press(ctx context.Context, s *scenario.PressStep) *core.CommandResult {
	if _, err := input.ParseCombo(s.Keys); err != nil {
		return core.Failure(core.ErrInvalidConfig.WithMessage(err.Error()), "")
	}
	if err := sr.env.Input.KeyCombo(ctx, s.Keys); err != nil {
		return core.Failure(err, "")
	}
	if err := sr.env.sleep(ctx, pressSettle); err != nil {
		return core.Failure(err, "")
	}
	return core.Success("Pressed "+s.Keys, nil)
}

func (sr *scenarioRunner) pressKey(ctx context.Context, s *scenario.PressKeyStep) *core.CommandResult {
	n := s.Repeat
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		if err := sr.env.Input.PressKey(ctx, s.Key); err != nil {
			return core.Failure(err, "")
		}
	}
	return core.Success(fmt.Sprintf("Pressed %s x%d", s.Key, n), nil)
}

func (sr *scenarioRunner) typeText(ctx context.Context, s *scenario.TypeTextStep) *core.CommandResult {
	if err := sr.env.Input.TypeText(ctx, s.Text); err != nil {
		return core.Failure(err, "")
	}
	return core.Success(fmt.Sprintf("Typed %q", s.Text), nil)
}

func (sr *scenarioRunner) click(ctx context.Context, s *scenario.ClickStep) *core.CommandResult {
	button := s.Button
	if button == 0 {
		button = 1
	}
	if s.IsPoint() {
		if err := sr.env.Input.Click(ctx, *s.X, *s.Y, button); err != nil {
			return core.Failure(err, "")
		}
		return core.Success(fmt.Sprintf("Clicked %d,%d", *s.X, *s.Y), nil)
	}

	_, info, err := sr.resolve(ctx, &s.Selector, s.TimeoutMs)
	if err != nil {
		return core.Failure(err, "")
	}
	if info.Bounds.IsEmpty() {
		return core.Failure(core.ErrPrecondition.WithMessagef("%s has no on-screen extents", s.Selector.Describe()), "")
	}
	x, y := info.Bounds.Center()
	if err := sr.env.Input.Click(ctx, x, y, button); err != nil {
		return core.Failure(err, "")
	}
	return core.Success(fmt.Sprintf("Clicked %s", s.Selector.Describe()), info.Element())
}

// ============================================
// Accessibility tree
// ============================================

func (sr *scenarioRunner) assertVisible(ctx context.Context, sel *scenario.Selector, timeoutMs int) *core.CommandResult {
	_, info, err := sr.resolve(ctx, sel, timeoutMs)
	if err != nil {
		return core.Failure(err, "")
	}
	return core.Success("Element is visible", info.Element())
}

func (sr *scenarioRunner) assertNotVisible(ctx context.Context, sel *scenario.Selector, timeoutMs int) *core.CommandResult {
	if _, err := sr.checkSearch(sel); err != nil {
		return core.Failure(err, "")
	}
	gone, err := wait.Until(ctx, func(sel *scenario.Selector) (bool, error) {
		found, err := sr.present(ctx, sel)
		return !found, err
	}, sel, sr.waitOptions(timeoutMs))
	if gone {
		return core.Success("Element is not visible", nil)
	}
	if err != nil {
		return core.Failure(err, "")
	}
	return core.Failure(core.ErrElementStillVisible.WithMessagef("%s is still visible", sel.Describe()), "")
}

func (sr *scenarioRunner) assertText(ctx context.Context, s *scenario.AssertTextStep) *core.CommandResult {
	if _, err := sr.checkSearch(&s.Element); err != nil {
		return core.Failure(err, "")
	}
	var (
		text string
		elem *core.ElementInfo
	)
	matches := func(sel *scenario.Selector) (bool, error) {
		_, info, err := sr.lookup(ctx, sel)
		if err != nil {
			return false, err
		}
		text, elem = nodeText(info), info.Element()
		if s.Equals != nil {
			return text == *s.Equals, nil
		}
		return strings.Contains(text, s.Contains), nil
	}

	ok, err := wait.Until(ctx, matches, &s.Element, sr.waitOptions(s.TimeoutMs))
	if elem != nil {
		sr.script.SetCopiedText(text)
	}
	if ok {
		return core.Success(fmt.Sprintf("Text is %q", text), elem)
	}
	if err != nil {
		return core.Failure(notFound(ctx, &s.Element, err), "")
	}
	want := s.Contains
	if s.Equals != nil {
		want = *s.Equals
	}
	res := core.Failure(core.ErrTextMismatch.WithMessagef("%s text is %q, want %q", s.Element.Describe(), text, want), "")
	res.Element = elem
	return res
}

func (sr *scenarioRunner) assertWindowTitle(ctx context.Context, s *scenario.AssertWindowTitleStep) *core.CommandResult {
	frame := &scenario.Selector{Role: string(a11y.RoleFrame)}
	if _, err := sr.checkSearch(frame); err != nil {
		return core.Failure(err, "")
	}
	var title string
	ok, err := wait.Until(ctx, func(sel *scenario.Selector) (bool, error) {
		_, info, err := sr.lookup(ctx, sel)
		if err != nil {
			return false, err
		}
		title = info.Name
		if s.Title != "" {
			return title == s.Title, nil
		}
		return strings.Contains(title, s.Contains), nil
	}, frame, sr.waitOptions(s.TimeoutMs))
	if ok {
		return core.Success(fmt.Sprintf("Window title is %q", title), nil)
	}
	if err != nil {
		return core.Failure(notFound(ctx, frame, err), "")
	}
	want := s.Title
	if want == "" {
		want = s.Contains
	}
	return core.Failure(core.ErrTextMismatch.WithMessagef("window title is %q, want %q", title, want), "")
}

func (sr *scenarioRunner) setText(ctx context.Context, s *scenario.SetTextStep) *core.CommandResult {
	node, info, err := sr.resolve(ctx, &s.Element, s.TimeoutMs)
	if err != nil {
		return core.Failure(err, "")
	}
	if err := node.SetText(ctx, s.Text); err != nil {
		return core.Failure(err, "")
	}
	sr.script.SetCopiedText(s.Text)
	return core.Success(fmt.Sprintf("Set text of %s", s.Element.Describe()), info.Element())
}

func (sr *scenarioRunner) setChecked(ctx context.Context, s *scenario.SetCheckedStep) *core.CommandResult {
	node, info, err := sr.resolve(ctx, &s.Element, s.TimeoutMs)
	if err != nil {
		return core.Failure(err, "")
	}
	want := s.Want()
	if info.Checked() == want {
		return core.Success(fmt.Sprintf("%s already %s", s.Element.Describe(), checkedWord(want)), info.Element())
	}
	if err := node.DoAction(ctx, "click"); err != nil {
		return core.Failure(err, "")
	}

	ok, err := wait.Until(ctx, func(n a11y.Node) (bool, error) {
		info, err := n.Info(ctx)
		if err != nil {
			return false, err
		}
		return info.Checked() == want, nil
	}, node, sr.waitOptions(s.TimeoutMs))
	if !ok {
		e := core.ErrConditionNotMet.WithMessagef("%s did not become %s", s.Element.Describe(), checkedWord(want))
		if err != nil {
			e = e.WithCause(err)
		}
		return core.Failure(e, "")
	}
	return core.Success(fmt.Sprintf("%s %s", s.Element.Describe(), checkedWord(want)), elementOf(ctx, node))
}

func checkedWord(on bool) string {
	if on {
		return "checked"
	}
	return "unchecked"
}

func (sr *scenarioRunner) selectTab(ctx context.Context, s *scenario.SelectTabStep) *core.CommandResult {
	node, info, err := sr.resolve(ctx, &s.Selector, s.TimeoutMs)
	if err != nil {
		return core.Failure(err, "")
	}
	if err := node.Select(ctx); err != nil {
		return core.Failure(err, "")
	}
	return core.Success(fmt.Sprintf("Selected %s", s.Selector.Describe()), info.Element())
}

func (sr *scenarioRunner) doAction(ctx context.Context, s *scenario.DoActionStep) *core.CommandResult {
	action := s.Action
	if action == "" {
		action = "click"
	}
	node, info, err := sr.resolve(ctx, &s.Element, s.TimeoutMs)
	if err != nil {
		return core.Failure(err, "")
	}
	if err := node.DoAction(ctx, action); err != nil {
		return core.Failure(err, "")
	}
	return core.Success(fmt.Sprintf("Did %s on %s", action, s.Element.Describe()), info.Element())
}

func (sr *scenarioRunner) waitUntil(ctx context.Context, s *scenario.WaitUntilStep) *core.CommandResult {
	switch {
	case s.Visible != nil:
		return sr.assertVisible(ctx, s.Visible, s.TimeoutMs)
	case s.NotVisible != nil:
		return sr.assertNotVisible(ctx, s.NotVisible, s.TimeoutMs)
	}
	return core.Failure(core.ErrInvalidConfig.WithMessage("waitUntil needs visible or notVisible"), "")
}

// ============================================
// Flow control, diagnostics and suites
// ============================================

func (sr *scenarioRunner) sleep(ctx context.Context, s *scenario.SleepStep) *core.CommandResult {
	if err := sr.env.sleep(ctx, time.Duration(s.Ms)*time.Millisecond); err != nil {
		return core.Failure(err, "")
	}
	return core.Success(fmt.Sprintf("Slept %dms", s.Ms), nil)
}

func (sr *scenarioRunner) takeScreenshot(ctx context.Context, s *scenario.TakeScreenshotStep) *core.CommandResult {
	if sr.env.Diag == nil {
		return core.Failure(core.ErrPrecondition.WithMessage("screenshots are not available"), "")
	}
	path := s.Path
	if path == "" {
		path = sr.env.ScreenshotPath
	}
	if path == "" {
		path = diag.DefaultScreenshotPath
	}
	if err := sr.env.Diag.Screenshot(ctx, path); err != nil {
		return core.Failure(err, "")
	}
	res := core.Success("Saved screenshot to "+path, nil)
	res.Data = core.NewScreenshotAttachment(path)
	return res
}

func (sr *scenarioRunner) printCombinations(ctx context.Context, s *scenario.PrintCombinationsStep) *core.CommandResult {
	h, err := sr.app()
	if err != nil {
		return core.Failure(err, "")
	}
	d := &printmatrix.Driver{
		App:         h,
		DocumentDir: s.DocumentDir,
		OutputDir:   s.OutputDir,
		Search:      sr.searchOptions(s.TimeoutMs),
		Progress: func(n, total int, c printmatrix.Combination) {
			logger.Debug("print %d/%d %s", n, total, c.Filename())
		},
	}
	n, err := d.Run(ctx, s.Matrix.WithDefaults())
	if err != nil {
		return core.Failure(err, fmt.Sprintf("Printed %d combination(s) before failing: %v", n, err))
	}
	return core.Success(fmt.Sprintf("Printed %d combination(s)", n), nil)
}

// ============================================
// Node lookup
// ============================================

// searchOptions returns the run's search budget, with the step's timeout
// taking precedence.
func (sr *scenarioRunner) searchOptions(timeoutMs int) *a11y.SearchOptions {
	opts := a11y.SearchOptions{Timeout: a11y.DefaultSearchTimeout, Period: a11y.DefaultSearchPeriod}
	if s := sr.env.Search; s != nil {
		if s.Timeout > 0 {
			opts.Timeout = s.Timeout
		}
		if s.Period > 0 {
			opts.Period = s.Period
		}
	}
	if timeoutMs > 0 {
		opts.Timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return &opts
}

func (sr *scenarioRunner) waitOptions(timeoutMs int) *wait.Options {
	o := sr.searchOptions(timeoutMs)
	return &wait.Options{Timeout: o.Timeout, Period: o.Period}
}

// checkSearch rejects searches that no amount of polling can satisfy.
func (sr *scenarioRunner) checkSearch(sel *scenario.Selector) (*app.Handle, error) {
	h, err := sr.app()
	if err != nil {
		return nil, err
	}
	if sel.IsEmpty() && sel.In == nil {
		return nil, core.ErrInvalidConfig.WithMessage("empty selector")
	}
	return h, nil
}

// lookup finds the node sel describes inside the application, once. Each
// scope of the selector is searched under the previous one's match.
func (sr *scenarioRunner) lookup(ctx context.Context, sel *scenario.Selector) (a11y.Node, *a11y.Info, error) {
	h, err := sr.checkSearch(sel)
	if err != nil {
		return nil, nil, err
	}

	node, err := a11y.Application(ctx, sr.env.Tree, h.Name())
	if err != nil {
		return nil, nil, err
	}
	for _, s := range sel.Chain() {
		m := s.Matcher()
		matches, err := a11y.FindAll(ctx, node, m)
		if err != nil {
			return nil, nil, err
		}
		if len(matches) <= s.Index {
			return nil, nil, a11y.ErrNotFound.WithMessagef("no node matching %s", m)
		}
		node = matches[s.Index]
	}
	info, err := node.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	return node, info, nil
}

// resolve polls lookup until the node appears or the search budget is spent.
func (sr *scenarioRunner) resolve(ctx context.Context, sel *scenario.Selector, timeoutMs int) (a11y.Node, *a11y.Info, error) {
	if _, err := sr.checkSearch(sel); err != nil {
		return nil, nil, err
	}
	var (
		node a11y.Node
		info *a11y.Info
	)
	err := wait.Poll(ctx, func(ctx context.Context) error {
		var err error
		node, info, err = sr.lookup(ctx, sel)
		return err
	}, sr.waitOptions(timeoutMs))
	if err != nil {
		return nil, nil, notFound(ctx, sel, err)
	}
	return node, info, nil
}

// present reports whether sel matches right now. An application that is not
// registered has no visible nodes.
func (sr *scenarioRunner) present(ctx context.Context, sel *scenario.Selector) (bool, error) {
	_, _, err := sr.lookup(ctx, sel)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, a11y.ErrNotFound):
		return false, nil
	}
	return false, err
}

// notFound turns a search that ran out of time into an assertion failure
// naming the selector. Bus and cancellation errors are returned unchanged.
func notFound(ctx context.Context, sel *scenario.Selector, err error) error {
	if ctx.Err() != nil || !errors.Is(err, a11y.ErrNotFound) {
		return err
	}
	return core.ErrElementNotFound.WithMessagef("element not found: %s", sel.Describe()).WithCause(err)
}

func nodeText(info *a11y.Info) string {
	if info.Text != "" {
		return info.Text
	}
	return info.Name
}

func elementOf(ctx context.Context, node a11y.Node) *core.ElementInfo {
	if node == nil {
		return nil
	}
	info, err := node.Info(ctx)
	if err != nil {
		return nil
	}
	return info.Element()
}
