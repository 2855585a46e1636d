package executor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/logger"
	"github.com/devicelab-dev/desktop-runner/pkg/report"
	"github.com/devicelab-dev/desktop-runner/pkg/scenario"
	"github.com/devicelab-dev/desktop-runner/pkg/wait"
)

// defaultMaxRetries applies when a retry step does not set maxRetries.
const defaultMaxRetries = 1

// scenarioRunner executes a single scenario.
type scenarioRunner struct {
	scn    *scenario.Scenario
	idx    int
	total  int
	env    *Env
	config RunnerConfig
	hooks  Hooks
	writer *report.Writer
	script *ScriptEngine
}

// Run executes the scenario: onStart, the steps (bounded by timeLimit),
// onComplete, then the after-scenario hook.
func (sr *scenarioRunner) Run(ctx context.Context) ScenarioResult {
	entry := sr.writer.Index().Scenarios[sr.idx]
	logger.Info("scenario %s: %s (%s)", entry.ID, entry.Name, sr.scn.SourcePath)
	if cb := sr.config.OnScenarioStart; cb != nil {
		cb(sr.idx, sr.total, entry.Name, sr.scn.SourcePath)
	}
	sr.writer.ScenarioStart(sr.idx)
	start := time.Now()

	var (
		status core.StepStatus
		runErr error
	)
	restore, err := sr.setup(ctx)
	if err != nil {
		logger.Error("scenario %s setup: %v", entry.ID, err)
		status, runErr = core.StatusForError(err), err
		sr.writer.SkipRemaining(sr.idx, 0)
	} else {
		status, runErr = sr.runWithinLimit(ctx)
		if err := sr.runHookSteps(ctx, "onComplete", sr.scn.Config.OnComplete); err != nil {
			logger.Warn("scenario %s: %v", entry.ID, err)
		}
	}

	atts := sr.hooks.AfterScenario(context.WithoutCancel(ctx), sr.env)
	if restore != nil {
		restore()
	}

	rs := report.FromStepStatus(status)
	sr.writer.ScenarioEnd(sr.idx, rs, runErr, atts)
	duration := time.Since(start).Milliseconds()
	logger.Info("scenario %s: %s in %dms", entry.ID, rs, duration)
	if cb := sr.config.OnScenarioEnd; cb != nil {
		cb(entry.Name, rs, duration)
	}

	return sr.result(rs, runErr, duration)
}

// setup prepares the script engine and, when the scenario overrides the
// application, a handle for it. restore puts the run's handle back.
func (sr *scenarioRunner) setup(ctx context.Context) (func(), error) {
	se := NewScriptEngine()
	se.ImportSystemEnv()
	se.SetVariables(sr.config.Env)
	for k, v := range sr.scn.Config.Env {
		se.SetVariable(k, se.ExpandVariables(v))
	}
	if sr.scn.SourcePath != "" {
		se.SetScenarioDir(filepath.Dir(sr.scn.SourcePath))
	}
	sr.script = se

	restore := func() {}
	if o := sr.scn.Config.App; !o.IsZero() {
		cfg := sr.env.AppConfig
		if o.Command != "" {
			cfg.Command = o.Command
			cfg.DesktopFileName = ""
			cfg.A11yName = ""
		}
		if o.Args != nil {
			cfg.Args = o.Args
		}
		if o.A11yName != "" {
			cfg.A11yName = o.A11yName
		}
		handle, err := sr.env.NewApp(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("app override: %w", err)
		}
		prev := sr.env.App
		sr.env.App = handle
		restore = func() { sr.env.App = prev }
	}

	if sr.env.App != nil {
		se.SetAppName(sr.env.App.Name())
	}
	return restore, nil
}

// runWithinLimit runs the scenario body, aborting it once the scenario's
// time limit has elapsed. It returns only after the body has stopped.
func (sr *scenarioRunner) runWithinLimit(ctx context.Context) (core.StepStatus, error) {
	limit := time.Duration(sr.scn.Config.TimeLimit) * time.Millisecond
	if limit <= 0 {
		return sr.runBody(ctx)
	}

	var (
		status  core.StepStatus
		bodyErr error
	)
	done := make(chan struct{})
	_, err := wait.RunWithin(ctx, limit, "", func(ctx context.Context) (struct{}, error) {
		defer close(done)
		status, bodyErr = sr.runBody(ctx)
		return struct{}{}, bodyErr
	})
	<-done

	// The body can notice the deadline and return before RunWithin does.
	expired := ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded)
	if errors.Is(err, core.ErrTimeLimitExceeded) || expired {
		logger.Warn("scenario %s exceeded its time limit of %v", sr.scn.Name(), limit)
		sr.writer.SkipRemaining(sr.idx, 0)
		return core.StatusErrored, core.ErrTimeLimitExceeded.
			WithMessagef("scenario exceeded its time limit of %v", limit).
			WithCause(err)
	}
	if err != nil && bodyErr == nil {
		return core.StatusErrored, err
	}
	return status, bodyErr
}

// runBody runs onStart and then the steps. A failed required step skips the
// rest; failed optional steps only downgrade the scenario to warned.
func (sr *scenarioRunner) runBody(ctx context.Context) (core.StepStatus, error) {
	if err := sr.runHookSteps(ctx, "onStart", sr.scn.Config.OnStart); err != nil {
		sr.writer.SkipRemaining(sr.idx, 0)
		status := core.StatusForError(err)
		if status == core.StatusPassed {
			status = core.StatusFailed
		}
		return status, err
	}

	status := core.StatusPassed
	for i, step := range sr.scn.Steps {
		if err := ctx.Err(); err != nil {
			sr.writer.SkipRemaining(sr.idx, i)
			return core.StatusErrored, err
		}
		st, err := sr.executeStep(ctx, i, step)
		switch st {
		case core.StatusWarned:
			status = core.StatusWarned
		case core.StatusFailed, core.StatusErrored:
			sr.writer.SkipRemaining(sr.idx, i+1)
			return st, err
		}
	}
	return status, nil
}

// runHookSteps runs onStart or onComplete steps. They are not part of the
// report's command list; progress goes to the nested-step callback.
func (sr *scenarioRunner) runHookSteps(ctx context.Context, phase string, steps []scenario.Step) error {
	for _, step := range steps {
		start := time.Now()
		result, _ := sr.runStep(ctx, step, 1)
		status := stepStatus(step, result)
		sr.nested(1, step, status, start, result)
		if status.IsFailure() {
			err := result.Error
			if err == nil {
				err = errors.New(result.Message)
			}
			return fmt.Errorf("%s step %q: %w", phase, step.Describe(), err)
		}
	}
	return nil
}

// executeStep runs a top-level step and records it in the report.
func (sr *scenarioRunner) executeStep(ctx context.Context, i int, step scenario.Step) (core.StepStatus, error) {
	sr.writer.CommandStart(sr.idx, i)
	start := time.Now()

	result, subs := sr.runStep(ctx, step, 0)
	status := stepStatus(step, result)

	atts := resultAttachments(result)
	atts = append(atts, sr.hooks.AfterStep(context.WithoutCancel(ctx), sr.env, status)...)
	sr.writer.CommandEnd(sr.idx, i, commandEnd(result, status, atts, subs))

	duration := time.Since(start).Milliseconds()
	errMsg := ""
	if !result.Success {
		errMsg = result.Message
		logger.Warn("step %d %s %s: %s", i, step.Describe(), status, errMsg)
	} else {
		logger.Debug("step %d %s passed in %dms", i, step.Describe(), duration)
	}
	if cb := sr.config.OnStepComplete; cb != nil {
		cb(i, step.Describe(), status, duration, errMsg)
	}

	if status.IsFailure() {
		return status, result.Error
	}
	return status, nil
}

// runStep expands variables in step and executes it. Retry steps return
// their inner commands for the report.
func (sr *scenarioRunner) runStep(ctx context.Context, step scenario.Step, depth int) (*core.CommandResult, []report.Command) {
	sr.script.ExpandStep(step)
	start := time.Now()

	var (
		result *core.CommandResult
		subs   []report.Command
	)
	if r, ok := step.(*scenario.RetryStep); ok {
		result, subs = sr.executeRetry(ctx, r, depth)
	} else {
		result = sr.execute(ctx, step)
	}
	result.Duration = time.Since(start)
	return result, subs
}

// executeRetry runs the retry body until an attempt passes, up to
// 1+maxRetries attempts. The returned commands describe the last attempt.
func (sr *scenarioRunner) executeRetry(ctx context.Context, step *scenario.RetryStep, depth int) (*core.CommandResult, []report.Command) {
	maxRetries := sr.script.ParseInt(step.MaxRetries, defaultMaxRetries)
	if maxRetries < 0 {
		maxRetries = 0
	}

	var (
		subs    []report.Command
		lastErr error
	)
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts++
		subs = report.BuildCommands(step.Steps)
		failed := false

		for j, inner := range step.Steps {
			if failed {
				subs[j].Status = report.StatusSkipped
				continue
			}
			start := time.Now()
			result, nested := sr.runStep(ctx, inner, depth+1)
			status := stepStatus(inner, result)
			fillCommand(&subs[j], result, status, start, nested)
			sr.nested(depth+1, inner, status, start, result)
			if status.IsFailure() {
				failed = true
				lastErr = result.Error
			}
		}

		if !failed {
			return core.Success(fmt.Sprintf("Passed on attempt %d", attempts), nil), subs
		}
		if ctx.Err() != nil {
			break
		}
		logger.Info("retry attempt %d of %d failed: %v", attempts, maxRetries+1, lastErr)
	}

	if lastErr == nil {
		lastErr = core.ErrConditionNotMet.WithMessage("retry body failed")
	}
	return core.Failure(lastErr, fmt.Sprintf("Failed after %d attempt(s): %v", attempts, lastErr)), subs
}

func (sr *scenarioRunner) nested(depth int, step scenario.Step, status core.StepStatus, start time.Time, result *core.CommandResult) {
	cb := sr.config.OnNestedStep
	if cb == nil {
		return
	}
	errMsg := ""
	if !result.Success {
		errMsg = result.Message
	}
	cb(depth, step.Describe(), status, time.Since(start).Milliseconds(), errMsg)
}

// result summarizes the scenario from its report entry.
func (sr *scenarioRunner) result(status report.Status, err error, duration int64) ScenarioResult {
	entry := sr.writer.Index().Scenarios[sr.idx]
	res := ScenarioResult{
		ID:           entry.ID,
		Name:         entry.Name,
		Status:       status,
		Duration:     duration,
		StepsTotal:   entry.Commands.Total,
		StepsPassed:  entry.Commands.Passed,
		StepsFailed:  entry.Commands.Failed,
		StepsSkipped: entry.Commands.Skipped,
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// stepStatus maps a result to a step status. Optional steps that fail are
// warned instead.
func stepStatus(step scenario.Step, r *core.CommandResult) core.StepStatus {
	if r.Success {
		return core.StatusPassed
	}
	if step.IsOptional() {
		return core.StatusWarned
	}
	return r.Status()
}

func fillCommand(c *report.Command, r *core.CommandResult, status core.StepStatus, start time.Time, subs []report.Command) {
	end := time.Now()
	duration := end.Sub(start).Milliseconds()
	c.Status = report.FromStepStatus(status)
	c.StartTime = &start
	c.EndTime = &end
	c.Duration = &duration
	c.Message = r.Message
	c.Element = report.NewElement(r.Element)
	if !r.Success {
		c.Error = report.NewError(r.Error)
	}
	if subs != nil {
		c.SubCommands = subs
	}
}
