package executor

import (
	"context"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/logger"
	"github.com/devicelab-dev/desktop-runner/pkg/report"
	"github.com/devicelab-dev/desktop-runner/pkg/scenario"
)

// RunnerConfig configures the test runner.
type RunnerConfig struct {
	OutputDir  string            // Report output directory
	StopOnFail bool              // Skip remaining scenarios after the first failure
	Env        map[string]string // Variables visible to every scenario

	// Host/App info for reports
	Host report.Host
	App  report.App

	// Runner metadata
	RunnerVersion string

	// Hooks around scenarios and steps; nil runs none.
	Hooks Hooks

	// Live progress callbacks
	OnScenarioStart func(idx, total int, name, file string)
	OnStepComplete  func(idx int, desc string, status core.StepStatus, durationMs int64, err string)
	OnNestedStep    func(depth int, desc string, status core.StepStatus, durationMs int64, err string)
	OnScenarioEnd   func(name string, status report.Status, durationMs int64)
}

// RunResult contains the outcome of a test run.
type RunResult struct {
	Status           report.Status
	TotalScenarios   int
	PassedScenarios  int
	FailedScenarios  int
	SkippedScenarios int
	Duration         int64 // Total duration in milliseconds
	ScenarioResults  []ScenarioResult
}

// ScenarioResult contains the outcome of a single scenario.
type ScenarioResult struct {
	ID           string
	Name         string
	Status       report.Status
	Duration     int64
	Error        string
	StepsTotal   int
	StepsPassed  int
	StepsFailed  int
	StepsSkipped int
}

// Runner executes scenarios one after another against a single desktop.
type Runner struct {
	config RunnerConfig
	env    *Env
}

// New creates a new Runner.
func New(env *Env, cfg RunnerConfig) *Runner {
	if cfg.Hooks == nil {
		cfg.Hooks = NopHooks{}
	}
	return &Runner{config: cfg, env: env}
}

// Run executes all scenarios and writes the report.
func (r *Runner) Run(ctx context.Context, scenarios []*scenario.Scenario) (*RunResult, error) {
	index, details := report.BuildSkeleton(scenarios, report.BuilderConfig{
		OutputDir:     r.config.OutputDir,
		Host:          r.config.Host,
		App:           r.config.App,
		RunnerVersion: r.config.RunnerVersion,
	})
	if err := report.WriteSkeleton(r.config.OutputDir, index, details); err != nil {
		return nil, err
	}

	writer := report.NewWriter(r.config.OutputDir, index, details)
	writer.Start()

	r.config.Hooks.BeforeAll(ctx, r.env)

	results := r.executeScenarios(ctx, scenarios, writer)

	writer.End()
	return r.buildRunResult(results), nil
}

// executeScenarios runs scenarios in order. After a cancellation, or a
// failure with StopOnFail, the rest are recorded as skipped.
func (r *Runner) executeScenarios(ctx context.Context, scenarios []*scenario.Scenario, writer *report.Writer) []ScenarioResult {
	results := make([]ScenarioResult, len(scenarios))
	stopReason := ""

	for i, scn := range scenarios {
		if stopReason == "" && ctx.Err() != nil {
			stopReason = "run cancelled"
		}
		if stopReason != "" {
			results[i] = r.skipScenario(i, scn, writer, stopReason)
			continue
		}

		sr := &scenarioRunner{
			scn:    scn,
			idx:    i,
			total:  len(scenarios),
			env:    r.env,
			config: r.config,
			hooks:  r.config.Hooks,
			writer: writer,
		}
		results[i] = sr.Run(ctx)

		if r.config.StopOnFail && results[i].Status.IsFailure() {
			logger.Info("stopping after failed scenario %s", results[i].Name)
			stopReason = "run stopped"
		}
	}
	return results
}

func (r *Runner) skipScenario(i int, scn *scenario.Scenario, writer *report.Writer, reason string) ScenarioResult {
	writer.SkipRemaining(i, 0)
	writer.ScenarioEnd(i, report.StatusSkipped, nil, nil)

	entry := writer.Index().Scenarios[i]
	return ScenarioResult{
		ID:           entry.ID,
		Name:         entry.Name,
		Status:       report.StatusSkipped,
		Error:        reason,
		StepsTotal:   len(scn.Steps),
		StepsSkipped: len(scn.Steps),
	}
}

// buildRunResult aggregates scenario results into a run result.
func (r *Runner) buildRunResult(results []ScenarioResult) *RunResult {
	result := &RunResult{
		TotalScenarios:  len(results),
		ScenarioResults: results,
	}

	for _, sr := range results {
		result.Duration += sr.Duration
		switch sr.Status {
		case report.StatusPassed, report.StatusWarned:
			result.PassedScenarios++
		case report.StatusFailed, report.StatusErrored:
			result.FailedScenarios++
		case report.StatusSkipped:
			result.SkippedScenarios++
		}
	}

	if result.FailedScenarios > 0 {
		result.Status = report.StatusFailed
	} else {
		result.Status = report.StatusPassed // All passed or skipped
	}
	return result
}
