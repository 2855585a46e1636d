// Package executor runs parsed scenarios against the desktop and records the
// outcome in the report.
package executor

import (
	"context"
	"time"

	"github.com/devicelab-dev/desktop-runner/pkg/a11y"
	"github.com/devicelab-dev/desktop-runner/pkg/app"
	"github.com/devicelab-dev/desktop-runner/pkg/crash"
	"github.com/devicelab-dev/desktop-runner/pkg/desktop"
	"github.com/devicelab-dev/desktop-runner/pkg/diag"
	"github.com/devicelab-dev/desktop-runner/pkg/input"
	"github.com/devicelab-dev/desktop-runner/pkg/process"
)

// Env is the per-run context shared by hooks and steps. The runner is the
// only writer; hooks and steps run one at a time.
type Env struct {
	// AppConfig describes the application under test.
	AppConfig app.Config

	Tree       a11y.Tree
	Input      input.Injector
	Desktop    desktop.Resolver // nil uses the package manager
	Spawner    app.Spawner      // nil spawns real processes
	KillByName app.KillFunc     // nil kills real processes
	Sleep      app.SleepFunc    // nil sleeps for real

	// KillByCmdline kills by command-line substring when a start has to be
	// recovered; nil kills real processes.
	KillByCmdline app.KillFunc

	// Crashes is polled after every step; nil disables crash reporting.
	Crashes crash.Store
	// Diag takes screenshots, reads the journal and cleans up; nil disables those.
	Diag *diag.Collector
	// EnableA11y turns on the accessibility toolkit before the run.
	EnableA11y func(ctx context.Context) error

	// Search bounds widget lookups. Steps with a timeout override it.
	Search *a11y.SearchOptions
	// ScreenshotPath is where failure screenshots are taken.
	ScreenshotPath string

	// StartTime is when the run began; the journal is read from here.
	StartTime time.Time
	// App is the handle steps act on. BeforeAll creates it; scenarios with an
	// app override swap it for their duration.
	App *app.Handle
}

// NewApp creates a handle for cfg with the environment's collaborators.
func (e *Env) NewApp(ctx context.Context, cfg app.Config) (*app.Handle, error) {
	return app.New(ctx, cfg, app.Deps{
		Tree:       e.Tree,
		Input:      e.Input,
		Desktop:    e.Desktop,
		Spawner:    e.Spawner,
		KillByName: e.KillByName,
		Sleep:      e.Sleep,
	})
}

func (e *Env) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	return app.Sleep(ctx, d)
}

func (e *Env) killByName(ctx context.Context, name string) (int, error) {
	if e.KillByName != nil {
		return e.KillByName(ctx, name)
	}
	return process.KillByName(ctx, name)
}

func (e *Env) killByCmdline(ctx context.Context, pattern string) (int, error) {
	if e.KillByCmdline != nil {
		return e.KillByCmdline(ctx, pattern)
	}
	return process.KillByCmdline(ctx, pattern)
}
