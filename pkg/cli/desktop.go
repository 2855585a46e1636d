package cli

import (
	"context"
	"time"

	"github.com/devicelab-dev/desktop-runner/pkg/app"
	"github.com/devicelab-dev/desktop-runner/pkg/atspi"
	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/crash"
	"github.com/devicelab-dev/desktop-runner/pkg/diag"
	"github.com/devicelab-dev/desktop-runner/pkg/executor"
	"github.com/devicelab-dev/desktop-runner/pkg/input"
	"github.com/devicelab-dev/desktop-runner/pkg/logger"
	"github.com/devicelab-dev/desktop-runner/pkg/process"
)

// desktopOptions configures the live session.
type desktopOptions struct {
	App            app.Config
	TypingDelay    time.Duration
	CleanupCommand string
	JournalUnit    string
	JournalSudo    bool
	ScreenshotPath string
}

// newDesktopEnv connects to the accessibility bus and the crash store and
// wires the real input and diagnostics. The returned cleanup closes the
// connections.
func newDesktopEnv(ctx context.Context, opts desktopOptions) (*executor.Env, func(), error) {
	client, err := atspi.Connect(ctx)
	if err != nil {
		return nil, nil, core.ErrBusBlocked.WithMessage("cannot reach the accessibility bus").WithCause(err)
	}

	env := &executor.Env{
		AppConfig:      opts.App,
		Tree:           client,
		Input:          input.NewXDoTool(opts.TypingDelay),
		KillByName:     process.KillByName,
		KillByCmdline:  process.KillByCmdline,
		EnableA11y:     atspi.Enable,
		ScreenshotPath: opts.ScreenshotPath,
		Diag: &diag.Collector{
			JournalUnit:    opts.JournalUnit,
			JournalSudo:    opts.JournalSudo,
			CleanupCommand: opts.CleanupCommand,
			KillByName:     process.KillByName,
		},
	}

	// Crash reporting is optional: hosts without ABRT still run.
	if store, err := crash.NewABRT(); err != nil {
		logger.Warn("crash reporting disabled: %v", err)
	} else {
		env.Crashes = store
	}

	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Warn("closing accessibility bus: %v", err)
		}
	}
	return env, cleanup, nil
}
