package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/devicelab-dev/desktop-runner/pkg/a11y"
	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/crash"
	"github.com/devicelab-dev/desktop-runner/pkg/diag"
	"github.com/devicelab-dev/desktop-runner/pkg/logger"
)

// Hooks run around the scenarios. Implementations never fail the run: a
// hook that cannot do its job logs and carries on.
type Hooks interface {
	// BeforeAll prepares the session and creates env.App.
	BeforeAll(ctx context.Context, env *Env)
	// AfterStep returns diagnostics for the step that just finished.
	AfterStep(ctx context.Context, env *Env, status core.StepStatus) []core.Attachment
	// AfterScenario tears the application down and returns scenario-level
	// diagnostics.
	AfterScenario(ctx context.Context, env *Env) []core.Attachment
}

// NopHooks does nothing.
type NopHooks struct{}

func (NopHooks) BeforeAll(ctx context.Context, env *Env) {}

func (NopHooks) AfterStep(ctx context.Context, env *Env, status core.StepStatus) []core.Attachment {
	return nil
}

func (NopHooks) AfterScenario(ctx context.Context, env *Env) []core.Attachment { return nil }

// hierarchyDepth bounds the tree dumped on failure.
const hierarchyDepth = 12

// scenarioSettle is the pause between killing the application and cleanup.
const scenarioSettle = time.Second

// DesktopHooks prepares a GNOME session, collects crash records, screenshots
// and the accessibility tree around steps, and resets the desktop after each
// scenario.
type DesktopHooks struct {
	Artifacts core.ArtifactConfig
}

// NewDesktopHooks returns hooks with the default artifact policy.
func NewDesktopHooks() *DesktopHooks {
	return &DesktopHooks{Artifacts: core.DefaultArtifactConfig()}
}

// BeforeAll enables accessibility, clears stale crash records, runs the
// cleanup command, stops gnome-initial-setup, records the journal start time
// and creates the application handle.
func (h *DesktopHooks) BeforeAll(ctx context.Context, env *Env) {
	if env.EnableA11y != nil {
		if err := env.EnableA11y(ctx); err != nil {
			logger.Warn("enable accessibility: %v", err)
		}
	}
	if env.Crashes != nil {
		if problems, err := crash.Drain(ctx, env.Crashes); err != nil {
			logger.Warn("clear crash records: %v", err)
		} else if len(problems) > 0 {
			logger.Info("cleared %d stale crash record(s)", len(problems))
		}
	}
	if env.Diag != nil {
		if err := env.Diag.Cleanup(ctx); err != nil {
			logger.Warn("%v", err)
		}
		if err := env.Diag.KillInitialSetup(ctx); err != nil {
			logger.Debug("kill initial setup: %v", err)
		}
	}

	env.StartTime = time.Now()

	if env.App == nil && env.AppConfig.Command != "" {
		handle, err := env.NewApp(ctx, env.AppConfig)
		if err != nil {
			logger.Error("create application handle: %v", err)
			return
		}
		env.App = handle
	}
}

// AfterStep reports new crash records against the step and deletes them.
// Failed steps also get a screenshot and an accessibility tree dump.
func (h *DesktopHooks) AfterStep(ctx context.Context, env *Env, status core.StepStatus) []core.Attachment {
	var atts []core.Attachment

	if env.Crashes != nil {
		problems, err := env.Crashes.List(ctx)
		if err != nil {
			logger.Warn("list crash records: %v", err)
		}
		for _, p := range problems {
			logger.Warn("crash during step: %s", p)
			atts = append(atts, core.NewTextAttachment(core.AttachmentCrash, p.String()))
		}
		if len(problems) > 0 {
			if err := env.Crashes.Delete(ctx, problems); err != nil {
				logger.Warn("delete crash records: %v", err)
			}
		}
	}

	if !h.Artifacts.ShouldCapture(status) {
		return atts
	}

	if h.Artifacts.Screenshot && env.Diag != nil {
		path := env.ScreenshotPath
		if path == "" {
			path = diag.DefaultScreenshotPath
		}
		if err := env.Diag.Screenshot(ctx, path); err != nil {
			logger.Warn("%v", err)
		} else {
			atts = append(atts, core.NewScreenshotAttachment(path))
		}
	}

	if h.Artifacts.UIHierarchy && env.Tree != nil {
		snaps, err := a11y.DumpTree(ctx, env.Tree, hierarchyDepth)
		if err != nil {
			logger.Warn("dump accessibility tree: %v", err)
		} else if data, err := json.MarshalIndent(snaps, "", "  "); err == nil {
			atts = append(atts, core.NewHierarchyAttachment("", data))
		}
	}
	return atts
}

// AfterScenario force-kills the application, attaches the session journal
// since the run started, waits a second and runs the cleanup command.
func (h *DesktopHooks) AfterScenario(ctx context.Context, env *Env) []core.Attachment {
	var atts []core.Attachment

	if env.App != nil {
		if _, err := env.killByName(ctx, env.App.Config().Binary()); err != nil {
			logger.Warn("kill %s: %v", env.App.Name(), err)
		}
	}

	if env.Diag != nil && h.Artifacts.Journal {
		journal, err := env.Diag.Journal(ctx, env.StartTime)
		if err != nil {
			logger.Warn("%v", err)
		} else if journal != "" {
			atts = append(atts, core.NewTextAttachment(core.AttachmentJournal, journal))
		}
	}

	if err := env.sleep(ctx, scenarioSettle); err != nil {
		logger.Debug("after scenario: %v", err)
	}

	if env.Diag != nil {
		if err := env.Diag.Cleanup(ctx); err != nil {
			logger.Warn("%v", err)
		}
	}
	return atts
}
