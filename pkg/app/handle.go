package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/devicelab-dev/desktop-runner/pkg/a11y"
	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/desktop"
	"github.com/devicelab-dev/desktop-runner/pkg/input"
	"github.com/devicelab-dev/desktop-runner/pkg/logger"
	"github.com/devicelab-dev/desktop-runner/pkg/process"
	"github.com/devicelab-dev/desktop-runner/pkg/wait"
)

// Running-check retry budget. The accessibility bus drops calls now and then;
// thirty one-second attempts ride that out.
const (
	runningAttempts = 30
	runningInterval = time.Second
)

// Pauses around starting and stopping.
const (
	killSettle       = 2 * time.Second
	overviewSettle   = 6 * time.Second
	searchSettle     = 2 * time.Second
	gridPointerDelay = 1 * time.Second
	gridSettle       = 4 * time.Second
	windowAttempts   = 10
	startAttempts    = 10
	recoverAttempt   = 6
)

const (
	shellName            = "gnome-shell"
	showApplicationsName = "Show Applications"
	recordCombo          = "<Control><Alt><Shift>R"
)

// State is the lifecycle state of a Handle.
type State int

const (
	NotStarted State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Deps are the handle's collaborators. Zero fields other than Tree and Input
// get production defaults.
type Deps struct {
	Tree       a11y.Tree
	Input      input.Injector
	Desktop    desktop.Resolver
	Spawner    Spawner
	KillByName KillFunc
	Sleep      SleepFunc
}

func (d Deps) withDefaults() Deps {
	if d.Desktop == nil {
		d.Desktop = desktop.PackageResolver{}
	}
	if d.Spawner == nil {
		d.Spawner = ExecSpawner{}
	}
	if d.KillByName == nil {
		d.KillByName = process.KillByName
	}
	if d.Sleep == nil {
		d.Sleep = Sleep
	}
	return d
}

// Handle is one application under test. At most one process is managed per
// handle.
type Handle struct {
	cfg  Config
	deps Deps

	mu    sync.Mutex
	state State
	proc  Proc
	pid   int
	entry *desktop.Entry
}

// New creates a handle. It dismisses the shell overview (Esc, then moves the
// pointer out of the hot corner) and starts the screen recorder when
// RecordVideo is set.
func New(ctx context.Context, cfg Config, deps Deps) (*Handle, error) {
	if cfg.Command == "" {
		return nil, core.ErrMissingRequired.WithMessage("app command is required")
	}
	if deps.Tree == nil || deps.Input == nil {
		return nil, core.ErrMissingRequired.WithMessage("app handle needs an accessibility tree and an input injector")
	}
	h := &Handle{cfg: cfg.withDefaults(), deps: deps.withDefaults()}

	if err := h.deps.Input.PressKey(ctx, "Esc"); err != nil {
		return nil, err
	}
	if err := h.deps.Input.Move(ctx, 100, 100); err != nil {
		return nil, err
	}
	if h.cfg.RecordVideo {
		if err := h.deps.Input.KeyCombo(ctx, recordCombo); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Config returns the effective configuration.
func (h *Handle) Config() Config { return h.cfg }

// Name is the accessibility name of the application.
func (h *Handle) Name() string { return h.cfg.A11yName }

// State returns the lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// PID returns the pid of the managed process, or 0.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// IsRunning reports whether the accessibility registry lists the
// application. Each attempt is preceded by a one-second pause; transient bus
// errors are retried up to 30 times before ErrBusBlocked is returned.
func (h *Handle) IsRunning(ctx context.Context) (bool, error) {
	var last error
	for attempt := 0; attempt < runningAttempts; attempt++ {
		if err := h.deps.Sleep(ctx, runningInterval); err != nil {
			return false, err
		}
		names, err := a11y.ApplicationNames(ctx, h.deps.Tree)
		if err != nil {
			if a11y.IsTransient(err) {
				last = err
				continue
			}
			return false, err
		}
		for _, n := range names {
			if strings.EqualFold(n, h.cfg.A11yName) {
				return true, nil
			}
		}
		return false, nil
	}
	logger.Error("running check for %s failed %d times: %v", h.cfg.A11yName, runningAttempts, last)
	return false, core.ErrBusBlocked.WithCause(last)
}

// forceKillExisting stops a running instance when ForceKillOnStart is set.
func (h *Handle) forceKillExisting(ctx context.Context) error {
	if !h.cfg.ForceKillOnStart {
		return nil
	}
	running, err := h.IsRunning(ctx)
	if err != nil || !running {
		return err
	}
	logger.Info("%s is already running, killing it", h.cfg.A11yName)
	if err := h.Kill(ctx); err != nil {
		return err
	}
	if err := h.deps.Sleep(ctx, killSettle); err != nil {
		return err
	}
	running, err = h.IsRunning(ctx)
	if err != nil {
		return err
	}
	if running {
		return core.ErrPrecondition.WithMessage("application cannot be stopped")
	}
	return nil
}

// StartViaCommand spawns the command with Args and waits for the application
// to register. It returns the application node.
func (h *Handle) StartViaCommand(ctx context.Context) (a11y.Node, error) {
	return h.StartWithArgs(ctx, h.cfg.Args...)
}

// StartWithArgs is StartViaCommand with args in place of the configured Args,
// e.g. a document to open.
func (h *Handle) StartWithArgs(ctx context.Context, args ...string) (a11y.Node, error) {
	if err := h.forceKillExisting(ctx); err != nil {
		return nil, err
	}

	argv := append(strings.Fields(h.cfg.Command), args...)
	logger.Info("starting %s", strings.Join(argv, " "))
	p, err := h.deps.Spawner.Spawn(ctx, argv)
	if err != nil {
		return nil, core.ErrAppNotStarted.WithMessagef("failed to spawn %s", argv[0]).WithCause(err)
	}
	h.mu.Lock()
	h.proc, h.pid = p, p.Pid()
	h.mu.Unlock()

	return h.waitStarted(ctx)
}

// StartViaMenu launches the application from the shell overview, either by
// typing its display name into the search or, with throughCategories, by
// clicking through the application grid.
func (h *Handle) StartViaMenu(ctx context.Context, throughCategories bool) (a11y.Node, error) {
	entry, err := h.DesktopEntry(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.forceKillExisting(ctx); err != nil {
		return nil, err
	}

	shell, err := a11y.Application(ctx, h.deps.Tree, shellName)
	if err != nil {
		return nil, err
	}
	if err := h.deps.Input.PressKey(ctx, "Super_L"); err != nil {
		return nil, err
	}
	if err := h.deps.Sleep(ctx, overviewSettle); err != nil {
		return nil, err
	}

	if throughCategories {
		err = h.launchFromGrid(ctx, shell, entry)
	} else {
		err = h.launchFromSearch(ctx, entry)
	}
	if err != nil {
		return nil, err
	}
	return h.waitStarted(ctx)
}

func (h *Handle) launchFromSearch(ctx context.Context, entry *desktop.Entry) error {
	if err := h.deps.Input.TypeText(ctx, entry.Name()); err != nil {
		return err
	}
	if err := h.deps.Sleep(ctx, searchSettle); err != nil {
		return err
	}
	return h.deps.Input.PressKey(ctx, "Enter")
}

func (h *Handle) launchFromGrid(ctx context.Context, shell a11y.Node, entry *desktop.Entry) error {
	opts := h.searchOptions()

	dash, err := a11y.Find(ctx, shell, a11y.Matcher{Name: showApplicationsName}, opts)
	if err != nil {
		return err
	}
	info, err := dash.Info(ctx)
	if err != nil {
		return err
	}
	x, y := info.Bounds.Center()
	if err := h.deps.Input.Move(ctx, x, y); err != nil {
		return err
	}
	if err := h.deps.Sleep(ctx, gridPointerDelay); err != nil {
		return err
	}
	if err := h.deps.Input.Click(ctx, x, y, 1); err != nil {
		return err
	}
	if err := h.deps.Sleep(ctx, gridSettle); err != nil {
		return err
	}

	group, err := a11y.Find(ctx, shell, a11y.Matcher{Role: a11y.RoleListItem, Name: entry.MenuGroup()}, opts)
	if err != nil {
		return err
	}
	if err := a11y.Click(ctx, group, h.deps.Input); err != nil {
		return err
	}
	if err := h.deps.Sleep(ctx, gridSettle); err != nil {
		return err
	}

	label, err := a11y.Find(ctx, shell, a11y.Matcher{Role: a11y.RoleLabel, Name: entry.Name()}, opts)
	if err != nil {
		return err
	}
	return a11y.Click(ctx, label, h.deps.Input)
}

func (h *Handle) searchOptions() *a11y.SearchOptions {
	return &a11y.SearchOptions{Timeout: h.cfg.Wait.Timeout, Period: h.cfg.Wait.Period}
}

// waitStarted polls until the application registers and returns its node.
func (h *Handle) waitStarted(ctx context.Context) (a11y.Node, error) {
	ok, err := wait.Until(ctx, func(h *Handle) (bool, error) {
		return h.IsRunning(ctx)
	}, h, &h.cfg.Wait)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrAppNotStarted.WithMessagef("%s failed to start", h.cfg.A11yName)
	}

	h.mu.Lock()
	h.state = Running
	h.mu.Unlock()
	return a11y.Application(ctx, h.deps.Tree, h.cfg.A11yName)
}

// Kill stops the application: the managed process directly, or every
// process named like the command when there is none or the direct kill fails.
func (h *Handle) Kill(ctx context.Context) error {
	if h.cfg.RecordVideo {
		if err := h.deps.Input.KeyCombo(ctx, recordCombo); err != nil {
			logger.Warn("failed to toggle screen recording: %v", err)
		}
	}

	h.mu.Lock()
	p := h.proc
	h.mu.Unlock()

	if p != nil {
		err := p.Kill()
		if err == nil {
			logger.Info("killed %s (pid %d)", h.cfg.A11yName, p.Pid())
			h.stopped()
			return nil
		}
		logger.Warn("direct kill of pid %d failed: %v; falling back to killall", p.Pid(), err)
	}
	if _, err := h.deps.KillByName(ctx, h.cfg.Binary()); err != nil {
		return err
	}
	h.stopped()
	return nil
}

func (h *Handle) stopped() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.proc = nil
	h.state = Stopped
}

// CloseViaShortcut sends the quit shortcut and waits for the application to
// leave the registry. It fails with ErrPrecondition, without sending
// anything, when the application is not running.
func (h *Handle) CloseViaShortcut(ctx context.Context) error {
	running, err := h.IsRunning(ctx)
	if err != nil {
		return err
	}
	if !running {
		return core.ErrPrecondition.WithMessagef("%s is not running", h.cfg.A11yName)
	}

	if err := h.deps.Input.KeyCombo(ctx, h.cfg.QuitShortcut); err != nil {
		return err
	}

	stopped, err := wait.Until(ctx, func(h *Handle) (bool, error) {
		running, err := h.IsRunning(ctx)
		return !running, err
	}, h, &h.cfg.Wait)
	if err != nil {
		return err
	}
	if !stopped {
		return core.ErrPrecondition.WithMessage("application cannot be stopped")
	}

	h.stopped()
	return nil
}

// DesktopEntry resolves and caches the application's desktop entry.
func (h *Handle) DesktopEntry(ctx context.Context) (*desktop.Entry, error) {
	h.mu.Lock()
	entry := h.entry
	h.mu.Unlock()
	if entry != nil {
		return entry, nil
	}

	entry, err := h.deps.Desktop.Lookup(ctx, h.cfg.Command, h.cfg.DesktopFileName)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.entry = entry
	h.mu.Unlock()
	return entry, nil
}

// window returns the application's frame, without retrying.
func (h *Handle) window(ctx context.Context) (a11y.Node, a11y.Node, error) {
	app, err := a11y.Application(ctx, h.deps.Tree, h.cfg.A11yName)
	if err != nil {
		return nil, nil, err
	}
	frames, err := a11y.FindAll(ctx, app, a11y.Matcher{Role: a11y.RoleFrame})
	if err != nil {
		return nil, nil, err
	}
	if len(frames) == 0 {
		return app, nil, a11y.ErrNotFound.WithMessagef("%s has no frame", h.cfg.A11yName)
	}
	return app, frames[0], nil
}

// WaitForWindow waits up to ten seconds for the application's frame to
// appear, then asserts that it did.
func (h *Handle) WaitForWindow(ctx context.Context) (a11y.Node, error) {
	for attempt := 0; attempt < windowAttempts; attempt++ {
		_, _, err := h.window(ctx)
		if err == nil {
			break
		}
		if !a11y.IsTransient(err) && !errors.Is(err, a11y.ErrNotFound) {
			return nil, err
		}
		if err := h.deps.Sleep(ctx, time.Second); err != nil {
			return nil, err
		}
	}
	return h.AssertStarted(ctx)
}

// AssertStarted fails with ErrPrecondition unless the application has a frame.
func (h *Handle) AssertStarted(ctx context.Context) (a11y.Node, error) {
	app, _, err := h.window(ctx)
	if err != nil {
		if errors.Is(err, a11y.ErrNotFound) {
			return nil, core.ErrPrecondition.WithMessagef("app %q is not running", h.cfg.A11yName).WithCause(err)
		}
		return nil, err
	}
	return app, nil
}

// AssertStopped fails with ErrPrecondition if the application still has a frame.
func (h *Handle) AssertStopped(ctx context.Context) error {
	_, _, err := h.window(ctx)
	if err == nil {
		return core.ErrPrecondition.WithMessagef("app %q is running", h.cfg.A11yName)
	}
	if errors.Is(err, a11y.ErrNotFound) {
		return nil
	}
	return err
}

// Via selects how StartWithRecovery launches the application.
type Via string

const (
	ViaCommand Via = "command"
	ViaMenu    Via = "menu"
)

// Start launches the application the given way.
func (h *Handle) Start(ctx context.Context, via Via) (a11y.Node, error) {
	switch via {
	case ViaMenu:
		return h.StartViaMenu(ctx, false)
	case ViaCommand, "":
		return h.StartViaCommand(ctx)
	default:
		return nil, core.ErrInvalidConfig.WithMessagef("unknown start method %q", via)
	}
}

// StartWithRecovery starts the application, retrying bus failures up to ten
// times a second apart. After the seventh failure it calls recoverFn, which is
// expected to clear out a wedged instance, before trying again.
func (h *Handle) StartWithRecovery(ctx context.Context, via Via, recoverFn func(ctx context.Context) error) (a11y.Node, error) {
	var last error
	for attempt := 0; attempt < startAttempts; attempt++ {
		node, err := h.Start(ctx, via)
		if err == nil {
			return node, nil
		}
		if !a11y.IsTransient(err) && !errors.Is(err, core.ErrBusBlocked) {
			return nil, err
		}
		last = err
		logger.Warn("start %s via %s, attempt %d: %v", h.cfg.A11yName, via, attempt+1, err)
		if err := h.deps.Sleep(ctx, time.Second); err != nil {
			return nil, err
		}
		if attempt == recoverAttempt && recoverFn != nil {
			if err := recoverFn(ctx); err != nil {
				logger.Warn("recovery for %s failed: %v", h.cfg.A11yName, err)
			}
		}
	}
	return nil, core.ErrAppNotStarted.WithMessagef("%s did not start after %d attempts", h.cfg.A11yName, startAttempts).WithCause(last)
}
