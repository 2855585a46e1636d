package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devicelab-dev/desktop-runner/pkg/a11y"
	a11ymock "github.com/devicelab-dev/desktop-runner/pkg/a11y/mock"
	"github.com/devicelab-dev/desktop-runner/pkg/app"
	"github.com/devicelab-dev/desktop-runner/pkg/crash"
	"github.com/devicelab-dev/desktop-runner/pkg/diag"
	inputmock "github.com/devicelab-dev/desktop-runner/pkg/input/mock"
	"github.com/devicelab-dev/desktop-runner/pkg/report"
	"github.com/devicelab-dev/desktop-runner/pkg/scenario"
	"github.com/devicelab-dev/desktop-runner/pkg/wait"
)

// fakeDesktop is an in-memory GNOME session: spawning registers Evince in the
// accessibility tree, killing it or pressing its quit shortcut removes it.
type fakeDesktop struct {
	t       *testing.T
	tree    *a11ymock.Tree
	input   *inputmock.Injector
	crashes *crash.Memory
	dir     string
	env     *Env

	mu       sync.Mutex
	spawned  [][]string
	kills    []string
	commands []string

	// newApp builds the application registered on spawn.
	newApp func() *a11ymock.Node
}

func newFakeDesktop(t *testing.T) *fakeDesktop {
	t.Helper()
	f := &fakeDesktop{
		t:       t,
		tree:    a11ymock.NewTree(a11ymock.App("gnome-shell", "")),
		input:   &inputmock.Injector{},
		crashes: &crash.Memory{},
		dir:     t.TempDir(),
		newApp:  evinceApp,
	}
	f.input.OnEvent = func(ev string) {
		if ev == "combo <Control><Q>" {
			f.tree.Remove("evince")
		}
	}
	f.env = &Env{
		AppConfig: app.Config{
			Command: "evince",
			Wait:    wait.Options{Timeout: 300 * time.Millisecond, Period: 5 * time.Millisecond},
		},
		Tree:       f.tree,
		Input:      f.input,
		Spawner:    f,
		KillByName: f.killByName,
		Sleep:      f.sleep,
		Crashes:    f.crashes,
		Diag: &diag.Collector{
			CleanupCommand: "rm -f ~/*.pdf",
			Run:            f.run,
			KillByName:     f.killByName,
		},
		Search:         &a11y.SearchOptions{Timeout: 150 * time.Millisecond, Period: 5 * time.Millisecond},
		ScreenshotPath: filepath.Join(f.dir, "screenshot.jpg"),
	}
	return f
}

func evinceApp() *a11ymock.Node {
	return a11ymock.App("evince", "Document Viewer",
		a11ymock.NewNode(a11y.RolePushButton, "Print"),
		a11ymock.NewNode(a11y.RoleCheckBox, "Reverse"),
		a11ymock.NewNode(a11y.RoleText, "Pages").WithText("1-3"),
		a11ymock.NewNode(a11y.RolePageTabList, "",
			a11ymock.NewNode(a11y.RolePageTab, "General"),
			a11ymock.NewNode(a11y.RolePageTab, "Page Setup"),
		),
	)
}

func (f *fakeDesktop) Spawn(ctx context.Context, argv []string) (app.Proc, error) {
	f.mu.Lock()
	f.spawned = append(f.spawned, argv)
	pid := 5000 + len(f.spawned)
	f.mu.Unlock()
	f.tree.Add(f.newApp())
	return &fakeProc{pid: pid, f: f}, nil
}

type fakeProc struct {
	pid int
	f   *fakeDesktop
}

func (p *fakeProc) Pid() int { return p.pid }

func (p *fakeProc) Kill() error {
	p.f.tree.Remove("evince")
	return nil
}

func (f *fakeDesktop) killByName(ctx context.Context, name string) (int, error) {
	f.mu.Lock()
	f.kills = append(f.kills, name)
	f.mu.Unlock()
	if name == "evince" {
		f.tree.Remove("evince")
		return 1, nil
	}
	return 0, nil
}

func (f *fakeDesktop) sleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

// run fakes the diagnostics commands: gnome-screenshot writes a file and
// journalctl prints a line.
func (f *fakeDesktop) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.commands = append(f.commands, strings.TrimSpace(name+" "+strings.Join(args, " ")))
	f.mu.Unlock()
	switch name {
	case "gnome-screenshot":
		return nil, os.WriteFile(args[len(args)-1], []byte("jpeg"), 0o644)
	case "journalctl":
		return []byte("evince: document loaded\n"), nil
	}
	return nil, nil
}

func (f *fakeDesktop) ranCommand(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commands {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func (f *fakeDesktop) killed(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.kills {
		if k == name {
			return true
		}
	}
	return false
}

func (f *fakeDesktop) hasEvent(want string) bool {
	for _, ev := range f.input.Events() {
		if ev == want {
			return true
		}
	}
	return false
}

// parse parses each source as a scenario file in the desktop's directory.
func (f *fakeDesktop) parse(srcs ...string) []*scenario.Scenario {
	f.t.Helper()
	var out []*scenario.Scenario
	for i, src := range srcs {
		path := filepath.Join(f.dir, fmt.Sprintf("scenario_%d.yaml", i))
		sc, err := scenario.Parse([]byte(src), path)
		if err != nil {
			f.t.Fatalf("Parse(%d) error = %v", i, err)
		}
		out = append(out, sc)
	}
	return out
}

// runScenarios runs srcs with desktop hooks and returns the result and the
// report that was written.
func (f *fakeDesktop) runScenarios(ctx context.Context, cfg RunnerConfig, srcs ...string) (*RunResult, *report.Index, []report.ScenarioDetail) {
	f.t.Helper()
	cfg.OutputDir = f.t.TempDir()
	if cfg.Hooks == nil {
		cfg.Hooks = NewDesktopHooks()
	}
	res, err := New(f.env, cfg).Run(ctx, f.parse(srcs...))
	if err != nil {
		f.t.Fatalf("Run() error = %v", err)
	}
	index, details, err := report.ReadReport(cfg.OutputDir)
	if err != nil {
		f.t.Fatalf("ReadReport() error = %v", err)
	}
	return res, index, details
}

func commandStatuses(d report.ScenarioDetail) []report.Status {
	out := make([]report.Status, len(d.Commands))
	for i, c := range d.Commands {
		out[i] = c.Status
	}
	return out
}

func attachmentNames(atts []report.Attachment) []string {
	var out []string
	for _, a := range atts {
		out = append(out, a.Name)
	}
	return out
}
