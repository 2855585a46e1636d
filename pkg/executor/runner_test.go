package executor

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/devicelab-dev/desktop-runner/pkg/a11y"
	a11ymock "github.com/devicelab-dev/desktop-runner/pkg/a11y/mock"
	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/crash"
	"github.com/devicelab-dev/desktop-runner/pkg/report"
)

const printDialog = `
name: Print dialog
tags: [print]
---
- startApp: command
- waitForWindow
- assertWindowTitle: Document Viewer
- click: Print
- setChecked:
    element: Reverse
- selectTab: Page Setup
- setText:
    element: Pages
    text: "2"
- assertText:
    element: Pages
    equals: "2"
- press: "<Control><Q>"
- assertNotRunning
`

func TestRunner_PassingScenario(t *testing.T) {
	f := newFakeDesktop(t)

	var (
		mu     sync.Mutex
		events []string
	)
	cfg := RunnerConfig{
		OnScenarioStart: func(idx, total int, name, file string) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, "start "+name)
		},
		OnStepComplete: func(idx int, desc string, status core.StepStatus, durationMs int64, err string) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, status.String()+" "+desc)
		},
		OnScenarioEnd: func(name string, status report.Status, durationMs int64) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, "end "+string(status))
		},
	}
	res, index, details := f.runScenarios(context.Background(), cfg, printDialog)

	if res.Status != report.StatusPassed || res.PassedScenarios != 1 {
		t.Fatalf("result = %+v, want one passed scenario", res)
	}
	sr := res.ScenarioResults[0]
	if sr.Name != "Print dialog" || sr.StepsTotal != 10 || sr.StepsPassed != 10 {
		t.Errorf("scenario result = %+v", sr)
	}
	if index.Status != report.StatusPassed || index.Scenarios[0].Status != report.StatusPassed {
		t.Errorf("report status = %s / %s", index.Status, index.Scenarios[0].Status)
	}
	for i, c := range details[0].Commands {
		if c.Status != report.StatusPassed {
			t.Errorf("command %d (%s) = %s: %+v", i, c.Type, c.Status, c.Error)
		}
		if len(c.Attachments) != 0 {
			t.Errorf("command %d has attachments %v on success", i, attachmentNames(c.Attachments))
		}
	}
	if got := attachmentNames(details[0].Attachments); !cmp.Equal(got, []string{core.AttachmentJournal}) {
		t.Errorf("scenario attachments = %v, want journal", got)
	}

	if !f.hasEvent("click 60,20,1") {
		t.Errorf("no click at the centre of Print in %v", f.input.Events())
	}
	if !f.killed("evince") {
		t.Error("application not killed after the scenario")
	}
	if !f.ranCommand("sh -c rm -f ~/*.pdf") {
		t.Error("cleanup command not run")
	}

	mu.Lock()
	defer mu.Unlock()
	if events[0] != "start Print dialog" || events[len(events)-1] != "end passed" {
		t.Errorf("callbacks = %v", events)
	}
	if len(events) != 12 {
		t.Errorf("got %d callbacks, want 12: %v", len(events), events)
	}
}

func TestRunner_FailedStepSkipsRestAndCapturesDiagnostics(t *testing.T) {
	f := newFakeDesktop(t)
	src := `
- startApp
- assertVisible:
    name: Save
    timeout: 30
- pressKey: Tab
`
	res, index, details := f.runScenarios(context.Background(), RunnerConfig{}, src)

	if res.Status != report.StatusFailed || res.FailedScenarios != 1 {
		t.Fatalf("result = %+v, want one failed scenario", res)
	}
	if index.Scenarios[0].Status != report.StatusFailed {
		t.Errorf("scenario status = %s, want failed", index.Scenarios[0].Status)
	}
	want := []report.Status{report.StatusPassed, report.StatusFailed, report.StatusSkipped}
	if diff := cmp.Diff(want, commandStatuses(details[0])); diff != "" {
		t.Errorf("command statuses (-want +got):\n%s", diff)
	}

	failed := details[0].Commands[1]
	if failed.Error == nil || failed.Error.Type != "assertion" || failed.Error.Code != "element_not_found" {
		t.Errorf("error = %+v, want assertion/element_not_found", failed.Error)
	}
	if !strings.Contains(failed.Error.Message, `"Save"`) {
		t.Errorf("error message %q does not name the element", failed.Error.Message)
	}
	wantAtts := []string{core.AttachmentScreenshot, core.AttachmentHierarchy}
	if diff := cmp.Diff(wantAtts, attachmentNames(failed.Attachments)); diff != "" {
		t.Errorf("attachments (-want +got):\n%s", diff)
	}
	if f.hasEvent("key Tab") {
		t.Error("step after the failure ran")
	}
}

func TestRunner_OptionalFailureWarns(t *testing.T) {
	f := newFakeDesktop(t)
	src := `
- startApp
- assertVisible:
    name: Save
    optional: true
    timeout: 20
- pressKey: Tab
`
	res, index, details := f.runScenarios(context.Background(), RunnerConfig{}, src)

	if res.Status != report.StatusPassed || res.PassedScenarios != 1 {
		t.Errorf("result = %+v, want passed", res)
	}
	if index.Scenarios[0].Status != report.StatusWarned {
		t.Errorf("scenario status = %s, want warned", index.Scenarios[0].Status)
	}
	want := []report.Status{report.StatusPassed, report.StatusWarned, report.StatusPassed}
	if diff := cmp.Diff(want, commandStatuses(details[0])); diff != "" {
		t.Errorf("command statuses (-want +got):\n%s", diff)
	}
	if !f.hasEvent("key Tab") {
		t.Error("step after the optional failure did not run")
	}
}

func TestRunner_StopOnFail(t *testing.T) {
	f := newFakeDesktop(t)
	failing := "- assertTrue: \"1 == 2\"\n"
	passing := "- pressKey: Tab\n"

	res, index, _ := f.runScenarios(context.Background(), RunnerConfig{StopOnFail: true}, failing, passing)

	if res.FailedScenarios != 1 || res.SkippedScenarios != 1 {
		t.Fatalf("result = %+v, want one failed and one skipped", res)
	}
	if index.Scenarios[1].Status != report.StatusSkipped {
		t.Errorf("second scenario = %s, want skipped", index.Scenarios[1].Status)
	}
	if res.ScenarioResults[1].Error != "run stopped" {
		t.Errorf("skip reason = %q", res.ScenarioResults[1].Error)
	}
	if f.hasEvent("key Tab") {
		t.Error("second scenario ran")
	}
}

func TestRunner_ContinuesAfterFailureByDefault(t *testing.T) {
	f := newFakeDesktop(t)
	res, _, _ := f.runScenarios(context.Background(), RunnerConfig{},
		"- assertTrue: \"1 == 2\"\n", "- pressKey: Tab\n")

	if res.FailedScenarios != 1 || res.PassedScenarios != 1 {
		t.Errorf("result = %+v, want one failed and one passed", res)
	}
	if res.Status != report.StatusFailed {
		t.Errorf("run status = %s, want failed", res.Status)
	}
}

func TestRunner_OnStartFailure(t *testing.T) {
	f := newFakeDesktop(t)
	src := `
onStart:
  - assertTrue: "false"
onComplete:
  - press: "<Control><Q>"
---
- pressKey: Tab
- pressKey: Enter
`
	var nested []string
	cfg := RunnerConfig{
		OnNestedStep: func(depth int, desc string, status core.StepStatus, durationMs int64, err string) {
			nested = append(nested, status.String()+" "+desc)
		},
	}
	res, index, details := f.runScenarios(context.Background(), cfg, src)

	if res.ScenarioResults[0].Status != report.StatusFailed {
		t.Fatalf("status = %s, want failed", res.ScenarioResults[0].Status)
	}
	if e := index.Scenarios[0].Error; e == nil || !strings.Contains(*e, "onStart") {
		t.Errorf("scenario error = %v, want an onStart failure", e)
	}
	want := []report.Status{report.StatusSkipped, report.StatusSkipped}
	if diff := cmp.Diff(want, commandStatuses(details[0])); diff != "" {
		t.Errorf("command statuses (-want +got):\n%s", diff)
	}
	if !f.hasEvent("combo <Control><Q>") {
		t.Error("onComplete did not run")
	}
	if len(nested) != 2 {
		t.Errorf("nested steps = %v, want onStart and onComplete", nested)
	}
}

func TestRunner_TimeLimit(t *testing.T) {
	f := newFakeDesktop(t)
	src := `
timeLimit: 100
---
- startApp
- assertNotVisible:
    name: Print
    timeout: 5000
- pressKey: Tab
`
	res, index, details := f.runScenarios(context.Background(), RunnerConfig{}, src)

	sr := res.ScenarioResults[0]
	if sr.Status != report.StatusErrored {
		t.Fatalf("status = %s, want errored", sr.Status)
	}
	if !strings.Contains(sr.Error, "time limit") {
		t.Errorf("error = %q, want a time limit message", sr.Error)
	}
	if index.Scenarios[0].Status != report.StatusErrored {
		t.Errorf("report status = %s, want errored", index.Scenarios[0].Status)
	}
	if got := details[0].Commands[2].Status; got != report.StatusSkipped {
		t.Errorf("step after the limit = %s, want skipped", got)
	}
	if f.hasEvent("key Tab") {
		t.Error("step after the limit ran")
	}
}

func TestRunner_CrashesAttachToStep(t *testing.T) {
	f := newFakeDesktop(t)
	f.crashes.Add(crash.Problem{ID: "old", Reason: "stale", Executable: "/usr/bin/evince"})
	f.newApp = func() *a11ymock.Node {
		button := a11ymock.NewNode(a11y.RolePushButton, "Print")
		button.OnAction = func(n *a11ymock.Node, action string) error {
			f.crashes.Add(crash.Problem{ID: "new", Reason: "SIGSEGV", Executable: "/usr/bin/evince"})
			return nil
		}
		return a11ymock.App("evince", "Document Viewer", button)
	}
	src := `
- startApp
- doAction:
    element: Print
- pressKey: Tab
`
	res, _, details := f.runScenarios(context.Background(), RunnerConfig{}, src)

	if res.Status != report.StatusPassed {
		t.Errorf("run status = %s, want passed", res.Status)
	}
	cmds := details[0].Commands
	if len(cmds[0].Attachments) != 0 {
		t.Errorf("stale crash reported against startApp: %v", attachmentNames(cmds[0].Attachments))
	}
	if got := attachmentNames(cmds[1].Attachments); !cmp.Equal(got, []string{core.AttachmentCrash}) {
		t.Errorf("doAction attachments = %v, want crash", got)
	}
	if len(cmds[2].Attachments) != 0 {
		t.Errorf("crash reported twice: %v", attachmentNames(cmds[2].Attachments))
	}
	if len(f.crashes.Problems) != 0 {
		t.Errorf("crash records left behind: %v", f.crashes.Problems)
	}
}

func TestRunner_RetryPassesOnSecondAttempt(t *testing.T) {
	f := newFakeDesktop(t)
	src := `
- evalScript: "var attempts = 0"
- retry:
    maxRetries: 2
    commands:
      - evalScript: "attempts = attempts + 1"
      - assertTrue: "attempts >= 2"
`
	res, _, details := f.runScenarios(context.Background(), RunnerConfig{}, src)

	if res.Status != report.StatusPassed {
		t.Fatalf("run status = %s, want passed", res.Status)
	}
	retry := details[0].Commands[1]
	if retry.Status != report.StatusPassed || retry.Message != "Passed on attempt 2" {
		t.Errorf("retry = %s %q", retry.Status, retry.Message)
	}
	want := []report.Status{report.StatusPassed, report.StatusPassed}
	got := []report.Status{retry.SubCommands[0].Status, retry.SubCommands[1].Status}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sub-command statuses (-want +got):\n%s", diff)
	}
}

func TestRunner_RetryExhausted(t *testing.T) {
	f := newFakeDesktop(t)
	src := `
- retry:
    maxRetries: 1
    commands:
      - assertTrue: "false"
      - pressKey: Tab
`
	res, _, details := f.runScenarios(context.Background(), RunnerConfig{}, src)

	if res.ScenarioResults[0].Status != report.StatusFailed {
		t.Fatalf("status = %s, want failed", res.ScenarioResults[0].Status)
	}
	retry := details[0].Commands[0]
	if !strings.HasPrefix(retry.Message, "Failed after 2 attempt(s)") {
		t.Errorf("message = %q", retry.Message)
	}
	if retry.Error == nil || retry.Error.Code != "condition_not_met" {
		t.Errorf("error = %+v, want condition_not_met", retry.Error)
	}
	want := []report.Status{report.StatusFailed, report.StatusSkipped}
	got := []report.Status{retry.SubCommands[0].Status, retry.SubCommands[1].Status}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sub-command statuses (-want +got):\n%s", diff)
	}
	if f.hasEvent("key Tab") {
		t.Error("step after the failed assertion ran")
	}
}

func TestRunner_CancelledRunSkipsEverything(t *testing.T) {
	f := newFakeDesktop(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, index, details := f.runScenarios(ctx, RunnerConfig{}, "- pressKey: Tab\n", "- pressKey: Enter\n")

	if res.SkippedScenarios != 2 {
		t.Fatalf("result = %+v, want both skipped", res)
	}
	for i, e := range index.Scenarios {
		if e.Status != report.StatusSkipped {
			t.Errorf("scenario %d = %s, want skipped", i, e.Status)
		}
		if got := commandStatuses(details[i]); got[0] != report.StatusSkipped {
			t.Errorf("scenario %d commands = %v", i, got)
		}
	}
	if res.ScenarioResults[0].Error != "run cancelled" {
		t.Errorf("skip reason = %q", res.ScenarioResults[0].Error)
	}
}

func TestRunner_AppOverride(t *testing.T) {
	f := newFakeDesktop(t)
	src := `
app:
  command: evince --preview
  args: ["/tmp/3-page.pdf"]
---
- startApp
`
	res, _, _ := f.runScenarios(context.Background(), RunnerConfig{}, src)

	if res.Status != report.StatusPassed {
		t.Fatalf("run status = %s, want passed", res.Status)
	}
	want := [][]string{{"evince", "--preview", "/tmp/3-page.pdf"}}
	if diff := cmp.Diff(want, f.spawned); diff != "" {
		t.Errorf("spawned (-want +got):\n%s", diff)
	}
	if f.env.App == nil || f.env.App.Config().Command != "evince" {
		t.Errorf("run handle not restored after the scenario")
	}
}

func TestRunner_VariablesAndCopiedText(t *testing.T) {
	f := newFakeDesktop(t)
	src := `
env:
  DOC: report.pdf
---
- startApp
- typeText: "$DOC"
- typeText: "${DOC.toUpperCase()}"
- assertText:
    element: Pages
    equals: "$PAGES"
- assertTrue: "desktop.copiedText == '1-3'"
- assertTrue: "desktop.appName == 'evince'"
`
	res, _, details := f.runScenarios(context.Background(), RunnerConfig{
		Env: map[string]string{"PAGES": "1-3"},
	}, src)

	if res.Status != report.StatusPassed {
		for i, c := range details[0].Commands {
			t.Logf("command %d %s: %s %+v", i, c.Type, c.Status, c.Error)
		}
		t.Fatalf("run status = %s, want passed", res.Status)
	}
	for _, want := range []string{"type report.pdf", "type REPORT.PDF"} {
		if !f.hasEvent(want) {
			t.Errorf("missing event %q in %v", want, f.input.Events())
		}
	}
}

func TestRunner_NoApplicationConfigured(t *testing.T) {
	f := newFakeDesktop(t)
	f.env.AppConfig.Command = ""

	res, _, details := f.runScenarios(context.Background(), RunnerConfig{}, "- startApp\n")

	if res.ScenarioResults[0].Status != report.StatusErrored {
		t.Errorf("status = %s, want errored", res.ScenarioResults[0].Status)
	}
	if e := details[0].Commands[0].Error; e == nil || e.Code != "app_not_started" {
		t.Errorf("error = %+v, want app_not_started", e)
	}
}

func TestRunner_StartRecoveryKillsAndCleansUp(t *testing.T) {
	f := newFakeDesktop(t)
	f.env.AppConfig.ForceKillOnStart = true
	ctx := context.Background()
	h, err := f.env.NewApp(ctx, f.env.AppConfig)
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	f.env.App = h

	// The bus stays blocked until the wedged instance is cleared out.
	var patterns []string
	f.env.KillByCmdline = func(ctx context.Context, pattern string) (int, error) {
		patterns = append(patterns, pattern)
		f.tree.SetErr(nil)
		return 1, nil
	}
	f.tree.SetErr(a11y.ErrTransient)

	res, _, details := f.runScenarios(ctx, RunnerConfig{Hooks: NopHooks{}}, "- startApp: command\n")

	if res.Status != report.StatusPassed {
		t.Fatalf("status = %s, commands = %+v", res.Status, details[0].Commands)
	}
	if diff := cmp.Diff([]string{"evince"}, patterns); diff != "" {
		t.Errorf("pkill patterns mismatch (-want +got):\n%s", diff)
	}
	if !f.ranCommand("sh -c rm -f ~/*.pdf") {
		t.Error("cleanup command not run during recovery")
	}
	if len(f.spawned) != 1 {
		t.Errorf("spawned %d times, want 1", len(f.spawned))
	}
}
