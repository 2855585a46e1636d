package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
)

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	index, details := BuildSkeleton(testScenarios(t), BuilderConfig{})
	if err := WriteSkeleton(dir, index, details); err != nil {
		t.Fatalf("WriteSkeleton() error = %v", err)
	}
	return NewWriter(dir, index, details), dir
}

func readDetail(t *testing.T, dir, id string) *ScenarioDetail {
	t.Helper()
	d, err := ReadScenario(filepath.Join(dir, "scenarios", id+".json"))
	if err != nil {
		t.Fatalf("ReadScenario(%s) error = %v", id, err)
	}
	return d
}

func TestWriter_CommandLifecycle(t *testing.T) {
	w, dir := newTestWriter(t)
	w.Start()
	w.ScenarioStart(0)
	w.CommandStart(0, 0)

	idx, err := ReadIndex(filepath.Join(dir, "report.json"))
	if err != nil {
		t.Fatalf("ReadIndex() error = %v", err)
	}
	if idx.Status != StatusRunning || idx.Scenarios[0].Status != StatusRunning {
		t.Errorf("statuses = %s/%s, want running", idx.Status, idx.Scenarios[0].Status)
	}
	if c := idx.Scenarios[0].Commands.Current; c == nil || *c != 0 {
		t.Errorf("Current = %v, want 0", c)
	}

	w.CommandEnd(0, 0, CommandEnd{
		Status:  StatusPassed,
		Message: "started",
		Element: NewElement(&core.ElementInfo{Name: "evince", Role: "application"}),
	})

	d := readDetail(t, dir, "scn-000")
	cmd := d.Commands[0]
	if cmd.Status != StatusPassed || cmd.Duration == nil || cmd.Message != "started" {
		t.Errorf("command = %+v", cmd)
	}
	if cmd.Element == nil || cmd.Element.Name != "evince" || cmd.Element.Bounds != nil {
		t.Errorf("Element = %+v", cmd.Element)
	}
}

func TestWriter_ErrorDetails(t *testing.T) {
	w, dir := newTestWriter(t)
	w.ScenarioStart(0)
	w.CommandStart(0, 1)
	w.CommandEnd(0, 1, CommandEnd{
		Status: StatusFailed,
		Error:  core.ErrElementNotFound.WithMessage(`no node matching role="push button"`),
	})

	got := readDetail(t, dir, "scn-000").Commands[1].Error
	want := &Error{Type: "assertion", Code: core.ErrElementNotFound.Code, Message: `no node matching role="push button"`}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Error mismatch (-want +got):\n%s", diff)
	}
}

func TestWriter_SkipRemaining(t *testing.T) {
	w, _ := newTestWriter(t)
	w.ScenarioStart(1)
	w.SkipRemaining(1, 0)

	d, ok := w.Detail(1)
	if !ok {
		t.Fatal("Detail(1) not found")
	}
	retry := d.Commands[0]
	if retry.Status != StatusSkipped {
		t.Errorf("retry status = %s, want skipped", retry.Status)
	}
	for _, sub := range retry.SubCommands {
		if sub.Status != StatusSkipped {
			t.Errorf("sub-command %s status = %s, want skipped", sub.Type, sub.Status)
		}
	}
	if got := w.Index().Scenarios[1].Commands.Skipped; got != 1 {
		t.Errorf("Commands.Skipped = %d, want 1", got)
	}
}

func TestWriter_SkipRemainingKeepsFinishedCommands(t *testing.T) {
	w, _ := newTestWriter(t)
	w.ScenarioStart(0)
	w.CommandStart(0, 0)
	w.CommandEnd(0, 0, CommandEnd{Status: StatusFailed})
	w.SkipRemaining(0, 0)

	d, _ := w.Detail(0)
	got := []Status{d.Commands[0].Status, d.Commands[1].Status}
	if diff := cmp.Diff([]Status{StatusFailed, StatusSkipped}, got); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
}

func TestWriter_Attachments(t *testing.T) {
	w, dir := newTestWriter(t)
	shot := filepath.Join(t.TempDir(), "screenshot.jpg")
	if err := os.WriteFile(shot, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	w.ScenarioStart(0)
	w.CommandStart(0, 1)
	w.CommandEnd(0, 1, CommandEnd{
		Status: StatusFailed,
		Attachments: []core.Attachment{
			core.NewScreenshotAttachment(shot),
			core.NewHierarchyAttachment("", []byte(`[]`)),
			core.NewTextAttachment(core.AttachmentCrash, "evince killed by SIGSEGV"),
			core.NewScreenshotAttachment(filepath.Join(t.TempDir(), "missing.jpg")),
		},
	})

	atts := readDetail(t, dir, "scn-000").Commands[1].Attachments
	var names []string
	for _, a := range atts {
		names = append(names, a.Name)
		if !strings.HasPrefix(a.Path, filepath.Join("assets", "scn-000", "cmd-001-")) {
			t.Errorf("attachment %s path = %q", a.Name, a.Path)
		}
	}
	// The missing screenshot is dropped.
	if diff := cmp.Diff([]string{"screenshot", "hierarchy", "crash"}, names); diff != "" {
		t.Fatalf("attachments mismatch (-want +got):\n%s", diff)
	}

	data, err := os.ReadFile(filepath.Join(dir, atts[2].Path))
	if err != nil || string(data) != "evince killed by SIGSEGV" {
		t.Errorf("crash attachment = %q, %v", data, err)
	}
	data, err = os.ReadFile(filepath.Join(dir, atts[0].Path))
	if err != nil || string(data) != "jpeg" {
		t.Errorf("screenshot attachment = %q, %v", data, err)
	}
}

func TestWriter_DuplicateAttachmentNames(t *testing.T) {
	w, _ := newTestWriter(t)
	w.ScenarioStart(0)
	w.ScenarioEnd(0, StatusPassed, nil, []core.Attachment{
		core.NewTextAttachment(core.AttachmentJournal, "a"),
		core.NewTextAttachment(core.AttachmentJournal, "b"),
	})

	d, _ := w.Detail(0)
	if len(d.Attachments) != 2 {
		t.Fatalf("len(Attachments) = %d, want 2", len(d.Attachments))
	}
	if d.Attachments[0].Path == d.Attachments[1].Path {
		t.Errorf("both journals saved to %s", d.Attachments[0].Path)
	}
}

func TestWriter_RunStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
		summary  Summary
	}{
		{"all passed", []Status{StatusPassed, StatusWarned}, StatusPassed, Summary{Total: 2, Passed: 2}},
		{"one failed", []Status{StatusPassed, StatusFailed}, StatusFailed, Summary{Total: 2, Passed: 1, Failed: 1}},
		{"errored counts as failed", []Status{StatusErrored, StatusSkipped}, StatusFailed, Summary{Total: 2, Failed: 1, Skipped: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := newTestWriter(t)
			w.Start()
			for i, s := range tt.statuses {
				w.ScenarioStart(i)
				w.ScenarioEnd(i, s, nil, nil)
			}
			w.End()

			idx := w.Index()
			if idx.Status != tt.want {
				t.Errorf("Status = %s, want %s", idx.Status, tt.want)
			}
			if idx.EndTime == nil {
				t.Error("EndTime not set")
			}
			if diff := cmp.Diff(tt.summary, idx.Summary); diff != "" {
				t.Errorf("Summary mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWriter_ScenarioError(t *testing.T) {
	w, dir := newTestWriter(t)
	w.ScenarioStart(0)
	w.ScenarioEnd(0, StatusErrored, core.ErrTimeLimitExceeded, nil)

	idx, err := ReadIndex(filepath.Join(dir, "report.json"))
	if err != nil {
		t.Fatal(err)
	}
	e := idx.Scenarios[0]
	if e.Error == nil || *e.Error != core.ErrTimeLimitExceeded.Error() {
		t.Errorf("Error = %v", e.Error)
	}
	if e.Duration == nil {
		t.Error("Duration not set")
	}
}

func TestWriter_OutOfRangeIgnored(t *testing.T) {
	w, _ := newTestWriter(t)
	w.ScenarioStart(9)
	w.CommandStart(0, 42)
	w.CommandEnd(-1, 0, CommandEnd{Status: StatusPassed})
	w.SkipRemaining(5, 0)
	if _, ok := w.Detail(9); ok {
		t.Error("Detail(9) found")
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	for _, s := range []Status{StatusPassed, StatusFailed, StatusErrored, StatusWarned, StatusSkipped} {
		if !s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusRunning} {
		if s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = true", s)
		}
	}
}

func TestFromStepStatus(t *testing.T) {
	tests := map[core.StepStatus]Status{
		core.StatusPending: StatusPending,
		core.StatusPassed:  StatusPassed,
		core.StatusFailed:  StatusFailed,
		core.StatusErrored: StatusErrored,
		core.StatusWarned:  StatusWarned,
		core.StatusSkipped: StatusSkipped,
	}
	for in, want := range tests {
		if got := FromStepStatus(in); got != want {
			t.Errorf("FromStepStatus(%s) = %s, want %s", in, got, want)
		}
	}
}
