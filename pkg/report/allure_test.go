package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
)

func readAllureResult(t *testing.T, dir, id string) AllureResult {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "allure-results", id+"-result.json"))
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	var r AllureResult
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("parse result: %v", err)
	}
	return r
}

func TestGenerateAllure(t *testing.T) {
	w, dir := newTestWriter(t)
	w.Start()
	w.ScenarioStart(0)
	w.CommandStart(0, 0)
	w.CommandEnd(0, 0, CommandEnd{Status: StatusPassed})
	w.CommandStart(0, 1)
	w.CommandEnd(0, 1, CommandEnd{
		Status:      StatusErrored,
		Error:       core.ErrBusBlocked,
		Attachments: []core.Attachment{core.NewHierarchyAttachment("", []byte(`[]`))},
	})
	w.ScenarioEnd(0, StatusErrored, core.ErrBusBlocked, []core.Attachment{
		core.NewTextAttachment(core.AttachmentJournal, "journal"),
	})
	w.ScenarioStart(1)
	w.SkipRemaining(1, 0)
	w.ScenarioEnd(1, StatusSkipped, nil, nil)
	w.End()

	if err := GenerateAllure(dir); err != nil {
		t.Fatalf("GenerateAllure() error = %v", err)
	}

	r := readAllureResult(t, dir, "scn-000")
	if r.Status != "broken" {
		t.Errorf("Status = %q, want broken", r.Status)
	}
	if !strings.Contains(r.StatusDetails.Message, "bus is blocked") {
		t.Errorf("StatusDetails.Message = %q", r.StatusDetails.Message)
	}
	if len(r.Steps) != 2 || r.Steps[0].Status != "passed" || r.Steps[1].Status != "broken" {
		t.Fatalf("Steps = %+v", r.Steps)
	}
	if r.Steps[0].Name != "startApp via command" {
		t.Errorf("Steps[0].Name = %q", r.Steps[0].Name)
	}
	if len(r.Steps[1].Attachments) != 1 || len(r.Attachments) != 1 {
		t.Fatalf("attachments: step %d, scenario %d", len(r.Steps[1].Attachments), len(r.Attachments))
	}
	src := r.Steps[1].Attachments[0].Source
	if _, err := os.Stat(filepath.Join(dir, "allure-results", src)); err != nil {
		t.Errorf("attachment %s not copied: %v", src, err)
	}
	if !hasLabel(r.Labels, "tag", "smoke") {
		t.Errorf("Labels = %+v, missing tag smoke", r.Labels)
	}

	skipped := readAllureResult(t, dir, "scn-001")
	if skipped.Status != "skipped" || len(skipped.Steps) != 1 || len(skipped.Steps[0].Steps) != 2 {
		t.Errorf("skipped result = %+v", skipped)
	}

	for _, name := range []string{"categories.json", "environment.properties"} {
		if _, err := os.Stat(filepath.Join(dir, "allure-results", name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
}

func hasLabel(labels []AllureLabel, name, value string) bool {
	for _, l := range labels {
		if l.Name == name && l.Value == value {
			return true
		}
	}
	return false
}

func TestMapAllureStatus(t *testing.T) {
	tests := map[Status]string{
		StatusPassed:  "passed",
		StatusWarned:  "passed",
		StatusFailed:  "failed",
		StatusErrored: "broken",
		StatusSkipped: "skipped",
		StatusPending: "unknown",
	}
	for in, want := range tests {
		if got := mapAllureStatus(in); got != want {
			t.Errorf("mapAllureStatus(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestGenerateAllure_MissingReport(t *testing.T) {
	if err := GenerateAllure(t.TempDir()); err == nil {
		t.Error("GenerateAllure() on empty dir succeeded")
	}
}
