package executor

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/report"
)

func TestCommandEnd(t *testing.T) {
	elem := &core.ElementInfo{Name: "Print", Role: "push button", Bounds: core.Bounds{X: 1, Y: 2, Width: 3, Height: 4}}

	end := commandEnd(core.Success("Clicked", elem), core.StatusPassed, nil, nil)
	if end.Status != report.StatusPassed || end.Message != "Clicked" || end.Error != nil {
		t.Errorf("passed end = %+v", end)
	}
	if end.Element == nil || end.Element.Name != "Print" || end.Element.Bounds == nil {
		t.Errorf("element = %+v", end.Element)
	}

	err := core.ErrTextMismatch.WithMessage("wrong title")
	end = commandEnd(core.Failure(err, ""), core.StatusFailed, nil, nil)
	if end.Status != report.StatusFailed || !errors.Is(end.Error, core.ErrTextMismatch) {
		t.Errorf("failed end = %+v", end)
	}

	end = commandEnd(core.Failure(err, ""), core.StatusWarned, nil, nil)
	if end.Status != report.StatusWarned || end.Error == nil {
		t.Errorf("warned end = %+v", end)
	}

	if end := commandEnd(nil, core.StatusSkipped, nil, nil); end.Status != report.StatusSkipped {
		t.Errorf("nil result end = %+v", end)
	}
}

func TestResultAttachments(t *testing.T) {
	shot := core.NewScreenshotAttachment("/tmp/s.jpg")
	crashed := core.NewTextAttachment(core.AttachmentCrash, "boom")

	tests := []struct {
		name string
		r    *core.CommandResult
		want []core.Attachment
	}{
		{"nil result", nil, nil},
		{"no data", core.Success("ok", nil), nil},
		{"single", &core.CommandResult{Success: true, Data: shot}, []core.Attachment{shot}},
		{"list", &core.CommandResult{Data: []core.Attachment{shot, crashed}}, []core.Attachment{shot, crashed}},
		{"other data", &core.CommandResult{Data: 42}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, resultAttachments(tt.r)); diff != "" {
				t.Errorf("resultAttachments() (-want +got):\n%s", diff)
			}
		})
	}
}
