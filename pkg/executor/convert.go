package executor

import (
	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/report"
)

// commandEnd converts a step result into a report update.
func commandEnd(r *core.CommandResult, status core.StepStatus, atts []core.Attachment, subs []report.Command) report.CommandEnd {
	end := report.CommandEnd{
		Status:      report.FromStepStatus(status),
		Attachments: atts,
		SubCommands: subs,
	}
	if r == nil {
		return end
	}
	end.Message = r.Message
	end.Element = report.NewElement(r.Element)
	if !r.Success {
		end.Error = r.Error
	}
	return end
}

// resultAttachments returns attachments a step produced itself, such as
// takeScreenshot's image.
func resultAttachments(r *core.CommandResult) []core.Attachment {
	if r == nil {
		return nil
	}
	switch d := r.Data.(type) {
	case core.Attachment:
		return []core.Attachment{d}
	case []core.Attachment:
		return d
	}
	return nil
}
