// Package core provides the execution model types for desktop-runner.
package core

// Attachment represents a diagnostic artifact captured around a step.
type Attachment struct {
	Name        string `json:"name"`           // Descriptive name: screenshot, hierarchy, crash, journal
	ContentType string `json:"contentType"`    // MIME type: image/jpeg, application/json, text/plain
	Path        string `json:"path,omitempty"` // File path relative to output directory
	Body        []byte `json:"-"`              // In-memory content (not serialized to JSON)
}

// Common attachment names
const (
	AttachmentScreenshot = "screenshot"
	AttachmentHierarchy  = "hierarchy"
	AttachmentCrash      = "crash"
	AttachmentJournal    = "journal"
)

// Common content types
const (
	ContentTypeJPEG = "image/jpeg"
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain"
)

// NewScreenshotAttachment creates a screenshot attachment
func NewScreenshotAttachment(path string) Attachment {
	return Attachment{
		Name:        AttachmentScreenshot,
		ContentType: ContentTypeJPEG,
		Path:        path,
	}
}

// NewHierarchyAttachment creates an accessibility hierarchy attachment
func NewHierarchyAttachment(path string, data []byte) Attachment {
	return Attachment{
		Name:        AttachmentHierarchy,
		ContentType: ContentTypeJSON,
		Path:        path,
		Body:        data,
	}
}

// NewTextAttachment creates a plain-text attachment such as a crash reason or journal excerpt.
func NewTextAttachment(name, text string) Attachment {
	return Attachment{
		Name:        name,
		ContentType: ContentTypeText,
		Body:        []byte(text),
	}
}

// ArtifactConfig controls when and what artifacts are captured
type ArtifactConfig struct {
	// When to capture
	CaptureOnFailure bool `yaml:"captureOnFailure" json:"captureOnFailure"` // Default: true
	CaptureOnSuccess bool `yaml:"captureOnSuccess" json:"captureOnSuccess"` // Default: false

	// What to capture
	Screenshot  bool `yaml:"screenshot" json:"screenshot"`   // Default: true
	UIHierarchy bool `yaml:"uiHierarchy" json:"uiHierarchy"` // Default: true
	Journal     bool `yaml:"journal" json:"journal"`         // Default: true
}

// DefaultArtifactConfig returns sensible defaults for artifact capture
func DefaultArtifactConfig() ArtifactConfig {
	return ArtifactConfig{
		CaptureOnFailure: true,
		CaptureOnSuccess: false,
		Screenshot:       true,
		UIHierarchy:      true,
		Journal:          true,
	}
}

// ShouldCapture returns true if artifacts should be captured for the given status
func (c ArtifactConfig) ShouldCapture(status StepStatus) bool {
	switch status {
	case StatusFailed, StatusErrored:
		return c.CaptureOnFailure
	case StatusPassed:
		return c.CaptureOnSuccess
	default:
		return false
	}
}
