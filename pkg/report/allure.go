package report

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"github.com/devicelab-dev/desktop-runner/pkg/logger"
)

// Allure result schema types.

// AllureResult represents a single test result in Allure format.
type AllureResult struct {
	UUID          string              `json:"uuid"`
	HistoryID     string              `json:"historyId"`
	FullName      string              `json:"fullName"`
	Name          string              `json:"name"`
	Status        string              `json:"status"`
	Stage         string              `json:"stage"`
	Start         int64               `json:"start"`
	Stop          int64               `json:"stop"`
	Labels        []AllureLabel       `json:"labels"`
	StatusDetails AllureStatusDetails `json:"statusDetails"`
	Steps         []AllureStep        `json:"steps"`
	Attachments   []AllureAttachment  `json:"attachments"`
}

// AllureStep represents a step within a test result.
type AllureStep struct {
	Name          string              `json:"name"`
	Status        string              `json:"status"`
	Stage         string              `json:"stage"`
	Start         int64               `json:"start"`
	Stop          int64               `json:"stop"`
	StatusDetails AllureStatusDetails `json:"statusDetails"`
	Steps         []AllureStep        `json:"steps"`
	Attachments   []AllureAttachment  `json:"attachments"`
}

// AllureAttachment represents a file attachment.
type AllureAttachment struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Type   string `json:"type"`
}

// AllureLabel represents a label on a test result.
type AllureLabel struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AllureStatusDetails holds failure message and trace.
type AllureStatusDetails struct {
	Message string `json:"message,omitempty"`
	Trace   string `json:"trace,omitempty"`
}

// AllureCategory defines a failure category with regex matching.
type AllureCategory struct {
	Name            string   `json:"name"`
	MatchedStatuses []string `json:"matchedStatuses"`
	MessageRegex    string   `json:"messageRegex"`
}

// GenerateAllure converts a finished report into Allure result files under
// <reportDir>/allure-results/.
func GenerateAllure(reportDir string) error {
	index, details, err := ReadReport(reportDir)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}

	allureDir := filepath.Join(reportDir, "allure-results")
	if err := ensureDir(allureDir); err != nil {
		return fmt.Errorf("create allure-results dir: %w", err)
	}

	for i, entry := range index.Scenarios {
		var detail *ScenarioDetail
		if i < len(details) {
			detail = &details[i]
		}
		result := buildAllureResult(&entry, detail, index)

		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal allure result for %s: %w", entry.ID, err)
		}
		if err := os.WriteFile(filepath.Join(allureDir, entry.ID+"-result.json"), data, 0o644); err != nil {
			return fmt.Errorf("write allure result %s: %w", entry.ID, err)
		}
		if detail != nil {
			copyAllureAttachments(reportDir, allureDir, detail)
		}
	}

	if err := writeAllureCategories(allureDir); err != nil {
		return err
	}
	return writeAllureEnvironment(allureDir, index)
}

func buildAllureResult(entry *ScenarioEntry, detail *ScenarioDetail, index *Index) AllureResult {
	var startMs, stopMs int64
	if entry.StartTime != nil {
		startMs = entry.StartTime.UnixMilli()
	}
	if entry.EndTime != nil {
		stopMs = entry.EndTime.UnixMilli()
	}

	labels := []AllureLabel{
		{Name: "suite", Value: entry.Name},
		{Name: "parentSuite", Value: filepath.Base(entry.SourceFile)},
		{Name: "framework", Value: "desktop-runner"},
	}
	if index.Host.Hostname != "" {
		labels = append(labels, AllureLabel{Name: "host", Value: index.Host.Hostname})
	}
	for _, tag := range entry.Tags {
		labels = append(labels, AllureLabel{Name: "tag", Value: tag})
	}

	var details AllureStatusDetails
	if entry.Error != nil {
		details.Message = *entry.Error
	}

	steps := []AllureStep{}
	attachments := []AllureAttachment{}
	if detail != nil {
		steps = buildAllureSteps(detail.Commands)
		attachments = allureAttachments(detail.Attachments)
	}

	return AllureResult{
		UUID:          index.RunID + "-" + entry.ID,
		HistoryID:     fnv32aHash(entry.Name + ":" + entry.SourceFile),
		FullName:      entry.SourceFile + ":" + entry.Name,
		Name:          entry.Name,
		Status:        mapAllureStatus(entry.Status),
		Stage:         "finished",
		Start:         startMs,
		Stop:          stopMs,
		Labels:        labels,
		StatusDetails: details,
		Steps:         steps,
		Attachments:   attachments,
	}
}

func buildAllureSteps(commands []Command) []AllureStep {
	steps := make([]AllureStep, 0, len(commands))
	for _, cmd := range commands {
		steps = append(steps, buildAllureStep(cmd))
	}
	return steps
}

func buildAllureStep(cmd Command) AllureStep {
	name := cmd.Description
	if cmd.Label != "" {
		name = cmd.Label
	}
	if name == "" {
		name = cmd.Type
	}

	var startMs, stopMs int64
	if cmd.StartTime != nil {
		startMs = cmd.StartTime.UnixMilli()
	}
	if cmd.EndTime != nil {
		stopMs = cmd.EndTime.UnixMilli()
	}

	var details AllureStatusDetails
	if cmd.Error != nil {
		details.Message = cmd.Error.Message
	}

	return AllureStep{
		Name:          name,
		Status:        mapAllureStatus(cmd.Status),
		Stage:         "finished",
		Start:         startMs,
		Stop:          stopMs,
		StatusDetails: details,
		Steps:         buildAllureSteps(cmd.SubCommands),
		Attachments:   allureAttachments(cmd.Attachments),
	}
}

func allureAttachments(atts []Attachment) []AllureAttachment {
	out := make([]AllureAttachment, 0, len(atts))
	for _, a := range atts {
		out = append(out, AllureAttachment{
			Name:   a.Name,
			Source: allureSource(a.Path),
			Type:   a.ContentType,
		})
	}
	return out
}

// allureSource flattens an asset path into a unique file name, since Allure
// expects attachments next to the result files.
func allureSource(path string) string {
	return strings.ReplaceAll(filepath.ToSlash(path), "/", "_")
}

func copyAllureAttachments(reportDir, allureDir string, detail *ScenarioDetail) {
	copyAll := func(atts []Attachment) {
		for _, a := range atts {
			if err := copyFile(filepath.Join(reportDir, a.Path), filepath.Join(allureDir, allureSource(a.Path))); err != nil {
				logger.Warn("allure: copy %s: %v", a.Path, err)
			}
		}
	}
	copyAll(detail.Attachments)
	var walk func(cmds []Command)
	walk = func(cmds []Command) {
		for _, c := range cmds {
			copyAll(c.Attachments)
			walk(c.SubCommands)
		}
	}
	walk(detail.Commands)
}

// mapAllureStatus maps report Status to Allure status string. Errored steps
// are "broken" in Allure's vocabulary.
func mapAllureStatus(s Status) string {
	switch s {
	case StatusPassed, StatusWarned:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusErrored:
		return "broken"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// fnv32aHash returns a hex-encoded FNV-32a hash of the input string.
func fnv32aHash(s string) string {
	h := fnv.New32a()
	h.Write([]byte(s))
	return fmt.Sprintf("%08x", h.Sum32())
}

func writeAllureCategories(allureDir string) error {
	categories := []AllureCategory{
		{Name: "Widget Not Found", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*no node matching.*|.*not found.*"},
		{Name: "Text Mismatch", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*text.*"},
		{Name: "Timeout", MatchedStatuses: []string{"broken"}, MessageRegex: "(?i).*timed out.*|.*time limit.*"},
		{Name: "Accessibility Bus", MatchedStatuses: []string{"broken"}, MessageRegex: "(?i).*bus.*|.*dbus.*"},
		{Name: "App Not Started", MatchedStatuses: []string{"broken", "failed"}, MessageRegex: "(?i).*not started.*|.*not running.*"},
		{Name: "Script Error", MatchedStatuses: []string{"broken", "failed"}, MessageRegex: "(?i).*script.*"},
	}

	data, err := json.MarshalIndent(categories, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	if err := os.WriteFile(filepath.Join(allureDir, "categories.json"), data, 0o644); err != nil {
		return fmt.Errorf("write categories.json: %w", err)
	}
	return nil
}

// writeAllureEnvironment writes environment.properties with host and app metadata.
func writeAllureEnvironment(allureDir string, index *Index) error {
	var b strings.Builder
	b.WriteString("framework=desktop-runner\n")
	props := []struct{ key, value string }{
		{"host.name", index.Host.Hostname},
		{"host.platform", index.Host.Platform},
		{"host.platformVersion", index.Host.PlatformVersion},
		{"host.kernel", index.Host.KernelVersion},
		{"runner.version", index.Runner.Version},
		{"app.command", index.App.Command},
		{"app.desktop", index.App.Desktop},
	}
	for _, p := range props {
		if p.value != "" {
			fmt.Fprintf(&b, "%s=%s\n", p.key, p.value)
		}
	}

	if err := os.WriteFile(filepath.Join(allureDir, "environment.properties"), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write environment.properties: %w", err)
	}
	return nil
}
