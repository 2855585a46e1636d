package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/logger"
)

// Writer applies execution updates to the report and rewrites the affected
// files after every change. It is safe for concurrent use.
type Writer struct {
	mu        sync.Mutex
	outputDir string
	index     *Index
	details   []ScenarioDetail
}

// NewWriter creates a Writer over a skeleton built by BuildSkeleton.
func NewWriter(outputDir string, index *Index, details []ScenarioDetail) *Writer {
	return &Writer{outputDir: outputDir, index: index, details: details}
}

// Start marks the run as started.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.index.Status = StatusRunning
	w.index.StartTime = now
	w.flushIndexLocked()
}

// End marks the run as complete.
func (w *Writer) End() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.index.EndTime = &now
	w.index.Status = w.computeRunStatus()
	w.flushIndexLocked()
}

// Index returns a copy of the current index.
func (w *Writer) Index() Index {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx := *w.index
	idx.Scenarios = append([]ScenarioEntry(nil), w.index.Scenarios...)
	return idx
}

// Detail returns a copy of a scenario's detail.
func (w *Writer) Detail(scn int) (ScenarioDetail, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if scn < 0 || scn >= len(w.details) {
		return ScenarioDetail{}, false
	}
	d := w.details[scn]
	d.Commands = append([]Command(nil), d.Commands...)
	return d, true
}

// ScenarioStart marks a scenario as running.
func (w *Writer) ScenarioStart(scn int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.valid(scn) {
		return
	}
	now := time.Now()
	w.details[scn].StartTime = now
	e := &w.index.Scenarios[scn]
	e.Status = StatusRunning
	e.StartTime = &now
	w.flushLocked(scn)
}

// ScenarioEnd records a scenario's outcome and its scenario-level attachments.
func (w *Writer) ScenarioEnd(scn int, status Status, err error, attachments []core.Attachment) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.valid(scn) {
		return
	}
	now := time.Now()
	d := &w.details[scn]
	if d.StartTime.IsZero() {
		d.StartTime = now
	}
	d.EndTime = &now
	duration := now.Sub(d.StartTime).Milliseconds()
	d.Duration = &duration
	d.Attachments = append(d.Attachments, w.saveAttachments(scn, "scenario", attachments)...)

	e := &w.index.Scenarios[scn]
	e.Status = status
	e.EndTime = &now
	e.Duration = &duration
	if err != nil {
		msg := err.Error()
		e.Error = &msg
	}
	w.flushLocked(scn)
}

// CommandStart marks a top-level command as running.
func (w *Writer) CommandStart(scn, cmd int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	c := w.command(scn, cmd)
	if c == nil {
		return
	}
	now := time.Now()
	c.Status = StatusRunning
	c.StartTime = &now
	w.flushLocked(scn)
}

// CommandEnd records a top-level command's outcome.
func (w *Writer) CommandEnd(scn, cmd int, end CommandEnd) {
	w.mu.Lock()
	defer w.mu.Unlock()

	c := w.command(scn, cmd)
	if c == nil {
		return
	}
	now := time.Now()
	c.Status = end.Status
	c.EndTime = &now
	if c.StartTime != nil {
		duration := now.Sub(*c.StartTime).Milliseconds()
		c.Duration = &duration
	}
	c.Message = end.Message
	c.Element = end.Element
	c.Error = NewError(end.Error)
	c.Attachments = append(c.Attachments, w.saveAttachments(scn, c.ID, end.Attachments)...)
	if end.SubCommands != nil {
		c.SubCommands = end.SubCommands
	}
	w.flushLocked(scn)
}

// SkipRemaining marks every still-pending command from index from onwards
// as skipped.
func (w *Writer) SkipRemaining(scn, from int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.valid(scn) {
		return
	}
	cmds := w.details[scn].Commands
	for i := from; i < len(cmds); i++ {
		if cmds[i].Status == StatusPending {
			cmds[i].Status = StatusSkipped
			skipSubCommands(cmds[i].SubCommands)
		}
	}
	w.flushLocked(scn)
}

func skipSubCommands(cmds []Command) {
	for i := range cmds {
		if cmds[i].Status == StatusPending {
			cmds[i].Status = StatusSkipped
			skipSubCommands(cmds[i].SubCommands)
		}
	}
}

func (w *Writer) valid(scn int) bool {
	return scn >= 0 && scn < len(w.details) && scn < len(w.index.Scenarios)
}

func (w *Writer) command(scn, cmd int) *Command {
	if !w.valid(scn) {
		return nil
	}
	cmds := w.details[scn].Commands
	if cmd < 0 || cmd >= len(cmds) {
		return nil
	}
	return &cmds[cmd]
}

// flushLocked refreshes the scenario's index entry and writes both files.
func (w *Writer) flushLocked(scn int) {
	now := time.Now()
	e := &w.index.Scenarios[scn]
	e.Commands = summarizeCommands(w.details[scn].Commands)
	e.UpdateSeq++
	e.LastUpdated = &now

	d := &w.details[scn]
	if err := atomicWriteJSON(filepath.Join(w.outputDir, e.DataFile), d); err != nil {
		logger.Warn("report: write %s: %v", e.DataFile, err)
	}
	w.flushIndexLocked()
}

func (w *Writer) flushIndexLocked() {
	w.index.UpdateSeq++
	w.index.LastUpdated = time.Now()
	w.index.Summary = w.computeSummary()
	if err := atomicWriteJSON(filepath.Join(w.outputDir, "report.json"), w.index); err != nil {
		logger.Warn("report: write index: %v", err)
	}
}

func summarizeCommands(cmds []Command) CommandSummary {
	s := CommandSummary{Total: len(cmds)}
	for i, c := range cmds {
		switch c.Status {
		case StatusPassed, StatusWarned:
			s.Passed++
		case StatusFailed, StatusErrored:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusRunning:
			s.Running++
			current := i
			s.Current = &current
		default:
			s.Pending++
		}
	}
	return s
}

// computeSummary calculates summary from scenario statuses.
func (w *Writer) computeSummary() Summary {
	var s Summary
	for _, e := range w.index.Scenarios {
		s.Total++
		switch e.Status {
		case StatusPassed, StatusWarned:
			s.Passed++
		case StatusFailed, StatusErrored:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusRunning:
			s.Running++
		default:
			s.Pending++
		}
	}
	return s
}

// computeRunStatus determines overall run status from scenarios.
func (w *Writer) computeRunStatus() Status {
	failed := false
	for _, e := range w.index.Scenarios {
		if e.Status.IsFailure() {
			failed = true
		}
		if e.Status == StatusRunning {
			return StatusRunning
		}
	}
	if failed {
		return StatusFailed
	}
	return StatusPassed
}

// saveAttachments stores attachments under assets/<scenario>/ and returns
// their report entries. Attachments that cannot be saved are logged and
// dropped.
func (w *Writer) saveAttachments(scn int, prefix string, atts []core.Attachment) []Attachment {
	if len(atts) == 0 {
		return nil
	}
	assetsDir := w.index.Scenarios[scn].AssetsDir
	if err := ensureDir(filepath.Join(w.outputDir, assetsDir)); err != nil {
		logger.Warn("report: create %s: %v", assetsDir, err)
		return nil
	}

	var out []Attachment
	for _, a := range atts {
		rel := uniquePath(w.outputDir, filepath.Join(assetsDir, prefix+"-"+a.Name), extension(a))
		dst := filepath.Join(w.outputDir, rel)

		var err error
		if a.Body != nil {
			err = os.WriteFile(dst, a.Body, 0o644)
		} else if a.Path != "" {
			err = copyFile(a.Path, dst)
		} else {
			continue
		}
		if err != nil {
			logger.Warn("report: save %s attachment: %v", a.Name, err)
			continue
		}
		out = append(out, Attachment{Name: a.Name, ContentType: a.ContentType, Path: rel})
	}
	return out
}

func extension(a core.Attachment) string {
	switch a.ContentType {
	case core.ContentTypeJPEG:
		return ".jpg"
	case core.ContentTypeJSON:
		return ".json"
	case core.ContentTypeText:
		return ".txt"
	}
	if ext := filepath.Ext(a.Path); ext != "" {
		return ext
	}
	return ".bin"
}

// uniquePath returns base+ext relative to dir, numbered when taken.
func uniquePath(dir, base, ext string) string {
	rel := base + ext
	for n := 1; ; n++ {
		if _, err := os.Stat(filepath.Join(dir, rel)); os.IsNotExist(err) {
			return rel
		}
		rel = fmt.Sprintf("%s-%d%s", base, n, ext)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// atomicWriteJSON writes v as indented JSON through a temp file and rename,
// so pollers never observe a partial file.
func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// ReadIndex loads report.json.
func ReadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &idx, nil
}

// ReadScenario loads a scenario detail file.
func ReadScenario(path string) (*ScenarioDetail, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d ScenarioDetail
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &d, nil
}

// ReadReport loads the index and every scenario detail from a report directory.
func ReadReport(dir string) (*Index, []ScenarioDetail, error) {
	idx, err := ReadIndex(filepath.Join(dir, "report.json"))
	if err != nil {
		return nil, nil, err
	}
	details := make([]ScenarioDetail, 0, len(idx.Scenarios))
	for _, e := range idx.Scenarios {
		d, err := ReadScenario(filepath.Join(dir, e.DataFile))
		if err != nil {
			return nil, nil, err
		}
		details = append(details, *d)
	}
	return idx, details, nil
}
