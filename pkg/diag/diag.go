// Package diag captures diagnostics around a run (screenshots, session
// journal) and resets the desktop between scenarios.
package diag

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/devicelab-dev/desktop-runner/pkg/logger"
	"github.com/devicelab-dev/desktop-runner/pkg/process"
)

// Defaults match a stock GNOME session.
const (
	DefaultJournalUnit    = "/usr/bin/gnome-session"
	DefaultScreenshotPath = "/tmp/screenshot.jpg"
	InitialSetupPath      = "/usr/libexec/gnome-initial-setup"
	journalTimeLayout     = "2006-01-02 15:04:05"
)

// CommandRunner runs a command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Exec is the default CommandRunner.
func Exec(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Collector gathers diagnostics and performs cleanup.
type Collector struct {
	// JournalUnit is the journalctl match, DefaultJournalUnit when empty.
	JournalUnit string
	// JournalSudo runs journalctl through sudo.
	JournalSudo bool
	// CleanupCommand is a shell command run between scenarios. Empty skips it.
	CleanupCommand string

	Run        CommandRunner
	KillByName func(ctx context.Context, name string) (int, error)
}

func (c *Collector) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if c.Run != nil {
		return c.Run(ctx, name, args...)
	}
	return Exec(ctx, name, args...)
}

// Screenshot saves the screen to path as JPEG.
func (c *Collector) Screenshot(ctx context.Context, path string) error {
	if path == "" {
		path = DefaultScreenshotPath
	}
	if _, err := c.run(ctx, "gnome-screenshot", "-f", path); err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	return nil
}

// Journal returns the session journal since the given time.
func (c *Collector) Journal(ctx context.Context, since time.Time) (string, error) {
	unit := c.JournalUnit
	if unit == "" {
		unit = DefaultJournalUnit
	}
	args := []string{unit, "--no-pager", "-o", "cat", "--since=" + since.Format(journalTimeLayout)}
	name := "journalctl"
	if c.JournalSudo {
		args = append([]string{name}, args...)
		name = "sudo"
	}
	out, err := c.run(ctx, name, args...)
	if err != nil {
		return "", fmt.Errorf("journal: %w", err)
	}
	return string(out), nil
}

// Cleanup runs the cleanup command through sh.
func (c *Collector) Cleanup(ctx context.Context) error {
	if c.CleanupCommand == "" {
		return nil
	}
	out, err := c.run(ctx, "sh", "-c", c.CleanupCommand)
	if len(out) > 0 {
		logger.Debug("cleanup: %s", strings.TrimSpace(string(out)))
	}
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return nil
}

// KillInitialSetup stops gnome-initial-setup, which otherwise grabs focus
// on a fresh session.
func (c *Collector) KillInitialSetup(ctx context.Context) error {
	kill := c.KillByName
	if kill == nil {
		kill = process.KillByName
	}
	_, err := kill(ctx, InitialSetupPath)
	return err
}
