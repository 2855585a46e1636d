// Package app manages the lifecycle of the application under test: starting
// it from a command line or the shell's launcher, checking it through the
// accessibility tree, and stopping it again.
package app

import (
	"path/filepath"
	"strings"

	"github.com/devicelab-dev/desktop-runner/pkg/wait"
)

// DefaultQuitShortcut closes most GNOME applications.
const DefaultQuitShortcut = "<Control><Q>"

// Config describes the application under test.
type Config struct {
	// Command is the launch command line, e.g. "evince".
	Command string
	// DesktopFileName is the .desktop file base name. Defaults to the command.
	DesktopFileName string
	// A11yName is the name the application registers with the accessibility
	// registry. Defaults to the lowercased command name.
	A11yName string
	// QuitShortcut closes the application. Defaults to DefaultQuitShortcut.
	QuitShortcut string
	// ForceKillOnStart kills a running instance before starting a new one.
	ForceKillOnStart bool
	// Args are appended to the command when started via command.
	Args []string
	// RecordVideo toggles the shell's screen recorder around the run.
	RecordVideo bool
	// Wait bounds the start and stop polls.
	Wait wait.Options
}

// DefaultConfig returns the configuration for command with force-kill on.
func DefaultConfig(command string) Config {
	return Config{Command: command, ForceKillOnStart: true}
}

// Binary is the first word of the command line.
func (c Config) Binary() string {
	if f := strings.Fields(c.Command); len(f) > 0 {
		return f[0]
	}
	return c.Command
}

func (c Config) withDefaults() Config {
	if c.QuitShortcut == "" {
		c.QuitShortcut = DefaultQuitShortcut
	}
	if c.DesktopFileName == "" {
		c.DesktopFileName = filepath.Base(c.Binary())
	}
	if c.A11yName == "" {
		c.A11yName = strings.ToLower(filepath.Base(c.Binary()))
	}
	return c
}
