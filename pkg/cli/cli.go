// Package cli provides the command-line interface for desktop-runner.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/desktop-runner/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "Path to workspace config.yaml (default: config.yaml next to the scenarios)",
		EnvVars: []string{"DESKTOP_RUNNER_CONFIG"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Mirror the run log to stderr",
		EnvVars: []string{"DESKTOP_RUNNER_VERBOSE"},
	},
	&cli.StringFlag{
		Name:    "log-file",
		Usage:   "Write the run log here instead of the report directory",
		EnvVars: []string{"DESKTOP_RUNNER_LOG_FILE"},
	},
	&cli.StringFlag{
		Name:    "app",
		Usage:   "Command line of the application under test (overrides app.command)",
		EnvVars: []string{"DESKTOP_RUNNER_APP"},
	},
	&cli.IntFlag{
		Name:    "typing-delay",
		Usage:   "Delay between typed characters in ms (overrides typingDelayMs)",
		EnvVars: []string{"DESKTOP_RUNNER_TYPING_DELAY"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the command tree.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "desktop-runner",
		Usage:   "Accessibility-driven GUI test runner for GNOME applications",
		Version: Version,
		Description: `desktop-runner drives a desktop application through the AT-SPI
accessibility tree and synthetic input, running YAML scenarios and writing a
JSON report with screenshots, hierarchies, crash records and journal excerpts.

Examples:
  desktop-runner test scenarios/
  desktop-runner --app evince test print.yaml -e DOC=3-page.pdf
  desktop-runner tree evince
  desktop-runner print-matrix --dry-run`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			logger.SetVerbose(c.Bool("verbose"))
			if path := c.String("log-file"); path != "" {
				if err := logger.Init(path); err != nil {
					return err
				}
			}
			return nil
		},
		After: func(c *cli.Context) error {
			logger.Close()
			return nil
		},
		Commands: []*cli.Command{
			testCommand,
			treeCommand,
			desktopEntryCommand,
			printMatrixCommand,
			a11yCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
