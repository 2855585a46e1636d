package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/desktop-runner/pkg/a11y"
	"github.com/devicelab-dev/desktop-runner/pkg/atspi"
	"github.com/devicelab-dev/desktop-runner/pkg/desktop"
)

var treeCommand = &cli.Command{
	Name:      "tree",
	Usage:     "Print the accessibility tree as JSON",
	ArgsUsage: "[application]",
	Description: `Print the accessibility hierarchy of one application, or of every
registered application when none is named.

Examples:
  desktop-runner tree
  desktop-runner tree evince --depth 6
  desktop-runner tree --names`,
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "depth",
			Usage: "Levels to descend (0 = unlimited)",
		},
		&cli.BoolFlag{
			Name:  "names",
			Usage: "Only list the registered application names",
		},
	},
	Action: runTree,
}

var desktopEntryCommand = &cli.Command{
	Name:      "desktop-entry",
	Usage:     "Print the desktop entry of the application under test",
	ArgsUsage: "[command]",
	Description: `Resolve the .desktop file owned by the application's package and print
its name, launch command and menu categories.

Examples:
  desktop-runner desktop-entry evince
  desktop-runner --app gnome-calculator desktop-entry --name org.gnome.Calculator`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "name",
			Usage: "Desktop file base name (default: app.desktopFile, then the binary name)",
		},
	},
	Action: runDesktopEntry,
}

var a11yCommand = &cli.Command{
	Name:  "a11y",
	Usage: "Inspect or switch on the session's accessibility service",
	Subcommands: []*cli.Command{
		{
			Name:  "enable",
			Usage: "Switch accessibility on (applications started earlier must be restarted)",
			Action: func(c *cli.Context) error {
				if err := atspi.Enable(c.Context); err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, "accessibility enabled")
				return nil
			},
		},
		{
			Name:  "status",
			Usage: "Report whether accessibility is on",
			Action: func(c *cli.Context) error {
				on, err := atspi.IsEnabled(c.Context)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, enabledWord(on))
				return nil
			},
		},
	},
}

func enabledWord(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

func runTree(c *cli.Context) error {
	client, err := atspi.Connect(c.Context)
	if err != nil {
		return err
	}
	defer client.Close()

	if c.Bool("names") {
		return writeApplicationNames(c.Context, c.App.Writer, client)
	}
	return writeTree(c.Context, c.App.Writer, client, c.Args().First(), c.Int("depth"))
}

func writeApplicationNames(ctx context.Context, w io.Writer, tree a11y.Tree) error {
	names, err := a11y.ApplicationNames(ctx, tree)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(w, name)
	}
	return nil
}

// writeTree encodes the application named appName, or every application
// when appName is empty.
func writeTree(ctx context.Context, w io.Writer, tree a11y.Tree, appName string, depth int) error {
	var v interface{}
	if appName != "" {
		node, err := a11y.Application(ctx, tree, appName)
		if err != nil {
			return err
		}
		snap, err := a11y.Dump(ctx, node, depth)
		if err != nil {
			return err
		}
		v = snap
	} else {
		snaps, err := a11y.DumpTree(ctx, tree, depth)
		if err != nil {
			return err
		}
		v = snaps
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runDesktopEntry(c *cli.Context) error {
	ws, _, err := loadWorkspace(c.String("config"), nil)
	if err != nil {
		return err
	}
	command := c.Args().First()
	if command == "" {
		command = c.String("app")
	}
	cfg := ws.AppConfig(command)
	if cfg.Command == "" {
		return fmt.Errorf("no application: pass a command, --app or app.command in config.yaml")
	}

	name := c.String("name")
	if name == "" {
		name = cfg.DesktopFileName
	}
	if name == "" {
		name = filepath.Base(cfg.Binary())
	}
	return writeDesktopEntry(c.Context, c.App.Writer, desktop.PackageResolver{}, cfg.Command, name)
}

func writeDesktopEntry(ctx context.Context, w io.Writer, r desktop.Resolver, command, name string) error {
	entry, err := r.Lookup(ctx, command, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Name:       %s\n", entry.Name())
	fmt.Fprintf(w, "Exec:       %s\n", entry.Exec())
	fmt.Fprintf(w, "Categories: %s\n", strings.Join(entry.Categories(), ";"))
	if group := entry.MenuGroup(); group != "" {
		fmt.Fprintf(w, "Menu group: %s\n", group)
	}
	return nil
}
