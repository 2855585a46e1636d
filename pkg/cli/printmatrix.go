package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/desktop-runner/pkg/config"
	"github.com/devicelab-dev/desktop-runner/pkg/diag"
	"github.com/devicelab-dev/desktop-runner/pkg/executor"
	"github.com/devicelab-dev/desktop-runner/pkg/logger"
	"github.com/devicelab-dev/desktop-runner/pkg/printmatrix"
)

var printMatrixCommand = &cli.Command{
	Name:  "print-matrix",
	Usage: "Print test documents over every combination of print settings",
	Description: `Open each <n>-page.pdf from the document directory and print it through
the application's Print dialog once per combination of copies, collation,
page order, pages per sheet, sheet selection, page range and output format.
The printer must be set to "Print to File".

Examples:
  desktop-runner print-matrix --dry-run
  desktop-runner --app evince print-matrix --documents ./docs
  desktop-runner print-matrix --matrix small.yaml --output-dir /tmp/prints`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "documents",
			Usage: "Directory holding the n-page.pdf test documents",
			Value: ".",
		},
		&cli.StringFlag{
			Name:  "output-dir",
			Usage: "Directory print-to-file writes to (default: $HOME)",
		},
		&cli.StringFlag{
			Name:  "matrix",
			Usage: "YAML file overriding matrix lists (copies, collate, reverse, pagesPerSheet, onlyPrint, outputTypes, documents, ranges)",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "List the output file names without printing",
		},
	},
	Action: runPrintMatrix,
}

// loadMatrix reads a matrix override file; empty lists keep the defaults.
func loadMatrix(path string) (printmatrix.Matrix, error) {
	var m printmatrix.Matrix
	if path != "" {
		data, err := os.ReadFile(path) //#nosec G304 -- user-provided matrix file
		if err != nil {
			return m, fmt.Errorf("failed to read matrix: %w", err)
		}
		if err := yaml.Unmarshal(data, &m); err != nil {
			return m, fmt.Errorf("failed to parse matrix %s: %w", path, err)
		}
	}
	m = m.WithDefaults()
	return m, m.Validate()
}

// writeCombinations lists the file names a run of m would produce.
func writeCombinations(w io.Writer, m printmatrix.Matrix) {
	combos := m.Combinations()
	for _, c := range combos {
		fmt.Fprintln(w, c.Filename())
	}
	fmt.Fprintf(w, "%d combination(s)\n", len(combos))
}

func runPrintMatrix(c *cli.Context) error {
	m, err := loadMatrix(c.String("matrix"))
	if err != nil {
		return err
	}
	if c.Bool("dry-run") {
		writeCombinations(c.App.Writer, m)
		return nil
	}

	ws, _, err := loadWorkspace(c.String("config"), nil)
	if err != nil {
		return err
	}
	appCfg := ws.AppConfig(c.String("app"))
	if appCfg.Command == "" {
		appCfg.Command = "evince"
	}
	delay, err := typingDelay(c, ws)
	if err != nil {
		return err
	}
	if c.String("log-file") == "" {
		if err := logger.Init(config.GetLogPath()); err != nil {
			fmt.Printf("Warning: Failed to initialize logger: %v\n", err)
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, cleanup, err := newDesktopEnv(ctx, desktopOptions{
		App:            appCfg,
		TypingDelay:    delay,
		CleanupCommand: ws.CleanupCommand,
		JournalUnit:    ws.Journal.Unit,
		JournalSudo:    ws.Journal.Sudo,
		ScreenshotPath: diag.DefaultScreenshotPath,
	})
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := printCombinations(ctx, env, m, c.String("documents"), c.String("output-dir"))
	fmt.Fprintf(c.App.Writer, "Printed %d of %d combination(s)\n", n, len(m.Combinations()))
	return err
}

// printCombinations prepares the desktop like a scenario run does, prints
// every combination and resets the desktop afterwards.
func printCombinations(ctx context.Context, env *executor.Env, m printmatrix.Matrix, docDir, outDir string) (int, error) {
	hooks := executor.NewDesktopHooks()
	hooks.BeforeAll(ctx, env)
	defer hooks.AfterScenario(context.WithoutCancel(ctx), env)
	if env.App == nil {
		return 0, fmt.Errorf("no application handle for %q", env.AppConfig.Command)
	}

	d := &printmatrix.Driver{
		App:         env.App,
		DocumentDir: docDir,
		OutputDir:   outDir,
		Search:      env.Search,
		Progress: func(n, total int, c printmatrix.Combination) {
			fmt.Printf("  %s[%d/%d]%s %s\n", color(colorCyan), n, total, color(colorReset), c.Filename())
		},
	}
	return d.Run(ctx, m)
}
