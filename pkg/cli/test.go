package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/desktop-runner/pkg/app"
	"github.com/devicelab-dev/desktop-runner/pkg/config"
	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/executor"
	"github.com/devicelab-dev/desktop-runner/pkg/logger"
	"github.com/devicelab-dev/desktop-runner/pkg/report"
	"github.com/devicelab-dev/desktop-runner/pkg/scenario"
	"github.com/devicelab-dev/desktop-runner/pkg/validator"
)

var testCommand = &cli.Command{
	Name:      "test",
	Usage:     "Run scenario files against the desktop",
	ArgsUsage: "<scenario-file-or-folder>...",
	Description: `Run one or more scenario files against the application under test.

Without arguments the scenarios listed in config.yaml are run.

Reports are generated in the output directory:
  - Default: <outputDir from config, or $DESKTOP_RUNNER_HOME/reports>/<timestamp>/
  - With --output: <output>/<timestamp>/
  - With --output and --flatten: <output>/ (no timestamp subfolder)

Examples:
  desktop-runner test print.yaml
  desktop-runner test scenarios/
  desktop-runner test scenarios/ -e DOC=3-page.pdf --include-tags smoke
  desktop-runner --app "evince --preview" test preview.yaml
  desktop-runner test scenarios/ --output ./my-reports --flatten --allure`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "Variables visible to every scenario (KEY=VALUE)",
		},
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only include scenarios with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Exclude scenarios with these tags",
		},
		&cli.StringFlag{
			Name:  "output",
			Usage: "Output directory for reports (default: <home>/reports)",
		},
		&cli.BoolFlag{
			Name:  "flatten",
			Usage: "Don't create timestamp subfolder (requires --output)",
		},
		&cli.BoolFlag{
			Name:    "stop-on-fail",
			Usage:   "Skip the remaining scenarios after the first failure",
			EnvVars: []string{"DESKTOP_RUNNER_STOP_ON_FAIL"},
		},
		&cli.BoolFlag{
			Name:  "allure",
			Usage: "Also write Allure results to <output>/allure-results",
		},
	},
	Action: runTest,
}

// RunConfig holds the resolved settings of a test run.
type RunConfig struct {
	// Paths
	ScenarioPaths []string
	ConfigPath    string

	Workspace *config.Config

	// Environment
	Env map[string]string

	// Filtering
	IncludeTags []string
	ExcludeTags []string

	// Output
	OutputDir string // Final resolved output directory
	LogFile   string // Set when --log-file was given
	Allure    bool

	StopOnFail bool

	// Application under test
	App         app.Config
	TypingDelay time.Duration
}

func runTest(c *cli.Context) error {
	ws, wsDir, err := loadWorkspace(c.String("config"), c.Args().Slice())
	if err != nil {
		return err
	}

	paths := c.Args().Slice()
	if len(paths) == 0 {
		paths, err = expandScenarioGlobs(wsDir, ws.Scenarios)
		if err != nil {
			return err
		}
	}
	if len(paths) == 0 {
		return fmt.Errorf("at least one scenario file or folder is required")
	}

	// Workspace config env + CLI env (CLI takes precedence)
	mergedEnv := make(map[string]string)
	for k, v := range ws.Env {
		mergedEnv[k] = v
	}
	for k, v := range parseEnvVars(c.StringSlice("env")) {
		mergedEnv[k] = v
	}

	output := c.String("output")
	if output == "" {
		output = ws.OutputDir
	}
	outputDir, err := resolveOutputDir(output, c.Bool("flatten"))
	if err != nil {
		return err
	}

	delay, err := typingDelay(c, ws)
	if err != nil {
		return err
	}

	cfg := &RunConfig{
		ScenarioPaths: paths,
		ConfigPath:    c.String("config"),
		Workspace:     ws,
		Env:           mergedEnv,
		IncludeTags:   orDefault(c.StringSlice("include-tags"), ws.IncludeTags),
		ExcludeTags:   orDefault(c.StringSlice("exclude-tags"), ws.ExcludeTags),
		OutputDir:     outputDir,
		LogFile:       c.String("log-file"),
		Allure:        c.Bool("allure"),
		StopOnFail:    c.Bool("stop-on-fail"),
		App:           ws.AppConfig(c.String("app")),
		TypingDelay:   delay,
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return executeTest(ctx, cfg)
}

// loadWorkspace reads the --config file, or config.yaml/config.yml beside
// the first scenario path. It returns the directory relative paths in the
// config are resolved against.
func loadWorkspace(configPath string, paths []string) (*config.Config, string, error) {
	if configPath != "" {
		ws, err := config.Load(configPath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config: %w", err)
		}
		return ws, filepath.Dir(configPath), nil
	}

	dir := "."
	if len(paths) > 0 {
		dir = paths[0]
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			dir = filepath.Dir(dir)
		}
	}
	ws, err := config.LoadFromDir(dir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	return ws, dir, nil
}

// expandScenarioGlobs resolves the config's scenario patterns against dir.
func expandScenarioGlobs(dir string, patterns []string) ([]string, error) {
	var paths []string
	for _, p := range patterns {
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, core.ErrInvalidConfig.WithMessagef("bad scenario pattern %q", p).WithCause(err)
		}
		paths = append(paths, matches...)
	}
	return paths, nil
}

// typingDelay applies --typing-delay over typingDelayMs.
func typingDelay(c *cli.Context, ws *config.Config) (time.Duration, error) {
	if !c.IsSet("typing-delay") {
		return ws.TypingDelay(), nil
	}
	ms := c.Int("typing-delay")
	if ms < 0 {
		return 0, core.ErrInvalidConfig.WithMessagef("--typing-delay must not be negative, got %d", ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func orDefault(flag, fallback []string) []string {
	if len(flag) > 0 {
		return flag
	}
	return fallback
}

// resolveOutputDir determines the output directory based on flags.
// - No --output: <home>/reports/<timestamp>/
// - --output given: <output>/<timestamp>/
// - --output + --flatten: <output>/ (error if --output not given)
func resolveOutputDir(output string, flatten bool) (string, error) {
	if flatten && output == "" {
		return "", fmt.Errorf("--flatten requires --output to be specified")
	}

	baseDir := output
	if baseDir == "" {
		baseDir = config.GetReportsDir()
	}

	if flatten {
		return filepath.Clean(baseDir), nil
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join(baseDir, timestamp), nil
}

func executeTest(ctx context.Context, cfg *RunConfig) error {
	// 1. Create output directory
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// 2. Initialize logging, unless --log-file already did
	if cfg.LogFile == "" {
		logPath := filepath.Join(cfg.OutputDir, "desktop-runner.log")
		if err := logger.Init(logPath); err != nil {
			fmt.Printf("Warning: Failed to initialize logger: %v\n", err)
		}
	}

	logger.Info("=== Test execution started ===")
	logger.Info("Output directory: %s", cfg.OutputDir)
	logger.Info("Application: %s", cfg.App.Command)

	// 3. Validate and parse scenarios
	scenarios, err := validateAndParseScenarios(cfg)
	if err != nil {
		logger.Error("Scenario validation failed: %v", err)
		return err
	}
	logger.Info("Validated %d scenario(s)", len(scenarios))

	// 4. Connect to the desktop
	printSetupStep("Connecting to the accessibility bus...")
	env, cleanup, err := newDesktopEnv(ctx, desktopOptions{
		App:            cfg.App,
		TypingDelay:    cfg.TypingDelay,
		CleanupCommand: cfg.Workspace.CleanupCommand,
		JournalUnit:    cfg.Workspace.Journal.Unit,
		JournalSudo:    cfg.Workspace.Journal.Sudo,
		ScreenshotPath: filepath.Join(cfg.OutputDir, "screenshot.jpg"),
	})
	if err != nil {
		logger.Error("Desktop setup failed: %v", err)
		return err
	}
	defer cleanup()
	printSetupSuccess("Connected")

	// 5. Execute scenarios
	runner := executor.New(env, executor.RunnerConfig{
		OutputDir:  cfg.OutputDir,
		StopOnFail: cfg.StopOnFail,
		Env:        cfg.Env,
		Host:       report.HostInfo(ctx),
		App: report.App{
			Command:  cfg.App.Command,
			A11yName: cfg.App.A11yName,
			Desktop:  cfg.App.DesktopFileName,
		},
		RunnerVersion:   Version,
		Hooks:           &executor.DesktopHooks{Artifacts: cfg.Workspace.ArtifactConfig()},
		OnScenarioStart: onScenarioStart,
		OnStepComplete:  onStepComplete,
		OnNestedStep:    onNestedStep,
		OnScenarioEnd:   onScenarioEnd,
	})
	result, err := runner.Run(ctx, scenarios)
	if err != nil {
		logger.Error("Scenario execution failed: %v", err)
		return err
	}
	logger.Info("Scenario execution completed: %d passed, %d failed, %d skipped",
		result.PassedScenarios, result.FailedScenarios, result.SkippedScenarios)

	// 6. Summary and failure details from the written report
	printSummary(result)
	if err := printFailureDetails(os.Stdout, cfg.OutputDir); err != nil {
		fmt.Printf("Warning: Could not read report details: %v\n", err)
	}

	// 7. Reports
	fmt.Println()
	fmt.Println("  Reports:")
	fmt.Printf("    JSON:   %s\n", filepath.Join(cfg.OutputDir, "report.json"))
	if cfg.Allure {
		if err := report.GenerateAllure(cfg.OutputDir); err != nil {
			fmt.Printf("  %s⚠%s Warning: failed to generate Allure results: %v\n", color(colorYellow), color(colorReset), err)
		} else {
			fmt.Printf("    Allure: %s\n", filepath.Join(cfg.OutputDir, "allure-results"))
		}
	}
	fmt.Printf("    Log:    %s\n", logLocation(cfg))
	fmt.Println()

	// Exit with code 1 if any scenario failed (summary already printed)
	if result.Status.IsFailure() {
		return cli.Exit("", 1)
	}
	return nil
}

func logLocation(cfg *RunConfig) string {
	if cfg.LogFile != "" {
		return cfg.LogFile
	}
	return filepath.Join(cfg.OutputDir, "desktop-runner.log")
}

// validateAndParseScenarios validates and parses all scenario files.
func validateAndParseScenarios(cfg *RunConfig) ([]*scenario.Scenario, error) {
	v := validator.New(cfg.IncludeTags, cfg.ExcludeTags)
	var result validator.Result
	for _, path := range cfg.ScenarioPaths {
		v.Validate(path, &result)
	}

	if !result.IsValid() {
		fmt.Fprintf(os.Stderr, "Validation errors:\n")
		for _, err := range result.Errors {
			fmt.Fprintf(os.Stderr, "  - %v\n", err)
		}
		return nil, fmt.Errorf("validation failed with %d error(s)", len(result.Errors))
	}

	if len(result.Scenarios) == 0 {
		return nil, fmt.Errorf("no scenarios found")
	}

	fmt.Printf("\n%sSetup%s\n", color(colorBold), color(colorReset))
	fmt.Println(strings.Repeat("─", 40))
	printSetupSuccess(fmt.Sprintf("Found %d scenario(s)", len(result.Scenarios)))

	return result.Scenarios, nil
}

func parseEnvVars(envs []string) map[string]string {
	result := make(map[string]string)
	for _, e := range envs {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}
	return result
}
