package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/executor"
	"github.com/devicelab-dev/desktop-runner/pkg/report"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// Slow step threshold in milliseconds (5 seconds)
const slowThresholdMs = 5000

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

// stepMark returns the symbol and color for a finished step. Slow passing
// steps are flagged in yellow.
func stepMark(status core.StepStatus, durationMs int64, compound bool) (string, string) {
	switch status {
	case core.StatusPassed:
		if durationMs >= slowThresholdMs && !compound {
			return "⚠", colorYellow
		}
		return "✓", colorGreen
	case core.StatusWarned:
		return "⚠", colorYellow
	case core.StatusSkipped:
		return "-", colorCyan
	default:
		return "✗", colorRed
	}
}

// isCompoundStep reports whether desc names a step that contains others.
func isCompoundStep(desc string) bool {
	return strings.HasPrefix(desc, "retry:")
}

// Live progress callbacks

func onScenarioStart(idx, total int, name, file string) {
	fmt.Printf("\n  %s[%d/%d]%s %s%s%s (%s)\n",
		color(colorCyan), idx+1, total, color(colorReset),
		color(colorBold), name, color(colorReset), file)
	fmt.Println(strings.Repeat("─", 60))
}

func onStepComplete(idx int, desc string, status core.StepStatus, durationMs int64, errMsg string) {
	printStep(4, desc, status, durationMs, errMsg, isCompoundStep(desc))
}

func onNestedStep(depth int, desc string, status core.StepStatus, durationMs int64, errMsg string) {
	// Base indent (4 spaces) + 2 spaces per depth level + 2 more for nesting
	printStep(4+2*(depth+1), desc, status, durationMs, errMsg, false)
}

func printStep(indentWidth int, desc string, status core.StepStatus, durationMs int64, errMsg string, compound bool) {
	indent := strings.Repeat(" ", indentWidth)
	symbol, c := stepMark(status, durationMs, compound)
	fmt.Printf("%s%s%s%s %s %s(%s)%s\n",
		indent, color(c), symbol, color(colorReset), desc, color(colorGray), formatDuration(durationMs), color(colorReset))
	if errMsg != "" && status != core.StatusPassed {
		fmt.Printf("%s  %s╰─%s %s\n", indent, color(colorGray), color(colorReset), errMsg)
	}
}

func onScenarioEnd(name string, status report.Status, durationMs int64) {
	symbol, c := scenarioMark(status)
	fmt.Printf("%s%s %s%s %s%s%s\n",
		color(c), symbol, color(colorReset), name, color(colorGray), formatDuration(durationMs), color(colorReset))
}

func scenarioMark(status report.Status) (string, string) {
	switch status {
	case report.StatusPassed:
		return "✓", colorGreen
	case report.StatusWarned:
		return "⚠", colorYellow
	case report.StatusSkipped:
		return "-", colorCyan
	default:
		return "✗", colorRed
	}
}

// statusLabel is the table cell for a scenario status.
func statusLabel(status report.Status) (string, string) {
	switch status {
	case report.StatusPassed:
		return "✓ PASS", colorGreen
	case report.StatusWarned:
		return "⚠ WARN", colorYellow
	case report.StatusSkipped:
		return "- SKIP", colorCyan
	case report.StatusErrored:
		return "✗ ERR", colorRed
	default:
		return "✗ FAIL", colorRed
	}
}

func printSummary(result *executor.RunResult) {
	totalSteps := 0
	passedSteps := 0
	failedSteps := 0
	skippedSteps := 0
	for _, sr := range result.ScenarioResults {
		totalSteps += sr.StepsTotal
		passedSteps += sr.StepsPassed
		failedSteps += sr.StepsFailed
		skippedSteps += sr.StepsSkipped
	}

	fmt.Println()
	if passedSteps > 0 {
		fmt.Printf("  %s%d steps passing%s (%s)\n", color(colorGreen), passedSteps, color(colorReset), formatDuration(result.Duration))
	}
	if failedSteps > 0 {
		fmt.Printf("  %s%d steps failing%s\n", color(colorRed), failedSteps, color(colorReset))
	}
	if skippedSteps > 0 {
		fmt.Printf("  %s%d steps skipped%s\n", color(colorCyan), skippedSteps, color(colorReset))
	}
	fmt.Println()

	tableWidth := 92
	fmt.Println(strings.Repeat("═", tableWidth))
	fmt.Printf("  %-42s %6s %7s %6s %6s %6s %10s\n", "Scenario", "Status", "Steps", "Pass", "Fail", "Skip", "Duration")
	fmt.Println(strings.Repeat("─", tableWidth))

	for _, sr := range result.ScenarioResults {
		status, statusColor := statusLabel(sr.Status)
		fmt.Printf("  %-42s %s%6s%s %7d %6d %6d %6d %10s\n",
			truncate(sr.Name, 42), color(statusColor), status, color(colorReset),
			sr.StepsTotal, sr.StepsPassed, sr.StepsFailed, sr.StepsSkipped,
			formatDuration(sr.Duration))
	}

	fmt.Println(strings.Repeat("─", tableWidth))
	statusStr := fmt.Sprintf("%d/%d", result.PassedScenarios, result.TotalScenarios)
	statusColor := color(colorGreen)
	if result.FailedScenarios > 0 {
		statusColor = color(colorRed)
	}
	fmt.Printf("  %s%-42s%s %s%6s%s %7d %6d %6d %6d %10s\n",
		color(colorBold), "TOTAL", color(colorReset),
		statusColor, statusStr, color(colorReset),
		totalSteps, passedSteps, failedSteps, skippedSteps,
		formatDuration(result.Duration))
	fmt.Println(strings.Repeat("═", tableWidth))
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

// formatDuration formats milliseconds to a human-readable string.
// Shows milliseconds for values < 1s, seconds otherwise.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}

// printSetupStep prints a setup step with spinner-style prefix
func printSetupStep(msg string) {
	fmt.Printf("  %s⏳%s %s\n", color(colorCyan), color(colorReset), msg)
}

// printSetupSuccess prints a success message for setup
func printSetupSuccess(msg string) {
	fmt.Printf("  %s✓%s %s\n", color(colorGreen), color(colorReset), msg)
}
