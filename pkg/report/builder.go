package report

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"

	"github.com/devicelab-dev/desktop-runner/pkg/scenario"
)

// BuilderConfig contains configuration for building the report skeleton.
type BuilderConfig struct {
	OutputDir     string
	Host          Host
	App           App
	RunnerVersion string
}

// ScenarioID returns the report ID of the i-th scenario.
func ScenarioID(i int) string {
	return fmt.Sprintf("scn-%03d", i)
}

// BuildSkeleton creates the initial report structure from parsed scenarios.
// All scenarios and commands start out pending.
func BuildSkeleton(scenarios []*scenario.Scenario, cfg BuilderConfig) (*Index, []ScenarioDetail) {
	now := time.Now()

	index := &Index{
		Version:     Version,
		RunID:       uuid.NewString(),
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
		Host:        cfg.Host,
		App:         cfg.App,
		Runner:      RunnerInfo{Version: cfg.RunnerVersion},
		Summary: Summary{
			Total:   len(scenarios),
			Pending: len(scenarios),
		},
		Scenarios: make([]ScenarioEntry, len(scenarios)),
	}

	details := make([]ScenarioDetail, len(scenarios))
	for i, sc := range scenarios {
		id := ScenarioID(i)
		name := scenarioName(sc)
		commands := BuildCommands(sc.Steps)

		index.Scenarios[i] = ScenarioEntry{
			Index:      i,
			ID:         id,
			Name:       name,
			SourceFile: sc.SourcePath,
			DataFile:   filepath.Join("scenarios", id+".json"),
			AssetsDir:  filepath.Join("assets", id),
			Tags:       sc.Config.Tags,
			Status:     StatusPending,
			Commands: CommandSummary{
				Total:   len(commands),
				Pending: len(commands),
			},
		}
		details[i] = ScenarioDetail{
			ID:         id,
			Name:       name,
			SourceFile: sc.SourcePath,
			Tags:       sc.Config.Tags,
			Commands:   commands,
		}
	}
	return index, details
}

// scenarioName prefers the configured name, then the file name without extension.
func scenarioName(sc *scenario.Scenario) string {
	if sc.Config.Name != "" {
		return sc.Config.Name
	}
	base := filepath.Base(sc.SourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// BuildCommands creates pending Command entries from steps. Retry bodies
// become sub-commands.
func BuildCommands(steps []scenario.Step) []Command {
	commands := make([]Command, len(steps))
	for i, step := range steps {
		commands[i] = Command{
			ID:          fmt.Sprintf("cmd-%03d", i),
			Index:       i,
			Type:        string(step.Type()),
			Label:       step.Label(),
			Description: step.Describe(),
			Optional:    step.IsOptional(),
			Status:      StatusPending,
		}
		if r, ok := step.(*scenario.RetryStep); ok {
			commands[i].SubCommands = BuildCommands(r.Steps)
		}
	}
	return commands
}

// HostInfo describes the local machine. Lookup failures leave fields empty.
func HostInfo(ctx context.Context) Host {
	info, err := host.InfoWithContext(ctx)
	if err != nil || info == nil {
		return Host{}
	}
	return Host{
		Hostname:        info.Hostname,
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
	}
}

// WriteSkeleton writes report.json and every scenario detail file with
// pending status.
func WriteSkeleton(outputDir string, index *Index, details []ScenarioDetail) error {
	if err := ensureDir(filepath.Join(outputDir, "scenarios")); err != nil {
		return fmt.Errorf("create scenarios dir: %w", err)
	}
	if err := ensureDir(filepath.Join(outputDir, "assets")); err != nil {
		return fmt.Errorf("create assets dir: %w", err)
	}

	for i := range details {
		d := &details[i]
		if err := atomicWriteJSON(filepath.Join(outputDir, "scenarios", d.ID+".json"), d); err != nil {
			return fmt.Errorf("write scenario %s: %w", d.ID, err)
		}
	}

	if err := atomicWriteJSON(filepath.Join(outputDir, "report.json"), index); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}
