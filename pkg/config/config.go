// Package config handles configuration for desktop-runner.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/desktop-runner/pkg/app"
	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/wait"
)

// Config represents the workspace configuration (config.yaml).
type Config struct {
	// Scenario selection
	Scenarios   []string `yaml:"scenarios"`   // Glob patterns for scenario files
	IncludeTags []string `yaml:"includeTags"` // Tags to include
	ExcludeTags []string `yaml:"excludeTags"` // Tags to exclude

	// Execution settings
	Env       map[string]string `yaml:"env"`       // Variables visible to every scenario
	OutputDir string            `yaml:"outputDir"` // Report directory

	// Application under test
	App AppConfig `yaml:"app"`

	TypingDelayMs  int        `yaml:"typingDelayMs"`
	CleanupCommand string     `yaml:"cleanupCommand"`
	Journal        Journal    `yaml:"journal"`
	Wait           WaitConfig `yaml:"wait"`

	// Artifacts overrides what is captured after steps; nil keeps the defaults.
	Artifacts *core.ArtifactConfig `yaml:"artifacts"`
}

// AppConfig is the app section of config.yaml.
type AppConfig struct {
	Command      string   `yaml:"command"`
	DesktopFile  string   `yaml:"desktopFile"`
	A11yName     string   `yaml:"a11yName"`
	QuitShortcut string   `yaml:"quitShortcut"`
	ForceKill    *bool    `yaml:"forceKill"` // nil means true
	Args         []string `yaml:"args"`
	RecordVideo  bool     `yaml:"recordVideo"`
}

// Journal selects what is read from the systemd journal after a scenario.
type Journal struct {
	Unit string `yaml:"unit"`
	Sudo bool   `yaml:"sudo"`
}

// WaitConfig bounds application start and stop polls.
type WaitConfig struct {
	TimeoutMs int `yaml:"timeoutMs"`
	PeriodMs  int `yaml:"periodMs"`
}

// Load loads configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, core.ErrInvalidConfig.WithMessage(path).WithCause(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	// Try config.yaml first
	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// Try config.yml
	configPath = filepath.Join(dir, "config.yml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// No config file found, return empty config
	return &Config{}, nil
}

// Validate rejects negative durations.
func (c *Config) Validate() error {
	checks := []struct {
		field string
		value int
	}{
		{"typingDelayMs", c.TypingDelayMs},
		{"wait.timeoutMs", c.Wait.TimeoutMs},
		{"wait.periodMs", c.Wait.PeriodMs},
	}
	for _, ch := range checks {
		if ch.value < 0 {
			return core.ErrInvalidConfig.WithMessagef("%s must not be negative, got %d", ch.field, ch.value)
		}
	}
	return nil
}

// TypingDelay is the per-character typing delay; zero means the injector default.
func (c *Config) TypingDelay() time.Duration {
	return time.Duration(c.TypingDelayMs) * time.Millisecond
}

// AppConfig converts the app section into the application handle's config.
// command, when set, replaces the configured command line.
func (c *Config) AppConfig(command string) app.Config {
	if command == "" {
		command = c.App.Command
	}
	out := app.DefaultConfig(command)
	out.DesktopFileName = c.App.DesktopFile
	out.A11yName = c.App.A11yName
	out.QuitShortcut = c.App.QuitShortcut
	out.Args = c.App.Args
	out.RecordVideo = c.App.RecordVideo
	if c.App.ForceKill != nil {
		out.ForceKillOnStart = *c.App.ForceKill
	}
	out.Wait = wait.Options{
		Timeout: time.Duration(c.Wait.TimeoutMs) * time.Millisecond,
		Period:  time.Duration(c.Wait.PeriodMs) * time.Millisecond,
	}
	return out
}

// ArtifactConfig returns the configured artifacts or the defaults.
func (c *Config) ArtifactConfig() core.ArtifactConfig {
	if c.Artifacts != nil {
		return *c.Artifacts
	}
	return core.DefaultArtifactConfig()
}
