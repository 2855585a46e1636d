package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/devicelab-dev/desktop-runner/pkg/app"
	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/wait"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `
scenarios:
  - "print/*.yaml"
includeTags:
  - smoke
excludeTags:
  - wip
env:
  DOC: 3-page.pdf
outputDir: /tmp/reports
app:
  command: evince
  desktopFile: org.gnome.Evince
  a11yName: evince
  forceKill: false
  args: ["--preview"]
typingDelayMs: 50
cleanupCommand: rm -f ~/*.pdf
journal:
  unit: /usr/bin/gnome-shell
  sudo: true
wait:
  timeoutMs: 10000
  periodMs: 200
artifacts:
  captureOnFailure: true
  screenshot: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := &Config{
		Scenarios:   []string{"print/*.yaml"},
		IncludeTags: []string{"smoke"},
		ExcludeTags: []string{"wip"},
		Env:         map[string]string{"DOC": "3-page.pdf"},
		OutputDir:   "/tmp/reports",
		App: AppConfig{
			Command:     "evince",
			DesktopFile: "org.gnome.Evince",
			A11yName:    "evince",
			ForceKill:   boolPtr(false),
			Args:        []string{"--preview"},
		},
		TypingDelayMs:  50,
		CleanupCommand: "rm -f ~/*.pdf",
		Journal:        Journal{Unit: "/usr/bin/gnome-shell", Sudo: true},
		Wait:           WaitConfig{TimeoutMs: 10000, PeriodMs: 200},
		Artifacts:      &core.ArtifactConfig{CaptureOnFailure: true, Screenshot: true},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() (-want +got):\n%s", diff)
	}
	if cfg.TypingDelay() != 50*time.Millisecond {
		t.Errorf("TypingDelay() = %v", cfg.TypingDelay())
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `scenarios: [invalid yaml`)

	_, err := Load(path)
	if !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("Load() error = %v, want ErrInvalidConfig", err)
	}
}

func TestLoad_NegativeValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"typing delay", "typingDelayMs: -1"},
		{"wait timeout", "wait:\n  timeoutMs: -5"},
		{"wait period", "wait:\n  periodMs: -5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), "config.yaml", tt.content)
			if _, err := Load(path); !errors.Is(err, core.ErrInvalidConfig) {
				t.Errorf("Load() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoad_EmptyConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", ``)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Scenarios) != 0 || cfg.App.Command != "" {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

func TestLoadFromDir(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{"config.yaml", map[string]string{"config.yaml": "app: {command: evince}"}, "evince"},
		{"config.yml", map[string]string{"config.yml": "app: {command: gedit}"}, "gedit"},
		{"prefers yaml over yml", map[string]string{
			"config.yaml": "app: {command: evince}",
			"config.yml":  "app: {command: gedit}",
		}, "evince"},
		{"no config", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				writeConfig(t, dir, name, content)
			}
			cfg, err := LoadFromDir(dir)
			if err != nil {
				t.Fatalf("LoadFromDir() error = %v", err)
			}
			if cfg.App.Command != tt.want {
				t.Errorf("app command = %q, want %q", cfg.App.Command, tt.want)
			}
		})
	}
}

func TestConfig_AppConfig(t *testing.T) {
	cfg := &Config{
		App: AppConfig{
			Command:      "evince",
			DesktopFile:  "org.gnome.Evince",
			QuitShortcut: "<Control><W>",
			Args:         []string{"/tmp/doc.pdf"},
			RecordVideo:  true,
		},
		Wait: WaitConfig{TimeoutMs: 2000, PeriodMs: 100},
	}

	want := app.Config{
		Command:          "evince",
		DesktopFileName:  "org.gnome.Evince",
		QuitShortcut:     "<Control><W>",
		ForceKillOnStart: true,
		Args:             []string{"/tmp/doc.pdf"},
		RecordVideo:      true,
		Wait:             wait.Options{Timeout: 2 * time.Second, Period: 100 * time.Millisecond},
	}
	if diff := cmp.Diff(want, cfg.AppConfig("")); diff != "" {
		t.Errorf("AppConfig() (-want +got):\n%s", diff)
	}

	cfg.App.ForceKill = boolPtr(false)
	got := cfg.AppConfig("gedit")
	if got.Command != "gedit" || got.ForceKillOnStart {
		t.Errorf("AppConfig(gedit) = %+v, want command override without force-kill", got)
	}
}

func TestConfig_ArtifactConfig(t *testing.T) {
	cfg := &Config{}
	if diff := cmp.Diff(core.DefaultArtifactConfig(), cfg.ArtifactConfig()); diff != "" {
		t.Errorf("default artifacts (-want +got):\n%s", diff)
	}

	cfg.Artifacts = &core.ArtifactConfig{CaptureOnSuccess: true}
	if got := cfg.ArtifactConfig(); !got.CaptureOnSuccess || got.Screenshot {
		t.Errorf("ArtifactConfig() = %+v", got)
	}
}

func boolPtr(b bool) *bool { return &b }
