package config

import (
	"path/filepath"
	"testing"
)

func TestGetHome_EnvVar(t *testing.T) {
	ResetHome()
	t.Setenv("DESKTOP_RUNNER_HOME", "/custom/path")

	if got := GetHome(); got != "/custom/path" {
		t.Errorf("GetHome() = %q, want %q", got, "/custom/path")
	}
}

func TestGetHome_Fallback(t *testing.T) {
	ResetHome()
	t.Setenv("DESKTOP_RUNNER_HOME", "")

	if got := GetHome(); got == "" {
		t.Error("GetHome() returned empty string")
	}
}

func TestGetHome_Cached(t *testing.T) {
	ResetHome()
	t.Setenv("DESKTOP_RUNNER_HOME", "/first")

	first := GetHome()

	// Change env; should NOT affect cached value
	t.Setenv("DESKTOP_RUNNER_HOME", "/second")
	second := GetHome()

	if first != second {
		t.Errorf("GetHome() not cached: first=%q, second=%q", first, second)
	}
}

func TestHomePaths(t *testing.T) {
	ResetHome()
	t.Setenv("DESKTOP_RUNNER_HOME", "/test/home")
	t.Cleanup(ResetHome)

	if got, want := GetReportsDir(), filepath.Join("/test/home", "reports"); got != want {
		t.Errorf("GetReportsDir() = %q, want %q", got, want)
	}
	if got, want := GetLogPath(), filepath.Join("/test/home", "desktop-runner.log"); got != want {
		t.Errorf("GetLogPath() = %q, want %q", got, want)
	}
}
