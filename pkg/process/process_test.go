package process

import (
	"context"
	"os/exec"
	"testing"
	"time"
)

func TestMatchesName(t *testing.T) {
	tests := []struct {
		name, query, procName, exe, argv0 string
		want                              bool
	}{
		{"short name", "evince", "evince", "/usr/bin/evince", "evince", true},
		{"exe base", "gnome-initial-setup", "gnome-initial-s", "/usr/libexec/gnome-initial-setup", "/usr/libexec/gnome-initial-setup", true},
		{"full path", "/usr/libexec/gnome-initial-setup", "gnome-initial-s", "/usr/libexec/gnome-initial-setup", "", true},
		{"full path mismatch", "/usr/bin/evince", "evince", "/opt/evince/bin/evince", "evince", false},
		{"other process", "evince", "bash", "/usr/bin/bash", "bash", false},
		{"empty query", "", "evince", "", "", false},
		{"argv0 base", "evince", "", "", "/usr/bin/evince", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesName(tt.query, tt.procName, tt.exe, tt.argv0); got != tt.want {
				t.Errorf("MatchesName() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKillByCmdline(t *testing.T) {
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	cmd := exec.Command(sleep, "4242.123")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	ctx := context.Background()
	procs, err := FindByCmdline(ctx, "4242.123")
	if err != nil {
		t.Fatal(err)
	}
	if len(procs) != 1 || procs[0].Pid != int32(cmd.Process.Pid) {
		t.Fatalf("FindByCmdline() = %v, want pid %d", procs, cmd.Process.Pid)
	}

	n, err := KillByCmdline(ctx, "4242.123")
	if err != nil || n != 1 {
		t.Fatalf("KillByCmdline() = %d, %v", n, err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after SIGTERM")
	}
	if err := WaitForTerminated(ctx, int32(cmd.Process.Pid), time.Second); err != nil {
		t.Errorf("WaitForTerminated() = %v", err)
	}
}

func TestKillByName_NoneFound(t *testing.T) {
	n, err := KillByName(context.Background(), "no-such-process-desktop-runner")
	if err != nil || n != 0 {
		t.Errorf("KillByName() = %d, %v; want 0, nil", n, err)
	}
}
