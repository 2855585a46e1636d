// Package process finds and signals OS processes by name, the way killall
// and pkill do.
package process

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"github.com/devicelab-dev/desktop-runner/pkg/logger"
	"github.com/devicelab-dev/desktop-runner/pkg/wait"
)

// Process is a running OS process.
type Process = process.Process

// MatchesName reports whether a process with the given short name, executable
// and argv[0] is selected by name. A name containing '/' is compared against
// the executable path and argv[0]; otherwise against the short name and the
// base names of both.
func MatchesName(name, procName, exe, argv0 string) bool {
	if name == "" {
		return false
	}
	if strings.Contains(name, "/") {
		return name == exe || name == argv0
	}
	return name == procName ||
		(exe != "" && name == filepath.Base(exe)) ||
		(argv0 != "" && name == filepath.Base(argv0))
}

// FindByName returns the processes selected by name (killall semantics).
func FindByName(ctx context.Context, name string) ([]*Process, error) {
	return find(ctx, func(p *Process) bool {
		procName, _ := p.NameWithContext(ctx)
		exe, _ := p.ExeWithContext(ctx)
		var argv0 string
		if args, err := p.CmdlineSliceWithContext(ctx); err == nil && len(args) > 0 {
			argv0 = args[0]
		}
		return MatchesName(name, procName, exe, argv0)
	})
}

// FindByCmdline returns processes whose full command line contains pattern
// (pkill -f semantics, as a substring).
func FindByCmdline(ctx context.Context, pattern string) ([]*Process, error) {
	return find(ctx, func(p *Process) bool {
		cmdline, err := p.CmdlineWithContext(ctx)
		return err == nil && strings.Contains(cmdline, pattern)
	})
}

func find(ctx context.Context, match func(p *Process) bool) ([]*Process, error) {
	all, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	self := int32(unix.Getpid())
	var out []*Process
	for _, p := range all {
		if p.Pid == self {
			continue
		}
		if match(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Signal sends sig to every process, returning how many were signalled and
// the first error. Processes that exited in the meantime are not errors.
func Signal(ctx context.Context, procs []*Process, sig syscall.Signal) (int, error) {
	var n int
	var firstErr error
	for _, p := range procs {
		if err := p.SendSignalWithContext(ctx, sig); err != nil {
			if err == unix.ESRCH {
				continue
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("signal %d: %w", p.Pid, err)
			}
			continue
		}
		n++
	}
	return n, firstErr
}

// KillByName terminates all processes selected by name and returns how many
// were signalled. Finding none is not an error.
func KillByName(ctx context.Context, name string) (int, error) {
	procs, err := FindByName(ctx, name)
	if err != nil {
		return 0, err
	}
	n, err := Signal(ctx, procs, unix.SIGTERM)
	logger.Debug("killall %s: %d process(es) signalled", name, n)
	return n, err
}

// KillByCmdline terminates all processes whose command line contains pattern.
func KillByCmdline(ctx context.Context, pattern string) (int, error) {
	procs, err := FindByCmdline(ctx, pattern)
	if err != nil {
		return 0, err
	}
	n, err := Signal(ctx, procs, unix.SIGTERM)
	logger.Debug("pkill -f %s: %d process(es) signalled", pattern, n)
	return n, err
}

// WaitForTerminated waits until pid is gone or timeout elapses.
func WaitForTerminated(ctx context.Context, pid int32, timeout time.Duration) error {
	return wait.Poll(ctx, func(ctx context.Context) error {
		running, err := process.PidExistsWithContext(ctx, pid)
		if err == nil && running {
			return fmt.Errorf("process %d is still running", pid)
		}
		return nil
	}, &wait.Options{Timeout: timeout, Period: 100 * time.Millisecond})
}
