package app

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/devicelab-dev/desktop-runner/pkg/logger"
)

// Proc is a process started by a Spawner.
type Proc interface {
	Pid() int
	Kill() error
}

// Spawner starts the application process.
type Spawner interface {
	Spawn(ctx context.Context, argv []string) (Proc, error)
}

// ExecSpawner starts processes with os/exec. Output goes to the run log.
type ExecSpawner struct{}

// Spawn implements Spawner. The process is not tied to ctx: it outlives the
// step that started it.
func (ExecSpawner) Spawn(ctx context.Context, argv []string) (Proc, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = logger.Writer()
	cmd.Stderr = logger.Writer()
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &execProc{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		logger.Debug("%s (pid %d) exited: %v", argv[0], cmd.Process.Pid, err)
		close(p.done)
	}()
	return p, nil
}

type execProc struct {
	cmd  *exec.Cmd
	done chan struct{}
	once sync.Once
}

func (p *execProc) Pid() int { return p.cmd.Process.Pid }

func (p *execProc) Kill() error {
	select {
	case <-p.done:
		return fmt.Errorf("process %d already exited", p.Pid())
	default:
	}
	var err error
	p.once.Do(func() { err = p.cmd.Process.Kill() })
	return err
}

// KillFunc kills processes by name and reports how many were signalled.
type KillFunc func(ctx context.Context, name string) (int, error)
