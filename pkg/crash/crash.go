// Package crash reads and clears the crash records collected by ABRT, so that
// a crash during a step is reported against that step.
package crash

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/devicelab-dev/desktop-runner/pkg/logger"
)

// Problem is one crash record.
type Problem struct {
	ID         string
	Reason     string
	Executable string
}

// String formats the problem for reports.
func (p Problem) String() string {
	return fmt.Sprintf("%s crashed: %s (%s)", p.Executable, p.Reason, p.ID)
}

// Store lists and deletes crash records.
type Store interface {
	List(ctx context.Context) ([]Problem, error)
	Delete(ctx context.Context, problems []Problem) error
}

const (
	problemsName  = "org.freedesktop.problems"
	problemsPath  = dbus.ObjectPath("/org/freedesktop/problems")
	problemsIface = "org.freedesktop.problems"
)

// ABRT talks to the abrt-dbus service on the system bus.
type ABRT struct {
	conn *dbus.Conn
}

// NewABRT connects to the system bus.
func NewABRT() (*ABRT, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	return &ABRT{conn: conn}, nil
}

func (a *ABRT) obj() dbus.BusObject {
	return a.conn.Object(problemsName, problemsPath)
}

// List implements Store.
func (a *ABRT) List(ctx context.Context) ([]Problem, error) {
	var ids []string
	if err := a.obj().CallWithContext(ctx, problemsIface+".GetProblems", 0).Store(&ids); err != nil {
		return nil, fmt.Errorf("GetProblems: %w", err)
	}
	out := make([]Problem, 0, len(ids))
	for _, id := range ids {
		var info map[string]string
		err := a.obj().CallWithContext(ctx, problemsIface+".GetInfo", 0, id, []string{"reason", "executable"}).Store(&info)
		if err != nil {
			return nil, fmt.Errorf("GetInfo %s: %w", id, err)
		}
		out = append(out, Problem{ID: id, Reason: info["reason"], Executable: info["executable"]})
	}
	return out, nil
}

// Delete implements Store.
func (a *ABRT) Delete(ctx context.Context, problems []Problem) error {
	if len(problems) == 0 {
		return nil
	}
	ids := make([]string, len(problems))
	for i, p := range problems {
		ids[i] = p.ID
	}
	if err := a.obj().CallWithContext(ctx, problemsIface+".DeleteProblem", 0, ids).Err; err != nil {
		return fmt.Errorf("DeleteProblem %s: %w", strings.Join(ids, ","), err)
	}
	return nil
}

// Drain returns every recorded problem and deletes them.
func Drain(ctx context.Context, s Store) ([]Problem, error) {
	problems, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(problems) == 0 {
		return nil, nil
	}
	for _, p := range problems {
		logger.Warn("crash record: %s", p)
	}
	if err := s.Delete(ctx, problems); err != nil {
		return problems, err
	}
	return problems, nil
}

// Memory is an in-process Store.
type Memory struct {
	Problems []Problem
	ListErr  error
}

// Add records a problem.
func (m *Memory) Add(p Problem) { m.Problems = append(m.Problems, p) }

// List implements Store.
func (m *Memory) List(ctx context.Context) ([]Problem, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return append([]Problem(nil), m.Problems...), nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, problems []Problem) error {
	drop := make(map[string]bool, len(problems))
	for _, p := range problems {
		drop[p.ID] = true
	}
	kept := m.Problems[:0]
	for _, p := range m.Problems {
		if !drop[p.ID] {
			kept = append(kept, p)
		}
	}
	m.Problems = kept
	return nil
}
