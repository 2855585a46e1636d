package a11y

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devicelab-dev/desktop-runner/pkg/wait"
)

// Matcher selects nodes by role and name. Empty fields match anything.
type Matcher struct {
	Role         Role
	Name         string
	NameContains string
	ShowingOnly  bool
}

// String describes the matcher for error messages.
func (m Matcher) String() string {
	var parts []string
	if m.Role != "" {
		parts = append(parts, fmt.Sprintf("role=%q", m.Role))
	}
	if m.Name != "" {
		parts = append(parts, fmt.Sprintf("name=%q", m.Name))
	}
	if m.NameContains != "" {
		parts = append(parts, fmt.Sprintf("name~%q", m.NameContains))
	}
	if m.ShowingOnly {
		parts = append(parts, "showing")
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, " ")
}

// Matches reports whether info satisfies the matcher.
func (m Matcher) Matches(info *Info) bool {
	if m.Role != "" && info.Role != m.Role {
		return false
	}
	if m.Name != "" && info.Name != m.Name {
		return false
	}
	if m.NameContains != "" && !strings.Contains(info.Name, m.NameContains) {
		return false
	}
	if m.ShowingOnly && !info.Showing() {
		return false
	}
	return true
}

// Default search budget, mirroring dogtail's search cutoff.
const (
	DefaultSearchTimeout = 20 * time.Second
	DefaultSearchPeriod  = 500 * time.Millisecond
)

// SearchOptions configures Find. A nil value uses the defaults.
type SearchOptions struct {
	Timeout time.Duration
	Period  time.Duration
	// Index selects the n-th match in depth-first order.
	Index int
}

func (o *SearchOptions) wait() *wait.Options {
	opts := &wait.Options{Timeout: DefaultSearchTimeout, Period: DefaultSearchPeriod}
	if o != nil {
		if o.Timeout > 0 {
			opts.Timeout = o.Timeout
		}
		if o.Period > 0 {
			opts.Period = o.Period
		}
	}
	return opts
}

// Find searches root's descendants for a node matching m, retrying until the
// search budget is spent. It returns ErrNotFound when nothing matches.
func Find(ctx context.Context, root Node, m Matcher, opts *SearchOptions) (Node, error) {
	index := 0
	if opts != nil {
		index = opts.Index
	}

	var found Node
	err := wait.Poll(ctx, func(ctx context.Context) error {
		matches, err := collect(ctx, root, m, index+1)
		if err != nil {
			return err
		}
		if len(matches) <= index {
			return ErrNotFound.WithMessagef("no node matching %s", m)
		}
		found = matches[index]
		return nil
	}, opts.wait())
	if err != nil {
		return nil, ErrNotFound.WithMessagef("no node matching %s", m).WithCause(err)
	}
	return found, nil
}

// FindAll returns all descendants of root matching m, without retrying.
func FindAll(ctx context.Context, root Node, m Matcher) ([]Node, error) {
	return collect(ctx, root, m, 0)
}

// Exists reports whether a descendant of root matches m right now.
func Exists(ctx context.Context, root Node, m Matcher) (bool, error) {
	matches, err := collect(ctx, root, m, 1)
	if err != nil {
		return false, err
	}
	return len(matches) > 0, nil
}

// collect walks root depth-first and returns up to limit matches (0 = all).
func collect(ctx context.Context, root Node, m Matcher, limit int) ([]Node, error) {
	var out []Node
	var walk func(n Node) error
	walk = func(n Node) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		children, err := n.Children(ctx)
		if err != nil {
			return err
		}
		for _, child := range children {
			info, err := child.Info(ctx)
			if err != nil {
				return err
			}
			if m.Matches(info) {
				out = append(out, child)
				if limit > 0 && len(out) >= limit {
					return errStop
				}
			}
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil && err != errStop {
		return nil, err
	}
	return out, nil
}

var errStop = errors.New("stop")

// Clicker injects a pointer click at screen coordinates.
type Clicker interface {
	Click(ctx context.Context, x, y, button int) error
}

// Click clicks the centre of node with the primary button.
func Click(ctx context.Context, node Node, c Clicker) error {
	info, err := node.Info(ctx)
	if err != nil {
		return err
	}
	if info.Bounds.IsEmpty() {
		return fmt.Errorf("%s %q has no on-screen extents", info.Role, info.Name)
	}
	x, y := info.Bounds.Center()
	return c.Click(ctx, x, y, 1)
}
