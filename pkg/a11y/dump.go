package a11y

import (
	"context"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
)

// Snapshot is a serialisable copy of a subtree.
type Snapshot struct {
	Name        string      `json:"name,omitempty"`
	Role        Role        `json:"role"`
	Description string      `json:"description,omitempty"`
	Text        string      `json:"text,omitempty"`
	Bounds      core.Bounds `json:"bounds"`
	States      []string    `json:"states,omitempty"`
	Children    []*Snapshot `json:"children,omitempty"`
}

// Dump copies node and its descendants down to maxDepth levels (0 = unlimited).
func Dump(ctx context.Context, node Node, maxDepth int) (*Snapshot, error) {
	return dump(ctx, node, maxDepth, 1)
}

func dump(ctx context.Context, node Node, maxDepth, depth int) (*Snapshot, error) {
	info, err := node.Info(ctx)
	if err != nil {
		return nil, err
	}
	s := &Snapshot{
		Name:        info.Name,
		Role:        info.Role,
		Description: info.Description,
		Text:        info.Text,
		Bounds:      info.Bounds,
		States:      info.States.Names(),
	}
	if maxDepth > 0 && depth >= maxDepth {
		return s, nil
	}
	children, err := node.Children(ctx)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		cs, err := dump(ctx, child, maxDepth, depth+1)
		if err != nil {
			return nil, err
		}
		s.Children = append(s.Children, cs)
	}
	return s, nil
}

// DumpTree snapshots every registered application.
func DumpTree(ctx context.Context, tree Tree, maxDepth int) ([]*Snapshot, error) {
	apps, err := tree.Applications(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Snapshot, 0, len(apps))
	for _, app := range apps {
		s, err := Dump(ctx, app, maxDepth)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
