// Package mock provides an in-memory accessibility tree for testing without a
// desktop session.
package mock

import (
	"context"
	"sync"

	"github.com/devicelab-dev/desktop-runner/pkg/a11y"
	"github.com/devicelab-dev/desktop-runner/pkg/core"
)

// Node is a mutable accessible node.
type Node struct {
	mu       sync.Mutex
	info     a11y.Info
	children []*Node
	parent   *Node

	// Recorded calls
	Actions []string
	Texts   []string
	Selects int

	// Injected failures
	InfoErr     error
	ChildrenErr error
	ActionErr   error

	// OnAction runs after an action is recorded, e.g. to close a dialog when
	// its button is clicked.
	OnAction func(n *Node, action string) error
}

// NewNode creates a showing, enabled node with non-empty extents.
func NewNode(role a11y.Role, name string, children ...*Node) *Node {
	n := &Node{
		info: a11y.Info{
			Name:   name,
			Role:   role,
			Bounds: core.Bounds{X: 10, Y: 10, Width: 100, Height: 20},
			States: a11y.NewStateSet(a11y.StateShowing, a11y.StateVisible, a11y.StateEnabled, a11y.StateSensitive),
		},
	}
	n.Append(children...)
	return n
}

// Append adds children to n.
func (n *Node) Append(children ...*Node) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range children {
		c.parent = n
		n.children = append(n.children, c)
	}
	return n
}

// Remove detaches the first child with the given name.
func (n *Node) Remove(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, c := range n.children {
		if c.Name() == name {
			c.parent = nil
			n.children = append(n.children[:i], n.children[i+1:]...)
			return true
		}
	}
	return false
}

// Parent returns the node n is attached to.
func (n *Node) Parent() *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.parent
}

// Name returns the node name.
func (n *Node) Name() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.info.Name
}

// WithText sets the text contents.
func (n *Node) WithText(text string) *Node {
	n.mu.Lock()
	n.info.Text = text
	n.mu.Unlock()
	return n
}

// WithBounds sets the on-screen extents.
func (n *Node) WithBounds(b core.Bounds) *Node {
	n.mu.Lock()
	n.info.Bounds = b
	n.mu.Unlock()
	return n
}

// WithStates replaces the state set.
func (n *Node) WithStates(states ...a11y.State) *Node {
	n.mu.Lock()
	n.info.States = a11y.NewStateSet(states...)
	n.mu.Unlock()
	return n
}

// SetState turns a single state on or off.
func (n *Node) SetState(s a11y.State, on bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.info.States == nil {
		n.info.States = a11y.StateSet{}
	}
	n.info.States[s] = on
}

// SetChildrenErr changes the error Children returns; safe for concurrent use.
func (n *Node) SetChildrenErr(err error) {
	n.mu.Lock()
	n.ChildrenErr = err
	n.mu.Unlock()
}

// Info implements a11y.Node.
func (n *Node) Info(ctx context.Context) (*a11y.Info, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.InfoErr != nil {
		return nil, n.InfoErr
	}
	info := n.info
	info.States = make(a11y.StateSet, len(n.info.States))
	for s, on := range n.info.States {
		info.States[s] = on
	}
	info.ChildCount = len(n.children)
	return &info, nil
}

// Children implements a11y.Node.
func (n *Node) Children(ctx context.Context) ([]a11y.Node, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ChildrenErr != nil {
		return nil, n.ChildrenErr
	}
	out := make([]a11y.Node, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out, nil
}

// DoAction records the action. "click" and "toggle" flip the checked state of
// check boxes and toggle buttons, and check radio buttons.
func (n *Node) DoAction(ctx context.Context, name string) error {
	n.mu.Lock()
	if n.ActionErr != nil {
		err := n.ActionErr
		n.mu.Unlock()
		return err
	}
	n.Actions = append(n.Actions, name)
	if name == "click" || name == "toggle" {
		switch n.info.Role {
		case a11y.RoleCheckBox, a11y.RoleToggle:
			if n.info.States == nil {
				n.info.States = a11y.StateSet{}
			}
			n.info.States[a11y.StateChecked] = !n.info.States[a11y.StateChecked]
		case a11y.RoleRadioButton:
			if n.info.States == nil {
				n.info.States = a11y.StateSet{}
			}
			n.info.States[a11y.StateChecked] = true
		}
	}
	hook := n.OnAction
	n.mu.Unlock()

	if hook != nil {
		return hook(n, name)
	}
	return nil
}

// SetText implements a11y.Node.
func (n *Node) SetText(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ActionErr != nil {
		return n.ActionErr
	}
	n.Texts = append(n.Texts, text)
	n.info.Text = text
	return nil
}

// Select implements a11y.Node.
func (n *Node) Select(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ActionErr != nil {
		return n.ActionErr
	}
	n.Selects++
	if n.info.States == nil {
		n.info.States = a11y.StateSet{}
	}
	n.info.States[a11y.StateSelected] = true
	return nil
}

// Tree is a registry of application nodes.
type Tree struct {
	mu    sync.Mutex
	apps  []*Node
	errs  []error
	calls int

	// Err, when set, is returned by every Applications call.
	Err error
}

// NewTree creates a tree with the given applications.
func NewTree(apps ...*Node) *Tree {
	return &Tree{apps: apps}
}

// Add registers an application.
func (t *Tree) Add(app *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.apps = append(t.apps, app)
}

// Remove unregisters the application with the given name.
func (t *Tree) Remove(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, a := range t.apps {
		if a.Name() == name {
			t.apps = append(t.apps[:i], t.apps[i+1:]...)
			return
		}
	}
}

// FailNext queues errors returned by the next Applications calls, in order.
// A nil entry lets that call through.
func (t *Tree) FailNext(errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errs = append(t.errs, errs...)
}

// SetErr changes Err; safe for concurrent use.
func (t *Tree) SetErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Err = err
}

// Calls returns how many times Applications was called.
func (t *Tree) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Applications implements a11y.Tree.
func (t *Tree) Applications(ctx context.Context) ([]a11y.Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if len(t.errs) > 0 {
		err := t.errs[0]
		t.errs = t.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if t.Err != nil {
		return nil, t.Err
	}
	out := make([]a11y.Node, len(t.apps))
	for i, a := range t.apps {
		out[i] = a
	}
	return out, nil
}

// App builds an application node with a single showing frame.
func App(name, title string, children ...*Node) *Node {
	return NewNode(a11y.RoleApplication, name, NewNode(a11y.RoleFrame, title, children...))
}
