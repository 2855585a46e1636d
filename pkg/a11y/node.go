// Package a11y models the accessibility tree the runner uses as its oracle
// for UI state: applications, their windows, dialogs and controls, queried by
// role and name.
package a11y

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
)

// Role is an accessible role name as reported by the toolkit.
type Role string

// Roles the scenarios look for.
const (
	RoleApplication Role = "application"
	RoleFrame       Role = "frame"
	RoleDialog      Role = "dialog"
	RoleAlert       Role = "alert"
	RoleMenuBar     Role = "menu bar"
	RoleMenu        Role = "menu"
	RoleMenuItem    Role = "menu item"
	RolePushButton  Role = "push button"
	RoleToggle      Role = "toggle button"
	RoleRadioButton Role = "radio button"
	RoleCheckBox    Role = "check box"
	RoleText        Role = "text"
	RolePassword    Role = "password text"
	RoleSpinButton  Role = "spin button"
	RoleComboBox    Role = "combo box"
	RolePageTab     Role = "page tab"
	RolePageTabList Role = "page tab list"
	RoleLabel       Role = "label"
	RoleListItem    Role = "list item"
	RoleTableCell   Role = "table cell"
	RolePanel       Role = "panel"
)

// State is an accessible state bit. Values follow the AT-SPI state enumeration.
type State uint

// States the runner inspects.
const (
	StateActive     State = 1
	StateArmed      State = 2
	StateBusy       State = 3
	StateChecked    State = 4
	StateEditable   State = 7
	StateEnabled    State = 8
	StateFocusable  State = 11
	StateFocused    State = 12
	StateModal      State = 16
	StatePressed    State = 20
	StateSelectable State = 22
	StateSelected   State = 23
	StateSensitive  State = 24
	StateShowing    State = 25
	StateVisible    State = 30
)

var stateNames = map[State]string{
	StateActive:     "active",
	StateArmed:      "armed",
	StateBusy:       "busy",
	StateChecked:    "checked",
	StateEditable:   "editable",
	StateEnabled:    "enabled",
	StateFocusable:  "focusable",
	StateFocused:    "focused",
	StateModal:      "modal",
	StatePressed:    "pressed",
	StateSelectable: "selectable",
	StateSelected:   "selected",
	StateSensitive:  "sensitive",
	StateShowing:    "showing",
	StateVisible:    "visible",
}

// String returns the state name.
func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// StateSet is the set of states a node is in.
type StateSet map[State]bool

// NewStateSet builds a StateSet from the given states.
func NewStateSet(states ...State) StateSet {
	set := make(StateSet, len(states))
	for _, s := range states {
		set[s] = true
	}
	return set
}

// Has reports whether s is in the set.
func (ss StateSet) Has(s State) bool { return ss[s] }

// Names returns the known state names in sorted order.
func (ss StateSet) Names() []string {
	var names []string
	for s, on := range ss {
		if on {
			if n, ok := stateNames[s]; ok {
				names = append(names, n)
			}
		}
	}
	sort.Strings(names)
	return names
}

// Info is a snapshot of a node's properties.
type Info struct {
	Name        string
	Role        Role
	Description string
	Text        string
	Bounds      core.Bounds
	States      StateSet
	ChildCount  int
}

// Checked reports whether the node is checked.
func (i *Info) Checked() bool { return i.States.Has(StateChecked) }

// Showing reports whether the node is showing on screen.
func (i *Info) Showing() bool { return i.States.Has(StateShowing) }

// Element converts the snapshot into the report representation.
func (i *Info) Element() *core.ElementInfo {
	return &core.ElementInfo{
		Name:        i.Name,
		Role:        string(i.Role),
		Text:        i.Text,
		Description: i.Description,
		Bounds:      i.Bounds,
		States:      i.States.Names(),
	}
}

// Node is a live reference to an accessible object.
type Node interface {
	// Info reads the node's current properties.
	Info(ctx context.Context) (*Info, error)
	// Children returns the node's direct children.
	Children(ctx context.Context) ([]Node, error)
	// DoAction invokes the named action (e.g. "click", "activate").
	DoAction(ctx context.Context, name string) error
	// SetText replaces the contents of an editable text node.
	SetText(ctx context.Context, text string) error
	// Select selects the node within its parent (page tabs, list items).
	Select(ctx context.Context) error
}

// Tree is the root of the accessibility registry.
type Tree interface {
	// Applications returns the top-level application nodes.
	Applications(ctx context.Context) ([]Node, error)
}

// ErrTransient marks accessibility bus failures that are worth retrying.
var ErrTransient = core.ErrBusTransient

// ErrNotFound is returned when a search exhausts its retries.
var ErrNotFound = core.ErrElementNotFound

// IsTransient reports whether err is a transient bus failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// ApplicationNames returns the names of all registered applications.
func ApplicationNames(ctx context.Context, tree Tree) ([]string, error) {
	apps, err := tree.Applications(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(apps))
	for _, app := range apps {
		info, err := app.Info(ctx)
		if err != nil {
			return nil, err
		}
		names = append(names, info.Name)
	}
	return names, nil
}

// Application returns the application registered under name. Names are
// compared case-insensitively.
func Application(ctx context.Context, tree Tree, name string) (Node, error) {
	apps, err := tree.Applications(ctx)
	if err != nil {
		return nil, err
	}
	for _, app := range apps {
		info, err := app.Info(ctx)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(info.Name, name) {
			return app, nil
		}
	}
	return nil, ErrNotFound.WithMessagef("application %q not found", name)
}
