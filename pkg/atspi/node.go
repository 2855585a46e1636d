package atspi

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/devicelab-dev/desktop-runner/pkg/a11y"
	"github.com/devicelab-dev/desktop-runner/pkg/core"
)

// node is a live accessible object.
type node struct {
	conn *dbus.Conn
	ref  ref
}

func (n *node) obj() dbus.BusObject {
	return n.conn.Object(n.ref.Name, n.ref.Path)
}

func (n *node) call(ctx context.Context, method string, out interface{}, args ...interface{}) error {
	call := n.obj().CallWithContext(ctx, method, 0, args...)
	if call.Err != nil {
		return transient(call.Err, method, n.ref)
	}
	if out == nil {
		return nil
	}
	if err := call.Store(out); err != nil {
		return transient(err, method, n.ref)
	}
	return nil
}

func (n *node) prop(ctx context.Context, iface, name string) (interface{}, error) {
	v, err := getProperty(ctx, n.obj(), iface, name)
	if err != nil {
		return nil, transient(err, iface+"."+name, n.ref)
	}
	return v.Value(), nil
}

// Info implements a11y.Node.
func (n *node) Info(ctx context.Context) (*a11y.Info, error) {
	info := &a11y.Info{}

	var role string
	if err := n.call(ctx, accessibleIface+".GetRoleName", &role); err != nil {
		return nil, err
	}
	info.Role = a11y.Role(role)

	name, err := n.prop(ctx, accessibleIface, "Name")
	if err != nil {
		return nil, err
	}
	info.Name, _ = name.(string)

	desc, err := n.prop(ctx, accessibleIface, "Description")
	if err != nil {
		return nil, err
	}
	info.Description, _ = desc.(string)

	count, err := n.prop(ctx, accessibleIface, "ChildCount")
	if err != nil {
		return nil, err
	}
	if c, ok := count.(int32); ok {
		info.ChildCount = int(c)
	}

	var bits []uint32
	if err := n.call(ctx, accessibleIface+".GetState", &bits); err != nil {
		return nil, err
	}
	info.States = decodeStates(bits)

	var ifaces []string
	if err := n.call(ctx, accessibleIface+".GetInterfaces", &ifaces); err != nil {
		return nil, err
	}
	if hasInterface(ifaces, componentIface) {
		var ext extents
		if err := n.call(ctx, componentIface+".GetExtents", &ext, coordTypeScreen); err != nil {
			return nil, err
		}
		info.Bounds = ext.bounds()
	}
	if hasInterface(ifaces, textIface) {
		if err := n.call(ctx, textIface+".GetText", &info.Text, int32(0), int32(-1)); err != nil {
			return nil, err
		}
	}
	return info, nil
}

// Children implements a11y.Node.
func (n *node) Children(ctx context.Context) ([]a11y.Node, error) {
	var refs []ref
	if err := n.call(ctx, accessibleIface+".GetChildren", &refs); err != nil {
		return nil, err
	}
	out := make([]a11y.Node, 0, len(refs))
	for _, r := range refs {
		if isNull(r) {
			continue
		}
		out = append(out, &node{conn: n.conn, ref: r})
	}
	return out, nil
}

// DoAction implements a11y.Node.
func (n *node) DoAction(ctx context.Context, name string) error {
	count, err := n.prop(ctx, actionIface, "NActions")
	if err != nil {
		return err
	}
	nactions, _ := count.(int32)

	var names []string
	for i := int32(0); i < nactions; i++ {
		var an string
		if err := n.call(ctx, actionIface+".GetName", &an, i); err != nil {
			return err
		}
		names = append(names, an)
	}
	idx := actionIndex(names, name)
	if idx < 0 {
		return core.ErrElementNotFound.WithMessagef("no action %q (have %v)", name, names)
	}

	var ok bool
	if err := n.call(ctx, actionIface+".DoAction", &ok, int32(idx)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("action %q was rejected", name)
	}
	return nil
}

// SetText implements a11y.Node.
func (n *node) SetText(ctx context.Context, text string) error {
	var ok bool
	if err := n.call(ctx, editableIface+".SetTextContents", &ok, text); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("text of %s was not changed", n.ref.Path)
	}
	return nil
}

// Select implements a11y.Node by selecting n within its parent.
func (n *node) Select(ctx context.Context) error {
	var idx int32
	if err := n.call(ctx, accessibleIface+".GetIndexInParent", &idx); err != nil {
		return err
	}
	p, err := n.prop(ctx, accessibleIface, "Parent")
	if err != nil {
		return err
	}
	pr, err := parentRef(p)
	if err != nil {
		return err
	}
	parent := &node{conn: n.conn, ref: pr}
	var ok bool
	if err := parent.call(ctx, selectionIface+".SelectChild", &ok, idx); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("child %d of %s was not selected", idx, pr.Path)
	}
	return nil
}

type extents struct {
	X, Y, Width, Height int32
}

func (e extents) bounds() core.Bounds {
	return core.Bounds{X: int(e.X), Y: int(e.Y), Width: int(e.Width), Height: int(e.Height)}
}

// decodeStates unpacks the AT-SPI state bitfield: bit i of word i/32.
func decodeStates(words []uint32) a11y.StateSet {
	set := a11y.StateSet{}
	for w, word := range words {
		for b := 0; b < 32; b++ {
			if word&(1<<uint(b)) != 0 {
				set[a11y.State(w*32+b)] = true
			}
		}
	}
	return set
}

func hasInterface(ifaces []string, iface string) bool {
	for _, i := range ifaces {
		if i == iface {
			return true
		}
	}
	return false
}

func actionIndex(names []string, want string) int {
	for i, n := range names {
		if n == want {
			return i
		}
	}
	return -1
}

// isNull reports whether r is the AT-SPI null reference.
func isNull(r ref) bool {
	return r.Path == "" || r.Path == "/org/a11y/atspi/null"
}

func parentRef(v interface{}) (ref, error) {
	fields, ok := v.([]interface{})
	if !ok || len(fields) != 2 {
		return ref{}, fmt.Errorf("unexpected Parent value %v", v)
	}
	name, ok1 := fields[0].(string)
	path, ok2 := fields[1].(dbus.ObjectPath)
	if !ok1 || !ok2 {
		return ref{}, fmt.Errorf("unexpected Parent value %v", v)
	}
	r := ref{Name: name, Path: path}
	if isNull(r) {
		return ref{}, fmt.Errorf("node has no parent")
	}
	return r, nil
}
