// Package atspi implements the a11y tree over the AT-SPI D-Bus protocol.
//
// The accessibility registry lives on its own bus, whose address is published
// by org.a11y.Bus on the session bus. Connect resolves that address and opens
// a private connection; every node is addressed by (bus name, object path).
package atspi

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/devicelab-dev/desktop-runner/pkg/a11y"
	"github.com/devicelab-dev/desktop-runner/pkg/logger"
)

// D-Bus names.
const (
	busName         = "org.a11y.Bus"
	busPath         = dbus.ObjectPath("/org/a11y/bus")
	busIface        = "org.a11y.Bus"
	statusIface     = "org.a11y.Status"
	registryName    = "org.a11y.atspi.Registry"
	rootPath        = dbus.ObjectPath("/org/a11y/atspi/accessible/root")
	propsIface      = "org.freedesktop.DBus.Properties"
	accessibleIface = "org.a11y.atspi.Accessible"
	componentIface  = "org.a11y.atspi.Component"
	textIface       = "org.a11y.atspi.Text"
	editableIface   = "org.a11y.atspi.EditableText"
	actionIface     = "org.a11y.atspi.Action"
	selectionIface  = "org.a11y.atspi.Selection"
)

// coordTypeScreen selects screen coordinates in Component.GetExtents.
const coordTypeScreen = uint32(0)

// IsEnabled reports whether the accessibility service is switched on for the
// session.
func IsEnabled(ctx context.Context) (bool, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return false, fmt.Errorf("connect to session bus: %w", err)
	}
	v, err := getProperty(ctx, conn.Object(busName, busPath), statusIface, "IsEnabled")
	if err != nil {
		return false, err
	}
	on, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("IsEnabled has type %s, want b", v.Signature())
	}
	return on, nil
}

// Enable switches the accessibility service on. Toolkits only register with
// the registry once this is set, so applications started earlier stay
// invisible until restarted.
func Enable(ctx context.Context) error {
	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("connect to session bus: %w", err)
	}
	obj := conn.Object(busName, busPath)
	call := obj.CallWithContext(ctx, propsIface+".Set", 0, statusIface, "IsEnabled", dbus.MakeVariant(true))
	if call.Err != nil {
		return fmt.Errorf("enable accessibility: %w", call.Err)
	}
	logger.Info("accessibility service enabled")
	return nil
}

// Client is a connection to the accessibility bus.
type Client struct {
	conn *dbus.Conn
}

// Connect opens a private connection to the accessibility bus.
func Connect(ctx context.Context) (*Client, error) {
	session, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}
	var addr string
	if err := session.Object(busName, busPath).CallWithContext(ctx, busIface+".GetAddress", 0).Store(&addr); err != nil {
		return nil, fmt.Errorf("get accessibility bus address: %w", err)
	}

	conn, err := dbus.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("dial accessibility bus %s: %w", addr, err)
	}
	if err := conn.Auth(nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("authenticate on accessibility bus: %w", err)
	}
	if err := conn.Hello(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send Hello on accessibility bus: %w", err)
	}
	logger.Debug("connected to accessibility bus at %s", addr)
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Applications implements a11y.Tree.
func (c *Client) Applications(ctx context.Context) ([]a11y.Node, error) {
	return c.root().Children(ctx)
}

func (c *Client) root() *node {
	return &node{conn: c.conn, ref: ref{Name: registryName, Path: rootPath}}
}

// ref is the (so) pair AT-SPI uses to address an accessible.
type ref struct {
	Name string
	Path dbus.ObjectPath
}

func getProperty(ctx context.Context, obj dbus.BusObject, iface, prop string) (dbus.Variant, error) {
	var v dbus.Variant
	err := obj.CallWithContext(ctx, propsIface+".Get", 0, iface, prop).Store(&v)
	return v, err
}

// transient wraps a bus failure so that callers retry it.
func transient(err error, op string, r ref) error {
	return a11y.ErrTransient.WithMessagef("%s on %s%s", op, r.Name, r.Path).WithCause(err)
}
