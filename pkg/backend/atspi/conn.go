// Package atspi implements the accessibility-bus backends: direct text
// insertion at the caret, focused-object queries for the focus provider, and
// the text reads behind the confirmation probe.
//
// One [Conn] per process is shared read-only by the insert adapter, the focus
// provider, the prewarm controller, and the confirmation probe; per-call state
// (object refs, offsets) is owned by the caller. The connection tracks the
// focused accessible by listening for object:state-changed:focused events so
// that queries never walk the full accessible tree.
package atspi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

// D-Bus names of the AT-SPI registry and the interfaces used here.
const (
	busService  = "org.a11y.Bus"
	busPath     = "/org/a11y/bus"
	busIface    = "org.a11y.Bus"

	registryService = "org.a11y.atspi.Registry"
	registryPath    = "/org/a11y/atspi/registry"
	registryIface   = "org.a11y.atspi.Registry"

	ifaceAccessible   = "org.a11y.atspi.Accessible"
	ifaceEditableText = "org.a11y.atspi.EditableText"
	ifaceText         = "org.a11y.atspi.Text"
	ifaceEventObject  = "org.a11y.atspi.Event.Object"

	propsIface = "org.freedesktop.DBus.Properties"
)

// ObjectRef identifies one accessible object on the bus: the owning
// application's unique bus name plus the object path. Refs are plain values —
// cheap to copy, safe to hand out.
type ObjectRef struct {
	Dest string
	Path dbus.ObjectPath
}

// Zero reports whether the ref points nowhere.
func (r ObjectRef) Zero() bool { return r.Dest == "" || r.Path == "" }

// Conn is a shared connection to the accessibility bus.
type Conn struct {
	bus *dbus.Conn

	mu      sync.RWMutex
	focused ObjectRef
	closed  bool

	done chan struct{}
}

// Connect opens the accessibility bus. The bus address is obtained from the
// session bus (org.a11y.Bus.GetAddress); desktops without a running registry
// fail here, which callers treat as "method not available".
func Connect(ctx context.Context) (*Conn, error) {
	session, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("atspi: session bus: %w", err)
	}

	var addr string
	obj := session.Object(busService, busPath)
	if err := obj.CallWithContext(ctx, busIface+".GetAddress", 0).Store(&addr); err != nil {
		return nil, fmt.Errorf("atspi: get a11y bus address: %w", err)
	}

	bus, err := dbus.Connect(addr)
	if err != nil {
		return nil, fmt.Errorf("atspi: connect %q: %w", addr, err)
	}

	c := &Conn{bus: bus, done: make(chan struct{})}
	if err := c.watchFocus(ctx); err != nil {
		bus.Close()
		return nil, err
	}
	return c, nil
}

// watchFocus registers for focus state-change events and starts the signal
// loop that keeps the focused-object ref current.
func (c *Conn) watchFocus(ctx context.Context) error {
	reg := c.bus.Object(registryService, registryPath)
	if call := reg.CallWithContext(ctx, registryIface+".RegisterEvent", 0,
		"object:state-changed:focused"); call.Err != nil {
		return fmt.Errorf("atspi: register focus events: %w", call.Err)
	}

	if err := c.bus.AddMatchSignal(
		dbus.WithMatchInterface(ifaceEventObject),
		dbus.WithMatchMember("StateChanged"),
	); err != nil {
		return fmt.Errorf("atspi: add match: %w", err)
	}

	sigs := make(chan *dbus.Signal, 32)
	c.bus.Signal(sigs)

	go func() {
		for {
			select {
			case <-c.done:
				return
			case sig, ok := <-sigs:
				if !ok {
					return
				}
				c.handleSignal(sig)
			}
		}
	}()
	return nil
}

// handleSignal updates the focused ref from a StateChanged("focused", 1) event.
func (c *Conn) handleSignal(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	detail, _ := sig.Body[0].(string)
	gained, _ := sig.Body[1].(int32)
	if detail != "focused" || gained != 1 {
		return
	}

	c.mu.Lock()
	c.focused = ObjectRef{Dest: sig.Sender, Path: sig.Path}
	c.mu.Unlock()
}

// Focused returns the most recently focused accessible, or a zero ref when no
// focus event has been observed yet.
func (c *Conn) Focused() ObjectRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.focused
}

// Object returns a bus handle for ref.
func (c *Conn) Object(ref ObjectRef) dbus.BusObject {
	return c.bus.Object(ref.Dest, ref.Path)
}

// Close shuts the signal loop down and closes the bus connection. Safe to
// call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	if err := c.bus.Close(); err != nil {
		slog.Debug("atspi bus close", "err", err)
	}
	return nil
}

// getProperty reads a D-Bus property with the call bounded by ctx.
func (c *Conn) getProperty(ctx context.Context, ref ObjectRef, iface, name string, out any) error {
	var v dbus.Variant
	if err := c.Object(ref).CallWithContext(ctx, propsIface+".Get", 0, iface, name).Store(&v); err != nil {
		return err
	}
	return v.Store(out)
}

// caretOffset reads the caret position of a text object.
func (c *Conn) caretOffset(ctx context.Context, ref ObjectRef) (int32, error) {
	var off int32
	if err := c.getProperty(ctx, ref, ifaceText, "CaretOffset", &off); err != nil {
		return 0, fmt.Errorf("atspi: caret offset: %w", err)
	}
	return off, nil
}

// interfaces lists the AT-SPI interfaces the object implements.
func (c *Conn) interfaces(ctx context.Context, ref ObjectRef) ([]string, error) {
	var ifaces []string
	if err := c.Object(ref).CallWithContext(ctx, ifaceAccessible+".GetInterfaces", 0).Store(&ifaces); err != nil {
		return nil, fmt.Errorf("atspi: get interfaces: %w", err)
	}
	return ifaces, nil
}

// appClass resolves the application name owning ref, used as the window-class
// identifier for success tracking and allow/blocklists.
func (c *Conn) appClass(ctx context.Context, ref ObjectRef) (string, error) {
	var app ObjectRef
	if err := c.Object(ref).CallWithContext(ctx, ifaceAccessible+".GetApplication", 0).Store(&app.Dest, &app.Path); err != nil {
		return "", fmt.Errorf("atspi: get application: %w", err)
	}
	var name string
	if err := c.getProperty(ctx, app, ifaceAccessible, "Name", &name); err != nil {
		return "", fmt.Errorf("atspi: application name: %w", err)
	}
	return name, nil
}

// readText returns the text content of ref in [start, end). end = -1 reads to
// the end of the object's text.
func (c *Conn) readText(ctx context.Context, ref ObjectRef, start, end int32) (string, error) {
	var s string
	if err := c.Object(ref).CallWithContext(ctx, ifaceText+".GetText", 0, start, end).Store(&s); err != nil {
		return "", fmt.Errorf("atspi: get text: %w", err)
	}
	return s, nil
}
