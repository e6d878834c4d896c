// Package skeleton implements the server side of exporting Go values
// as DBus objects: it turns ordinary Go methods, fields, and emitted
// events into org.freedesktop.DBus methods, properties, and signals,
// including the Introspectable and Properties standard interfaces
// every exported object is expected to answer.
//
// It is the mirror image of the proxy package: proxy calls another
// peer's interface with static types, skeleton answers those calls on
// this process's behalf.
package skeleton

import (
	"context"
	"fmt"
	"sync"

	"github.com/gopherbus/dbus"
	"github.com/gopherbus/dbus/fragments"
)

// Object is a DBus object under construction. Use [New] to create
// one, add methods, properties, and signals with [Object.Method],
// [Property], and [Signal], then call [Object.Export] to make it
// answer calls on conn.
type Object struct {
	conn *dbus.Conn
	path dbus.ObjectPath

	mu      sync.Mutex
	ifaces  map[string]*ifaceState
	removes []func()
}

type ifaceState struct {
	desc    dbus.InterfaceDescription
	methods map[string]methodFunc
	props   map[string]*propState
}

func (o *Object) ifaceLocked(name string) *ifaceState {
	f, ok := o.ifaces[name]
	if !ok {
		f = &ifaceState{
			desc:    dbus.InterfaceDescription{Name: name},
			methods: map[string]methodFunc{},
			props:   map[string]*propState{},
		}
		o.ifaces[name] = f
	}
	return f
}

// New creates an Object bound to path, ready to have methods,
// properties, and signals registered on it. Call [Object.Export] once
// registration is complete to start answering calls on conn.
func New(conn *dbus.Conn, path dbus.ObjectPath) *Object {
	return &Object{
		conn:   conn,
		path:   path,
		ifaces: map[string]*ifaceState{},
	}
}

// Conn returns the connection the object is exported on.
func (o *Object) Conn() *dbus.Conn { return o.conn }

// Path returns the object's path.
func (o *Object) Path() dbus.ObjectPath { return o.path }

// Export installs the object's method, property, and standard
// interface handlers on its connection. The handlers look up the
// object's registrations on each call, so methods, properties, and
// signals added after Export take effect immediately. Calling Export
// again while the object is exported does nothing.
func (o *Object) Export() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.removes) == 0 {
		o.removes = append(o.removes,
			o.conn.HandleChain(o.path, o.methodHandler()),
			o.conn.HandleChain(o.path, o.introspectHandler()),
			o.conn.HandleChain(o.path, o.propertiesHandler()),
		)
	}
	return nil
}

// Close removes every handler this object installed. The object may
// not be re-exported after Close.
func (o *Object) Close() {
	o.mu.Lock()
	removes := o.removes
	o.removes = nil
	o.mu.Unlock()
	for _, remove := range removes {
		remove()
	}
}

func (o *Object) methodHandler() dbus.Handler {
	return func(ctx context.Context, path dbus.ObjectPath, interfaceName, member string, req *fragments.Decoder) (any, dbus.HandlerResult, error) {
		o.mu.Lock()
		f, ok := o.ifaces[interfaceName]
		o.mu.Unlock()
		if !ok {
			return nil, dbus.NotYet, nil
		}
		m, ok := f.methods[member]
		if !ok {
			return nil, dbus.NotYet, nil
		}
		resp, err := m(ctx, path, req)
		if err != nil {
			return nil, dbus.Handled, err
		}
		return resp, dbus.Handled, nil
	}
}

func interfaceNames(ifaces map[string]*ifaceState) []string {
	names := make([]string, 0, len(ifaces))
	for n := range ifaces {
		names = append(names, n)
	}
	return names
}

var errUnknownInterface = fmt.Errorf("%w", dbus.ErrUnknownInterface)
