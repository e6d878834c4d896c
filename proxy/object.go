// Package proxy provides statically typed convenience wrappers around
// the low-level, any-typed calling surface in the root dbus package.
// Where [dbus.Call] and [dbus.GetProperty] type only the response,
// this package's generics also type the request, and add typed signal
// subscriptions and property watches on top of [dbus.Watcher].
package proxy

import (
	"context"

	"github.com/gopherbus/dbus"
)

// Object wraps a [dbus.Object], adding the typed helpers in this
// package.
type Object struct {
	o dbus.Object
}

// New wraps o for use with this package's typed helpers.
func New(o dbus.Object) Object { return Object{o} }

// Raw returns the underlying [dbus.Object].
func (o Object) Raw() dbus.Object { return o.o }

// Conn returns the DBus connection associated with the object.
func (o Object) Conn() *dbus.Conn { return o.o.Conn() }

// Path returns the object's path.
func (o Object) Path() dbus.ObjectPath { return o.o.Path() }

func (o Object) String() string { return o.o.String() }

// Interface returns a typed wrapper around the named interface offered
// by the object.
func (o Object) Interface(name string) Interface {
	return Interface{o.o.Interface(name)}
}

// Introspect returns the object's introspection XML, as reported by
// its peer.
func (o Object) Introspect(ctx context.Context, opts ...dbus.CallOption) (string, error) {
	return o.o.Introspect(ctx, opts...)
}

// Interface wraps a [dbus.Interface], adding the typed helpers in this
// package.
type Interface struct {
	i dbus.Interface
}

// Raw returns the underlying [dbus.Interface].
func (f Interface) Raw() dbus.Interface { return f.i }

// Conn returns the DBus connection associated with the interface.
func (f Interface) Conn() *dbus.Conn { return f.i.Conn() }

// Object returns the Object that implements the interface.
func (f Interface) Object() Object { return Object{f.i.Object()} }

// Name returns the name of the interface.
func (f Interface) Name() string { return f.i.Name() }

func (f Interface) String() string { return f.i.String() }
