package dbus

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/gopherbus/dbus/fragments"
)

// HandlerResult reports what a chained method handler did with an
// incoming call.
type HandlerResult int

const (
	// Handled means the handler accepted the call. Its response and
	// error (if any) are sent back to the caller, and no further
	// handler in the chain runs.
	Handled HandlerResult = iota
	// NotYet means the handler doesn't recognize this interface or
	// member. The next handler in the chain is tried.
	NotYet
	// NeedMemory means the handler could not service the call without
	// exceeding the connection's configured [Limits]. The caller
	// receives ErrOutOfMemory.
	NeedMemory
)

func (r HandlerResult) String() string {
	switch r {
	case Handled:
		return "Handled"
	case NotYet:
		return "NotYet"
	case NeedMemory:
		return "NeedMemory"
	default:
		return fmt.Sprintf("HandlerResult(%d)", int(r))
	}
}

// Handler is the low-level signature for one link in an object's
// method handler chain. Multiple Handlers may be installed for the
// same object path; they run in registration order until one returns
// Handled or NeedMemory.
type Handler func(ctx context.Context, object ObjectPath, iface, member string, req *fragments.Decoder) (resp any, result HandlerResult, err error)

// handlerEntry gives each chain link a stable identity, so it can be
// removed by pointer regardless of what else is in the chain at the
// time.
type handlerEntry struct {
	h Handler
}

// HandleChain installs h at the end of path's handler chain. The
// returned remove func detaches it again; calling remove more than
// once is a no-op.
//
// HandleChain is the seam [skeleton.Export] uses to let multiple
// independently-constructed method, property, and standard-interface
// handlers coexist on one object path without clobbering each other,
// something [Conn.Handle] cannot do: it registers one function for
// one interface member on every object path at once, through the
// connection-wide chain.
func (c *Conn) HandleChain(path ObjectPath, h Handler) (remove func()) {
	entry := &handlerEntry{h: h}
	c.mu.Lock()
	if c.pathHandlers == nil {
		c.pathHandlers = map[ObjectPath][]*handlerEntry{}
	}
	c.pathHandlers[path] = append(c.pathHandlers[path], entry)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		chain := c.pathHandlers[path]
		for i, e := range chain {
			if e == entry {
				c.pathHandlers[path] = append(chain[:i], chain[i+1:]...)
				return
			}
		}
	}
}

// HandleGlobal installs h at the end of the handler chain consulted
// for every object path, after that path's own chain has had a
// chance to respond. It's how the connection implements
// org.freedesktop.DBus.Peer on every object without every object
// needing to register it individually.
func (c *Conn) HandleGlobal(h Handler) (remove func()) {
	entry := &handlerEntry{h: h}
	c.mu.Lock()
	c.globalHandlers = append(c.globalHandlers, entry)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, e := range c.globalHandlers {
			if e == entry {
				c.globalHandlers = append(c.globalHandlers[:i], c.globalHandlers[i+1:]...)
				return
			}
		}
	}
}

// handlerChain returns the ordered list of handlers that should be
// consulted for a call to path: path's own chain, followed by the
// connection-wide chain.
func (c *Conn) handlerChain(path ObjectPath) []*handlerEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pathHandlers[path]) == 0 {
		return c.globalHandlers
	}
	chain := make([]*handlerEntry, 0, len(c.pathHandlers[path])+len(c.globalHandlers))
	chain = append(chain, c.pathHandlers[path]...)
	chain = append(chain, c.globalHandlers...)
	return chain
}

// Handle calls fn to handle incoming method calls to methodName on
// interfaceName, on every object exported by this connection.
//
// fn must have one of the following type signatures, where ReqType
// and RetType determine the method's [Signature].
//
//	func(context.Context, dbus.ObjectPath) error
//	func(context.Context, dbus.ObjectPath) (RetType, error)
//	func(context.Context, dbus.ObjectPath, ReqType) error
//	func(context.Context, dbus.ObjectPath, ReqType) (RetType, error)
//
// Handle panics if fn is not one of the above type signatures. The
// returned remove func detaches the handler.
func (c *Conn) Handle(interfaceName, methodName string, fn any) (remove func()) {
	inner := handlerForFunc(fn)
	h := Handler(func(ctx context.Context, object ObjectPath, iface, member string, req *fragments.Decoder) (any, HandlerResult, error) {
		if iface != interfaceName || member != methodName {
			return nil, NotYet, nil
		}
		resp, err := inner(ctx, object, req)
		return resp, Handled, err
	})
	return c.HandleGlobal(h)
}

type handlerFunc func(ctx context.Context, object ObjectPath, req *fragments.Decoder) (any, error)

func handlerForFunc(fn any) handlerFunc {
	v := reflect.ValueOf(fn)
	if !v.IsValid() {
		panic(errors.New("nil handler function given to Handle"))
	}
	t := v.Type()
	if t.Kind() != reflect.Func {
		panic(fmt.Errorf("Handle called with non-function handler type %s", t))
	}
	ni, no := t.NumIn(), t.NumOut()

	const msgInvalidHandlerSignature = "invalid signature %s for handler func, valid signatures are:\n  func(context.Context, dbus.ObjectPath, ReqT) (RespT, error)\n  func(context.Context, dbus.ObjectPath) (RespT, error)\n  func(context.Context, dbus.ObjectPath, ReqT) error\n  func(context.Context, dbus.ObjectPath) error"

	if ni < 2 || ni > 3 || no < 1 || no > 2 {
		panic(fmt.Errorf(msgInvalidHandlerSignature, t))
	}
	if !t.In(0).Implements(reflect.TypeFor[context.Context]()) {
		panic(fmt.Errorf(msgInvalidHandlerSignature, t))
	}
	if t.In(1) != reflect.TypeFor[ObjectPath]() {
		panic(fmt.Errorf(msgInvalidHandlerSignature, t))
	}
	if !t.Out(no - 1).Implements(reflect.TypeFor[error]()) {
		panic(fmt.Errorf(msgInvalidHandlerSignature, t))
	}
	var (
		reqDec fragments.DecoderFunc
		err    error
	)
	if ni == 3 {
		reqDec, err = decoderFor(t.In(2))
		if err != nil {
			panic(fmt.Errorf("request type %s is not a valid DBus type: %w", t.In(2), err))
		}
	}
	if no == 2 {
		if _, err = encoderFor(t.Out(0)); err != nil {
			panic(fmt.Errorf("response type %s is not a valid DBus type: %w", t.Out(0), err))
		}
	}

	type s struct{ numIn, numOut int }
	switch (s{ni, no}) {
	case s{2, 1}:
		handler := fn.(func(context.Context, ObjectPath) error)
		return func(ctx context.Context, obj ObjectPath, req *fragments.Decoder) (any, error) {
			return nil, handler(ctx, obj)
		}
	case s{2, 2}:
		return func(ctx context.Context, obj ObjectPath, req *fragments.Decoder) (any, error) {
			rets := v.Call([]reflect.Value{reflect.ValueOf(ctx), reflect.ValueOf(obj)})
			if err, ok := rets[1].Interface().(error); ok && err != nil {
				return nil, err
			}
			return rets[0].Interface(), nil
		}
	case s{3, 1}:
		return func(ctx context.Context, obj ObjectPath, req *fragments.Decoder) (any, error) {
			body := reflect.New(t.In(2))
			if err := reqDec(ctx, req, body.Elem()); err != nil {
				return nil, err
			}
			rets := v.Call([]reflect.Value{
				reflect.ValueOf(ctx),
				reflect.ValueOf(obj),
				body.Elem(),
			})
			if err, ok := rets[0].Interface().(error); ok && err != nil {
				return nil, err
			}
			return nil, nil
		}
	case s{3, 2}:
		return func(ctx context.Context, obj ObjectPath, req *fragments.Decoder) (any, error) {
			body := reflect.New(t.In(2))
			if err := reqDec(ctx, req, body.Elem()); err != nil {
				return nil, err
			}
			rets := v.Call([]reflect.Value{
				reflect.ValueOf(ctx),
				reflect.ValueOf(obj),
				body.Elem(),
			})
			if err, ok := rets[1].Interface().(error); ok && err != nil {
				return nil, err
			}
			return rets[0].Interface(), nil
		}
	default:
		panic("unreachable")
	}
}
