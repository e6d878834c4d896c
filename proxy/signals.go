package proxy

import (
	"context"

	"github.com/gopherbus/dbus"
)

// Connect subscribes to a signal emitted by f, decoding each
// occurrence as T and delivering it to fn on a dedicated goroutine.
//
// T must be registered, or registerable, with [dbus.RegisterSignalType]
// under f's interface name and member; Connect registers it
// automatically on first use via [dbus.EnsureSignalType].
//
// The returned remove func stops delivery and releases the underlying
// [dbus.Watcher]. Connect's goroutine also exits once ctx is done.
func Connect[T any](ctx context.Context, f Interface, member string, fn func(T)) (remove func(), err error) {
	dbus.EnsureSignalType[T](f.Name(), member)

	w := f.Conn().Watch()
	rm, err := w.Match(dbus.MatchNotification[T]().Object(f.Object().Path()))
	if err != nil {
		w.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				w.Close()
				return
			case n, ok := <-w.Chan():
				if !ok {
					return
				}
				v, ok := n.Body.(*T)
				if !ok {
					continue
				}
				fn(*v)
			}
		}
	}()

	return func() { rm(); w.Close() }, nil
}

// ConnectAny subscribes to every signal sent from f's object path,
// without regard to interface or member, delivering each as a raw
// [dbus.Notification] to fn. The match does not filter on the sender.
//
// This is the untyped escape hatch for callers that want to observe
// traffic before committing to a registered type, e.g. while writing
// a new Connect[T] call.
func ConnectAny(ctx context.Context, f Interface, fn func(*dbus.Notification)) (remove func(), err error) {
	w := f.Conn().Watch()
	rm, err := w.Match(dbus.MatchAllSignals().Object(f.Object().Path()))
	if err != nil {
		w.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				w.Close()
				return
			case n, ok := <-w.Chan():
				if !ok {
					return
				}
				fn(n)
			}
		}
	}()

	return func() { rm(); w.Close() }, nil
}
