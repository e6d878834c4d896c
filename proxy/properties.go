package proxy

import (
	"context"

	"github.com/gopherbus/dbus"
)

// Get reads a property of f with static typing.
func Get[T any](ctx context.Context, f Interface, name string, opts ...dbus.CallOption) (T, error) {
	var v T
	err := f.i.GetProperty(ctx, name, &v, opts...)
	return v, err
}

// Set writes a property of f.
func Set[T any](ctx context.Context, f Interface, name string, value T, opts ...dbus.CallOption) error {
	return f.i.SetProperty(ctx, name, value, opts...)
}

// GetAll returns every property exported by f, keyed by name.
func GetAll(ctx context.Context, f Interface, opts ...dbus.CallOption) (map[string]any, error) {
	return f.i.GetAllProperties(ctx, opts...)
}

// WatchProperty delivers the current value of a property each time it
// changes, decoded as T.
//
// T must be registered, or registerable, with
// [dbus.RegisterPropertyChangeType] for f's property name; WatchProperty
// registers it automatically on first use via
// [dbus.EnsurePropertyChangeType].
//
// The returned channel is closed once the underlying [dbus.Watcher] is
// closed or ctx is done. The returned remove func removes the match
// and closes the Watcher.
func WatchProperty[T any](ctx context.Context, f Interface, name string) (<-chan T, func(), error) {
	dbus.EnsurePropertyChangeType[T](f.Name(), name)

	w := f.Conn().Watch()
	remove, err := w.Match(dbus.MatchNotification[T]().Object(f.Object().Path()))
	if err != nil {
		w.Close()
		return nil, nil, err
	}

	out := make(chan T)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-w.Chan():
				if !ok {
					return
				}
				v, ok := n.Body.(*T)
				if !ok {
					continue
				}
				select {
				case out <- *v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, func() { remove(); w.Close() }, nil
}
