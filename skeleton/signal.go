package skeleton

import (
	"context"
	"reflect"

	"github.com/gopherbus/dbus"
)

// Signal registers a signal named signalName on interfaceName, whose
// payload is T, and returns a function that emits it from o.
//
// T is registered with [dbus.EnsureSignalType], so a single type may
// back signals on more than one object without re-registering.
func Signal[T any](o *Object, interfaceName, signalName string) (emit func(ctx context.Context, v T) error) {
	dbus.EnsureSignalType[T](interfaceName, signalName)

	o.mu.Lock()
	f := o.ifaceLocked(interfaceName)
	f.desc.Signals = append(f.desc.Signals, signalDescription[T](signalName))
	o.mu.Unlock()

	return func(ctx context.Context, v T) error {
		return o.conn.EmitSignal(ctx, o.path, v)
	}
}

func signalDescription[T any](name string) *dbus.SignalDescription {
	t := reflect.TypeFor[T]()
	desc := &dbus.SignalDescription{Name: name}
	if t.Kind() == reflect.Struct {
		for i := range t.NumField() {
			f := t.Field(i)
			sig, err := dbus.SignatureOf(reflect.Zero(f.Type).Interface())
			if err != nil {
				continue
			}
			desc.Args = append(desc.Args, dbus.ArgumentDescription{Name: f.Name, Type: sig})
		}
	}
	return desc
}
