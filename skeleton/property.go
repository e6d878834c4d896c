package skeleton

import (
	"context"
	"fmt"
	"reflect"

	"github.com/gopherbus/dbus"
)

// PropertyAccess describes whether a property can be read, written,
// or both.
type PropertyAccess int

const (
	ReadOnly PropertyAccess = iota
	WriteOnly
	ReadWrite
)

type propState struct {
	get func(ctx context.Context) (any, error)
	set func(ctx context.Context, v any) error
}

// Property registers a property named propertyName on interfaceName.
//
// get must be non-nil unless access is WriteOnly; set must be
// non-nil unless access is ReadOnly. Registrations take effect
// immediately, whether made before or after [Object.Export].
func Property[T any](o *Object, interfaceName, propertyName string, access PropertyAccess, get func(context.Context) (T, error), set func(context.Context, T) error) *Object {
	sig, err := dbus.SignatureOf(reflect.Zero(reflect.TypeFor[T]()).Interface())
	if err != nil {
		panic(fmt.Errorf("skeleton: property %s.%s type %T is not a valid DBus type: %w", interfaceName, propertyName, *new(T), err))
	}

	ps := &propState{}
	if access != WriteOnly {
		if get == nil {
			panic(fmt.Errorf("skeleton: property %s.%s is readable but has no getter", interfaceName, propertyName))
		}
		ps.get = func(ctx context.Context) (any, error) { return get(ctx) }
	}
	if access != ReadOnly {
		if set == nil {
			panic(fmt.Errorf("skeleton: property %s.%s is writable but has no setter", interfaceName, propertyName))
		}
		ps.set = func(ctx context.Context, v any) error {
			tv, ok := v.(T)
			if !ok {
				return fmt.Errorf("%w: cannot assign %T to property %s.%s", dbus.ErrTypeMismatch, v, interfaceName, propertyName)
			}
			return set(ctx, tv)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	f := o.ifaceLocked(interfaceName)
	f.props[propertyName] = ps
	f.desc.Properties = append(f.desc.Properties, &dbus.PropertyDescription{
		Name:        propertyName,
		Type:        sig,
		Readable:    access != WriteOnly,
		Writable:    access != ReadOnly,
		EmitsSignal: true,
	})
	return o
}
