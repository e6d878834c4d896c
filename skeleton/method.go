package skeleton

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/gopherbus/dbus"
	"github.com/gopherbus/dbus/fragments"
)

type methodFunc func(ctx context.Context, path dbus.ObjectPath, req *fragments.Decoder) (any, error)

// Method registers fn to answer calls to methodName on interfaceName.
//
// fn must have one of the signatures:
//
//	func(context.Context) error
//	func(context.Context) (RespType, error)
//	func(context.Context, ReqType) error
//	func(context.Context, ReqType) (RespType, error)
//
// Method panics if fn doesn't match one of these shapes, or if
// ReqType/RespType aren't valid DBus types. Registrations take effect
// immediately, whether made before or after [Object.Export].
func (o *Object) Method(interfaceName, methodName string, fn any) *Object {
	mf, desc := methodForFunc(methodName, fn)

	o.mu.Lock()
	defer o.mu.Unlock()
	f := o.ifaceLocked(interfaceName)
	f.methods[methodName] = mf
	f.desc.Methods = append(f.desc.Methods, desc)
	return o
}

func methodForFunc(name string, fn any) (methodFunc, *dbus.MethodDescription) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func {
		panic(errors.New("skeleton: Method requires a function"))
	}
	t := v.Type()
	ni, no := t.NumIn(), t.NumOut()

	const msg = "invalid signature %s for method handler, valid signatures are:\n  func(context.Context) error\n  func(context.Context) (RespType, error)\n  func(context.Context, ReqType) error\n  func(context.Context, ReqType) (RespType, error)"

	if ni < 1 || ni > 2 || no < 1 || no > 2 {
		panic(fmt.Errorf(msg, t))
	}
	if !t.In(0).Implements(reflect.TypeFor[context.Context]()) {
		panic(fmt.Errorf(msg, t))
	}
	if !t.Out(no - 1).Implements(reflect.TypeFor[error]()) {
		panic(fmt.Errorf(msg, t))
	}

	desc := &dbus.MethodDescription{Name: name}
	if ni == 2 {
		sig, err := dbus.SignatureOf(reflect.Zero(t.In(1)).Interface())
		if err != nil {
			panic(fmt.Errorf("skeleton: request type %s for method %s is not a valid DBus type: %w", t.In(1), name, err))
		}
		desc.In = structArgs(sig)
	}
	if no == 2 {
		sig, err := dbus.SignatureOf(reflect.Zero(t.Out(0)).Interface())
		if err != nil {
			panic(fmt.Errorf("skeleton: response type %s for method %s is not a valid DBus type: %w", t.Out(0), name, err))
		}
		desc.Out = structArgs(sig)
	}

	type s struct{ numIn, numOut int }
	switch (s{ni, no}) {
	case s{1, 1}:
		handler := fn.(func(context.Context) error)
		return func(ctx context.Context, _ dbus.ObjectPath, _ *fragments.Decoder) (any, error) {
			return nil, handler(ctx)
		}, desc
	case s{1, 2}:
		return func(ctx context.Context, _ dbus.ObjectPath, _ *fragments.Decoder) (any, error) {
			rets := v.Call([]reflect.Value{reflect.ValueOf(ctx)})
			if err, ok := rets[1].Interface().(error); ok && err != nil {
				return nil, err
			}
			return rets[0].Interface(), nil
		}, desc
	case s{2, 1}:
		return func(ctx context.Context, _ dbus.ObjectPath, req *fragments.Decoder) (any, error) {
			body := reflect.New(t.In(1))
			if err := req.Value(ctx, body.Interface()); err != nil {
				return nil, err
			}
			rets := v.Call([]reflect.Value{reflect.ValueOf(ctx), body.Elem()})
			if err, ok := rets[0].Interface().(error); ok && err != nil {
				return nil, err
			}
			return nil, nil
		}, desc
	case s{2, 2}:
		return func(ctx context.Context, _ dbus.ObjectPath, req *fragments.Decoder) (any, error) {
			body := reflect.New(t.In(1))
			if err := req.Value(ctx, body.Interface()); err != nil {
				return nil, err
			}
			rets := v.Call([]reflect.Value{reflect.ValueOf(ctx), body.Elem()})
			if err, ok := rets[1].Interface().(error); ok && err != nil {
				return nil, err
			}
			return rets[0].Interface(), nil
		}, desc
	default:
		panic("unreachable")
	}
}

// structArgs turns a struct-valued Signature into one ArgumentDescription
// per field, the shape org.freedesktop.DBus.Introspectable wants for
// method in/out args. Non-struct signatures (a method with exactly
// one argument that isn't itself wrapped in a struct) are reported as
// a single unnamed argument.
func structArgs(sig dbus.Signature) []dbus.ArgumentDescription {
	t := sig.Type()
	if t.Kind() != reflect.Struct {
		return []dbus.ArgumentDescription{{Type: sig}}
	}
	ret := make([]dbus.ArgumentDescription, 0, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		fsig, err := dbus.SignatureOf(reflect.Zero(f.Type).Interface())
		if err != nil {
			continue
		}
		ret = append(ret, dbus.ArgumentDescription{Name: f.Name, Type: fsig})
	}
	return ret
}
