package dbus

import (
	"reflect"
)

// derefType unwraps t through any number of pointer indirections and
// returns the first non-pointer type.
func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// derefZero unwraps v through any number of pointer indirections. If
// it passes through a nil pointer, derefZero returns the zero
// [reflect.Value].
func derefZero(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// derefAlloc unwraps v through any number of pointer indirections,
// allocating zero values for any nil pointers it passes through.
func derefAlloc(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	return v
}
