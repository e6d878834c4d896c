package dbus

import (
	"fmt"
	"reflect"
	"sync"
)

var (
	signalsMu        sync.Mutex
	signalNameToType = map[signalKey]reflect.Type{}
	signalTypeToName = map[reflect.Type]signalKey{}
)

type signalKey struct {
	Interface, Signal string
}

// RegisterSignalType registers T as the struct type to use when
// decoding the body of the given signal name.
//
// RegisterSignalType panics if the signal already has a registered
// type.
func RegisterSignalType[T any](interfaceName, signalName string) {
	k := signalKey{interfaceName, signalName}
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Struct {
		panic(fmt.Errorf("cannot use type %s (%s) as the payload type for signal %s.%s, signal payloads must be structs", t, t.Kind(), k.Interface, k.Signal))
	}
	if _, err := SignatureFor[T](); err != nil {
		panic(fmt.Errorf("cannot use %s as dbus type for signal %s.%s: %w", t, k.Interface, k.Signal, err))
	}
	signalsMu.Lock()
	defer signalsMu.Unlock()
	if prev := signalNameToType[k]; prev != nil {
		panic(fmt.Errorf("duplicate signal type registration for %s.%s, existing registration %s", k.Interface, k.Signal, prev))
	}
	if prev, ok := signalTypeToName[t]; ok {
		panic(fmt.Errorf("duplicate signal type registration for %s, already in use by %s.%s", t, prev.Interface, prev.Signal))
	}
	signalNameToType[k] = t
	signalTypeToName[t] = k
}

// EnsureSignalType registers T as the payload type for the given
// signal name, like [RegisterSignalType], but is safe to call more
// than once: a call that would just repeat an identical prior
// registration is a no-op instead of a panic. It still panics if the
// name or type is already registered to something else.
//
// This is the registration path the proxy package's typed signal
// subscriptions use, since callers may set up the same subscription
// more than once over a program's lifetime.
func EnsureSignalType[T any](interfaceName, signalName string) {
	t := reflect.TypeFor[T]()
	if signalTypeFor(interfaceName, signalName) == t {
		return
	}
	RegisterSignalType[T](interfaceName, signalName)
}

// signalTypeFor returns the registered payload type for the given
// signal name, or nil if no type was registered.
func signalTypeFor(interfaceName, signalName string) reflect.Type {
	signalsMu.Lock()
	defer signalsMu.Unlock()
	return signalNameToType[signalKey{interfaceName, signalName}]
}

// signalNameFor returns the signal name that t was registered under
// with [RegisterSignalType], if any.
func signalNameFor(t reflect.Type) (interfaceMember, bool) {
	signalsMu.Lock()
	defer signalsMu.Unlock()
	k, ok := signalTypeToName[t]
	return interfaceMember{k.Interface, k.Signal}, ok
}

var (
	propsMu        sync.Mutex
	propNameToType = map[interfaceMember]reflect.Type{}
	propTypeToName = map[reflect.Type]interfaceMember{}
)

// RegisterPropertyChangeType registers T as the value type to use
// when decoding changes to the named property, as reported by
// PropertiesChanged signals.
//
// RegisterPropertyChangeType panics if the property already has a
// registered type.
func RegisterPropertyChangeType[T any](interfaceName, propertyName string) {
	k := interfaceMember{interfaceName, propertyName}
	t := reflect.TypeFor[T]()
	if _, err := SignatureFor[T](); err != nil {
		panic(fmt.Errorf("cannot use %s as dbus type for property %s.%s: %w", t, k.Interface, k.Member, err))
	}
	propsMu.Lock()
	defer propsMu.Unlock()
	if prev, ok := propNameToType[k]; ok {
		panic(fmt.Errorf("duplicate property type registration for %s.%s, existing registration %s", k.Interface, k.Member, prev))
	}
	if prev, ok := propTypeToName[t]; ok {
		panic(fmt.Errorf("duplicate property type registration for %s, already in use by %s.%s", t, prev.Interface, prev.Member))
	}
	propNameToType[k] = t
	propTypeToName[t] = k
}

// EnsurePropertyChangeType registers T as the value type for the
// given property, like [RegisterPropertyChangeType], but is safe to
// call more than once: a call that would just repeat an identical
// prior registration is a no-op instead of a panic.
func EnsurePropertyChangeType[T any](interfaceName, propertyName string) {
	t := reflect.TypeFor[T]()
	if propTypeFor(interfaceName, propertyName) == t {
		return
	}
	RegisterPropertyChangeType[T](interfaceName, propertyName)
}

// propTypeFor returns the registered value type for the given
// property, or nil if no type was registered.
func propTypeFor(interfaceName, propertyName string) reflect.Type {
	propsMu.Lock()
	defer propsMu.Unlock()
	return propNameToType[interfaceMember{interfaceName, propertyName}]
}

// propNameFor returns the property that t was registered for with
// [RegisterPropertyChangeType], if any.
func propNameFor(t reflect.Type) (interfaceMember, bool) {
	propsMu.Lock()
	defer propsMu.Unlock()
	k, ok := propTypeToName[t]
	return k, ok
}
