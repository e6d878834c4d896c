package dbus

import (
	"context"
	"encoding/xml"
	"fmt"
	"maps"
	"strings"
)

type Object struct {
	p    Peer
	path ObjectPath
}

func (o Object) Conn() *Conn      { return o.p.Conn() }
func (o Object) Peer() Peer       { return o.p }
func (o Object) Path() ObjectPath { return o.path }

func (o Object) String() string {
	return fmt.Sprintf("%s:%s", o.p, o.path)
}

// Compare orders Objects by peer, then by path, giving a total order
// suitable for use with ordered containers such as heapq.Queue.
func (o Object) Compare(other Object) int {
	if c := o.p.Compare(other.p); c != 0 {
		return c
	}
	return strings.Compare(string(o.path), string(other.path))
}

// Child returns the Object at the given path relative to o, on the
// same peer. relative may contain multiple path components, e.g.
// "plushie/gopher".
func (o Object) Child(relative string) Object {
	base := string(o.path.Clean())
	if base == "/" {
		base = ""
	}
	return o.p.Object(ObjectPath(base + "/" + relative).Clean())
}

func (o Object) Interface(name string) Interface {
	return Interface{
		o:    o,
		name: name,
	}
}

func (o Object) Introspect(ctx context.Context, opts ...CallOption) (string, error) {
	var resp string
	if err := o.Conn().call(ctx, o.p.name, o.path, "org.freedesktop.DBus.Introspectable", "Introspect", nil, &resp, opts...); err != nil {
		return "", err
	}
	return resp, nil
}

// Interfaces introspects the object and returns the interfaces it
// offers, as reported by its peer. The result may not accurately
// reflect the object's real API; see [ObjectDescription].
func (o Object) Interfaces(ctx context.Context, opts ...CallOption) ([]Interface, error) {
	raw, err := o.Introspect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	var desc ObjectDescription
	if err := xml.Unmarshal([]byte(raw), &desc); err != nil {
		return nil, fmt.Errorf("parsing introspection response: %w", err)
	}
	ret := make([]Interface, 0, len(desc.Interfaces))
	for n := range desc.Interfaces {
		ret = append(ret, o.Interface(n))
	}
	return ret, nil
}

func (o Object) ManagedObjects(ctx context.Context, opts ...CallOption) (map[Object][]Interface, error) {
	// object path -> interface name -> map[property name]value
	var resp map[ObjectPath]map[string]map[string]Variant
	err := o.Conn().call(ctx, o.p.name, o.path, "org.freedesktop.DBus.ObjectManager", "GetManagedObjects", nil, &resp, opts...)
	if err != nil {
		return nil, err
	}
	ret := make(map[Object][]Interface, len(resp))
	for path, ifs := range resp {
		// TODO: validate that path is a subpath of the current object
		child := o.Peer().Object(path)
		ifaces := make([]Interface, 0, len(ifs))
		for ifname := range maps.Keys(ifs) {
			ifaces = append(ifaces, child.Interface(ifname))
		}
		ret[o.Peer().Object(path)] = ifaces
	}
	return ret, nil
}
