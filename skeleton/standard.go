package skeleton

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gopherbus/dbus"
	"github.com/gopherbus/dbus/fragments"
)

const (
	ifaceIntrospectable = "org.freedesktop.DBus.Introspectable"
	ifaceProperties     = "org.freedesktop.DBus.Properties"
)

// introspectHandler answers org.freedesktop.DBus.Introspectable.Introspect
// for the object, describing every interface registered on it.
func (o *Object) introspectHandler() dbus.Handler {
	return func(ctx context.Context, path dbus.ObjectPath, interfaceName, member string, req *fragments.Decoder) (any, dbus.HandlerResult, error) {
		if interfaceName != ifaceIntrospectable || member != "Introspect" {
			return nil, dbus.NotYet, nil
		}
		o.mu.Lock()
		xml := renderIntrospection(o.ifaces)
		o.mu.Unlock()
		return xml, dbus.Handled, nil
	}
}

// propertiesHandler answers org.freedesktop.DBus.Properties.{Get,Set,GetAll}
// against the properties registered with [Property].
func (o *Object) propertiesHandler() dbus.Handler {
	return func(ctx context.Context, path dbus.ObjectPath, interfaceName, member string, req *fragments.Decoder) (any, dbus.HandlerResult, error) {
		if interfaceName != ifaceProperties {
			return nil, dbus.NotYet, nil
		}

		switch member {
		case "Get":
			var args struct {
				InterfaceName string
				PropertyName  string
			}
			if err := req.Value(ctx, &args); err != nil {
				return nil, dbus.Handled, err
			}
			p, err := o.property(args.InterfaceName, args.PropertyName)
			if err != nil {
				return nil, dbus.Handled, err
			}
			if p.get == nil {
				return nil, dbus.Handled, fmt.Errorf("%w: property %s.%s is not readable", dbus.ErrPropertyReadOnly, args.InterfaceName, args.PropertyName)
			}
			v, err := p.get(ctx)
			if err != nil {
				return nil, dbus.Handled, err
			}
			return dbus.Variant{Value: v}, dbus.Handled, nil

		case "Set":
			var args struct {
				InterfaceName string
				PropertyName  string
				Value         dbus.Variant
			}
			if err := req.Value(ctx, &args); err != nil {
				return nil, dbus.Handled, err
			}
			p, err := o.property(args.InterfaceName, args.PropertyName)
			if err != nil {
				return nil, dbus.Handled, err
			}
			if p.set == nil {
				return nil, dbus.Handled, fmt.Errorf("%w: property %s.%s is not writable", dbus.ErrPropertyReadOnly, args.InterfaceName, args.PropertyName)
			}
			if err := p.set(ctx, args.Value.Value); err != nil {
				return nil, dbus.Handled, err
			}
			err = o.conn.EmitSignal(ctx, o.path, dbus.PropertiesChanged{
				InterfaceName:     args.InterfaceName,
				ChangedProperties: map[string]dbus.Variant{args.PropertyName: args.Value},
			})
			return nil, dbus.Handled, err

		case "GetAll":
			var ifaceName string
			if err := req.Value(ctx, &ifaceName); err != nil {
				return nil, dbus.Handled, err
			}
			o.mu.Lock()
			f, ok := o.ifaces[ifaceName]
			o.mu.Unlock()
			if !ok {
				return nil, dbus.Handled, fmt.Errorf("%w: %s", errUnknownInterface, ifaceName)
			}
			ret := make(map[string]dbus.Variant, len(f.props))
			for name, p := range f.props {
				if p.get == nil {
					continue
				}
				v, err := p.get(ctx)
				if err != nil {
					return nil, dbus.Handled, err
				}
				ret[name] = dbus.Variant{Value: v}
			}
			return ret, dbus.Handled, nil

		default:
			return nil, dbus.NotYet, nil
		}
	}
}

func (o *Object) property(interfaceName, propertyName string) (*propState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.ifaces[interfaceName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownInterface, interfaceName)
	}
	p, ok := f.props[propertyName]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", dbus.ErrUnknownProperty, interfaceName, propertyName)
	}
	return p, nil
}

func renderIntrospection(ifaces map[string]*ifaceState) string {
	names := interfaceNames(ifaces)
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(`<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN" "http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">` + "\n<node>\n")
	for _, name := range names {
		f := ifaces[name]
		fmt.Fprintf(&b, "  <interface name=%q>\n", name)
		for _, m := range f.desc.Methods {
			fmt.Fprintf(&b, "    <method name=%q>\n", m.Name)
			for _, a := range m.In {
				fmt.Fprintf(&b, "      <arg name=%q type=%q direction=\"in\"/>\n", a.Name, a.Type)
			}
			for _, a := range m.Out {
				fmt.Fprintf(&b, "      <arg name=%q type=%q direction=\"out\"/>\n", a.Name, a.Type)
			}
			b.WriteString("    </method>\n")
		}
		for _, s := range f.desc.Signals {
			fmt.Fprintf(&b, "    <signal name=%q>\n", s.Name)
			for _, a := range s.Args {
				fmt.Fprintf(&b, "      <arg name=%q type=%q/>\n", a.Name, a.Type)
			}
			b.WriteString("    </signal>\n")
		}
		for _, p := range f.desc.Properties {
			access := "readwrite"
			switch {
			case p.Readable && !p.Writable:
				access = "read"
			case !p.Readable && p.Writable:
				access = "write"
			}
			fmt.Fprintf(&b, "    <property name=%q type=%q access=%q/>\n", p.Name, p.Type, access)
		}
		b.WriteString("  </interface>\n")
	}
	b.WriteString("</node>")
	return b.String()
}
