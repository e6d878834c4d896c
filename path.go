package dbus

import (
	"context"
	"reflect"
	"strings"

	"github.com/gopherbus/dbus/fragments"
)

// ObjectPath is a DBus object path, such as "/org/freedesktop/DBus".
type ObjectPath string

func (p ObjectPath) MarshalDBus(ctx context.Context, st *fragments.Encoder) error {
	st.Value(ctx, string(p))
	return nil
}

func (p *ObjectPath) UnmarshalDBus(ctx context.Context, st *fragments.Decoder) error {
	var s string
	if err := st.Value(ctx, &s); err != nil {
		return err
	}
	*p = ObjectPath(s)
	return nil
}

func (p ObjectPath) IsDBusStruct() bool { return false }

var objectPathSignature = mkSignature(reflect.TypeFor[ObjectPath](), "o")

func (p ObjectPath) SignatureDBus() Signature { return objectPathSignature }

func (p ObjectPath) String() string { return string(p) }

// Clean returns p with a trailing slash removed, unless p is the root
// path "/".
func (p ObjectPath) Clean() ObjectPath {
	if len(p) > 1 && strings.HasSuffix(string(p), "/") {
		return p[:len(p)-1]
	}
	return p
}

// IsChildOf reports whether p is prefix, or a path below prefix.
func (p ObjectPath) IsChildOf(prefix ObjectPath) bool {
	prefix = prefix.Clean()
	if p == prefix {
		return true
	}
	if prefix == "/" {
		return strings.HasPrefix(string(p), "/")
	}
	return strings.HasPrefix(string(p), string(prefix)+"/")
}
