package dbus

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/creachadair/mds/value"
)

// MatchRule is a DBus match rule: a plain tuple of optional
// predicates, exactly as org.freedesktop.DBus.AddMatch understands
// them. Unlike [Match], a MatchRule carries no knowledge of
// registered signal or property-change Go types; it's the wire-level
// shape a match rule actually has, and is what [Match] and
// higher-level callers ultimately compile down to before sending a
// match rule to the bus.
//
// Zero value fields are omitted from the encoded rule, so an empty
// MatchRule matches everything.
type MatchRule struct {
	// Type restricts the rule to one message type: "signal",
	// "method_call", "method_return", or "error".
	Type string
	// Sender restricts the rule to messages from a single unique or
	// well-known bus name.
	Sender string
	// Interface restricts the rule to one D-Bus interface.
	Interface string
	// Member restricts the rule to one member (method, signal, or
	// property) name within Interface.
	Member string
	// Path restricts the rule to messages sent by exactly this object
	// path.
	Path ObjectPath
	// PathNamespace restricts the rule to messages sent by this path
	// or any path below it. Mutually exclusive with Path.
	PathNamespace ObjectPath
	// Destination restricts the rule to messages addressed to this
	// unique bus name.
	Destination string
	// Args restricts the rule to messages whose body's i-th argument
	// is a string equal to the map value, for each i present in the
	// map.
	Args map[int]string
	// ArgPaths restricts the rule to messages whose body's i-th
	// argument is a string or object path equal to, or nested under,
	// the map value.
	ArgPaths map[int]string
	// Arg0Namespace restricts the rule to messages whose first body
	// argument is a bus or interface name equal to, or dot-namespaced
	// under, this value.
	Arg0Namespace string
	// Eavesdrop requests delivery of messages not addressed to this
	// connection. Most buses require additional privilege to set this.
	Eavesdrop bool
}

// String encodes r in the format org.freedesktop.DBus.AddMatch and
// RemoveMatch expect.
func (r MatchRule) String() string {
	var ms []string
	kv := func(k, v string) {
		ms = append(ms, fmt.Sprintf("%s=%s", k, escapeMatchArg(v)))
	}
	if r.Type != "" {
		kv("type", r.Type)
	}
	if r.Sender != "" {
		kv("sender", r.Sender)
	}
	if r.Interface != "" {
		kv("interface", r.Interface)
	}
	if r.Member != "" {
		kv("member", r.Member)
	}
	if r.Path != "" {
		kv("path", r.Path.String())
	}
	if r.PathNamespace != "" {
		kv("path_namespace", r.PathNamespace.String())
	}
	if r.Destination != "" {
		kv("destination", r.Destination)
	}
	for _, i := range slices.Sorted(maps.Keys(r.Args)) {
		kv(fmt.Sprintf("arg%d", i), r.Args[i])
	}
	for _, i := range slices.Sorted(maps.Keys(r.ArgPaths)) {
		kv(fmt.Sprintf("arg%dpath", i), r.ArgPaths[i])
	}
	if r.Arg0Namespace != "" {
		kv("arg0namespace", r.Arg0Namespace)
	}
	if r.Eavesdrop {
		kv("eavesdrop", "true")
	}
	return strings.Join(ms, ",")
}

// WithArg returns a copy of r restricted to messages whose i-th body
// argument is the string val.
func (r MatchRule) WithArg(i int, val string) MatchRule {
	r.Args = maps.Clone(r.Args)
	if r.Args == nil {
		r.Args = map[int]string{}
	}
	r.Args[i] = val
	return r
}

// WithArgPath returns a copy of r restricted to messages whose i-th
// body argument is val, or a path below it.
func (r MatchRule) WithArgPath(i int, val string) MatchRule {
	r.ArgPaths = maps.Clone(r.ArgPaths)
	if r.ArgPaths == nil {
		r.ArgPaths = map[int]string{}
	}
	r.ArgPaths[i] = val
	return r
}

// addMatchRule registers r's filter string with the bus.
func (c *Conn) addMatchRule(ctx context.Context, r MatchRule) error {
	return c.bus.Interface(ifaceBus).Call(ctx, "AddMatch", r.String(), nil)
}

// removeMatchRule unregisters r's filter string from the bus.
func (c *Conn) removeMatchRule(ctx context.Context, r MatchRule) error {
	return c.bus.Interface(ifaceBus).Call(ctx, "RemoveMatch", r.String(), nil)
}

// Match is a filter that matches DBus signals, expressed in terms of
// a Go notification type registered with [RegisterSignalType] or
// [RegisterPropertyChangeType]. It compiles down to a [MatchRule]
// (see [Match.rule]) before being sent to the bus, and keeps the
// extra per-field knowledge needed to re-filter signals locally: a
// connection receives one shared stream of signals, so every active
// [Watcher] must independently decide whether a given signal is one
// it asked for.
type Match struct {
	sender       value.Maybe[string]
	object       value.Maybe[ObjectPath]
	objectPrefix value.Maybe[ObjectPath]
	signal       value.Maybe[signalMatch]
	property     value.Maybe[interfaceMember]
	argStr       map[int]string
	argPath      map[int]ObjectPath
	arg0NS       value.Maybe[string]
}

type signalMatch struct {
	interfaceMember
	stringFields map[int]func(reflect.Value) string
	objectFields map[int]func(reflect.Value) string
}

// MatchNotification returns a match for the given notification.
//
// The provided notification type must be registered with
// [RegisterSignalType] or [RegisterPropertyChangeType] prior to
// calling MatchNotification.
func MatchNotification[NotificationT any]() *Match {
	t := reflect.TypeFor[NotificationT]()
	bt := derefType(t)

	prop, ok := propNameFor(bt)
	if ok {
		return &Match{
			property: value.Just(prop),
		}
	}

	sig, ok := signalNameFor(bt)
	if !ok {
		panic(fmt.Errorf("unknown notification type %s", bt))
	}

	sm := signalMatch{
		interfaceMember: sig,
		stringFields:    map[int]func(reflect.Value) string{},
		objectFields:    map[int]func(reflect.Value) string{},
	}

	inf, err := getStructInfo(bt)
	if err != nil {
		panic(fmt.Errorf("getting signal struct info for %s: %w", bt, err))
	}
	for i, field := range inf.StructFields {
		fieldBottom := derefType(field.Type)
		if fieldBottom == reflect.TypeFor[ObjectPath]() {
			sm.objectFields[i] = field.StringGetter()
		} else if fieldBottom.Kind() == reflect.String {
			sm.stringFields[i] = field.StringGetter()
		}
	}

	return &Match{
		signal: value.Just(sm),
	}
}

// MatchAllSignals returns a Match for all signals.
func MatchAllSignals() *Match {
	return &Match{}
}

// rule compiles m down to the [MatchRule] that expresses the same
// filter at the wire level.
func (m *Match) rule() MatchRule {
	r := MatchRule{Type: "signal"}

	if s, ok := m.sender.GetOK(); ok {
		r.Sender = s
	}
	if o, ok := m.object.GetOK(); ok {
		r.Path = o
	}
	if p, ok := m.objectPrefix.GetOK(); ok {
		r.PathNamespace = p
	}
	if pm, ok := m.property.GetOK(); ok {
		r.Interface = "org.freedesktop.DBus.Properties"
		r.Member = "PropertiesChanged"
		r.Args = map[int]string{0: pm.Interface}
	}

	if sm, ok := m.signal.GetOK(); ok {
		r.Interface = sm.Interface
		r.Member = sm.Member

		if len(m.argStr) > 0 {
			r.Args = maps.Clone(m.argStr)
		}
		if len(m.argPath) > 0 {
			r.ArgPaths = make(map[int]string, len(m.argPath))
			for i, p := range m.argPath {
				r.ArgPaths[i] = p.String()
			}
		}
		if n, ok := m.arg0NS.GetOK(); ok {
			r.Arg0Namespace = n
		}
	}

	return r
}

// filterString returns the match in the string format that DBus wants
// for the AddMatch and RemoveMatch methods.
func (m *Match) filterString() string {
	return m.rule().String()
}

// matchesSignal reports whether the given signal header and body
// matches the filter, using the same match logic that the bus uses on
// the match's filterString().
//
// This is necessary because a DBus connection receives a single
// stream of signals. When multiple Watchers are active, the received
// signals are the union of all the Watchers' filters, and so each one
// needs to do additional filtering on received signals.
func (m *Match) matchesSignal(hdr *header, body reflect.Value) bool {
	if m.property.Present() {
		return false
	}

	if s, ok := m.sender.GetOK(); ok && hdr.Sender != s {
		return false
	}
	if o, ok := m.object.GetOK(); ok && hdr.Path != o {
		return false
	}
	if p, ok := m.objectPrefix.GetOK(); ok && hdr.Path != p && !hdr.Path.IsChildOf(p) {
		return false
	}

	if sm, ok := m.signal.GetOK(); ok {
		if hdr.Interface != sm.Interface || hdr.Member != sm.Member {
			return false
		}

		for i, want := range m.argStr {
			if got := sm.stringFields[i](body.Elem()); got != want {
				return false
			}
		}
		for i, want := range m.argPath {
			if f := sm.stringFields[i]; f != nil {
				if got := ObjectPath(f(body.Elem())); got != want && !got.IsChildOf(want) {
					return false
				}
			}
			if f := sm.objectFields[i]; f != nil {
				if got := ObjectPath(f(body.Elem())); got != want && !got.IsChildOf(want) {
					return false
				}
			}
		}
		if n, ok := m.arg0NS.GetOK(); ok {
			if got := sm.stringFields[0](body.Elem()); got != n && !strings.HasPrefix(got, n+".") {
				return false
			}
		}
	}

	return true
}

// matchesProperty reports whether the given property change matches
// the filter.
func (m *Match) matchesProperty(hdr *header, prop interfaceMember, body reflect.Value) bool {
	pm, ok := m.property.GetOK()
	if !ok {
		return false
	}

	if s, ok := m.sender.GetOK(); ok && hdr.Sender != s {
		return false
	}
	if o, ok := m.object.GetOK(); ok && hdr.Path != o {
		return false
	}
	if p, ok := m.objectPrefix.GetOK(); ok && hdr.Path != p && !hdr.Path.IsChildOf(p) {
		return false
	}
	if hdr.Interface != "org.freedesktop.DBus.Properties" || hdr.Member != "PropertiesChanged" {
		return false
	}
	if pm.Interface != prop.Interface || pm.Member != prop.Member {
		return false
	}

	return true
}

// Peer restricts the match to a single source Peer.
func (m *Match) Peer(p Peer) *Match {
	m.sender = value.Just(p.Name())
	return m
}

// Object restricts the match to a single source path.
func (m *Match) Object(o ObjectPath) *Match {
	m.objectPrefix = value.Absent[ObjectPath]()
	m.object = value.Just(o.Clean())
	return m
}

// ObjectPrefix restricts the match to sending Objects rooted at the
// given path prefix.
//
// For example, ObjectPrefix("/mascots/gopher") matches signals
// emitted by /mascots/gopher, /mascots/gopher/plushie,
// /mascots/gopher/art/renee-french, but not /mascots/glenda.
func (m *Match) ObjectPrefix(o ObjectPath) *Match {
	m.object = value.Absent[ObjectPath]()
	if o == "/" {
		// workaround for dbus-broker bug: / means the same as not
		// specifying a path match anyway, so don't include it.
		m.objectPrefix = value.Absent[ObjectPath]()
	} else {
		m.objectPrefix = value.Just(o.Clean())
	}
	return m
}

// ArgStr restricts the match to signals whose i-th body field is a
// string equal to val.
//
// ArgStr can only be used on signal matches, not property matches.
func (m *Match) ArgStr(i int, val string) *Match {
	sm, ok := m.signal.GetOK()
	if !ok {
		panic(fmt.Errorf("ArgStr applied to property match %s, can only be applied to signal matches", m.property.Get()))
	}
	if sm.stringFields[i] == nil {
		panic(fmt.Errorf("invalid ArgStr match on arg %d, argument is not a string", i))
	}
	if m.argStr == nil {
		m.argStr = map[int]string{}
	}
	m.argStr[i] = val
	return m
}

// ArgPathPrefix restricts the Match to signals whose i-th body field
// is a string or ObjectPath with the given prefix.
//
// ArgPathPrefix can only be used on signal matches, not property
// matches.
func (m *Match) ArgPathPrefix(i int, val ObjectPath) *Match {
	sm, ok := m.signal.GetOK()
	if !ok {
		panic(fmt.Errorf("ArgPathPrefix applied to property match %s, can only be applied to signal matches", m.property.Get()))
	}
	if sm.stringFields[i] == nil && sm.objectFields[i] == nil {
		panic(fmt.Errorf("invalid ArgPathPrefix match on arg %d, argument is not a string or an ObjectPath", i))
	}
	if m.argPath == nil {
		m.argPath = map[int]ObjectPath{}
	}
	m.argPath[i] = val
	return m
}

// Arg0Namespace restricts the Match to signals whose first body field
// is a peer or interface name with the given dot-separated prefix.
//
// Arg0Namespace can only be used on signal matches, not property
// matches.
func (m *Match) Arg0Namespace(val string) *Match {
	sm, ok := m.signal.GetOK()
	if !ok {
		panic(fmt.Errorf("Arg0Namespace applied to property match %s, can only be applied to signal matches", m.property.Get()))
	}
	if sm.stringFields[0] == nil {
		panic(errors.New("invalid Arg0Namespace match, argument 0 is not a string"))
	}
	m.arg0NS = value.Just(val)
	return m
}

// addMatch registers m's filter string with the bus.
func (c *Conn) addMatch(ctx context.Context, m *Match) error {
	return c.bus.Interface(ifaceBus).Call(ctx, "AddMatch", m.filterString(), nil)
}

// removeMatch unregisters m's filter string from the bus.
func (c *Conn) removeMatch(ctx context.Context, m *Match) error {
	return c.bus.Interface(ifaceBus).Call(ctx, "RemoveMatch", m.filterString(), nil)
}

func escapeMatchArg(s string) string {
	s = strings.ReplaceAll(s, "'", "'\\''")
	return "'" + s + "'"
}
