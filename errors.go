package dbus

import (
	"errors"
	"fmt"
	"reflect"
)

// TypeError is the error returned when a type cannot be represented
// in the DBus wire format.
type TypeError struct {
	// Type is the name of the type that caused the error.
	Type string
	// Reason is an explanation of why the type isn't representable by
	// DBus.
	Reason error
}

func (e TypeError) Error() string {
	return fmt.Sprintf("dbus cannot represent %s: %s", e.Type, e.Reason)
}

func (e TypeError) Unwrap() error {
	return e.Reason
}

func typeErr(t reflect.Type, reason string, args ...any) error {
	ts := ""
	if t != nil {
		ts = t.String()
	}
	return TypeError{ts, fmt.Errorf(reason, args...)}
}

// Sentinel errors covering the closed set of local failure kinds a
// [Conn] can report outside of a remote error reply. Callers should
// use [errors.Is] to check for these, rather than comparing errors
// directly, since they're frequently wrapped with additional context.
var (
	// ErrOutOfMemory is returned when a message, or a value within it,
	// exceeds the limits configured in [Limits].
	ErrOutOfMemory = errors.New("dbus: message exceeds configured memory limits")
	// ErrDisconnected is returned by operations attempted on a [Conn]
	// that has been closed, or whose transport has failed.
	ErrDisconnected = errors.New("dbus: connection is disconnected")
	// ErrNoReply is returned when a method call's deadline or context
	// expires before a reply arrives.
	ErrNoReply = errors.New("dbus: no reply received")
	// ErrTypeMismatch is returned when a received value's wire
	// signature doesn't match what the receiving Go type expects.
	ErrTypeMismatch = errors.New("dbus: wire value does not match expected type")
	// ErrInvalidSignature is returned when a type signature is
	// malformed, or a value can't be assigned a well-formed signature
	// (for example, a non-empty slice whose elements don't all agree
	// on a signature).
	ErrInvalidSignature = errors.New("dbus: invalid or inconsistent type signature")
	// ErrPropertyReadOnly is returned by a Set call against a property
	// that doesn't support being set.
	ErrPropertyReadOnly = errors.New("dbus: property is read-only")
	// ErrUnknownProperty is returned when a property name isn't
	// recognized by the interface it was requested on.
	ErrUnknownProperty = errors.New("dbus: unknown property")
	// ErrUnknownMethod is returned when no handler chain accepts a
	// method call.
	ErrUnknownMethod = errors.New("dbus: unknown method")
	// ErrUnknownInterface is returned when an interface name isn't
	// implemented by the targeted object.
	ErrUnknownInterface = errors.New("dbus: unknown interface")
	// ErrUnknownObject is returned when an object path has no exported
	// handlers at all.
	ErrUnknownObject = errors.New("dbus: unknown object")
	// ErrInvalidArgs is returned when a method or property access
	// supplies arguments that don't match what's expected.
	ErrInvalidArgs = errors.New("dbus: invalid arguments")
	// ErrFrozenMessage is returned by any attempt to mutate a
	// [Message] after [Message.Freeze] has been called on it.
	ErrFrozenMessage = errors.New("dbus: message is frozen")
)

// RemoteError is the error returned from a failed DBus method call,
// reporting the error name and detail text the remote peer sent back.
//
// RemoteError supports [errors.Is] against the RemoteErrName* family
// of sentinel values declared in this package, and against the
// Err-prefixed kind sentinels above for the handful of remote errors
// that have a direct local equivalent.
type RemoteError struct {
	// Name is the error name provided by the remote peer, such as
	// "org.freedesktop.DBus.Error.UnknownMethod".
	Name string
	// Text is the human-readable explanation of what went wrong, if
	// the peer supplied one.
	Text string
}

func (e RemoteError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("dbus: remote error %s", e.Name)
	}
	return fmt.Sprintf("dbus: remote error %s: %s", e.Name, e.Text)
}

// Is reports whether target is a RemoteError naming the same error,
// ignoring Text. This lets callers match
// errors.Is(err, RemoteErrNameUnknownMethod) without needing to know
// the detail text a particular peer sent.
func (e RemoteError) Is(target error) bool {
	t, ok := target.(RemoteError)
	if !ok {
		return false
	}
	return t.Name == e.Name
}

// Unwrap exposes the local error kind, if any, that corresponds to
// e's remote error name, so that common remote errors can be checked
// with the same sentinels used for local failures.
func (e RemoteError) Unwrap() error {
	return remoteErrKinds[e.Name]
}

func remoteErr(name string) RemoteError { return RemoteError{Name: name} }

// RemoteErrName* constants name every error defined by the DBus
// specification's standard error namespace. Peers are free to return
// other, application-specific error names; those surface as a
// RemoteError with an unrecognized Name, and Unwrap returns nil for
// them.
var (
	RemoteErrNameFailed                             = remoteErr("org.freedesktop.DBus.Error.Failed")
	RemoteErrNameNoMemory                           = remoteErr("org.freedesktop.DBus.Error.NoMemory")
	RemoteErrNameServiceUnknown                     = remoteErr("org.freedesktop.DBus.Error.ServiceUnknown")
	RemoteErrNameNameHasNoOwner                     = remoteErr("org.freedesktop.DBus.Error.NameHasNoOwner")
	RemoteErrNameNoReply                            = remoteErr("org.freedesktop.DBus.Error.NoReply")
	RemoteErrNameIOError                            = remoteErr("org.freedesktop.DBus.Error.IOError")
	RemoteErrNameBadAddress                         = remoteErr("org.freedesktop.DBus.Error.BadAddress")
	RemoteErrNameNotSupported                       = remoteErr("org.freedesktop.DBus.Error.NotSupported")
	RemoteErrNameLimitsExceeded                     = remoteErr("org.freedesktop.DBus.Error.LimitsExceeded")
	RemoteErrNameAccessDenied                       = remoteErr("org.freedesktop.DBus.Error.AccessDenied")
	RemoteErrNameAuthFailed                         = remoteErr("org.freedesktop.DBus.Error.AuthFailed")
	RemoteErrNameNoServer                           = remoteErr("org.freedesktop.DBus.Error.NoServer")
	RemoteErrNameTimeout                            = remoteErr("org.freedesktop.DBus.Error.Timeout")
	RemoteErrNameNoNetwork                          = remoteErr("org.freedesktop.DBus.Error.NoNetwork")
	RemoteErrNameAddressInUse                       = remoteErr("org.freedesktop.DBus.Error.AddressInUse")
	RemoteErrNameDisconnected                       = remoteErr("org.freedesktop.DBus.Error.Disconnected")
	RemoteErrNameInvalidArgs                        = remoteErr("org.freedesktop.DBus.Error.InvalidArgs")
	RemoteErrNameFileNotFound                       = remoteErr("org.freedesktop.DBus.Error.FileNotFound")
	RemoteErrNameFileExists                         = remoteErr("org.freedesktop.DBus.Error.FileExists")
	RemoteErrNameUnknownMethod                      = remoteErr("org.freedesktop.DBus.Error.UnknownMethod")
	RemoteErrNameUnknownObject                      = remoteErr("org.freedesktop.DBus.Error.UnknownObject")
	RemoteErrNameUnknownInterface                   = remoteErr("org.freedesktop.DBus.Error.UnknownInterface")
	RemoteErrNameUnknownProperty                    = remoteErr("org.freedesktop.DBus.Error.UnknownProperty")
	RemoteErrNamePropertyReadOnly                   = remoteErr("org.freedesktop.DBus.Error.PropertyReadOnly")
	RemoteErrNameTimedOut                           = remoteErr("org.freedesktop.DBus.Error.TimedOut")
	RemoteErrNameMatchRuleNotFound                  = remoteErr("org.freedesktop.DBus.Error.MatchRuleNotFound")
	RemoteErrNameMatchRuleInvalid                   = remoteErr("org.freedesktop.DBus.Error.MatchRuleInvalid")
	RemoteErrNameSpawnExecFailed                    = remoteErr("org.freedesktop.DBus.Error.Spawn.ExecFailed")
	RemoteErrNameUnixProcessIdUnknown               = remoteErr("org.freedesktop.DBus.Error.UnixProcessIdUnknown")
	RemoteErrNameInvalidSignature                   = remoteErr("org.freedesktop.DBus.Error.InvalidSignature")
	RemoteErrNameInvalidFileContent                 = remoteErr("org.freedesktop.DBus.Error.InvalidFileContent")
	RemoteErrNameSELinuxSecurityContextUnknown      = remoteErr("org.freedesktop.DBus.Error.SELinuxSecurityContextUnknown")
	RemoteErrNameAdtAuditDataUnknown                = remoteErr("org.freedesktop.DBus.Error.AdtAuditDataUnknown")
	RemoteErrNameObjectPathInUse                    = remoteErr("org.freedesktop.DBus.Error.ObjectPathInUse")
	RemoteErrNameInconsistentMessage                = remoteErr("org.freedesktop.DBus.Error.InconsistentMessage")
	RemoteErrNameInteractiveAuthorizationRequired   = remoteErr("org.freedesktop.DBus.Error.InteractiveAuthorizationRequired")
	RemoteErrNameNotContainer                       = remoteErr("org.freedesktop.DBus.Error.NotContainer")
)

// remoteErrKinds maps the subset of standard DBus error names that
// have a direct local equivalent to that equivalent's sentinel, so
// RemoteError.Unwrap can bridge the two.
var remoteErrKinds = map[string]error{
	RemoteErrNameUnknownMethod.Name:    ErrUnknownMethod,
	RemoteErrNameUnknownObject.Name:    ErrUnknownObject,
	RemoteErrNameUnknownInterface.Name: ErrUnknownInterface,
	RemoteErrNameUnknownProperty.Name:  ErrUnknownProperty,
	RemoteErrNamePropertyReadOnly.Name: ErrPropertyReadOnly,
	RemoteErrNameInvalidArgs.Name:      ErrInvalidArgs,
	RemoteErrNameNoReply.Name:          ErrNoReply,
	RemoteErrNameDisconnected.Name:     ErrDisconnected,
	RemoteErrNameNoMemory.Name:         ErrOutOfMemory,
	RemoteErrNameInvalidSignature.Name: ErrInvalidSignature,
}
