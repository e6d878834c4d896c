package dbus

// FileDescriptor is the wire-level type associated with the DBus "h"
// signature. It is an alias for [File]: the wire format has no
// separate notion of a descriptor versus a file, so both names refer
// to the same marshaling logic.
//
// FileDescriptor exists mainly so that type signature strings parsed
// from the wire (which have no access to the friendlier [File] name)
// have a type to point at.
type FileDescriptor = File
