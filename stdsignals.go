package dbus

// NameOwnerChanged is the payload of org.freedesktop.DBus's
// NameOwnerChanged signal, broadcast whenever a bus name gains or
// loses an owner.
type NameOwnerChanged struct {
	Name     string
	OldOwner string
	NewOwner string
}

// NameLost is the payload of org.freedesktop.DBus's NameLost signal,
// sent to a client when it loses ownership of a bus name.
type NameLost struct {
	Name string
}

// NameAcquired is the payload of org.freedesktop.DBus's NameAcquired
// signal, sent to a client when it becomes the owner of a bus name.
type NameAcquired struct {
	Name string
}

// ActivatableServicesChanged is the payload of
// org.freedesktop.DBus's ActivatableServicesChanged signal.
type ActivatableServicesChanged struct{}

// PropertiesChanged is the payload of
// org.freedesktop.DBus.Properties's PropertiesChanged signal.
//
// [Conn] handles this signal specially to support typed property
// watching (see [RegisterPropertyChangeType]); this type exists so
// that the signal can also be matched and delivered generically like
// any other signal.
type PropertiesChanged struct {
	InterfaceName         string
	ChangedProperties     map[string]Variant
	InvalidatedProperties []string
}

// InterfacesAdded is the payload of
// org.freedesktop.DBus.ObjectManager's InterfacesAdded signal.
type InterfacesAdded struct {
	Object     ObjectPath
	Interfaces map[string]map[string]Variant
}

// InterfacesRemoved is the payload of
// org.freedesktop.DBus.ObjectManager's InterfacesRemoved signal.
type InterfacesRemoved struct {
	Object     ObjectPath
	Interfaces []string
}
