// Package bluez registers GATT applications with BlueZ over the system D-Bus.
package bluez

import (
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	bluezDest     = "org.bluez"
	bluezRoot     = "/"
	adapterPrefix = "/org/bluez/"

	gattManagerIface   = "org.bluez.GattManager1"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"

	// DefaultAdapter is the adapter name used when none is configured.
	DefaultAdapter = "hci0"
	// AutoAdapter selects the first adapter exposing GattManager1.
	AutoAdapter = "auto"
)

// Caller is the part of a bus connection needed to reach remote objects.
// *dbus.Conn satisfies it.
type Caller interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
}

// AdapterPath converts an adapter name to its object path (hci0 -> /org/bluez/hci0).
func AdapterPath(name string) dbus.ObjectPath {
	return dbus.ObjectPath(adapterPrefix + strings.TrimSpace(name))
}

// AdapterName extracts the adapter name from an adapter or device object path.
func AdapterName(path dbus.ObjectPath) string {
	s := string(path)
	if !strings.HasPrefix(s, adapterPrefix) {
		return ""
	}
	s = s[len(adapterPrefix):]
	if i := strings.Index(s, "/"); i >= 0 {
		s = s[:i]
	}
	return s
}
