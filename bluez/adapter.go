package bluez

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
)

// ErrNoAdapter is returned when no adapter capable of GATT registration exists.
var ErrNoAdapter = errors.New("no BlueZ adapter found")

// FindAdapter returns the first BlueZ adapter that exposes GattManager1.
// Adapters are ordered by path so hci0 wins over hci1.
func FindAdapter(conn Caller) (dbus.ObjectPath, error) {
	var out map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	obj := conn.Object(bluezDest, bluezRoot)
	err := obj.Call(objectManagerIface+".GetManagedObjects", 0).Store(&out)
	if err != nil {
		return "", fmt.Errorf("GetManagedObjects: %w", err)
	}
	var paths []string
	for path, ifaces := range out {
		p := string(path)
		// e.g. /org/bluez/hci0
		if !strings.HasPrefix(p, adapterPrefix) || strings.Count(p, "/") != 3 {
			continue
		}
		if _, ok := ifaces[gattManagerIface]; !ok {
			continue
		}
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		return "", ErrNoAdapter
	}
	sort.Strings(paths)
	return dbus.ObjectPath(paths[0]), nil
}

// ResolveAdapter maps a configured adapter name to an object path, looking
// the adapter up on the bus when name is AutoAdapter.
func ResolveAdapter(conn Caller, name string) (dbus.ObjectPath, error) {
	switch strings.TrimSpace(name) {
	case "":
		return AdapterPath(DefaultAdapter), nil
	case AutoAdapter:
		return FindAdapter(conn)
	}
	return AdapterPath(name), nil
}
