package bluez

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

// Exporter is the part of a bus connection that publishes local objects.
// *dbus.Conn satisfies it.
type Exporter interface {
	Export(v interface{}, path dbus.ObjectPath, iface string) error
}

// ManagedObjects is the a{oa{sa{sv}}} shape returned by GetManagedObjects.
type ManagedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// objectManager answers BlueZ's GetManagedObjects on the application root.
type objectManager struct {
	objects ManagedObjects
}

func (m *objectManager) GetManagedObjects() (ManagedObjects, *dbus.Error) {
	return m.objects, nil
}

func rootNode(path dbus.ObjectPath) *introspect.Node {
	return &introspect.Node{
		Name: string(path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: objectManagerIface,
				Methods: []introspect.Method{{
					Name: "GetManagedObjects",
					Args: []introspect.Arg{{Name: "objects", Type: "a{oa{sa{sv}}}", Direction: "out"}},
				}},
			},
		},
	}
}

// ExportRoot publishes an ObjectManager at the application root. The managed
// object map is empty, matching the empty descriptor. The returned func
// removes the exports.
func ExportRoot(conn Exporter, app *Application) (func(), error) {
	if err := app.Validate(); err != nil {
		return nil, err
	}
	om := &objectManager{objects: ManagedObjects{}}
	if err := conn.Export(om, app.Path, objectManagerIface); err != nil {
		return nil, fmt.Errorf("export %s: %w", objectManagerIface, err)
	}
	intro := introspect.NewIntrospectable(rootNode(app.Path))
	if err := conn.Export(intro, app.Path, introspect.IntrospectData.Name); err != nil {
		_ = conn.Export(nil, app.Path, objectManagerIface)
		return nil, fmt.Errorf("export introspection: %w", err)
	}
	return func() {
		_ = conn.Export(nil, app.Path, introspect.IntrospectData.Name)
		_ = conn.Export(nil, app.Path, objectManagerIface)
	}, nil
}
