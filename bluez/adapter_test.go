package bluez

import (
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
)

func managedObjects(objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant) *fakeBus {
	return &fakeBus{replies: map[string]func([]interface{}) *dbus.Call{
		objectManagerIface + ".GetManagedObjects": func([]interface{}) *dbus.Call {
			return &dbus.Call{Body: []interface{}{objs}}
		},
	}}
}

func TestFindAdapterPicksLowestGattCapable(t *testing.T) {
	bus := managedObjects(map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		"/org/bluez":                         {"org.bluez.AgentManager1": {}},
		"/org/bluez/hci2":                    {gattManagerIface: {}},
		"/org/bluez/hci1":                    {gattManagerIface: {}, "org.bluez.Adapter1": {}},
		"/org/bluez/hci0":                    {"org.bluez.Adapter1": {}},
		"/org/bluez/hci1/dev_AA_BB_CC_DD_EE": {"org.bluez.Device1": {}},
	})
	path, err := FindAdapter(bus)
	if err != nil {
		t.Fatalf("find adapter: %v", err)
	}
	if path != "/org/bluez/hci1" {
		t.Fatalf("unexpected adapter %s", path)
	}
	if bus.calls[0].dest != "org.bluez" || bus.calls[0].path != "/" {
		t.Fatalf("unexpected lookup target %s %s", bus.calls[0].dest, bus.calls[0].path)
	}
}

func TestFindAdapterNone(t *testing.T) {
	bus := managedObjects(map[dbus.ObjectPath]map[string]map[string]dbus.Variant{})
	if _, err := FindAdapter(bus); !errors.Is(err, ErrNoAdapter) {
		t.Fatalf("expected ErrNoAdapter, got %v", err)
	}
}

func TestFindAdapterCallError(t *testing.T) {
	bus := &fakeBus{replies: map[string]func([]interface{}) *dbus.Call{
		objectManagerIface + ".GetManagedObjects": func([]interface{}) *dbus.Call {
			return &dbus.Call{Err: dbus.Error{Name: "org.freedesktop.DBus.Error.ServiceUnknown"}}
		},
	}}
	if _, err := FindAdapter(bus); err == nil {
		t.Fatalf("expected error")
	}
	res := NewRegistrar(AutoAdapter, quietLogger()).Register(bus, NewApplication("/"))
	if res.OK || res.Name != "org.freedesktop.DBus.Error.ServiceUnknown" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestResolveAdapter(t *testing.T) {
	cases := []struct {
		name string
		want dbus.ObjectPath
	}{
		{"", "/org/bluez/hci0"},
		{"hci0", "/org/bluez/hci0"},
		{" hci3 ", "/org/bluez/hci3"},
	}
	for _, tc := range cases {
		got, err := ResolveAdapter(&fakeBus{}, tc.name)
		if err != nil {
			t.Fatalf("resolve %q: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("resolve %q: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestAdapterName(t *testing.T) {
	cases := map[dbus.ObjectPath]string{
		"/org/bluez/hci0":                    "hci0",
		"/org/bluez/hci1/dev_AA_BB_CC_DD_EE": "hci1",
		"/org/other/hci0":                    "",
	}
	for path, want := range cases {
		if got := AdapterName(path); got != want {
			t.Fatalf("AdapterName(%s) = %q, want %q", path, got, want)
		}
	}
}
