package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeObject struct {
	dbus.BusObject
	method func(method string) *dbus.Call
}

func (o fakeObject) Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	return o.method(method)
}

type fakeBus struct {
	objects   map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	connected []dbus.ObjectPath
}

func (b *fakeBus) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	return fakeObject{method: func(method string) *dbus.Call {
		switch method {
		case "org.freedesktop.DBus.ObjectManager.GetManagedObjects":
			return &dbus.Call{Body: []interface{}{b.objects}}
		case "org.freedesktop.DBus.Properties.Get":
			return &dbus.Call{Body: []interface{}{dbus.MakeVariant(true)}}
		case "org.bluez.Device1.Connect":
			b.connected = append(b.connected, path)
		}
		return &dbus.Call{}
	}}
}

func newFakeBus() *fakeBus {
	dev := dbus.ObjectPath("/org/bluez/hci0/dev_A4_C1_38_C5_62_B4")
	return &fakeBus{objects: map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		"/org/bluez/hci0": {"org.bluez.GattManager1": {}},
		dev: {"org.bluez.Device1": {
			"Name": dbus.MakeVariant("ATC_C562B4"),
			"RSSI": dbus.MakeVariant(int16(-62)),
		}},
		"/org/bluez/hci0/dev_11_22_33_44_55_66": {"org.bluez.Device1": {
			"Name": dbus.MakeVariant("phone"),
			"RSSI": dbus.MakeVariant(int16(-48)),
		}},
		dev + "/service0009": {"org.bluez.GattService1": {
			"UUID":    dbus.MakeVariant("0000180f-0000-1000-8000-00805f9b34fb"),
			"Primary": dbus.MakeVariant(true),
		}},
		dev + "/service0009/char000a": {"org.bluez.GattCharacteristic1": {
			"UUID":  dbus.MakeVariant("00002a19-0000-1000-8000-00805f9b34fb"),
			"Flags": dbus.MakeVariant([]string{"read", "notify"}),
		}},
	}}
}

func TestScanListsByRSSI(t *testing.T) {
	log, _ := test.NewNullLogger()
	var out bytes.Buffer
	bus := newFakeBus()
	err := scan(context.Background(), bus, options{adapter: "auto", window: time.Millisecond}, &out, log)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("unexpected output %q", out.String())
	}
	if lines[0] != "Device 0: rssi=-48 11:22:33:44:55:66 phone" {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	if lines[1] != "Device 1: rssi=-62 A4:C1:38:C5:62:B4 ATC_C562B4" {
		t.Fatalf("unexpected second line %q", lines[1])
	}
	if len(bus.connected) != 0 {
		t.Fatalf("no connection expected without -connect")
	}
}

func TestScanConnectsByNamePrefix(t *testing.T) {
	log, _ := test.NewNullLogger()
	var out bytes.Buffer
	bus := newFakeBus()
	err := scan(context.Background(), bus, options{adapter: "hci0", window: time.Millisecond, connect: "ATC_"}, &out, log)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(bus.connected) != 1 || bus.connected[0] != "/org/bluez/hci0/dev_A4_C1_38_C5_62_B4" {
		t.Fatalf("unexpected connections %v", bus.connected)
	}
	if !strings.Contains(out.String(), "0000180f-0000-1000-8000-00805f9b34fb (service, primary=true)") {
		t.Fatalf("service missing from output %q", out.String())
	}
	if !strings.Contains(out.String(), "  00002a19-0000-1000-8000-00805f9b34fb [read,notify]") {
		t.Fatalf("characteristic missing from output %q", out.String())
	}
}

func TestScanConnectNoMatch(t *testing.T) {
	log, _ := test.NewNullLogger()
	var out bytes.Buffer
	err := scan(context.Background(), newFakeBus(), options{adapter: "hci0", window: time.Millisecond, connect: "nope"}, &out, log)
	if err == nil {
		t.Fatalf("expected error when no device matches")
	}
}
