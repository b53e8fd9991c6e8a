package bluez

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	adapterIface = "org.bluez.Adapter1"
	deviceIface  = "org.bluez.Device1"
)

// Adapter wraps a BlueZ adapter (e.g. /org/bluez/hci0).
type Adapter struct {
	conn Caller
	path dbus.ObjectPath
}

// NewAdapter returns an Adapter for path.
func NewAdapter(conn Caller, path dbus.ObjectPath) *Adapter {
	return &Adapter{conn: conn, path: path}
}

// Path returns the adapter object path.
func (a *Adapter) Path() dbus.ObjectPath {
	return a.path
}

// StartDiscovery starts discovery.
func (a *Adapter) StartDiscovery() error {
	return a.conn.Object(bluezDest, a.path).Call(adapterIface+".StartDiscovery", 0).Err
}

// StopDiscovery stops discovery.
func (a *Adapter) StopDiscovery() error {
	return a.conn.Object(bluezDest, a.path).Call(adapterIface+".StopDiscovery", 0).Err
}

// SetDiscoveryFilter limits discovery to LE, and to uuidStr when set.
func (a *Adapter) SetDiscoveryFilter(uuidStr string) error {
	filter := map[string]interface{}{
		"Transport": "le",
	}
	if uuidStr != "" {
		filter["UUIDs"] = []string{uuidStr}
	}
	return a.conn.Object(bluezDest, a.path).Call(adapterIface+".SetDiscoveryFilter", 0, filter).Err
}

// Device is a remote device known to the adapter.
type Device struct {
	Path    dbus.ObjectPath
	Addr    string
	Name    string
	RSSI    int16
	HasRSSI bool
	UUIDs   []string
}

// AddrFromPath extracts the MAC from a device path (dev_AA_BB_CC_DD_EE_FF -> AA:BB:CC:DD:EE:FF).
func AddrFromPath(path dbus.ObjectPath) string {
	s := string(path)
	i := strings.LastIndex(s, "/")
	if i < 0 {
		return ""
	}
	s = s[i+1:]
	if !strings.HasPrefix(s, "dev_") {
		return ""
	}
	return strings.ReplaceAll(s[4:], "_", ":")
}

// PathFromAddr converts a MAC to the device path under the adapter.
func PathFromAddr(adapterPath dbus.ObjectPath, addr string) dbus.ObjectPath {
	s := strings.ReplaceAll(strings.ToUpper(addr), ":", "_")
	return dbus.ObjectPath(string(adapterPath) + "/dev_" + s)
}

func (a *Adapter) managedObjects() (ManagedObjects, error) {
	var out map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := a.conn.Object(bluezDest, bluezRoot).Call(objectManagerIface+".GetManagedObjects", 0).Store(&out)
	if err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", err)
	}
	return out, nil
}

// Devices lists the devices BlueZ knows under this adapter, strongest signal
// first. Devices without a current RSSI sort last.
func (a *Adapter) Devices() ([]Device, error) {
	out, err := a.managedObjects()
	if err != nil {
		return nil, err
	}
	prefix := string(a.path) + "/"
	var devices []Device
	for path, ifaces := range out {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		d := Device{Path: path, Addr: AddrFromPath(path)}
		if v, ok := props["Address"]; ok {
			if addr, _ := v.Value().(string); addr != "" {
				d.Addr = addr
			}
		}
		if v, ok := props["Alias"]; ok {
			d.Name, _ = v.Value().(string)
		}
		if d.Name == "" {
			if v, ok := props["Name"]; ok {
				d.Name, _ = v.Value().(string)
			}
		}
		if v, ok := props["RSSI"]; ok {
			d.RSSI, d.HasRSSI = v.Value().(int16)
		}
		if v, ok := props["UUIDs"]; ok {
			d.UUIDs, _ = v.Value().([]string)
		}
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool {
		di, dj := devices[i], devices[j]
		if di.HasRSSI != dj.HasRSSI {
			return di.HasRSSI
		}
		if di.RSSI != dj.RSSI {
			return di.RSSI > dj.RSSI
		}
		return di.Addr < dj.Addr
	})
	return devices, nil
}

// Discover runs LE discovery for window and returns what the adapter saw,
// strongest signal first. Cancel ctx to stop early.
func (a *Adapter) Discover(ctx context.Context, window time.Duration, serviceUUID string) ([]Device, error) {
	if err := a.SetDiscoveryFilter(serviceUUID); err != nil {
		// non-fatal
		_ = a.SetDiscoveryFilter("")
	}
	if err := a.StartDiscovery(); err != nil {
		return nil, fmt.Errorf("StartDiscovery: %w", err)
	}
	defer a.StopDiscovery()

	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return a.Devices()
}
