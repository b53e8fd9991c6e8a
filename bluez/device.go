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
	gattServiceIface        = "org.bluez.GattService1"
	gattCharacteristicIface = "org.bluez.GattCharacteristic1"
	propertiesIface         = "org.freedesktop.DBus.Properties"
)

// ResolveTimeout bounds the wait for ServicesResolved after connecting.
var ResolveTimeout = 10 * time.Second

// Characteristic is a remote GATT characteristic.
type Characteristic struct {
	Path  dbus.ObjectPath
	UUID  string
	Flags []string
}

// Service is a remote GATT service and its characteristics.
type Service struct {
	Path            dbus.ObjectPath
	UUID            string
	Primary         bool
	Characteristics []Characteristic
}

// Services connects to addr, waits for BlueZ to resolve its GATT database
// and returns the services found. The device is disconnected before return.
func (a *Adapter) Services(ctx context.Context, addr string) ([]Service, error) {
	devicePath := PathFromAddr(a.path, addr)
	dev := a.conn.Object(bluezDest, devicePath)
	if err := dev.Call(deviceIface+".Connect", 0).Err; err != nil {
		return nil, fmt.Errorf("Connect: %w", err)
	}
	defer dev.Call(deviceIface+".Disconnect", 0)

	if err := a.waitResolved(ctx, dev); err != nil {
		return nil, err
	}
	out, err := a.managedObjects()
	if err != nil {
		return nil, err
	}
	return collectServices(out, devicePath), nil
}

func (a *Adapter) waitResolved(ctx context.Context, dev dbus.BusObject) error {
	ctx, cancel := context.WithTimeout(ctx, ResolveTimeout)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		var v dbus.Variant
		err := dev.Call(propertiesIface+".Get", 0, deviceIface, "ServicesResolved").Store(&v)
		if err == nil {
			if resolved, ok := v.Value().(bool); ok && resolved {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for services: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func collectServices(out ManagedObjects, devicePath dbus.ObjectPath) []Service {
	devPrefix := string(devicePath) + "/"
	var services []Service
	for path, ifaces := range out {
		if !strings.HasPrefix(string(path), devPrefix) {
			continue
		}
		g, ok := ifaces[gattServiceIface]
		if !ok {
			continue
		}
		svc := Service{Path: path}
		svc.UUID, _ = g["UUID"].Value().(string)
		svc.Primary, _ = g["Primary"].Value().(bool)
		svcPrefix := string(path) + "/"
		for cpath, cifaces := range out {
			if !strings.HasPrefix(string(cpath), svcPrefix) {
				continue
			}
			c, ok := cifaces[gattCharacteristicIface]
			if !ok {
				continue
			}
			ch := Characteristic{Path: cpath}
			ch.UUID, _ = c["UUID"].Value().(string)
			ch.Flags, _ = c["Flags"].Value().([]string)
			svc.Characteristics = append(svc.Characteristics, ch)
		}
		sort.Slice(svc.Characteristics, func(i, j int) bool {
			return svc.Characteristics[i].Path < svc.Characteristics[j].Path
		})
		services = append(services, svc)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Path < services[j].Path })
	return services
}
