package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"bleserver/bluez"
)

// Advertised in the startup log only. Neither UUID is attached to the
// registered application.
const (
	defaultServiceUUID        = "12345678-1234-5678-1234-56789abcdef0"
	defaultCharacteristicUUID = "12345678-1234-5678-1234-56789abcdef1"
)

const envLogLevel = "BLESERVER_LOG_LEVEL"

type config struct {
	BusName            string
	Adapter            string
	AppPath            dbus.ObjectPath
	ServiceUUID        bluetooth.UUID
	CharacteristicUUID bluetooth.UUID
	LogLevel           logrus.Level
	ExportRoot         bool
}

type fileConfig struct {
	BusName            string `toml:"bus_name"`
	Adapter            string `toml:"adapter"`
	AppPath            string `toml:"app_path"`
	ServiceUUID        string `toml:"service_uuid"`
	CharacteristicUUID string `toml:"characteristic_uuid"`
	LogLevel           string `toml:"log_level"`
	ExportRoot         bool   `toml:"export_root"`
}

func defaultConfig() config {
	svc, _ := bluetooth.ParseUUID(defaultServiceUUID)
	chr, _ := bluetooth.ParseUUID(defaultCharacteristicUUID)
	return config{
		BusName:            "org.example.BleServer",
		Adapter:            bluez.DefaultAdapter,
		AppPath:            "/",
		ServiceUUID:        svc,
		CharacteristicUUID: chr,
		LogLevel:           logrus.InfoLevel,
	}
}

// loadConfig reads path over the defaults. An empty path yields the defaults
// with environment overrides applied.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path != "" {
		var raw fileConfig
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return config{}, fmt.Errorf("load config: %w", err)
		}
		if err := cfg.apply(raw, meta); err != nil {
			return config{}, err
		}
	}
	if v := strings.TrimSpace(os.Getenv(envLogLevel)); v != "" {
		lvl, err := logrus.ParseLevel(v)
		if err != nil {
			return config{}, fmt.Errorf("parse %s: %w", envLogLevel, err)
		}
		cfg.LogLevel = lvl
	}
	return cfg, cfg.validate()
}

func (cfg *config) apply(raw fileConfig, meta toml.MetaData) error {
	if meta.IsDefined("bus_name") {
		cfg.BusName = strings.TrimSpace(raw.BusName)
	}
	if meta.IsDefined("adapter") {
		cfg.Adapter = strings.TrimSpace(raw.Adapter)
	}
	if meta.IsDefined("app_path") {
		cfg.AppPath = dbus.ObjectPath(strings.TrimSpace(raw.AppPath))
	}
	// ParseUUID also accepts the 16-bit form ("1234") and expands it to the
	// Bluetooth base UUID.
	if meta.IsDefined("service_uuid") {
		u, err := bluetooth.ParseUUID(strings.TrimSpace(raw.ServiceUUID))
		if err != nil {
			return fmt.Errorf("parse service_uuid: %w", err)
		}
		cfg.ServiceUUID = u
	}
	if meta.IsDefined("characteristic_uuid") {
		u, err := bluetooth.ParseUUID(strings.TrimSpace(raw.CharacteristicUUID))
		if err != nil {
			return fmt.Errorf("parse characteristic_uuid: %w", err)
		}
		cfg.CharacteristicUUID = u
	}
	if meta.IsDefined("log_level") {
		lvl, err := logrus.ParseLevel(strings.TrimSpace(raw.LogLevel))
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.LogLevel = lvl
	}
	if meta.IsDefined("export_root") {
		cfg.ExportRoot = raw.ExportRoot
	}
	return nil
}

func (cfg config) validate() error {
	if !validBusName(cfg.BusName) {
		return fmt.Errorf("invalid bus_name %q", cfg.BusName)
	}
	if cfg.Adapter == "" {
		return fmt.Errorf("adapter must not be empty")
	}
	if cfg.Adapter != bluez.AutoAdapter && (strings.Contains(cfg.Adapter, "/") || !bluez.AdapterPath(cfg.Adapter).IsValid()) {
		return fmt.Errorf("invalid adapter %q: want a name like hci0 or %q", cfg.Adapter, bluez.AutoAdapter)
	}
	if !cfg.AppPath.IsValid() {
		return fmt.Errorf("invalid app_path %q", cfg.AppPath)
	}
	return nil
}

// validBusName checks the well-known name rules: two or more dot-separated
// elements of [A-Za-z0-9_-], none starting with a digit, at most 255 bytes.
func validBusName(name string) bool {
	if len(name) == 0 || len(name) > 255 || strings.HasPrefix(name, ":") {
		return false
	}
	elems := strings.Split(name, ".")
	if len(elems) < 2 {
		return false
	}
	for _, e := range elems {
		if e == "" || (e[0] >= '0' && e[0] <= '9') {
			return false
		}
		for _, r := range e {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			default:
				return false
			}
		}
	}
	return true
}
