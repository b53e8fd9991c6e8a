package bluez

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

// Application is the descriptor handed to GattManager1.RegisterApplication.
// Properties is sent as the a{sv} argument. It is empty: no GATT service or
// characteristic objects are exported, so BlueZ accepts the registration but
// has nothing to route client requests to.
type Application struct {
	Path       dbus.ObjectPath
	Properties map[string]dbus.Variant
}

// NewApplication returns a descriptor rooted at path with an empty property map.
func NewApplication(path dbus.ObjectPath) *Application {
	return &Application{
		Path:       path,
		Properties: map[string]dbus.Variant{},
	}
}

// Validate checks the descriptor before it goes on the wire.
func (a *Application) Validate() error {
	if a == nil {
		return errors.New("nil application")
	}
	if !a.Path.IsValid() {
		return fmt.Errorf("invalid application path %q", a.Path)
	}
	return nil
}

// Result is the outcome of a single registration attempt.
type Result struct {
	OK bool
	// Message is the daemon diagnostic on failure.
	Message string
	// Name is the D-Bus error name when the daemon replied with an error.
	Name string
}

func failure(err error) Result {
	res := Result{Message: err.Error()}
	var derr dbus.Error
	if errors.As(err, &derr) {
		res.Name = derr.Name
	}
	return res
}

// Registrar submits applications to GattManager1 on one adapter.
type Registrar struct {
	adapter string
	log     logrus.FieldLogger
}

// NewRegistrar returns a Registrar for the named adapter ("hci0", or AutoAdapter).
func NewRegistrar(adapter string, log logrus.FieldLogger) *Registrar {
	return &Registrar{adapter: adapter, log: log}
}

// Register calls RegisterApplication and blocks until BlueZ replies. There is
// no timeout and no cancellation: the call runs until the daemon answers.
func (r *Registrar) Register(conn Caller, app *Application) Result {
	if err := app.Validate(); err != nil {
		return failure(err)
	}
	path, err := ResolveAdapter(conn, r.adapter)
	if err != nil {
		return failure(err)
	}
	log := r.log.WithFields(logrus.Fields{"adapter": path, "path": app.Path})
	log.Debug("registering application")

	obj := conn.Object(bluezDest, path)
	call := obj.Call(gattManagerIface+".RegisterApplication", 0, app.Path, app.Properties)
	if call.Err != nil {
		res := failure(call.Err)
		log.WithField("error", res.Name).Debug("RegisterApplication rejected")
		return res
	}
	return Result{OK: true}
}
