// Package lifecycle drives the registration lifecycle: claim the bus name,
// register the GATT application with BlueZ, and stop when either step fails
// or the name is lost.
package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"bleserver/bluez"
	"bleserver/busname"
)

// Handle is a claim on a bus name.
type Handle interface {
	Release()
}

// Owner claims bus names.
type Owner interface {
	Acquire(name string, cb busname.Callbacks) Handle
}

// Registrar submits the application descriptor to the Bluetooth daemon.
type Registrar interface {
	Register(conn bluez.Caller, app *bluez.Application) bluez.Result
}

type busOwner struct {
	*busname.Owner
}

func (o busOwner) Acquire(name string, cb busname.Callbacks) Handle {
	return o.Owner.Acquire(name, cb)
}

// BusOwner adapts a busname.Owner to Owner.
func BusOwner(o *busname.Owner) Owner {
	return busOwner{o}
}

// Config holds what the controller needs to know about the application.
type Config struct {
	BusName     string
	AppPath     dbus.ObjectPath
	ServiceUUID string
	// ExportRoot publishes an ObjectManager at AppPath once the bus is ready.
	ExportRoot bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Controller) { c.log = log }
}

// WithTransitionHook registers fn to be called on the loop goroutine after
// every state change.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(c *Controller) { c.onTransition = fn }
}

type eventKind int

const (
	evBusReady eventKind = iota
	evAcquired
	evLost
	evRegistered
)

type event struct {
	kind   eventKind
	conn   busname.Conn
	name   string
	result bluez.Result
}

// Controller owns the event loop. Every callback is turned into an event and
// handled on the loop goroutine, so loop fields need no locking.
type Controller struct {
	cfg          Config
	owner        Owner
	registrar    Registrar
	log          logrus.FieldLogger
	onTransition func(from, to State)

	state   atomic.Int32
	started atomic.Bool
	events  chan event
	stopped chan struct{}

	// loop-owned
	conn            busname.Conn
	handle          Handle
	unexport        func()
	acquired        bool
	registering     bool
	pendingLoss     bool
	pendingShutdown bool
	reason          Reason
}

// New returns a Controller in the Idle state.
func New(cfg Config, owner Owner, registrar Registrar, opts ...Option) *Controller {
	c := &Controller{
		cfg:       cfg,
		owner:     owner,
		registrar: registrar,
		log:       logrus.StandardLogger(),
		events:    make(chan event, 16),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("component", "lifecycle")
	return c
}

// State returns a snapshot of the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Run starts acquisition and processes events until the controller reaches
// Terminating. Canceling ctx requests a clean shutdown; if a registration is
// in flight the shutdown waits for it to complete. Run may be called once.
func (c *Controller) Run(ctx context.Context) (Reason, error) {
	if !c.started.CompareAndSwap(false, true) {
		return ReasonNone, errors.New("controller already started")
	}
	defer close(c.stopped)

	if err := c.moveTo(AcquiringIdentity); err != nil {
		return ReasonNone, err
	}
	c.handle = c.owner.Acquire(c.cfg.BusName, busname.Callbacks{
		BusReady: func(conn busname.Conn) { c.post(event{kind: evBusReady, conn: conn}) },
		Acquired: func(name string) { c.post(event{kind: evAcquired, name: name}) },
		Lost:     func(name string) { c.post(event{kind: evLost, name: name}) },
	})

	shutdown := ctx.Done()
	for c.State() != Terminating {
		select {
		case <-shutdown:
			shutdown = nil
			c.requestShutdown()
		case ev := <-c.events:
			c.dispatch(ev)
		}
	}

	if c.unexport != nil {
		c.unexport()
	}
	c.handle.Release()
	c.log.WithField("reason", c.reason).Info("event loop stopped")
	return c.reason, nil
}

// post hands an event to the loop. After the loop exits events are dropped.
func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.stopped:
	}
}

func (c *Controller) dispatch(ev event) {
	switch ev.kind {
	case evBusReady:
		c.onBusReady(ev.conn)
	case evAcquired:
		c.onAcquired(ev.name)
	case evLost:
		c.onLost(ev.name)
	case evRegistered:
		c.onRegistered(ev.result)
	}
}

func (c *Controller) onBusReady(conn busname.Conn) {
	c.log.WithField("name", c.cfg.BusName).Info("Bus acquired")
	c.conn = conn
	if !c.cfg.ExportRoot || conn == nil {
		return
	}
	unexport, err := bluez.ExportRoot(conn, bluez.NewApplication(c.cfg.AppPath))
	if err != nil {
		c.log.WithError(err).Warn("exporting application root")
		return
	}
	c.unexport = unexport
}

func (c *Controller) onAcquired(name string) {
	if c.acquired {
		c.log.WithField("name", name).Debug("duplicate name acquisition ignored")
		return
	}
	c.acquired = true
	c.log.WithField("name", name).Info("Name acquired")
	if err := c.moveTo(Registering); err != nil {
		c.log.WithError(err).Warn("ignoring name acquisition")
		return
	}

	c.registering = true
	conn := c.conn
	app := bluez.NewApplication(c.cfg.AppPath)
	go func() {
		var res bluez.Result
		if conn == nil {
			res = bluez.Result{Message: "bus connection not ready"}
		} else {
			res = c.registrar.Register(conn, app)
		}
		c.post(event{kind: evRegistered, result: res})
	}()
}

func (c *Controller) onRegistered(res bluez.Result) {
	c.registering = false
	if !res.OK {
		c.log.WithFields(logrus.Fields{
			"error":   res.Name,
			"message": res.Message,
		}).Error("Failed to register application")
		c.terminate(ReasonRegistrationFailed)
		return
	}
	if err := c.moveTo(Registered); err != nil {
		c.log.WithError(err).Error("recording registration")
		c.terminate(ReasonRegistrationFailed)
		return
	}
	c.log.Info("Application registered")
	c.log.WithField("service_uuid", c.cfg.ServiceUUID).Info("BLE GATT server started")

	switch {
	case c.pendingLoss:
		c.terminate(ReasonIdentityLost)
	case c.pendingShutdown:
		c.terminate(ReasonShutdown)
	}
}

func (c *Controller) onLost(name string) {
	if c.conn == nil && !c.acquired {
		c.log.WithField("name", name).Error("bus unavailable")
		c.terminate(ReasonBusUnavailable)
		return
	}
	c.log.WithField("name", name).Warn("Name lost")
	if c.registering {
		c.pendingLoss = true
		return
	}
	c.terminate(ReasonIdentityLost)
}

func (c *Controller) requestShutdown() {
	if c.registering {
		c.log.Info("shutdown requested, waiting for registration to complete")
		c.pendingShutdown = true
		return
	}
	c.terminate(ReasonShutdown)
}

func (c *Controller) terminate(reason Reason) {
	if err := c.moveTo(Terminating); err != nil {
		c.log.WithError(err).Debug("already terminating")
		return
	}
	c.reason = reason
	entry := c.log.WithField("reason", reason)
	switch reason {
	case ReasonShutdown:
		entry.Info("terminating")
	default:
		entry.Error("terminating")
	}
}

func (c *Controller) moveTo(to State) error {
	from := c.State()
	next, err := Transition(from, to)
	if err != nil {
		return err
	}
	c.state.Store(int32(next))
	c.log.WithFields(logrus.Fields{"from": from, "to": next}).Info("state transition")
	if c.onTransition != nil {
		c.onTransition(from, next)
	}
	return nil
}
