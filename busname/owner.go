// Package busname claims a well-known name on the system D-Bus and reports
// ownership changes through callbacks.
package busname

import (
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

const (
	busDest  = "org.freedesktop.DBus"
	busIface = "org.freedesktop.DBus"

	signalNameAcquired = busIface + ".NameAcquired"
	signalNameLost     = busIface + ".NameLost"
)

// Conn is the subset of *dbus.Conn used by the owner and handed to BusReady.
type Conn interface {
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	ReleaseName(name string) (dbus.ReleaseNameReply, error)
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	AddMatchSignal(options ...dbus.MatchOption) error
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	Close() error
}

// Dialer opens a new bus connection.
type Dialer func() (Conn, error)

// SystemBus dials a private connection to the system bus.
func SystemBus() (Conn, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Callbacks are invoked from the handle's watcher goroutine. Any of them may
// be nil.
type Callbacks struct {
	// BusReady fires once, after the connection is up and before the name
	// is requested.
	BusReady func(conn Conn)
	// Acquired fires at most once, when the name becomes ours.
	Acquired func(name string)
	// Lost fires at most once, when the name is revoked or the connection
	// fails. Nothing fires after it.
	Lost func(name string)
}

// Owner requests well-known names on a bus.
type Owner struct {
	dial Dialer
	log  logrus.FieldLogger
}

// NewOwner returns an Owner that connects with dial.
func NewOwner(dial Dialer, log logrus.FieldLogger) *Owner {
	return &Owner{dial: dial, log: log}
}

// Acquire starts claiming name and returns immediately. The request uses no
// flags, so if another process holds the name this handle waits in the queue
// for as long as it takes.
func (o *Owner) Acquire(name string, cb Callbacks) *Handle {
	h := &Handle{
		name:   name,
		log:    o.log.WithField("name", name),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go h.run(o.dial, cb)
	return h
}

// Handle tracks one name claim.
type Handle struct {
	name string
	log  logrus.FieldLogger

	done   chan struct{}
	exited chan struct{}
	once   sync.Once

	mu       sync.Mutex
	conn     Conn
	owned    bool
	lost     bool
	released bool
}

// Name returns the claimed name.
func (h *Handle) Name() string {
	return h.name
}

// Done is closed once the watcher goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.exited
}

// Release gives up the name and closes the connection. It is idempotent and
// safe to call before acquisition completed.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.mu.Lock()
		h.released = true
		conn, lost := h.conn, h.lost
		h.mu.Unlock()
		close(h.done)
		if conn == nil {
			return
		}
		if !lost {
			reply, err := conn.ReleaseName(h.name)
			if err != nil {
				h.log.WithError(err).Debug("ReleaseName failed")
			} else {
				h.log.WithField("reply", reply).Debug("name released")
			}
		}
		if err := conn.Close(); err != nil {
			h.log.WithError(err).Debug("closing bus connection")
		}
	})
}

func (h *Handle) run(dial Dialer, cb Callbacks) {
	defer close(h.exited)

	conn, err := dial()
	if err != nil {
		h.log.WithError(err).Error("connect to bus")
		h.lose(cb)
		return
	}
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.conn = conn
	h.mu.Unlock()

	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)
	for _, member := range []string{"NameAcquired", "NameLost"} {
		err := conn.AddMatchSignal(
			dbus.WithMatchSender(busDest),
			dbus.WithMatchInterface(busIface),
			dbus.WithMatchMember(member),
			dbus.WithMatchArg(0, h.name),
		)
		if err != nil {
			h.log.WithError(err).WithField("member", member).Warn("AddMatch failed")
		}
	}

	if cb.BusReady != nil && !h.isReleased() {
		cb.BusReady(conn)
	}

	reply, err := conn.RequestName(h.name, 0)
	if err != nil {
		h.log.WithError(err).Error("RequestName failed")
		h.lose(cb)
		return
	}
	switch reply {
	case dbus.RequestNameReplyPrimaryOwner, dbus.RequestNameReplyAlreadyOwner:
		h.acquire(cb)
	case dbus.RequestNameReplyInQueue:
		h.log.Info("name is owned by another connection, waiting in queue")
	default:
		h.log.WithField("reply", reply).Error("name request refused")
		h.lose(cb)
		return
	}

	for {
		select {
		case <-h.done:
			return
		case sig, ok := <-signals:
			if !ok {
				h.log.Warn("bus connection closed")
				h.lose(cb)
				return
			}
			if sig == nil || len(sig.Body) == 0 {
				continue
			}
			if name, _ := sig.Body[0].(string); name != h.name {
				continue
			}
			switch sig.Name {
			case signalNameAcquired:
				h.acquire(cb)
			case signalNameLost:
				h.lose(cb)
				return
			}
		}
	}
}

func (h *Handle) isReleased() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// acquire reports ownership once; duplicate NameAcquired signals after a
// primary-owner reply are dropped here.
func (h *Handle) acquire(cb Callbacks) {
	h.mu.Lock()
	fire := !h.owned && !h.lost && !h.released
	h.owned = true
	h.mu.Unlock()
	if fire && cb.Acquired != nil {
		cb.Acquired(h.name)
	}
}

func (h *Handle) lose(cb Callbacks) {
	h.mu.Lock()
	fire := !h.lost && !h.released
	h.lost = true
	h.mu.Unlock()
	if fire && cb.Lost != nil {
		cb.Lost(h.name)
	}
}
