// Package app hosts xPL devices on a transport. An Application owns one
// transport, the devices registered on it and the observers that see every
// valid inbound message. It is polled cooperatively from a single goroutine.
package app

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgecli/xplnet/internal/metrics"
	"github.com/edgecli/xplnet/internal/transport"
	"github.com/edgecli/xplnet/internal/xpl"
)

// Endpoint is anything driven by a poll loop: an Application, a Hub or a
// Bridge.
type Endpoint interface {
	// Poll blocks at most timeout waiting for traffic and runs the
	// endpoint's periodic work.
	Poll(timeout time.Duration) error
	Close() error
}

// Observer sees every valid inbound message before devices do.
type Observer func(msg *xpl.Message, from string)

// Option configures an Application.
type Option func(*Application)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Application) { a.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Application) { a.clock = now }
}

// WithMetrics records traffic into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Application) { a.metrics = m }
}

// WithName labels the Application in logs and metrics.
func WithName(name string) Option {
	return func(a *Application) { a.name = name }
}

// Application is one xPL context on one transport.
type Application struct {
	tr      transport.Transport
	name    string
	logger  zerolog.Logger
	clock   func() time.Time
	metrics *metrics.Metrics

	local     map[string]struct{}
	info      xpl.HeartbeatInfo
	devices   []*Device
	observers []Observer
	closed    bool
}

func newApplication(opts []Option) *Application {
	a := &Application{
		name:   "xpl",
		logger: zerolog.Nop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With().Str("app", a.name).Logger()
	return a
}

// New wraps an open transport. The Application takes ownership of tr.
func New(tr transport.Transport, opts ...Option) *Application {
	a := newApplication(opts)
	a.attach(tr)
	return a
}

// Open opens the transport described by cfg and wraps it.
func Open(cfg transport.Config, opts ...Option) (*Application, error) {
	a := newApplication(opts)
	tr, err := transport.Open(cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open %s application: %w", a.name, err)
	}
	a.attach(tr)
	a.logger.Info().Str("transport", cfg.Kind).Strs("local", tr.LocalAddresses()).Msg("application opened")
	return a, nil
}

func (a *Application) attach(tr transport.Transport) {
	a.tr = tr
	addrs := tr.LocalAddresses()
	a.local = make(map[string]struct{}, len(addrs))
	for _, addr := range addrs {
		a.local[addr] = struct{}{}
	}
	a.info = heartbeatInfo(addrs)
}

// heartbeatInfo picks the address advertised in heartbeats: the first
// non-loopback host:port, else the first host:port.
func heartbeatInfo(addrs []string) xpl.HeartbeatInfo {
	var fallback xpl.HeartbeatInfo
	for _, addr := range addrs {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			continue
		}
		ip := net.ParseIP(host)
		p, err := strconv.Atoi(port)
		if ip == nil || err != nil {
			continue
		}
		info := xpl.HeartbeatInfo{Port: p, RemoteIP: ip.String()}
		if !ip.IsLoopback() {
			return info
		}
		if fallback.Port == 0 {
			fallback = info
		}
	}
	return fallback
}

// Name returns the Application's label.
func (a *Application) Name() string { return a.name }

// Logger returns the Application's logger.
func (a *Application) Logger() zerolog.Logger { return a.logger }

// Metrics returns the Application's metrics, possibly nil.
func (a *Application) Metrics() *metrics.Metrics { return a.metrics }

// Now reads the Application's clock.
func (a *Application) Now() time.Time { return a.clock() }

// LocalAddresses lists the transport addresses this Application sends from.
func (a *Application) LocalAddresses() []string { return a.tr.LocalAddresses() }

// IsLocal reports whether addr is one of this Application's own transport
// addresses.
func (a *Application) IsLocal(addr string) bool {
	_, ok := a.local[addr]
	return ok
}

// AddDevice registers a new Disabled device.
func (a *Application) AddDevice(opts DeviceOptions) (*Device, error) {
	d, err := newDevice(a, opts)
	if err != nil {
		return nil, err
	}
	if a.Device(d.addr) != nil {
		return nil, fmt.Errorf("device %s already registered", d.addr)
	}
	a.devices = append(a.devices, d)
	return d, nil
}

// RemoveDevice disables d, which sends its goodbye, and unregisters it.
func (a *Application) RemoveDevice(d *Device) error {
	i := slices.Index(a.devices, d)
	if i < 0 {
		return fmt.Errorf("device %s not registered", d.addr)
	}
	err := d.Disable()
	a.devices = slices.Delete(a.devices, i, i+1)
	return err
}

// Device returns the registered device at addr, or nil.
func (a *Application) Device(addr xpl.Address) *Device {
	for _, d := range a.devices {
		if d.addr == addr {
			return d
		}
	}
	return nil
}

// Devices returns the registered devices in registration order.
func (a *Application) Devices() []*Device {
	return slices.Clone(a.devices)
}

// IsOwnSource reports whether msg was sent by one of this Application's
// devices.
func (a *Application) IsOwnSource(msg *xpl.Message) bool {
	return a.Device(msg.Source) != nil
}

// Observe registers o. Observers run in registration order.
func (a *Application) Observe(o Observer) {
	a.observers = append(a.observers, o)
}

// Send broadcasts msg.
func (a *Application) Send(msg *xpl.Message) error {
	return a.SendTo(transport.Broadcast, msg)
}

// SendTo sends msg to one transport address.
func (a *Application) SendTo(dest string, msg *xpl.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	data := msg.Marshal()
	if len(data) > xpl.MaxMessageSize {
		return fmt.Errorf("message %s is %d bytes, limit %d: %w", msg.Schema, len(data), xpl.MaxMessageSize, xpl.ErrValidation)
	}
	return a.SendRaw(dest, data)
}

// SendRaw sends already serialised bytes, unchanged.
func (a *Application) SendRaw(dest string, data []byte) error {
	if err := a.tr.Send(dest, data); err != nil {
		a.metrics.TransportError(a.name, "send")
		return err
	}
	a.metrics.Sent(a.name)
	return nil
}

func (a *Application) sendHeartbeat(source xpl.Address, schema xpl.Schema, interval time.Duration) error {
	if err := a.Send(xpl.NewHeartbeat(source, schema, interval, a.info)); err != nil {
		return err
	}
	a.metrics.HeartbeatSent(schema.String())
	return nil
}

// Receive waits at most timeout for one datagram and parses it. It returns
// a nil message and nil error on timeout. A malformed datagram yields its
// sender and an xpl validation error.
func (a *Application) Receive(timeout time.Duration) (*xpl.Message, string, error) {
	msg, d, err := a.ReceiveDatagram(timeout)
	return msg, d.From, err
}

// ReceiveDatagram is Receive that also returns the raw datagram. On
// timeout the datagram is zero.
func (a *Application) ReceiveDatagram(timeout time.Duration) (*xpl.Message, transport.Datagram, error) {
	d, err := a.tr.Receive(timeout)
	if errors.Is(err, transport.ErrTimeout) {
		return nil, transport.Datagram{}, nil
	}
	if err != nil {
		a.metrics.TransportError(a.name, "receive")
		return nil, transport.Datagram{}, err
	}
	msg, err := xpl.Parse(d.Data)
	if err != nil {
		a.metrics.Invalid(a.name)
		a.logger.Debug().Err(err).Str("from", d.From).Msg("dropping invalid datagram")
		return nil, d, err
	}
	a.metrics.Received(a.name)
	return msg, d, nil
}

// Dispatch hands msg to the observers, then to every device. It reports
// whether any device consumed it.
func (a *Application) Dispatch(msg *xpl.Message, from string) bool {
	for _, o := range a.observers {
		o(msg, from)
	}
	consumed := false
	// Configure may change addresses, so iterate over a snapshot.
	for _, d := range a.Devices() {
		if d.Dispatch(msg) {
			consumed = true
		}
	}
	return consumed
}

// Tick runs every device's heartbeat timer at now.
func (a *Application) Tick(now time.Time) error {
	var errs []error
	for _, d := range a.devices {
		if err := d.Poll(now); err != nil {
			errs = append(errs, fmt.Errorf("heartbeat %s: %w", d.addr, err))
		}
	}
	return errors.Join(errs...)
}

// Step receives at most one message, dispatches it and ticks the devices.
// The received message, if any, is returned with its sender.
func (a *Application) Step(timeout time.Duration) (*xpl.Message, string, error) {
	msg, from, rerr := a.Receive(timeout)
	if msg != nil {
		a.Dispatch(msg, from)
	}
	terr := a.Tick(a.Now())
	return msg, from, errors.Join(rerr, terr)
}

// Poll implements Endpoint.
func (a *Application) Poll(timeout time.Duration) error {
	_, _, err := a.Step(timeout)
	return err
}

// Close disables every device, sending their goodbyes, then closes the
// transport. Every failure is reported. Closing twice is a no-op.
func (a *Application) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	var errs []error
	for _, d := range a.devices {
		if err := d.Disable(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.tr.Close(); err != nil {
		errs = append(errs, err)
	}
	a.logger.Debug().Msg("application closed")
	return errors.Join(errs...)
}
