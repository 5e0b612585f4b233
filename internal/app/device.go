package app

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/edgecli/xplnet/internal/xpl"
)

// Default heartbeat cadences.
const (
	DefaultInterval       = 5 * time.Minute
	DefaultConfigInterval = time.Minute
)

// Mode is a device lifecycle state.
type Mode int

const (
	Disabled Mode = iota
	Configuring
	Enabled
)

func (m Mode) String() string {
	switch m {
	case Disabled:
		return "disabled"
	case Configuring:
		return "configuring"
	case Enabled:
		return "enabled"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Handler receives messages dispatched to a device.
type Handler func(msg *xpl.Message)

// DeviceOptions describes a device to host on an Application.
type DeviceOptions struct {
	Address xpl.Address
	// Configurable devices start in Configuring until configured.
	Configurable bool
	// Configured marks a configurable device whose values were restored
	// from persisted state.
	Configured     bool
	Interval       time.Duration
	ConfigInterval time.Duration
	Groups         []string
	Filters        []xpl.Filter
}

// Device is a locally hosted xPL endpoint. It is driven by its Application
// and must only be used from the goroutine polling that Application.
type Device struct {
	app *Application

	addr           xpl.Address
	configurable   bool
	configured     bool
	interval       time.Duration
	configInterval time.Duration
	groups         []string
	filters        []xpl.Filter

	mode          Mode
	lastHeartbeat time.Time
	beatRequested bool

	handlers     []Handler
	onConfigured []func(ConfigValues)
}

func newDevice(a *Application, opts DeviceOptions) (*Device, error) {
	if opts.Address.IsZero() || opts.Address.IsWildcard() || opts.Address.IsGroup() {
		return nil, fmt.Errorf("device address %q: %w", opts.Address, xpl.ErrValidation)
	}
	if len(opts.Groups) > MaxGroups {
		return nil, fmt.Errorf("device %s: %d groups exceeds %d", opts.Address, len(opts.Groups), MaxGroups)
	}
	if len(opts.Filters) > MaxFilters {
		return nil, fmt.Errorf("device %s: %d filters exceeds %d", opts.Address, len(opts.Filters), MaxFilters)
	}
	groups := make([]string, 0, len(opts.Groups))
	for _, g := range opts.Groups {
		name, err := normalizeGroup(g)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", opts.Address, err)
		}
		groups = append(groups, name)
	}
	d := &Device{
		app:            a,
		addr:           opts.Address,
		configurable:   opts.Configurable,
		configured:     opts.Configured,
		interval:       opts.Interval,
		configInterval: opts.ConfigInterval,
		groups:         groups,
		filters:        slices.Clone(opts.Filters),
	}
	if d.interval <= 0 {
		d.interval = DefaultInterval
	}
	if d.configInterval <= 0 {
		d.configInterval = DefaultConfigInterval
	}
	return d, nil
}

func (d *Device) Address() xpl.Address     { return d.addr }
func (d *Device) Mode() Mode               { return d.mode }
func (d *Device) Interval() time.Duration  { return d.interval }
func (d *Device) Configurable() bool       { return d.configurable }
func (d *Device) Configured() bool         { return d.configured }
func (d *Device) LastHeartbeat() time.Time { return d.lastHeartbeat }
func (d *Device) Groups() []string         { return slices.Clone(d.groups) }
func (d *Device) Filters() []xpl.Filter    { return slices.Clone(d.filters) }

// Values returns the device's current configuration.
func (d *Device) Values() ConfigValues {
	return ConfigValues{
		Instance: d.addr.Instance(),
		Interval: d.interval,
		Groups:   d.Groups(),
		Filters:  d.Filters(),
	}
}

// Handle registers h. Handlers run in registration order.
func (d *Device) Handle(h Handler) {
	d.handlers = append(d.handlers, h)
}

// OnConfigured registers fn to run after every successful Configure.
func (d *Device) OnConfigured(fn func(ConfigValues)) {
	d.onConfigured = append(d.onConfigured, fn)
}

// Enable starts the device. An unconfigured configurable device enters
// Configuring, anything else Enabled. The heartbeat timer starts now; the
// first heartbeat goes out one interval later.
func (d *Device) Enable() {
	if d.mode != Disabled {
		return
	}
	if d.configurable && !d.configured {
		d.mode = Configuring
	} else {
		d.mode = Enabled
	}
	d.lastHeartbeat = d.app.Now()
	d.app.logger.Debug().Str("device", d.addr.String()).Str("mode", d.mode.String()).Msg("device enabled")
}

// Disable sends one goodbye heartbeat and moves to Disabled. The transition
// happens even when the goodbye cannot be sent; that error is returned.
func (d *Device) Disable() error {
	if d.mode == Disabled {
		return nil
	}
	err := d.goodbye()
	d.mode = Disabled
	d.beatRequested = false
	d.app.logger.Debug().Str("device", d.addr.String()).Err(err).Msg("device disabled")
	return err
}

// goodbye announces that the current address is going away.
func (d *Device) goodbye() error {
	schema := xpl.SchemaHeartbeatEnd
	if d.mode == Configuring {
		schema = xpl.SchemaConfigEnd
	}
	if err := d.app.sendHeartbeat(d.addr, schema, 0); err != nil {
		return fmt.Errorf("goodbye %s: %w", d.addr, err)
	}
	return nil
}

// RequestHeartbeat makes the next Poll send a heartbeat regardless of the
// timer.
func (d *Device) RequestHeartbeat() {
	d.beatRequested = true
}

func (d *Device) currentInterval() time.Duration {
	if d.mode == Configuring {
		return d.configInterval
	}
	return d.interval
}

// Poll sends a heartbeat when one is due at now. On failure the timer is
// left alone so the next Poll retries.
func (d *Device) Poll(now time.Time) error {
	if d.mode == Disabled {
		return nil
	}
	interval := d.currentInterval()
	if !d.beatRequested && now.Sub(d.lastHeartbeat) < interval {
		return nil
	}
	return d.heartbeat(now)
}

func (d *Device) heartbeat(now time.Time) error {
	schema := xpl.SchemaHeartbeat
	if d.mode == Configuring {
		schema = xpl.SchemaConfigHeartbeat
	}
	if err := d.app.sendHeartbeat(d.addr, schema, d.currentInterval()); err != nil {
		return err
	}
	d.lastHeartbeat = now
	d.beatRequested = false
	return nil
}

// targeted reports whether a message sent to target reaches d.
func (d *Device) targeted(target xpl.Address) bool {
	if target.IsGroup() {
		return slices.Contains(d.groups, target.Instance())
	}
	return target.Matches(d.addr)
}

func (d *Device) filtered(msg *xpl.Message) bool {
	if len(d.filters) == 0 {
		return true
	}
	for _, f := range d.filters {
		if f.Match(msg) {
			return true
		}
	}
	return false
}

// Dispatch delivers msg to the device's handlers if the device is Enabled,
// msg is addressed to it and passes its filters. Heartbeat requests and
// config protocol commands are answered in Configuring too. Own messages
// are ignored. It reports whether the device consumed msg.
func (d *Device) Dispatch(msg *xpl.Message) bool {
	if d.mode == Disabled || msg.Source == d.addr || !d.targeted(msg.Target) {
		return false
	}
	if d.protocol(msg) {
		return true
	}
	if d.mode != Enabled || !d.filtered(msg) {
		return false
	}
	for _, h := range d.handlers {
		h(msg)
	}
	return true
}

// protocol answers heartbeat requests and the config protocol.
func (d *Device) protocol(msg *xpl.Message) bool {
	if msg.Type != xpl.Command {
		return false
	}
	var err error
	switch msg.Schema {
	case xpl.SchemaHeartbeatRequest:
		d.RequestHeartbeat()
		return true
	case xpl.SchemaConfigList:
		if !d.configurable {
			return false
		}
		err = d.reply(msg.Source, xpl.SchemaConfigList, configListBody())
	case xpl.SchemaConfigCurrent:
		if !d.configurable {
			return false
		}
		err = d.reply(msg.Source, xpl.SchemaConfigCurrent, d.Values().Body())
	case xpl.SchemaConfigResponse:
		if !d.configurable {
			return false
		}
		v, perr := ParseConfigValues(msg.Body)
		if perr != nil {
			err = &ConfigurationError{Device: d.addr, Reason: perr.Error()}
			break
		}
		err = d.Configure(v)
	default:
		return false
	}
	if err != nil {
		d.app.logger.Warn().Err(err).Str("device", d.addr.String()).Str("schema", msg.Schema.String()).Msg("config request failed")
	}
	return true
}

func (d *Device) reply(to xpl.Address, schema xpl.Schema, body xpl.Body) error {
	m := xpl.NewMessage(xpl.Status, d.addr, to, schema)
	m.Body = body
	return d.app.Send(m)
}

// Configure applies v. The new instance is required; a missing or invalid
// item returns a *ConfigurationError and leaves the device untouched. A
// running device moving to a new instance says goodbye from the old address
// first. On success a Configuring device becomes Enabled and heartbeats at
// once.
func (d *Device) Configure(v ConfigValues) error {
	if v.Instance == "" {
		return &ConfigurationError{Device: d.addr, Missing: []string{fieldNewConf}}
	}
	addr, err := d.addr.WithInstance(v.Instance)
	if err != nil {
		return &ConfigurationError{Device: d.addr, Reason: err.Error()}
	}
	if len(v.Groups) > MaxGroups || len(v.Filters) > MaxFilters {
		return &ConfigurationError{Device: d.addr, Reason: fmt.Sprintf("at most %d groups and %d filters", MaxGroups, MaxFilters)}
	}
	groups := make([]string, 0, len(v.Groups))
	for _, g := range v.Groups {
		name, err := normalizeGroup(g)
		if err != nil {
			return &ConfigurationError{Device: d.addr, Reason: err.Error()}
		}
		groups = append(groups, name)
	}
	if other := d.app.Device(addr); other != nil && other != d {
		return &ConfigurationError{Device: d.addr, Reason: fmt.Sprintf("address %s already in use", addr)}
	}

	var byeErr error
	if addr != d.addr && d.mode != Disabled {
		byeErr = d.goodbye()
	}
	d.addr = addr
	if v.Interval > 0 {
		d.interval = v.Interval
	}
	d.groups = groups
	d.filters = slices.Clone(v.Filters)
	d.configured = true
	d.app.logger.Info().Str("device", d.addr.String()).Dur("interval", d.interval).Msg("device configured")

	applied := d.Values()
	for _, fn := range d.onConfigured {
		fn(applied)
	}
	if d.mode == Disabled {
		return byeErr
	}
	d.mode = Enabled
	if err := d.heartbeat(d.app.Now()); err != nil {
		return errors.Join(byeErr, fmt.Errorf("heartbeat after configure: %w", err))
	}
	return byeErr
}
