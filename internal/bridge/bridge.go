// Package bridge joins two xPL networks. The outer side hosts a normal
// device; the inner side runs a hub. Messages cross in both directions with
// their hop count raised by one until it reaches the configured ceiling.
package bridge

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgecli/xplnet/internal/app"
	"github.com/edgecli/xplnet/internal/hub"
	"github.com/edgecli/xplnet/internal/metrics"
	"github.com/edgecli/xplnet/internal/transport"
	"github.com/edgecli/xplnet/internal/xpl"
)

// DefaultMaxHop is the hop ceiling when none is configured.
const DefaultMaxHop = 5

// Direction is the way a message crosses the bridge.
type Direction int

const (
	// Inbound is outer to inner.
	Inbound Direction = iota
	// Outbound is inner to outer.
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return metrics.Inbound
	}
	return metrics.Outbound
}

// Settings configures Open.
type Settings struct {
	Inner  transport.Config
	Outer  transport.Config
	MaxHop int
	// Device is the bridge's own device on the outer network. A zero
	// address becomes xpl-bridge.default.
	Device app.DeviceOptions
}

// Stats counts forwarded and dropped messages per direction.
type Stats struct {
	InboundForwarded  uint64
	InboundDropped    uint64
	OutboundForwarded uint64
	OutboundDropped   uint64
}

// Bridge relays between an outer Application and an inner Hub.
type Bridge struct {
	inner   *hub.Hub
	outer   *app.Application
	device  *app.Device
	maxHop  int
	logger  zerolog.Logger
	metrics *metrics.Metrics
	stats   Stats
}

// Open opens both sides and enables the bridge device. If either side
// fails, whatever was opened is closed again.
func Open(s Settings, opts ...app.Option) (*Bridge, error) {
	outer, err := app.Open(s.Outer, append(slices.Clone(opts), app.WithName("outer"))...)
	if err != nil {
		return nil, fmt.Errorf("bridge outer: %w", err)
	}
	inner, err := hub.Open(s.Inner, append(slices.Clone(opts), app.WithName("inner"))...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("bridge inner: %w", err), outer.Close())
	}

	dev := s.Device
	if dev.Address.IsZero() {
		dev.Address = xpl.MustAddress(xpl.GroupVendor, "bridge", "default")
	}
	d, err := outer.AddDevice(dev)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("bridge device: %w", err), outer.Close(), inner.Close())
	}
	d.Enable()

	b := New(inner, outer, s.MaxHop)
	b.device = d
	return b, nil
}

// New wraps already opened sides. A maxHop below 1 selects DefaultMaxHop.
func New(inner *hub.Hub, outer *app.Application, maxHop int) *Bridge {
	if maxHop < 1 {
		maxHop = DefaultMaxHop
	}
	return &Bridge{
		inner:   inner,
		outer:   outer,
		maxHop:  maxHop,
		logger:  outer.Logger().With().Str("component", "bridge").Int("max_hop", maxHop).Logger(),
		metrics: outer.Metrics(),
	}
}

// Inner returns the inner hub.
func (b *Bridge) Inner() *hub.Hub { return b.inner }

// Outer returns the outer Application.
func (b *Bridge) Outer() *app.Application { return b.outer }

// Device returns the bridge's outer device, nil when built with New.
func (b *Bridge) Device() *app.Device { return b.device }

// MaxHop returns the hop ceiling.
func (b *Bridge) MaxHop() int { return b.maxHop }

// Stats returns the forwarding counters.
func (b *Bridge) Stats() Stats { return b.stats }

func (b *Bridge) destination(dir Direction) *app.Application {
	if dir == Inbound {
		return b.inner.Application()
	}
	return b.outer
}

// Forward sends a copy of msg with its hop count raised by one to the side
// dir points at. A message already at the ceiling is dropped; that is not
// an error. It reports whether a copy was sent.
func (b *Bridge) Forward(msg *xpl.Message, dir Direction) (bool, error) {
	if msg.Hop >= b.maxHop {
		b.count(dir, false)
		b.logger.Debug().Str("direction", dir.String()).Str("msg", msg.String()).Msg("hop limit reached, dropping")
		return false, nil
	}
	out := msg.Clone()
	out.Hop++
	if err := b.destination(dir).Send(out); err != nil {
		return false, fmt.Errorf("forward %s: %w", dir, err)
	}
	b.count(dir, true)
	return true, nil
}

func (b *Bridge) count(dir Direction, forwarded bool) {
	switch {
	case dir == Inbound && forwarded:
		b.stats.InboundForwarded++
		b.metrics.BridgeForwarded(dir.String())
	case dir == Inbound:
		b.stats.InboundDropped++
		b.metrics.BridgeDropped(dir.String())
	case forwarded:
		b.stats.OutboundForwarded++
		b.metrics.BridgeForwarded(dir.String())
	default:
		b.stats.OutboundDropped++
		b.metrics.BridgeDropped(dir.String())
	}
}

// crosses reports whether a message received by a from the transport
// address from should be forwarded: echoes of a's own sends and messages
// from the bridge's own devices stay put.
func (b *Bridge) crosses(a *app.Application, msg *xpl.Message, from string) bool {
	if a.IsLocal(from) {
		return false
	}
	return !b.outer.IsOwnSource(msg) && !b.inner.Application().IsOwnSource(msg)
}

// maxDrain bounds how many inner messages one Poll forwards, so a busy inner
// network cannot starve the outer side.
const maxDrain = 64

// Poll waits at most timeout on the outer side and forwards what arrives
// inward, then forwards everything already queued on the inner side, up to
// maxDrain messages, without waiting.
func (b *Bridge) Poll(timeout time.Duration) error {
	var errs []error

	msg, from, err := b.outer.Step(timeout)
	errs = append(errs, err)
	if msg != nil && b.crosses(b.outer, msg, from) {
		_, err := b.Forward(msg, Inbound)
		errs = append(errs, err)
	}

	for i := 0; i < maxDrain; i++ {
		msg, from, err := b.inner.Step(0)
		errs = append(errs, err)
		if msg == nil && from == "" {
			break
		}
		if msg != nil && b.crosses(b.inner.Application(), msg, from) {
			_, err := b.Forward(msg, Outbound)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Close closes both sides. Both are always attempted; failures are
// reported together.
func (b *Bridge) Close() error {
	var errs []error
	if err := b.inner.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close inner: %w", err))
	}
	if err := b.outer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close outer: %w", err))
	}
	return errors.Join(errs...)
}

var _ app.Endpoint = (*Bridge)(nil)
