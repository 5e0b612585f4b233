// Package hub implements the single-network xPL relay. A hub learns its
// peers from their heartbeats, relays every message it receives to each
// known peer and forgets peers that fall silent.
package hub

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgecli/xplnet/internal/app"
	"github.com/edgecli/xplnet/internal/metrics"
	"github.com/edgecli/xplnet/internal/registry"
	"github.com/edgecli/xplnet/internal/transport"
	"github.com/edgecli/xplnet/internal/xpl"
)

const (
	// DefaultInterval applies to heartbeats without an interval field.
	DefaultInterval = 5 * time.Minute
	// Grace is added to twice the heartbeat interval before eviction.
	Grace = time.Second
)

// MaxSilence is how long a peer heartbeating every interval may stay quiet.
// It saturates instead of overflowing.
func MaxSilence(interval time.Duration) time.Duration {
	const limit = time.Duration(math.MaxInt64)
	if interval > (limit-Grace)/2 {
		return limit
	}
	return interval*2 + Grace
}

// Hub relays traffic between the peers of one network.
type Hub struct {
	app     *app.Application
	clients *registry.Registry
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New runs a hub on a.
func New(a *app.Application) *Hub {
	return &Hub{
		app:     a,
		clients: registry.NewRegistry(),
		logger:  a.Logger().With().Str("component", "hub").Logger(),
		metrics: a.Metrics(),
	}
}

// Open opens an Application on cfg and runs a hub on it.
func Open(cfg transport.Config, opts ...app.Option) (*Hub, error) {
	a, err := app.Open(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return New(a), nil
}

// Application returns the hub's Application, where local devices live.
func (h *Hub) Application() *app.Application { return h.app }

// Clients returns a snapshot of the tracked peers sorted by address. It is
// safe to call from any goroutine.
func (h *Hub) Clients() []registry.Client { return h.clients.List() }

// OnMessage records heartbeats, relays msg to every peer other than its
// sender and dispatches it to the hub's own devices. Relay failures are
// returned together; they never touch the peer table.
func (h *Hub) OnMessage(msg *xpl.Message, from string) error {
	return h.handle(msg, from, false)
}

// handle is OnMessage for a datagram the transport may already have fanned
// out to every peer, in which case relaying again would deliver it twice.
func (h *Hub) handle(msg *xpl.Message, from string, fannedOut bool) error {
	if xpl.IsHeartbeat(msg) {
		h.track(msg, from)
	}

	var errs []error
	var dests []string
	if !fannedOut {
		dests = h.clients.Destinations(from)
	}
	if len(dests) > 0 {
		data := msg.Marshal()
		for _, dest := range dests {
			if err := h.app.SendRaw(dest, data); err != nil {
				errs = append(errs, fmt.Errorf("relay to %s: %w", dest, err))
			}
		}
		h.metrics.HubRelayed(len(dests) - len(errs))
	}

	h.app.Dispatch(msg, from)
	return errors.Join(errs...)
}

func (h *Hub) track(msg *xpl.Message, from string) {
	if h.app.IsLocal(from) || h.app.IsOwnSource(msg) {
		return
	}
	if xpl.IsGoodbye(msg) {
		if h.clients.Remove(msg.Source) {
			h.logger.Debug().Str("peer", msg.Source.String()).Msg("peer left")
			h.metrics.HubClients(h.clients.Count())
		}
		return
	}

	interval, ok := xpl.HeartbeatInterval(msg)
	if !ok || interval <= 0 {
		interval = DefaultInterval
	}
	addr := from
	if addr == "" {
		addr, _ = xpl.HeartbeatTransportAddr(msg)
	}
	created := h.clients.Upsert(registry.Client{
		Address:       msg.Source,
		TransportAddr: addr,
		Interval:      interval,
		LastHeard:     h.app.Now(),
		MaxSilence:    MaxSilence(interval),
	})
	if created {
		h.logger.Info().Str("peer", msg.Source.String()).Str("addr", addr).Dur("interval", interval).Msg("peer joined")
		h.metrics.HubClients(h.clients.Count())
	}
}

// Sweep evicts peers silent for longer than their allowance at now and
// returns their addresses. Nothing is sent.
func (h *Hub) Sweep(now time.Time) []xpl.Address {
	evicted := h.clients.Sweep(now)
	if len(evicted) == 0 {
		return nil
	}
	out := make([]xpl.Address, 0, len(evicted))
	for _, c := range evicted {
		h.logger.Debug().Str("peer", c.Address.String()).Time("last_heard", c.LastHeard).Msg("peer evicted")
		out = append(out, c.Address)
	}
	h.metrics.HubEvicted(len(evicted))
	h.metrics.HubClients(h.clients.Count())
	return out
}

// Step waits at most timeout for one message, handles it, then runs the
// device timers and the sweep. The received message, if any, is returned
// with its sender.
func (h *Hub) Step(timeout time.Duration) (*xpl.Message, string, error) {
	msg, d, rerr := h.app.ReceiveDatagram(timeout)
	var oerr error
	if msg != nil {
		oerr = h.handle(msg, d.From, d.Broadcast)
	}
	now := h.app.Now()
	terr := h.app.Tick(now)
	h.Sweep(now)
	return msg, d.From, errors.Join(rerr, oerr, terr)
}

// Poll implements app.Endpoint.
func (h *Hub) Poll(timeout time.Duration) error {
	_, _, err := h.Step(timeout)
	return err
}

// Close closes the hub's Application.
func (h *Hub) Close() error {
	return h.app.Close()
}
