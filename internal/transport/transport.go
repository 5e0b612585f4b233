// Package transport defines the datagram I/O layer that xPL applications, hubs
// and bridges run on, along with its implementations: UDP broadcast, MQTT,
// NATS, websocket and an in-memory bus.
package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Broadcast as a Send destination delivers to every peer on the network.
const Broadcast = ""

var (
	// ErrTimeout is returned by Receive when nothing arrived in time.
	ErrTimeout = errors.New("transport: receive timeout")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("transport: closed")
)

// Datagram is one received payload and the transport address it came from.
type Datagram struct {
	Data []byte
	From string
	// Broadcast is set when the transport itself already delivered the
	// payload to every member of the network. UDP cannot tell and leaves it
	// false.
	Broadcast bool
}

// Transport is the capability the xPL engine needs from the network.
type Transport interface {
	// Send delivers data to dest, or to every peer when dest is Broadcast.
	Send(dest string, data []byte) error

	// Receive waits at most timeout for the next datagram. It returns
	// ErrTimeout when none arrived. A zero timeout only checks what is
	// already queued.
	Receive(timeout time.Duration) (Datagram, error)

	// LocalAddresses lists the addresses this transport sends from, in the
	// same form Receive reports in Datagram.From.
	LocalAddresses() []string

	// Close releases the transport.
	Close() error
}

// Error wraps a failed send or receive.
type Error struct {
	Op   string // "send", "receive", "open", "close"
	Addr string
	Err  error
}

func (e *Error) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Kinds accepted by Config.Kind.
const (
	KindUDP       = "udp"
	KindMQTT      = "mqtt"
	KindNATS      = "nats"
	KindWebsocket = "websocket"
)

// Config selects and configures a transport.
type Config struct {
	Kind string `yaml:"kind" json:"kind"`

	// UDP
	Listen    string `yaml:"listen,omitempty" json:"listen,omitempty"`
	Broadcast string `yaml:"broadcast,omitempty" json:"broadcast,omitempty"`

	// MQTT broker, NATS server or websocket relay URL.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
	// Topic or subject prefix on message buses.
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	// ID identifies this endpoint on a message bus; generated when empty.
	ID string `yaml:"id,omitempty" json:"id,omitempty"`
}

// Validate checks that the kind is known and its required fields are set.
func (c Config) Validate() error {
	switch c.Kind {
	case KindUDP:
		return nil
	case KindMQTT, KindNATS, KindWebsocket:
		if c.URL == "" {
			return fmt.Errorf("transport %s: url is required", c.Kind)
		}
		return nil
	case "":
		return errors.New("transport: kind is required")
	default:
		return fmt.Errorf("transport: unknown kind %q", c.Kind)
	}
}

// Open creates the transport described by cfg.
func Open(cfg Config, logger zerolog.Logger) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindUDP:
		return OpenUDP(cfg.Listen, cfg.Broadcast, logger)
	case KindMQTT:
		return OpenMQTT(cfg.URL, cfg.Prefix, cfg.ID, logger)
	case KindNATS:
		return OpenNATS(cfg.URL, cfg.Prefix, cfg.ID, logger)
	default:
		return DialWebsocket(cfg.URL, cfg.ID, logger)
	}
}
