package transport

import (
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const defaultNATSPrefix = "xpl"

// NATS carries xPL datagrams over NATS core subjects.
type NATS struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	id     string
	topics topicScheme
	in     *inbox
	logger zerolog.Logger
}

var _ Transport = (*NATS)(nil)

// OpenNATS connects to url and subscribes to the broadcast and direct
// subjects under prefix.
func OpenNATS(url, prefix, id string, logger zerolog.Logger) (*NATS, error) {
	if prefix == "" {
		prefix = defaultNATSPrefix
	}
	if id == "" {
		id = newEndpointID()
	}
	if err := validEndpointID(id); err != nil {
		return nil, &Error{Op: "open", Addr: url, Err: err}
	}

	conn, err := nats.Connect(url,
		nats.Name(id),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, &Error{Op: "open", Addr: url, Err: err}
	}

	t := &NATS{
		conn:   conn,
		id:     id,
		topics: topicScheme{prefix: prefix, sep: ".", any: "*"},
		in:     newInbox(),
		logger: logger,
	}
	for _, subject := range t.topics.subscriptions(id) {
		sub, err := conn.Subscribe(subject, t.onMessage)
		if err != nil {
			conn.Close()
			return nil, &Error{Op: "open", Addr: subject, Err: err}
		}
		t.subs = append(t.subs, sub)
	}
	if err := conn.Flush(); err != nil {
		conn.Close()
		return nil, &Error{Op: "open", Addr: url, Err: err}
	}

	logger.Info().Str("id", id).Str("url", url).Msg("nats transport connected")
	return t, nil
}

func (t *NATS) onMessage(msg *nats.Msg) {
	from := t.topics.sender(msg.Subject)
	if from == "" || from == t.id {
		return
	}
	t.in.push(Datagram{
		Data:      append([]byte(nil), msg.Data...),
		From:      from,
		Broadcast: t.topics.isBroadcast(msg.Subject),
	})
}

// Send publishes on the broadcast subject or dest's direct subject.
func (t *NATS) Send(dest string, data []byte) error {
	if t.in.closed() {
		return &Error{Op: "send", Addr: dest, Err: ErrClosed}
	}
	subject := t.topics.broadcast(t.id)
	if dest != Broadcast {
		subject = t.topics.direct(dest, t.id)
	}
	if err := t.conn.Publish(subject, data); err != nil {
		return &Error{Op: "send", Addr: subject, Err: err}
	}
	return nil
}

// Receive returns the next datagram delivered by the server.
func (t *NATS) Receive(timeout time.Duration) (Datagram, error) {
	return t.in.receive(timeout)
}

// LocalAddresses returns the endpoint id.
func (t *NATS) LocalAddresses() []string {
	return []string{t.id}
}

// Close unsubscribes and drains the connection.
func (t *NATS) Close() error {
	if !t.in.close() {
		return &Error{Op: "close", Err: ErrClosed}
	}
	for _, sub := range t.subs {
		_ = sub.Unsubscribe()
	}
	t.conn.Close()
	return nil
}
