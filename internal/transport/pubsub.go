package transport

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// inboxSize bounds datagrams buffered between a client library's delivery
// goroutine and Receive.
const inboxSize = 256

// inbox hands datagrams from callback goroutines to the poll loop.
type inbox struct {
	ch      chan Datagram
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

func newInbox() *inbox {
	return &inbox{
		ch:   make(chan Datagram, inboxSize),
		done: make(chan struct{}),
	}
}

// push queues d without blocking; a full inbox drops it.
func (q *inbox) push(d Datagram) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.ch <- d:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

func (q *inbox) closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

func (q *inbox) receive(timeout time.Duration) (Datagram, error) {
	if q.closed() {
		return Datagram{}, &Error{Op: "receive", Err: ErrClosed}
	}
	if timeout <= 0 {
		select {
		case d := <-q.ch:
			return d, nil
		default:
			return Datagram{}, ErrTimeout
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case d := <-q.ch:
		return d, nil
	case <-timer.C:
		return Datagram{}, ErrTimeout
	case <-q.done:
		return Datagram{}, &Error{Op: "receive", Err: ErrClosed}
	}
}

// close reports whether this call did the closing.
func (q *inbox) close() bool {
	closed := false
	q.once.Do(func() {
		close(q.done)
		closed = true
	})
	return closed
}

// newEndpointID returns a bus-safe identifier for an endpoint without one.
func newEndpointID() string {
	return "xpl-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// validEndpointID reports whether id can be used as a topic level or subject
// token.
func validEndpointID(id string) error {
	if id == "" {
		return fmt.Errorf("endpoint id is empty")
	}
	for _, c := range id {
		ok := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_'
		if !ok {
			return fmt.Errorf("endpoint id %q: invalid character %q", id, c)
		}
	}
	return nil
}

// topicScheme lays out broadcast and direct topics on a message bus.
// Broadcasts go to <prefix><sep>broadcast<sep><from>, direct sends to
// <prefix><sep>direct<sep><dest><sep><from>.
type topicScheme struct {
	prefix string
	sep    string
	any    string // single level wildcard
}

func (s topicScheme) broadcast(from string) string {
	return strings.Join([]string{s.prefix, "broadcast", from}, s.sep)
}

func (s topicScheme) direct(dest, from string) string {
	return strings.Join([]string{s.prefix, "direct", dest, from}, s.sep)
}

func (s topicScheme) subscriptions(self string) []string {
	return []string{
		strings.Join([]string{s.prefix, "broadcast", s.any}, s.sep),
		strings.Join([]string{s.prefix, "direct", self, s.any}, s.sep),
	}
}

// isBroadcast reports whether topic is on the broadcast branch.
func (s topicScheme) isBroadcast(topic string) bool {
	return strings.HasPrefix(topic, s.prefix+s.sep+"broadcast"+s.sep)
}

// sender extracts the sending endpoint id from a topic.
func (s topicScheme) sender(topic string) string {
	i := strings.LastIndex(topic, s.sep)
	if i < 0 {
		return ""
	}
	return topic[i+len(s.sep):]
}
