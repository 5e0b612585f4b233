package transport

import (
	"sync"
	"time"
)

// Bus is an in-process broadcast domain. It is used for tests and for
// bridging two applications living in the same process.
type Bus struct {
	mu      sync.Mutex
	members map[string]*Memory
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{members: make(map[string]*Memory)}
}

// Join attaches a new member with the given address. Joining twice with the
// same address replaces the earlier member.
func (b *Bus) Join(addr string) *Memory {
	m := &Memory{bus: b, addr: addr, in: newInbox()}
	b.mu.Lock()
	b.members[addr] = m
	b.mu.Unlock()
	return m
}

func (b *Bus) deliver(from, dest string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if dest != Broadcast {
		if m, ok := b.members[dest]; ok {
			m.in.push(Datagram{Data: append([]byte(nil), data...), From: from})
		}
		return
	}
	for addr, m := range b.members {
		if addr != from {
			m.in.push(Datagram{Data: append([]byte(nil), data...), From: from, Broadcast: true})
		}
	}
}

func (b *Bus) leave(m *Memory) {
	b.mu.Lock()
	if b.members[m.addr] == m {
		delete(b.members, m.addr)
	}
	b.mu.Unlock()
}

// Memory is one member of a Bus. Members never receive their own broadcasts;
// datagrams to unknown members vanish as they would on a LAN.
type Memory struct {
	bus  *Bus
	addr string
	in   *inbox
}

var _ Transport = (*Memory)(nil)

// Send delivers data to dest or to every other member.
func (m *Memory) Send(dest string, data []byte) error {
	if m.in.closed() {
		return &Error{Op: "send", Addr: dest, Err: ErrClosed}
	}
	m.bus.deliver(m.addr, dest, data)
	return nil
}

// Receive waits for the next datagram.
func (m *Memory) Receive(timeout time.Duration) (Datagram, error) {
	return m.in.receive(timeout)
}

// LocalAddresses returns the member address.
func (m *Memory) LocalAddresses() []string {
	return []string{m.addr}
}

// Close leaves the bus.
func (m *Memory) Close() error {
	if !m.in.close() {
		return &Error{Op: "close", Err: ErrClosed}
	}
	m.bus.leave(m)
	return nil
}
