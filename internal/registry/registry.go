// Package registry provides the in-memory peer table a hub keeps from
// observed heartbeats.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/edgecli/xplnet/internal/xpl"
)

// Client is a remote peer tracked through its heartbeats.
type Client struct {
	Address       xpl.Address
	TransportAddr string
	Interval      time.Duration
	LastHeard     time.Time
	MaxSilence    time.Duration
}

// Expired reports whether c has been silent longer than it is allowed at now.
func (c Client) Expired(now time.Time) bool {
	return now.Sub(c.LastHeard) > c.MaxSilence
}

// Registry manages tracked clients. Reads are safe from any goroutine.
type Registry struct {
	clients map[xpl.Address]*Client
	mu      sync.RWMutex
}

// NewRegistry creates an empty client registry
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[xpl.Address]*Client),
	}
}

// Upsert adds c or refreshes the entry with the same address.
// Returns true when the client was not tracked before.
func (r *Registry) Upsert(c Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.clients[c.Address]
	if exists {
		*entry = c
		return false
	}
	r.clients[c.Address] = &c
	return true
}

// Remove drops the client at addr and reports whether it was tracked.
func (r *Registry) Remove(addr xpl.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.clients[addr]
	delete(r.clients, addr)
	return ok
}

// Get returns a client by address
func (r *Registry) Get(addr xpl.Address) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.clients[addr]
	if !ok {
		return Client{}, false
	}
	return *entry, true
}

// List returns a snapshot of every client sorted by address.
func (r *Registry) List() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Client, 0, len(r.clients))
	for _, entry := range r.clients {
		out = append(out, *entry)
	}
	sortClients(out)
	return out
}

// Destinations returns the distinct transport addresses of every client
// other than except.
func (r *Registry) Destinations(except string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.clients))
	out := make([]string, 0, len(r.clients))
	for _, entry := range r.clients {
		addr := entry.TransportAddr
		if addr == "" || addr == except {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Sweep removes every client expired at now and returns them sorted by
// address.
func (r *Registry) Sweep(now time.Time) []Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []Client
	for addr, entry := range r.clients {
		if entry.Expired(now) {
			evicted = append(evicted, *entry)
			delete(r.clients, addr)
		}
	}
	sortClients(evicted)
	return evicted
}

// Count returns the number of tracked clients
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func sortClients(cs []Client) {
	sort.Slice(cs, func(i, j int) bool {
		return cs[i].Address.String() < cs[j].Address.String()
	})
}
