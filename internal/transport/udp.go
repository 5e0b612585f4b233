package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultPort is the well known xPL UDP port hubs listen on.
	DefaultPort = 3865
	// minReadWait stands in for a zero timeout; an already expired deadline
	// would fail the read before looking at queued data.
	minReadWait = time.Millisecond
)

// UDP sends and receives xPL datagrams on a UDP socket.
type UDP struct {
	conn      *net.UDPConn
	broadcast *net.UDPAddr
	local     []string
	buf       []byte
	closed    atomic.Bool
	logger    zerolog.Logger
}

var _ Transport = (*UDP)(nil)

// OpenUDP binds listen (":3865" for a hub, ":0" for an ordinary client) and
// sends broadcasts to broadcast (default 255.255.255.255:3865).
func OpenUDP(listen, broadcast string, logger zerolog.Logger) (*UDP, error) {
	if listen == "" {
		listen = ":0"
	}
	if broadcast == "" {
		broadcast = net.JoinHostPort(net.IPv4bcast.String(), strconv.Itoa(DefaultPort))
	}

	listenAddr, err := net.ResolveUDPAddr("udp4", listen)
	if err != nil {
		return nil, &Error{Op: "open", Addr: listen, Err: err}
	}
	bcast, err := net.ResolveUDPAddr("udp4", broadcast)
	if err != nil {
		return nil, &Error{Op: "open", Addr: broadcast, Err: err}
	}

	conn, err := net.ListenUDP("udp4", listenAddr)
	if err != nil {
		return nil, &Error{Op: "open", Addr: listen, Err: fmt.Errorf("failed to bind UDP: %w", err)}
	}

	const bufSize = 1500 * 16
	if err := conn.SetWriteBuffer(bufSize); err != nil {
		logger.Warn().Err(err).Msg("udp: failed to set write buffer")
	}
	if err := conn.SetReadBuffer(bufSize); err != nil {
		logger.Warn().Err(err).Msg("udp: failed to set read buffer")
	}

	u := &UDP{
		conn:      conn,
		broadcast: bcast,
		buf:       make([]byte, 64*1024),
		logger:    logger,
	}
	u.local = localAddresses(conn.LocalAddr().(*net.UDPAddr))

	logger.Info().
		Str("listen", conn.LocalAddr().String()).
		Str("broadcast", bcast.String()).
		Msg("udp transport open")
	return u, nil
}

// localAddresses expands a wildcard bind into one ip:port per interface.
func localAddresses(bound *net.UDPAddr) []string {
	port := strconv.Itoa(bound.Port)
	if bound.IP != nil && !bound.IP.IsUnspecified() {
		return []string{net.JoinHostPort(bound.IP.String(), port)}
	}
	out := []string{net.JoinHostPort("127.0.0.1", port)}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return out
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.To4() == nil || ipNet.IP.IsLoopback() {
			continue
		}
		out = append(out, net.JoinHostPort(ipNet.IP.String(), port))
	}
	return out
}

// Port returns the bound UDP port.
func (u *UDP) Port() int {
	return u.conn.LocalAddr().(*net.UDPAddr).Port
}

// Send writes data to dest, or to the broadcast address.
func (u *UDP) Send(dest string, data []byte) error {
	if u.closed.Load() {
		return &Error{Op: "send", Addr: dest, Err: ErrClosed}
	}
	to := u.broadcast
	if dest != Broadcast {
		addr, err := net.ResolveUDPAddr("udp4", dest)
		if err != nil {
			return &Error{Op: "send", Addr: dest, Err: err}
		}
		to = addr
	}
	if _, err := u.conn.WriteToUDP(data, to); err != nil {
		return &Error{Op: "send", Addr: to.String(), Err: err}
	}
	return nil
}

// Receive reads one datagram, waiting at most timeout.
func (u *UDP) Receive(timeout time.Duration) (Datagram, error) {
	if u.closed.Load() {
		return Datagram{}, &Error{Op: "receive", Err: ErrClosed}
	}
	if timeout < minReadWait {
		timeout = minReadWait
	}
	if err := u.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Datagram{}, &Error{Op: "receive", Err: err}
	}
	n, addr, err := u.conn.ReadFromUDP(u.buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return Datagram{}, ErrTimeout
		}
		if u.closed.Load() {
			return Datagram{}, &Error{Op: "receive", Err: ErrClosed}
		}
		return Datagram{}, &Error{Op: "receive", Err: err}
	}
	data := make([]byte, n)
	copy(data, u.buf[:n])
	return Datagram{Data: data, From: addr.String()}, nil
}

// LocalAddresses returns ip:port for every local interface the socket is bound to.
func (u *UDP) LocalAddresses() []string {
	return append([]string(nil), u.local...)
}

// Close closes the socket.
func (u *UDP) Close() error {
	if !u.closed.CompareAndSwap(false, true) {
		return &Error{Op: "close", Err: ErrClosed}
	}
	if err := u.conn.Close(); err != nil {
		return &Error{Op: "close", Err: err}
	}
	u.logger.Info().Msg("udp transport closed")
	return nil
}
