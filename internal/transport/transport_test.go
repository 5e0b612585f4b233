package transport

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBroadcastSkipsSender(t *testing.T) {
	bus := NewBus()
	a := bus.Join("a")
	b := bus.Join("b")
	c := bus.Join("c")

	require.NoError(t, a.Send(Broadcast, []byte("hello")))

	for _, m := range []*Memory{b, c} {
		d, err := m.Receive(time.Second)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(d.Data))
		assert.Equal(t, "a", d.From)
		assert.True(t, d.Broadcast)
	}
	_, err := a.Receive(0)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestMemoryDirectSend(t *testing.T) {
	bus := NewBus()
	a := bus.Join("a")
	b := bus.Join("b")
	c := bus.Join("c")

	require.NoError(t, a.Send("b", []byte("x")))
	d, err := b.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "x", string(d.Data))
	assert.False(t, d.Broadcast)

	_, err = c.Receive(0)
	assert.ErrorIs(t, err, ErrTimeout)

	// Unknown destinations vanish silently.
	assert.NoError(t, a.Send("nobody", []byte("x")))
}

func TestMemoryReceiveTimeout(t *testing.T) {
	m := NewBus().Join("a")
	start := time.Now()
	_, err := m.Receive(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestMemoryClose(t *testing.T) {
	bus := NewBus()
	a := bus.Join("a")
	b := bus.Join("b")
	require.NoError(t, a.Close())

	err := a.Send(Broadcast, []byte("x"))
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "send", te.Op)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = a.Receive(0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, a.Close(), ErrClosed)

	// a left the bus, so b's broadcast reaches nobody and does not fail.
	assert.NoError(t, b.Send(Broadcast, []byte("x")))
}

func TestUDPLoopback(t *testing.T) {
	logger := zerolog.Nop()
	rx, err := OpenUDP("127.0.0.1:0", "", logger)
	require.NoError(t, err)
	defer rx.Close()

	target := rx.LocalAddresses()[0]
	tx, err := OpenUDP("127.0.0.1:0", target, logger)
	require.NoError(t, err)
	defer tx.Close()

	require.NoError(t, tx.Send(Broadcast, []byte("ping")))
	d, err := rx.Receive(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(d.Data))
	assert.Equal(t, tx.LocalAddresses()[0], d.From)

	require.NoError(t, rx.Send(d.From, []byte("pong")))
	d, err = tx.Receive(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(d.Data))

	_, err = rx.Receive(0)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestUDPClosed(t *testing.T) {
	u, err := OpenUDP("127.0.0.1:0", "", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, u.Close())
	assert.ErrorIs(t, u.Send(Broadcast, []byte("x")), ErrClosed)
	_, err = u.Receive(time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, u.Close(), ErrClosed)
}

func TestUDPOpenFailsOnBadAddress(t *testing.T) {
	_, err := OpenUDP("not an address", "", zerolog.Nop())
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "open", te.Op)
}

func TestWebsocketRelay(t *testing.T) {
	logger := zerolog.Nop()
	relay := NewWebsocketRelay(logger)
	srv := httptest.NewServer(relay)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	a, err := DialWebsocket(url, "node-a", logger)
	require.NoError(t, err)
	defer a.Close()
	b, err := DialWebsocket(url, "node-b", logger)
	require.NoError(t, err)
	defer b.Close()
	c, err := DialWebsocket(url, "node-c", logger)
	require.NoError(t, err)
	defer c.Close()

	require.Eventually(t, func() bool { return relay.Clients() == 3 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Send(Broadcast, []byte("all")))
	for _, w := range []*Websocket{b, c} {
		d, err := w.Receive(2 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, "all", string(d.Data))
		assert.Equal(t, "node-a", d.From)
		assert.True(t, d.Broadcast)
	}

	require.NoError(t, b.Send("node-c", []byte("direct")))
	d, err := c.Receive(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "direct", string(d.Data))
	assert.False(t, d.Broadcast)

	_, err = a.Receive(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestTopicScheme(t *testing.T) {
	mq := topicScheme{prefix: "xpl", sep: "/", any: "+"}
	assert.Equal(t, "xpl/broadcast/me", mq.broadcast("me"))
	assert.Equal(t, "xpl/direct/you/me", mq.direct("you", "me"))
	assert.Equal(t, []string{"xpl/broadcast/+", "xpl/direct/me/+"}, mq.subscriptions("me"))
	assert.Equal(t, "me", mq.sender("xpl/direct/you/me"))
	assert.True(t, mq.isBroadcast("xpl/broadcast/me"))
	assert.False(t, mq.isBroadcast("xpl/direct/you/me"))

	nt := topicScheme{prefix: "home.xpl", sep: ".", any: "*"}
	assert.Equal(t, "home.xpl.broadcast.me", nt.broadcast("me"))
	assert.Equal(t, []string{"home.xpl.broadcast.*", "home.xpl.direct.me.*"}, nt.subscriptions("me"))
	assert.Equal(t, "me", nt.sender("home.xpl.broadcast.me"))
	assert.True(t, nt.isBroadcast("home.xpl.broadcast.me"))
	assert.False(t, nt.isBroadcast("home.xpl.direct.me.you"))
	assert.Equal(t, "", nt.sender("nodots"))
}

func TestEndpointID(t *testing.T) {
	id := newEndpointID()
	assert.NoError(t, validEndpointID(id))
	assert.NotEqual(t, id, newEndpointID())
	assert.Error(t, validEndpointID("a.b"))
	assert.Error(t, validEndpointID("a/b"))
	assert.Error(t, validEndpointID(""))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{Kind: KindUDP}.Validate())
	assert.NoError(t, Config{Kind: KindMQTT, URL: "tcp://localhost:1883"}.Validate())
	assert.Error(t, Config{Kind: KindNATS}.Validate())
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Kind: "serial"}.Validate())

	_, err := Open(Config{Kind: "serial"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestErrorUnwrap(t *testing.T) {
	err := &Error{Op: "send", Addr: "1.2.3.4:5", Err: ErrClosed}
	assert.True(t, errors.Is(err, ErrClosed))
	assert.Contains(t, err.Error(), "1.2.3.4:5")
}
