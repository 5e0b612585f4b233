package bridge

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgecli/xplnet/internal/app"
	"github.com/edgecli/xplnet/internal/hub"
	"github.com/edgecli/xplnet/internal/transport"
	"github.com/edgecli/xplnet/internal/xpl"
)

type testNet struct {
	bridge *Bridge
	outer  *transport.Bus
	inner  *transport.Bus
	now    time.Time
}

func newTestNet(t *testing.T, maxHop int) *testNet {
	t.Helper()
	n := &testNet{
		outer: transport.NewBus(),
		inner: transport.NewBus(),
		now:   time.Unix(1_700_000_000, 0),
	}
	clock := app.WithClock(func() time.Time { return n.now })
	outer := app.New(n.outer.Join("bridge"), clock, app.WithName("outer"))
	inner := hub.New(app.New(n.inner.Join("bridge"), clock, app.WithName("inner")))
	n.bridge = New(inner, outer, maxHop)
	t.Cleanup(func() { n.bridge.Close() })
	return n
}

func command(hop int) *xpl.Message {
	m := xpl.NewMessage(xpl.Command, xpl.MustAddress("acme", "remote", "one"), xpl.Broadcast, xpl.MustSchema("control", "basic"))
	m.Hop = hop
	_ = m.Body.Add("device", "lamp")
	return m
}

func receive(t *testing.T, m *transport.Memory) *xpl.Message {
	t.Helper()
	d, err := m.Receive(time.Second)
	require.NoError(t, err)
	msg, err := xpl.Parse(d.Data)
	require.NoError(t, err)
	return msg
}

func assertSilent(t *testing.T, m *transport.Memory) {
	t.Helper()
	_, err := m.Receive(0)
	assert.ErrorIs(t, err, transport.ErrTimeout)
}

func TestForwardHopLaw(t *testing.T) {
	n := newTestNet(t, 3)
	peer := n.inner.Join("peer")

	for hop := 1; hop <= 4; hop++ {
		in := command(hop)
		sent, err := n.bridge.Forward(in, Inbound)
		require.NoError(t, err)
		if hop < 3 {
			assert.True(t, sent, "hop %d", hop)
			out := receive(t, peer)
			assert.Equal(t, hop+1, out.Hop)
			assert.Equal(t, in.Body, out.Body)
			assert.Equal(t, hop, in.Hop, "original untouched")
		} else {
			assert.False(t, sent, "hop %d", hop)
			assertSilent(t, peer)
		}
	}
	assert.Equal(t, Stats{InboundForwarded: 2, InboundDropped: 2}, n.bridge.Stats())
}

func TestBridgeHopChain(t *testing.T) {
	n := newTestNet(t, 3)
	outside := n.outer.Join("outside")
	inside := n.inner.Join("inside")

	// hop 1 on the outer network reaches the inner one as hop 2.
	require.NoError(t, outside.Send(transport.Broadcast, command(1).Marshal()))
	require.NoError(t, n.bridge.Poll(time.Second))
	got := receive(t, inside)
	assert.Equal(t, 2, got.Hop)
	assert.True(t, got.Target.IsBroadcast())

	// Sent back, it crosses again as hop 3, still under the ceiling.
	require.NoError(t, inside.Send(transport.Broadcast, got.Marshal()))
	require.NoError(t, n.bridge.Poll(10*time.Millisecond))
	back := receive(t, outside)
	assert.Equal(t, 3, back.Hop)

	// A fourth hop is refused.
	require.NoError(t, outside.Send(transport.Broadcast, back.Marshal()))
	require.NoError(t, n.bridge.Poll(time.Second))
	assertSilent(t, inside)

	assert.Equal(t, Stats{InboundForwarded: 1, OutboundForwarded: 1, InboundDropped: 1}, n.bridge.Stats())
}

func TestPollDrainsInnerQueue(t *testing.T) {
	n := newTestNet(t, 5)
	outside := n.outer.Join("outside")
	inside := n.inner.Join("inside")

	for i := 0; i < 3; i++ {
		require.NoError(t, inside.Send(transport.Broadcast, command(1).Marshal()))
	}
	require.NoError(t, n.bridge.Poll(10*time.Millisecond))

	for i := 0; i < 3; i++ {
		assert.Equal(t, 2, receive(t, outside).Hop)
	}
	assertSilent(t, outside)
	assert.Equal(t, uint64(3), n.bridge.Stats().OutboundForwarded)
}

func TestBridgeSkipsOwnDevice(t *testing.T) {
	n := newTestNet(t, 5)
	d, err := n.bridge.Outer().AddDevice(app.DeviceOptions{Address: xpl.MustAddress("xpl", "bridge", "test")})
	require.NoError(t, err)
	d.Enable()
	outside := n.outer.Join("outside")
	inside := n.inner.Join("inside")

	// A copy of the bridge's own heartbeat coming back from the outer
	// network is not forwarded.
	own := xpl.NewHeartbeat(d.Address(), xpl.SchemaHeartbeat, time.Minute, xpl.HeartbeatInfo{})
	require.NoError(t, outside.Send("bridge", own.Marshal()))
	require.NoError(t, n.bridge.Poll(time.Second))
	assertSilent(t, inside)
	assert.Zero(t, n.bridge.Stats().InboundForwarded)
}

func TestBridgeInnerHubTracksPeers(t *testing.T) {
	n := newTestNet(t, 5)
	inside := n.inner.Join("inside")
	outside := n.outer.Join("outside")

	hb := xpl.NewHeartbeat(xpl.MustAddress("acme", "sensor", "in"), xpl.SchemaHeartbeat, 30*time.Second, xpl.HeartbeatInfo{})
	require.NoError(t, inside.Send("bridge", hb.Marshal()))
	require.NoError(t, n.bridge.Poll(0))

	clients := n.bridge.Inner().Clients()
	require.Len(t, clients, 1)
	assert.Equal(t, "inside", clients[0].TransportAddr)

	out := receive(t, outside)
	assert.Equal(t, "acme-sensor.in", out.Source.String())
	assert.Equal(t, 2, out.Hop)
}

// closeFailing wraps a memory transport whose Close reports an error after
// actually closing.
type closeFailing struct {
	*transport.Memory
	err error
}

func (c closeFailing) Close() error {
	_ = c.Memory.Close()
	return c.err
}

func TestClosePartialFailure(t *testing.T) {
	innerBus := transport.NewBus()
	outerBus := transport.NewBus()
	stuck := errors.New("inner stuck")
	outerTr := outerBus.Join("bridge")
	b := New(
		hub.New(app.New(closeFailing{Memory: innerBus.Join("bridge"), err: stuck})),
		app.New(outerTr),
		3,
	)

	err := b.Close()
	assert.ErrorIs(t, err, stuck)
	assert.ErrorIs(t, outerTr.Send(transport.Broadcast, []byte("x")), transport.ErrClosed, "outer closed despite inner failure")
}

func TestNewDefaultsMaxHop(t *testing.T) {
	bus := transport.NewBus()
	b := New(hub.New(app.New(bus.Join("i"))), app.New(bus.Join("o")), 0)
	assert.Equal(t, DefaultMaxHop, b.MaxHop())
	assert.Nil(t, b.Device())
	require.NoError(t, b.Close())
}

func TestOpen(t *testing.T) {
	udp := transport.Config{Kind: transport.KindUDP, Listen: "127.0.0.1:0", Broadcast: "127.0.0.1:9"}

	_, err := Open(Settings{Outer: udp, Inner: transport.Config{Kind: "serial"}})
	assert.Error(t, err)

	b, err := Open(Settings{Outer: udp, Inner: udp, MaxHop: 4})
	require.NoError(t, err)
	require.NotNil(t, b.Device())
	assert.Equal(t, "xpl-bridge.default", b.Device().Address().String())
	assert.Equal(t, app.Enabled, b.Device().Mode())
	assert.Equal(t, 4, b.MaxHop())
	assert.NoError(t, b.Close())
}
