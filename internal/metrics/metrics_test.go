package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Received("a")
		m.Sent("a")
		m.Invalid("a")
		m.TransportError("a", "send")
		m.HeartbeatSent("hbeat.app")
		m.HubClients(3)
		m.HubEvicted(1)
		m.HubRelayed(2)
		m.BridgeForwarded(Inbound)
		m.BridgeDropped(Outbound)
	})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Received("hub")
	m.Received("hub")
	m.HubClients(4)
	m.HubEvicted(2)
	m.BridgeForwarded(Inbound)
	m.BridgeDropped(Outbound)
	m.BridgeDropped(Outbound)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesReceived.WithLabelValues("hub")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.hubClients))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.hubEvictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bridgeForwarded.WithLabelValues(Inbound)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.bridgeDropped.WithLabelValues(Outbound)))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "xpl_hub_clients")
	assert.Contains(t, names, "xpl_bridge_hop_dropped_total")
}
