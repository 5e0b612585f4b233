package status

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/edgecli/xplnet/internal/metrics"
)

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.HubClients(2)

	s, err := Start(Config{GRPCListen: "127.0.0.1:0", MetricsListen: "127.0.0.1:0"}, reg, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	conn, err := grpc.NewClient(s.GRPCAddr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	s.SetServing(true)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	httpResp, err := http.Get("http://" + s.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	defer httpResp.Body.Close()
	body, err := io.ReadAll(httpResp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, httpResp.StatusCode)
	assert.Contains(t, string(body), "xpl_hub_clients 2")
}

func TestDisabledListeners(t *testing.T) {
	s, err := Start(Config{}, prometheus.NewRegistry(), zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, s.GRPCAddr())
	assert.Empty(t, s.MetricsAddr())
	s.SetServing(true)
	assert.NoError(t, s.Close())
}
