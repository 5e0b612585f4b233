// Package status exposes process health over the standard gRPC health
// service and prometheus metrics over HTTP.
package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the empty
// overall name.
const ServiceName = "xpl"

const shutdownTimeout = 2 * time.Second

// Config selects the listeners. An empty address disables that listener.
type Config struct {
	GRPCListen    string
	MetricsListen string
}

// Server runs the health and metrics listeners.
type Server struct {
	logger zerolog.Logger

	grpc     *grpc.Server
	health   *health.Server
	grpcAddr string

	http     *http.Server
	httpAddr string
}

// Start opens the configured listeners and serves them in the background.
// Health starts as NOT_SERVING.
func Start(cfg Config, gatherer prometheus.Gatherer, logger zerolog.Logger) (*Server, error) {
	s := &Server{logger: logger.With().Str("component", "status").Logger()}

	if cfg.GRPCListen != "" {
		lis, err := net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.GRPCListen, err)
		}
		s.grpc = grpc.NewServer()
		s.health = health.NewServer()
		healthpb.RegisterHealthServer(s.grpc, s.health)
		s.SetServing(false)
		s.grpcAddr = lis.Addr().String()
		go func() {
			if err := s.grpc.Serve(lis); err != nil {
				s.logger.Error().Err(err).Msg("grpc health server stopped")
			}
		}()
		s.logger.Info().Str("addr", s.grpcAddr).Msg("grpc health listening")
	}

	if cfg.MetricsListen != "" {
		lis, err := net.Listen("tcp", cfg.MetricsListen)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.MetricsListen, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
		s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		s.httpAddr = lis.Addr().String()
		go func() {
			if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		s.logger.Info().Str("addr", s.httpAddr).Msg("metrics listening")
	}

	return s, nil
}

// GRPCAddr returns the bound health address, "" when disabled.
func (s *Server) GRPCAddr() string { return s.grpcAddr }

// MetricsAddr returns the bound metrics address, "" when disabled.
func (s *Server) MetricsAddr() string { return s.httpAddr }

// SetServing flips the reported health.
func (s *Server) SetServing(serving bool) {
	if s.health == nil {
		return
	}
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Close stops both listeners.
func (s *Server) Close() error {
	var err error
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpc != nil {
		s.grpc.Stop()
	}
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = s.http.Shutdown(ctx)
	}
	return err
}
