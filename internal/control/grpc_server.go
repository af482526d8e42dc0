// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

// Package control exposes the standard gRPC health service so process
// supervisors and the status command can probe a running server.
package control

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the account API.
const ServiceName = "knowly.auth"

// Server runs a gRPC server carrying the health service.
type Server struct {
	component string
	logger    *slog.Logger

	mu         sync.Mutex
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
}

// NewServer creates a control server. component names the process in logs.
func NewServer(component string, logger *slog.Logger) (*Server, error) {
	if component == "" {
		return nil, oops.Code("CONTROL_INVALID_CONFIG").Errorf("component name cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		component: component,
		logger:    logger,
		health:    health.NewServer(),
	}, nil
}

// Start listens on addr. Every service reports NOT_SERVING until
// SetServing(true) is called. The returned channel receives the serve
// error, or nil after a graceful stop.
func (s *Server) Start(addr string) (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil, oops.Code("CONTROL_ALREADY_RUNNING").Errorf("control server is already running")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, oops.Code("CONTROL_LISTEN_FAILED").With("addr", addr).Wrap(err)
	}
	s.listener = listener

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)

	srv := s.grpcServer
	errCh := make(chan error, 1)
	go func() {
		err := srv.Serve(listener)
		if err != nil {
			s.logger.Error("control gRPC server error", "component", s.component, "error", err)
		}
		errCh <- err
	}()

	s.logger.Info("control server started", "component", s.component, "addr", listener.Addr().String())
	return errCh, nil
}

// SetServing flips the overall and account-service health status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Stop marks every service NOT_SERVING and stops gracefully. Open
// streams, such as health watches, are cut when ctx is done first.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.health.Shutdown()
	srv := s.grpcServer
	s.grpcServer = nil
	s.listener = nil
	if srv == nil {
		return nil
	}

	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		srv.Stop()
		<-stopped
		return oops.Code("CONTROL_STOP_FORCED").
			With("component", s.component).
			Wrapf(ctx.Err(), "graceful stop did not finish")
	}
}

// Addr returns the listen address, or "" when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Check queries the health service at addr for service ("" for overall).
func Check(ctx context.Context, addr, service string, timeout time.Duration) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, oops.Code("CONTROL_DIAL_FAILED").With("addr", addr).Wrap(err)
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, oops.Code("CONTROL_CHECK_FAILED").
			With("addr", addr).
			With("service", service).
			Wrap(err)
	}
	return resp.GetStatus(), nil
}
