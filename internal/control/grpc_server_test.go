// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/knowly/knowly/pkg/errutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer("test", nil)
	require.NoError(t, err)

	errCh, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Stop(context.Background()))
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("control server did not stop")
		}
	})
	return s
}

func TestNewServer_EmptyComponent(t *testing.T) {
	_, err := NewServer("", nil)
	errutil.AssertErrorCode(t, err, "CONTROL_INVALID_CONFIG")
}

func TestServer_StartTwice(t *testing.T) {
	s := startServer(t)

	_, err := s.Start("127.0.0.1:0")
	errutil.AssertErrorCode(t, err, "CONTROL_ALREADY_RUNNING")
}

func TestServer_Addr(t *testing.T) {
	s, err := NewServer("test", nil)
	require.NoError(t, err)
	assert.Empty(t, s.Addr())

	s = startServer(t)
	assert.NotEmpty(t, s.Addr())
}

func TestServer_HealthTransitions(t *testing.T) {
	s := startServer(t)
	ctx := context.Background()

	for _, service := range []string{"", ServiceName} {
		status, err := Check(ctx, s.Addr(), service, time.Second)
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status, "service %q", service)
	}

	s.SetServing(true)
	for _, service := range []string{"", ServiceName} {
		status, err := Check(ctx, s.Addr(), service, time.Second)
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status, "service %q", service)
	}

	s.SetServing(false)
	status, err := Check(ctx, s.Addr(), ServiceName, time.Second)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)
}

func TestCheck_UnknownService(t *testing.T) {
	s := startServer(t)

	_, err := Check(context.Background(), s.Addr(), "unknown.service", time.Second)
	errutil.AssertErrorCode(t, err, "CONTROL_CHECK_FAILED")
}

func TestCheck_Unreachable(t *testing.T) {
	_, err := Check(context.Background(), "127.0.0.1:1", "", 200*time.Millisecond)
	errutil.AssertErrorCode(t, err, "CONTROL_CHECK_FAILED")
}

func TestServer_StopCutsOpenWatchAtDeadline(t *testing.T) {
	s, err := NewServer("test", nil)
	require.NoError(t, err)
	errCh, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)
	s.SetServing(true)

	conn, err := grpc.NewClient(s.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	stream, err := healthpb.NewHealthClient(conn).Watch(watchCtx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, first.GetStatus())

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancelStop()

	started := time.Now()
	err = s.Stop(stopCtx)
	errutil.AssertErrorCode(t, err, "CONTROL_STOP_FORCED")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 5*time.Second)
	assert.Empty(t, s.Addr())

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("control server did not stop")
	}

	for {
		if _, err := stream.Recv(); err != nil {
			break
		}
	}
}

func TestServer_StopWithoutStart(t *testing.T) {
	s, err := NewServer("test", nil)
	require.NoError(t, err)
	assert.NoError(t, s.Stop(context.Background()))
}
