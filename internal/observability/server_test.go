// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

package observability

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/knowly/knowly/pkg/errutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var client = &http.Client{
	Timeout:   5 * time.Second,
	Transport: &http.Transport{DisableKeepAlives: true},
}

func startServer(t *testing.T, ready ReadinessChecker) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0", ready)
	_, err := server.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})
	return server
}

func get(t *testing.T, server *Server, path string) (int, string) {
	t.Helper()
	resp, err := client.Get("http://" + server.Addr() + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Metrics(t *testing.T) {
	server := startServer(t, func() bool { return true })

	code, body := get(t, server, "/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "# TYPE")
	assert.Contains(t, body, "go_")
	assert.Contains(t, body, "process_")

	metrics := server.Metrics()
	metrics.HTTPRequestsTotal.WithLabelValues("POST /auth/login", "POST", "200").Inc()
	metrics.HTTPRequestsTotal.WithLabelValues("POST /auth/login", "POST", "200").Inc()
	metrics.HTTPRequestDuration.WithLabelValues("POST /auth/login").Observe(0.01)
	metrics.RecordAuthOutcome("login", "failure")

	_, body = get(t, server, "/metrics")
	assert.Contains(t, body, `knowly_http_requests_total{code="200",method="POST",route="POST /auth/login"} 2`)
	assert.Contains(t, body, `knowly_http_request_duration_seconds_count{route="POST /auth/login"} 1`)
	assert.Contains(t, body, `knowly_auth_outcomes_total{operation="login",outcome="failure"} 1`)
}

func TestMetrics_RecordAuthOutcomeNil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.RecordAuthOutcome("login", "ok") })
}

func TestServer_Liveness(t *testing.T) {
	server := startServer(t, func() bool { return false })

	code, body := get(t, server, "/healthz/liveness")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", strings.TrimSpace(body))
}

func readiness(t *testing.T, server *Server) (int, readinessResponse) {
	t.Helper()
	code, body := get(t, server, "/healthz/readiness")
	var resp readinessResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	return code, resp
}

func TestServer_Readiness(t *testing.T) {
	tests := []struct {
		name       string
		ready      ReadinessChecker
		checks     map[string]ReadinessCheck
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "nil checker is ready",
			wantCode:   http.StatusOK,
			wantStatus: "ready",
		},
		{
			name:       "starting",
			ready:      func() bool { return false },
			checks:     map[string]ReadinessCheck{"storage": func(context.Context) error { return nil }},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "starting",
		},
		{
			name:       "all checks pass",
			ready:      func() bool { return true },
			checks:     map[string]ReadinessCheck{"storage": func(context.Context) error { return nil }},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
			wantChecks: map[string]string{"storage": "ok"},
		},
		{
			name:  "one check fails",
			ready: func() bool { return true },
			checks: map[string]ReadinessCheck{
				"storage": func(context.Context) error { return errors.New("connection refused") },
				"cache":   func(context.Context) error { return nil },
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not ready",
			wantChecks: map[string]string{"storage": "failing", "cache": "ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := startServer(t, tt.ready)
			for name, check := range tt.checks {
				server.AddCheck(name, check)
			}

			code, resp := readiness(t, server)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantChecks, resp.Checks)
		})
	}
}

func TestServer_ReadinessCheckHasDeadline(t *testing.T) {
	server := startServer(t, nil)
	server.AddCheck("storage", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		return nil
	})

	code, resp := readiness(t, server)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]string{"storage": "ok"}, resp.Checks)
}

func TestServer_RejectsWrongMethod(t *testing.T) {
	server := startServer(t, nil)

	resp, err := client.Post("http://"+server.Addr()+"/metrics", "text/plain", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_DoubleStartFails(t *testing.T) {
	server := startServer(t, nil)

	_, err := server.Start()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "OBSERVABILITY_ALREADY_RUNNING")
}

func TestServer_ListenFailure(t *testing.T) {
	server := NewServer("256.0.0.1:0", nil)
	_, err := server.Start()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "OBSERVABILITY_LISTEN_FAILED")
}

func TestServer_StopWithoutStart(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	assert.NoError(t, server.Stop(context.Background()))
	assert.Empty(t, server.Addr())
}

func TestServer_ErrorChannelReportsServeErrors(t *testing.T) {
	fresh := NewServer("127.0.0.1:0", nil)
	errCh, err := fresh.Start()
	require.NoError(t, err)
	defer func() { _ = fresh.Stop(context.Background()) }()

	// Closing the listener out from under Serve surfaces an error.
	require.NoError(t, fresh.listener.Close())

	select {
	case serveErr := <-errCh:
		assert.Error(t, serveErr)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error on error channel")
	}
}

func TestServer_ErrorChannelClosesOnNormalShutdown(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	errCh, err := server.Start()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))

	select {
	case err, ok := <-errCh:
		if ok {
			assert.NoError(t, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error channel to close")
	}
}
