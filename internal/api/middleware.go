// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/knowly/knowly/internal/auth"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	accountKey
)

// RequestID returns the request id stored by the request-id middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func accountFrom(ctx context.Context) *auth.Account {
	a, _ := ctx.Value(accountKey).(*auth.Account)
	return a
}

func (h *Handler) requestLogger(ctx context.Context) *slog.Logger {
	if id := RequestID(ctx); id != "" {
		return h.logger.With("request_id", id)
	}
	return h.logger
}

// withRequestID keeps a sane incoming X-Request-ID or mints a new one.
func (h *Handler) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" || len(id) > maxIncomingRequestIDLen || strings.ContainsAny(id, "\r\n") {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// observe writes the access log line and request metrics. It must wrap the
// mux directly so r.Pattern is visible after routing.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)

		if h.metrics != nil {
			h.metrics.HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
			h.metrics.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		}

		h.requestLogger(r.Context()).InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

// recoverPanics turns a handler panic into a 500 response.
func (h *Handler) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rv := recover()
			if rv == nil {
				return
			}
			if rv == http.ErrAbortHandler {
				panic(rv)
			}
			h.requestLogger(r.Context()).ErrorContext(r.Context(), "handler panic",
				"panic", fmt.Sprint(rv),
				"stack", string(debug.Stack()),
			)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: detailInternal})
		}()
		next.ServeHTTP(w, r)
	})
}

// requireAccount resolves the bearer token and stores the account in the
// request context.
func (h *Handler) requireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			h.metrics.RecordAuthOutcome(opWhoami, outcomeAuthFailure)
			w.Header().Set(headerWWWAuthenticate, bearerChallenge)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Detail: detailUnauthenticated})
			return
		}

		account, err := h.service.Resolve(r.Context(), token)
		if err != nil {
			h.fail(w, r, opWhoami, err, detailUnauthenticated)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey, account)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
