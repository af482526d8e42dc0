// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

// Package api serves the account service over HTTP.
//
// Routes:
//
//	POST /auth/register  create an account (JSON)
//	POST /auth/login     exchange credentials for a bearer token (form or JSON)
//	GET  /users/me       return the account a bearer token belongs to
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/knowly/knowly/internal/auth"
	"github.com/knowly/knowly/internal/observability"
)

// AccountService is the subset of auth.Service the API calls.
type AccountService interface {
	Register(ctx context.Context, username, email, password string) (*auth.Account, error)
	Login(ctx context.Context, identifier, password string) (auth.Token, error)
	Resolve(ctx context.Context, token string) (*auth.Account, error)
}

var _ AccountService = (*auth.Service)(nil)

// ErrNilService is returned by NewHandler without an AccountService.
var ErrNilService = oops.Code("API_INVALID_CONFIG").Errorf("account service is required")

// Handler routes account requests. It implements http.Handler.
type Handler struct {
	service AccountService
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
	root    http.Handler
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics records request and outcome metrics. Nil disables them.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithClock overrides the clock used to compute expires_in.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler builds the routed, instrumented handler.
func NewHandler(service AccountService, opts ...Option) (*Handler, error) {
	if service == nil {
		return nil, ErrNilService
	}

	h := &Handler{
		service: service,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.Handle("GET /users/me", h.requireAccount(http.HandlerFunc(h.handleMe)))

	h.root = h.withRequestID(h.observe(h.recoverPanics(mux)))
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

type accountResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func newAccountResponse(a *auth.Account) accountResponse {
	return accountResponse{
		ID:        a.ID.String(),
		Username:  a.Username,
		Email:     a.Email,
		CreatedAt: a.CreatedAt,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	req, err := parseRegister(r)
	if err != nil {
		h.fail(w, r, opRegister, err, "")
		return
	}

	account, err := h.service.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.fail(w, r, opRegister, err, "")
		return
	}

	h.metrics.RecordAuthOutcome(opRegister, outcomeSuccess)
	writeJSON(w, http.StatusCreated, newAccountResponse(account))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, err := parseLogin(r)
	if err != nil {
		h.fail(w, r, opLogin, err, "")
		return
	}

	token, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, opLogin, err, detailBadCredentials)
		return
	}

	expiresIn := int64(token.ExpiresAt.Sub(h.now()) / time.Second)
	if expiresIn < 0 {
		expiresIn = 0
	}

	h.metrics.RecordAuthOutcome(opLogin, outcomeSuccess)
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		ExpiresIn:   expiresIn,
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	account := accountFrom(r.Context())
	h.metrics.RecordAuthOutcome(opWhoami, outcomeSuccess)
	writeJSON(w, http.StatusOK, newAccountResponse(account))
}
