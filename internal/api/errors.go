// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/knowly/knowly/internal/auth"
	"github.com/knowly/knowly/pkg/errutil"
)

// Operations and outcomes recorded in knowly_auth_outcomes_total.
const (
	opRegister = "register"
	opLogin    = "login"
	opWhoami   = "whoami"

	outcomeSuccess      = "success"
	outcomeConflict     = "conflict"
	outcomeInvalidInput = "invalid_input"
	outcomeAuthFailure  = "auth_failure"
	outcomeUnavailable  = "unavailable"
	outcomeError        = "error"
)

// Response details shown to clients.
const (
	detailBadCredentials  = "Incorrect username/email or password"
	detailUnauthenticated = "Could not validate credentials"
	detailUnavailable     = "Service temporarily unavailable"
	detailInternal        = "Internal server error"
)

const (
	headerWWWAuthenticate = "WWW-Authenticate"
	headerContentType     = "Content-Type"
	headerRequestID       = "X-Request-ID"
	bearerChallenge       = "Bearer"
	contentTypeJSON       = "application/json"

	maxRequestBodyBytes     = 64 << 10
	maxIncomingRequestIDLen = 128
)

type errorResponse struct {
	Detail string `json:"detail"`
	Field  string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(body)
}

// fail maps err onto a status code and body. authDetail is the message
// used for authentication failures on this route.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error, authDetail string) {
	ctx := r.Context()

	var conflict *auth.ConflictError
	var invalid *auth.ValidationError
	switch {
	case errors.As(err, &conflict):
		h.metrics.RecordAuthOutcome(op, outcomeConflict)
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: conflictDetail(conflict.Field)})

	case errors.As(err, &invalid):
		h.metrics.RecordAuthOutcome(op, outcomeInvalidInput)
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Detail: invalid.Field + ": " + invalid.Reason,
			Field:  invalid.Field,
		})

	case errors.Is(err, auth.ErrAuthFailure):
		h.metrics.RecordAuthOutcome(op, outcomeAuthFailure)
		if authDetail == "" {
			authDetail = detailUnauthenticated
		}
		w.Header().Set(headerWWWAuthenticate, bearerChallenge)
		writeJSON(w, http.StatusUnauthorized, errorResponse{Detail: authDetail})

	case errors.Is(err, auth.ErrStorageUnavailable):
		h.metrics.RecordAuthOutcome(op, outcomeUnavailable)
		errutil.LogError(ctx, h.requestLogger(ctx), "storage unavailable", err, "operation", op)
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Detail: detailUnavailable})

	default:
		h.metrics.RecordAuthOutcome(op, outcomeError)
		errutil.LogError(ctx, h.requestLogger(ctx), "request failed", err, "operation", op)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: detailInternal})
	}
}

// conflictDetail renders "Username already registered" style messages.
func conflictDetail(field string) string {
	if field == "" {
		return "Already registered"
	}
	return strings.ToUpper(field[:1]) + field[1:] + " already registered"
}
