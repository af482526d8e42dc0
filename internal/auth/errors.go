// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the directory implementations and the service.
// Callers match them with errors.Is; the service wraps them in oops errors
// carrying a code and context.
var (
	// ErrNotFound is returned when a requested account does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is matched by every *ConflictError.
	ErrConflict = errors.New("already registered")

	// ErrAuthFailure covers unknown identifiers, wrong passwords and
	// unusable tokens. It never says which.
	ErrAuthFailure = errors.New("authentication failed")

	// ErrStorageUnavailable is returned when the backing store cannot be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidInput is matched by every *ValidationError.
	ErrInvalidInput = errors.New("invalid input")
)

// Error codes attached to oops errors.
const (
	CodeConflict           = "AUTH_CONFLICT"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeInvalidInput       = "AUTH_INVALID_INPUT"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
)

// Fields that can collide on registration.
const (
	FieldUsername = "username"
	FieldEmail    = "email"
	FieldPassword = "password"
)

// ConflictError reports that a unique field is already taken.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already registered", e.Field)
}

// Is reports whether target is ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ValidationError reports a malformed registration field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrInvalidInput.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// TokenErrorKind classifies why a token was rejected.
type TokenErrorKind string

// Token rejection kinds. The set is closed.
const (
	TokenMalformed    TokenErrorKind = "malformed"
	TokenBadSignature TokenErrorKind = "bad_signature"
	TokenExpired      TokenErrorKind = "expired"
)

// Token rejection sentinels, one per kind.
var (
	ErrTokenMalformed    = &TokenError{Kind: TokenMalformed}
	ErrTokenBadSignature = &TokenError{Kind: TokenBadSignature}
	ErrTokenExpired      = &TokenError{Kind: TokenExpired}
)

// TokenError is returned by TokenIssuer.Validate.
type TokenError struct {
	Kind TokenErrorKind
	Err  error
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token %s: %v", e.Kind, e.Err)
	}
	return "token " + string(e.Kind)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// Is matches any TokenError of the same kind.
func (e *TokenError) Is(target error) bool {
	t, ok := target.(*TokenError)
	return ok && t.Kind == e.Kind
}
