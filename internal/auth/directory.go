// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

package auth

import (
	"context"
	"fmt"

	"github.com/samber/oops"
)

// Directory stores accounts and enforces identifier uniqueness.
//
// Lookups are exact matches on already-normalised values. Implementations
// return ErrNotFound for a missing account, a *ConflictError from Create
// when a unique field is taken, and ErrStorageUnavailable when the backing
// store cannot be reached.
type Directory interface {
	// FindByUsername retrieves an account by username.
	FindByUsername(ctx context.Context, username string) (*Account, error)

	// FindByEmail retrieves an account by email.
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// Create stores a new account. Uniqueness is enforced atomically with
	// the insert; a username collision is reported before an email one.
	Create(ctx context.Context, account *Account) error
}

// NewConflict returns a coded error wrapping a *ConflictError for field.
func NewConflict(field string) error {
	return oops.Code(CodeConflict).
		With("field", field).
		Wrap(&ConflictError{Field: field})
}

// NewStorageUnavailable wraps a backing store failure so it matches
// ErrStorageUnavailable while keeping the cause.
func NewStorageUnavailable(operation string, cause error) error {
	return oops.Code(CodeStorageUnavailable).
		With("operation", operation).
		Wrap(fmt.Errorf("%w: %w", ErrStorageUnavailable, cause))
}
