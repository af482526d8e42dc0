// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

// Package memory provides an in-process auth.Directory for development
// and tests. Contents are lost when the process exits.
package memory

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/knowly/knowly/internal/auth"
)

// Directory implements auth.Directory with maps guarded by a mutex.
type Directory struct {
	mu         sync.RWMutex
	byID       map[ulid.ULID]*auth.Account
	byUsername map[string]ulid.ULID
	byEmail    map[string]ulid.ULID
}

var _ auth.Directory = (*Directory)(nil)

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{
		byID:       make(map[ulid.ULID]*auth.Account),
		byUsername: make(map[string]ulid.ULID),
		byEmail:    make(map[string]ulid.ULID),
	}
}

// FindByUsername retrieves an account by username.
func (d *Directory) FindByUsername(ctx context.Context, username string) (*auth.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, auth.NewStorageUnavailable("find account by username", err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byUsername[username]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("username", username).Wrap(auth.ErrNotFound)
	}
	return copyAccount(d.byID[id]), nil
}

// FindByEmail retrieves an account by email.
func (d *Directory) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, auth.NewStorageUnavailable("find account by email", err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byEmail[email]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	return copyAccount(d.byID[id]), nil
}

// Create stores a new account. Both uniqueness checks and the insert
// happen under one write lock.
func (d *Directory) Create(ctx context.Context, account *auth.Account) error {
	if err := ctx.Err(); err != nil {
		return auth.NewStorageUnavailable("create account", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, taken := d.byUsername[account.Username]; taken {
		return auth.NewConflict(auth.FieldUsername)
	}
	if _, taken := d.byEmail[account.Email]; taken {
		return auth.NewConflict(auth.FieldEmail)
	}

	stored := copyAccount(account)
	d.byID[stored.ID] = stored
	d.byUsername[stored.Username] = stored.ID
	d.byEmail[stored.Email] = stored.ID
	return nil
}

// Len returns the number of stored accounts.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}

func copyAccount(a *auth.Account) *auth.Account {
	c := *a
	return &c
}
