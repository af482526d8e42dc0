// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

// Package postgres implements auth.Directory on PostgreSQL.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/knowly/knowly/internal/auth"
)

// Unique constraint names from migration 000001.
const (
	usernameConstraint = "accounts_username_key"
	emailConstraint    = "accounts_email_key"
)

// poolIface is the subset of *pgxpool.Pool used here, so pgxmock can stand in.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Directory implements auth.Directory using PostgreSQL. Uniqueness is
// enforced by the table's unique constraints, not by the caller.
type Directory struct {
	pool poolIface
}

var _ auth.Directory = (*Directory)(nil)

// NewDirectory creates a new Directory.
func NewDirectory(pool poolIface) *Directory {
	return &Directory{pool: pool}
}

const selectAccount = `
	SELECT id, username, email, password_hash, created_at
	FROM accounts
`

// FindByUsername retrieves an account by exact username.
func (d *Directory) FindByUsername(ctx context.Context, username string) (*auth.Account, error) {
	row := d.pool.QueryRow(ctx, selectAccount+`WHERE username = $1`, username)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, classify("find account by username", err)
	}
	return account, nil
}

// FindByEmail retrieves an account by exact email.
func (d *Directory) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := d.pool.QueryRow(ctx, selectAccount+`WHERE email = $1`, email)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, classify("find account by email", err)
	}
	return account, nil
}

// Create inserts a new account. A unique violation is mapped to a
// *auth.ConflictError naming the column.
func (d *Directory) Create(ctx context.Context, account *auth.Account) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO accounts (id, username, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		account.ID.String(),
		account.Username,
		account.Email,
		account.PasswordHash,
		account.CreatedAt,
	)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		switch pgErr.ConstraintName {
		case usernameConstraint:
			return auth.NewConflict(auth.FieldUsername)
		case emailConstraint:
			return auth.NewConflict(auth.FieldEmail)
		}
	}
	return classify("insert account", err)
}

// Ping reports whether the database is reachable.
func (d *Directory) Ping(ctx context.Context) error {
	if err := d.pool.Ping(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		account auth.Account
		id      string
	)
	if err := row.Scan(&id, &account.Username, &account.Email, &account.PasswordHash, &account.CreatedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers classify
	}

	parsed, err := ulid.Parse(id)
	if err != nil {
		return nil, oops.Code("ACCOUNT_CORRUPT").With("id", id).Wrap(err)
	}
	account.ID = parsed
	account.CreatedAt = account.CreatedAt.UTC()
	return &account, nil
}

// classify separates an unreachable database from a failing statement.
// Server errors in the connection, resource and operator classes count as
// unavailable, as does anything that never produced a server error.
func classify(operation string, err error) error {
	if _, ok := oops.AsOops(err); ok {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgerrcode.IsConnectionException(pgErr.Code) ||
			pgerrcode.IsInsufficientResources(pgErr.Code) ||
			pgerrcode.IsOperatorIntervention(pgErr.Code) {
			return auth.NewStorageUnavailable(operation, err)
		}
		return oops.Code("ACCOUNT_QUERY_FAILED").
			With("operation", operation).
			With("sqlstate", pgErr.Code).
			Wrap(err)
	}
	return auth.NewStorageUnavailable(operation, err)
}
