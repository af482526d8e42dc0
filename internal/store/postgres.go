// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

// Package store opens the PostgreSQL pool and manages the account schema.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// PoolOptions tunes Open.
type PoolOptions struct {
	// MaxConns caps the pool size. Zero keeps the pgx default.
	MaxConns int32
	// ConnectAttempts bounds the startup ping retries. Zero means one attempt.
	ConnectAttempts uint64
	// ConnectBackoff is the first retry delay; it doubles per attempt.
	ConnectBackoff time.Duration
	Logger         *slog.Logger
}

// pinger lets tests replace the startup ping.
type pinger func(ctx context.Context, pool *pgxpool.Pool) error

func pingPool(ctx context.Context, pool *pgxpool.Pool) error {
	return pool.Ping(ctx) //nolint:wrapcheck // wrapped by Open
}

// Open creates a pgx pool for databaseURL and waits until the database
// answers a ping, retrying with exponential backoff. Retries cover process
// startup only; queries made through the pool are never retried.
func Open(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	return open(ctx, databaseURL, opts, pingPool)
}

func open(ctx context.Context, databaseURL string, opts PoolOptions, ping pinger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").Wrap(err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backoff := opts.ConnectBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	var attempts uint64
	policy := retry.WithMaxRetries(retryCount(opts.ConnectAttempts), retry.NewExponential(backoff))

	err = retry.Do(ctx, policy, func(ctx context.Context) error {
		attempts++
		if err := ping(ctx, pool); err != nil {
			logger.Warn("database not ready", "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempts).
			Wrap(err)
	}

	logger.Info("database connected", "attempts", attempts, "max_conns", cfg.MaxConns)
	return pool, nil
}

func retryCount(attempts uint64) uint64 {
	if attempts <= 1 {
		return 0
	}
	return attempts - 1
}
