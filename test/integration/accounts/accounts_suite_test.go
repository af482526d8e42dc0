// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

//go:build integration

// Package accounts_test drives the account API end to end against PostgreSQL.
package accounts_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/knowly/knowly/internal/api"
	"github.com/knowly/knowly/internal/auth"
	authpg "github.com/knowly/knowly/internal/auth/postgres"
	"github.com/knowly/knowly/internal/store"
)

func TestAccounts(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Accounts Integration Suite")
}

// testEnv holds the running stack shared by every spec.
type testEnv struct {
	ctx       context.Context
	container testcontainers.Container
	pool      *pgxpool.Pool
	server    *httptest.Server
}

var env *testEnv

var _ = BeforeSuite(func() {
	var err error
	env, err = setupAccountsTestEnv()
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if env != nil {
		env.cleanup()
	}
})

func setupAccountsTestEnv() (*testEnv, error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("knowly_test"),
		postgres.WithUsername("knowly"),
		postgres.WithPassword("knowly"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, err
	}
	e := &testEnv{ctx: ctx, container: container}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		e.cleanup()
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		e.cleanup()
		return nil, err
	}
	err = migrator.Up()
	_ = migrator.Close()
	if err != nil {
		e.cleanup()
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e.pool, err = store.Open(ctx, connStr, store.PoolOptions{Logger: logger})
	if err != nil {
		e.cleanup()
		return nil, err
	}

	hasher, err := auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32})
	if err != nil {
		e.cleanup()
		return nil, err
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenOptions{
		Secret: []byte(strings.Repeat("k", 32)),
		TTL:    30 * time.Minute,
	})
	if err != nil {
		e.cleanup()
		return nil, err
	}
	svc, err := auth.NewService(authpg.NewDirectory(e.pool), hasher, tokens, auth.WithLogger(logger))
	if err != nil {
		e.cleanup()
		return nil, err
	}
	handler, err := api.NewHandler(svc, api.WithLogger(logger))
	if err != nil {
		e.cleanup()
		return nil, err
	}
	e.server = httptest.NewServer(handler)

	return e, nil
}

func (e *testEnv) cleanup() {
	if e.server != nil {
		e.server.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.container != nil {
		_ = e.container.Terminate(e.ctx)
	}
}

func resetAccounts() {
	_, err := env.pool.Exec(env.ctx, `DELETE FROM accounts`)
	Expect(err).NotTo(HaveOccurred())
}
