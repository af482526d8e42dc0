// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/knowly/knowly/internal/auth"
	"github.com/knowly/knowly/internal/auth/postgres"
	"github.com/knowly/knowly/internal/store"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("knowly"),
		tcpostgres.WithUsername("knowly"),
		tcpostgres.WithPassword("knowly"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "start postgres:", err)
		return 1
	}
	defer container.Terminate(ctx) //nolint:errcheck // best effort

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintln(os.Stderr, "connection string:", err)
		return 1
	}

	migrator, err := store.NewMigrator(url)
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrator:", err)
		return 1
	}
	if err := migrator.Up(); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		return 1
	}
	_ = migrator.Close() //nolint:errcheck // schema is in place

	testPool, err = store.Open(ctx, url, store.PoolOptions{ConnectAttempts: 3})
	if err != nil {
		fmt.Fprintln(os.Stderr, "open pool:", err)
		return 1
	}
	defer testPool.Close()

	return m.Run()
}

func cleanup(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		_, _ = testPool.Exec(context.Background(), `DELETE FROM accounts`)
	})
}

func TestDirectory_RoundTrip(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	dir := postgres.NewDirectory(testPool)

	account := auth.NewAccount("alice", "a@x.io", "digest", time.Now())
	require.NoError(t, dir.Create(ctx, account))

	byName, err := dir.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, account.ID, byName.ID)
	assert.Equal(t, account.Email, byName.Email)
	assert.True(t, account.CreatedAt.Equal(byName.CreatedAt))

	byEmail, err := dir.FindByEmail(ctx, "a@x.io")
	require.NoError(t, err)
	assert.Equal(t, account.ID, byEmail.ID)

	_, err = dir.FindByUsername(ctx, "Alice")
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestDirectory_UniqueConstraints(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	dir := postgres.NewDirectory(testPool)
	require.NoError(t, dir.Create(ctx, auth.NewAccount("alice", "a@x.io", "digest", time.Now())))

	var conflict *auth.ConflictError

	err := dir.Create(ctx, auth.NewAccount("alice", "b@x.io", "digest", time.Now()))
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, auth.FieldUsername, conflict.Field)

	err = dir.Create(ctx, auth.NewAccount("bob", "a@x.io", "digest", time.Now()))
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, auth.FieldEmail, conflict.Field)
}

func TestDirectory_RejectsEmptyDigest(t *testing.T) {
	cleanup(t)
	dir := postgres.NewDirectory(testPool)

	err := dir.Create(context.Background(), auth.NewAccount("alice", "a@x.io", "", time.Now()))
	require.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrConflict)
}

func TestDirectory_ConcurrentCreate(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	dir := postgres.NewDirectory(testPool)

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- dir.Create(ctx, auth.NewAccount("alice", "a@x.io", "digest", time.Now()))
		}()
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, auth.ErrConflict)
	}
	assert.Equal(t, 1, ok)
}

func TestDirectory_Ping(t *testing.T) {
	dir := postgres.NewDirectory(testPool)
	require.NoError(t, dir.Ping(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := dir.Ping(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrStorageUnavailable)
}
