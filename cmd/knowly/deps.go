// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/knowly/knowly/internal/auth"
	"github.com/knowly/knowly/internal/config"
	"github.com/knowly/knowly/internal/observability"
	"github.com/knowly/knowly/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// DirectoryFactory opens the account directory and returns a release
	// function. Default: openDirectory
	DirectoryFactory func(ctx context.Context, cfg config.Config, logger *slog.Logger) (auth.Directory, func(), error)

	// ControlServerFactory creates the gRPC health server.
	// Default: control.NewServer
	ControlServerFactory func(component string, logger *slog.Logger) (ControlServer, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// LogWriter receives log output. Default: os.Stderr
	LogWriter io.Writer

	// OnReady is called once every server is listening.
	OnReady func(apiAddr, controlAddr string)
}

// MigrateDeps contains injectable dependencies for the migrate command.
type MigrateDeps struct {
	// MigratorFactory opens a migrator. Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)
}

// ControlServer interface wraps the methods used from control.Server.
type ControlServer interface {
	Start(addr string) (<-chan error, error)
	Stop(ctx context.Context) error
	SetServing(serving bool)
	Addr() string
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
	AddCheck(name string, check observability.ReadinessCheck)
}

// Migrator interface wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Status() (*store.Status, error)
	Close() error
}
