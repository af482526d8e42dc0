// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/knowly/knowly/internal/api"
	"github.com/knowly/knowly/internal/auth"
	"github.com/knowly/knowly/internal/auth/memory"
	"github.com/knowly/knowly/internal/auth/postgres"
	"github.com/knowly/knowly/internal/config"
	"github.com/knowly/knowly/internal/control"
	"github.com/knowly/knowly/internal/logging"
	"github.com/knowly/knowly/internal/observability"
	"github.com/knowly/knowly/internal/store"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the account API server",
		Long: `Start the HTTP account API together with the metrics/health endpoint
and the gRPC health service. Stops gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configOptions(cmd))
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())

	return cmd
}

// runServeWithDeps starts every server with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.DirectoryFactory == nil {
		deps.DirectoryFactory = openDirectory
	}
	if deps.ControlServerFactory == nil {
		deps.ControlServerFactory = func(component string, logger *slog.Logger) (ControlServer, error) {
			return control.NewServer(component, logger)
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, ready)
		}
	}

	logOpts, err := cfg.LogOptions()
	if err != nil {
		return err
	}
	logger := logging.Setup("knowly", version, logOpts, deps.LogWriter)
	slog.SetDefault(logger)

	logger.Info("starting knowly", "config", cfg)

	hasher, err := auth.NewPasswordHasher(cfg.HasherOptions())
	if err != nil {
		return oops.With("operation", "create password hasher").Wrap(err)
	}
	tokens, err := auth.NewTokenIssuer(cfg.TokenOptions())
	if err != nil {
		return oops.With("operation", "create token issuer").Wrap(err)
	}

	directory, releaseDirectory, err := deps.DirectoryFactory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer releaseDirectory()

	svc, err := auth.NewService(directory, hasher, tokens,
		auth.WithLogger(logger),
		auth.WithIdentifierPolicy(cfg.IdentifierPolicy()),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// Servers are stopped in reverse start order on every exit path.
	var stops []func(context.Context) error
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		for i := len(stops) - 1; i >= 0; i-- {
			if stopErr := stops[i](shutdownCtx); stopErr != nil {
				logger.Warn("error stopping server", "error", stopErr)
			}
		}
		logger.Info("shutdown complete")
	}()

	var ready atomic.Bool

	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer := deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready.Load)
		if p, ok := directory.(pinger); ok {
			obsServer.AddCheck("storage", p.Ping)
		}
		obsErrCh, startErr := obsServer.Start()
		if startErr != nil {
			return oops.With("operation", "start observability server").Wrap(startErr)
		}
		stops = append(stops, obsServer.Stop)
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		metrics = obsServer.Metrics()
	}

	handler, err := api.NewHandler(svc, api.WithLogger(logger), api.WithMetrics(metrics))
	if err != nil {
		return err
	}
	apiServer := api.NewServer(cfg.HTTP.Addr, handler)
	apiErrCh, err := apiServer.Start()
	if err != nil {
		return oops.With("operation", "start api server").Wrap(err)
	}
	stops = append(stops, apiServer.Stop)
	go monitorServerErrors(ctx, cancel, apiErrCh, "api")

	controlServer, err := deps.ControlServerFactory("knowly", logger)
	if err != nil {
		return oops.With("operation", "create control server").Wrap(err)
	}
	controlErrCh, err := controlServer.Start(cfg.Control.Addr)
	if err != nil {
		return oops.With("operation", "start control server").Wrap(err)
	}
	stops = append(stops, func(ctx context.Context) error {
		controlServer.SetServing(false)
		return controlServer.Stop(ctx)
	})
	go monitorServerErrors(ctx, cancel, controlErrCh, "control")

	ready.Store(true)
	controlServer.SetServing(true)

	cmd.Println("knowly started")
	logger.Info("knowly ready",
		"http_addr", apiServer.Addr(),
		"control_addr", controlServer.Addr(),
		"storage", cfg.Storage.Driver,
	)
	if deps.OnReady != nil {
		deps.OnReady(apiServer.Addr(), controlServer.Addr())
	}

	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	<-sigCtx.Done()

	ready.Store(false)
	logger.Info("shutting down...")
	return serverFailure(ctx)
}

// serverFailure returns the first serve error recorded by
// monitorServerErrors, or nil for a requested shutdown.
func serverFailure(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return nil
	}
	return cause
}

// pinger is implemented by directories backed by a remote store.
type pinger interface {
	Ping(ctx context.Context) error
}

// openDirectory returns the directory selected by storage.driver.
func openDirectory(ctx context.Context, cfg config.Config, logger *slog.Logger) (auth.Directory, func(), error) {
	if cfg.Storage.Driver == config.DriverMemory {
		logger.Warn("using in-memory account storage; accounts are lost on exit")
		return memory.NewDirectory(), func() {}, nil
	}

	if cfg.Storage.AutoMigrate {
		if err := runAutoMigrate(cfg.Storage.DatabaseURL, newStoreMigrator, logger); err != nil {
			return nil, nil, err
		}
	}

	pool, err := store.Open(ctx, cfg.Storage.DatabaseURL, store.PoolOptions{
		MaxConns: cfg.Storage.MaxConns,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("connected to database")

	return postgres.NewDirectory(pool), pool.Close, nil
}

func runAutoMigrate(databaseURL string, factory func(string) (Migrator, error), logger *slog.Logger) error {
	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.With("operation", "auto-migrate").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.With("operation", "auto-migrate").Wrap(err)
	}
	version, _, err := migrator.Version()
	if err != nil {
		return err
	}
	logger.Info("database schema up to date", "version", version)
	return nil
}

// monitorServerErrors cancels ctx with the server's error as the cause
// when a server reports a serve error. It exits when an error arrives,
// the channel closes, or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelCauseFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel(oops.Code("SERVER_FAILED").
				With("server", serverName).
				Wrapf(err, "%s server failed", serverName))
		}
	case <-ctx.Done():
	}
}
