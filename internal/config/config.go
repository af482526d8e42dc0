// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

// Package config loads and validates knowly settings.
//
// Sources are layered, later ones winning: built-in defaults, the YAML
// config file, .env files, the process environment, then explicitly set
// command-line flags.
package config

import (
	"log/slog"
	"net/url"
	"slices"
	"time"

	"github.com/samber/oops"

	"github.com/knowly/knowly/internal/auth"
	"github.com/knowly/knowly/internal/logging"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "KNOWLY_"

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Redacted replaces secrets in printed configuration.
const Redacted = logging.Redacted

// Config is the complete process configuration.
type Config struct {
	Token     TokenConfig     `koanf:"token" yaml:"token" json:"token,omitempty" envPrefix:"TOKEN_"`
	Hasher    HasherConfig    `koanf:"hasher" yaml:"hasher" json:"hasher,omitempty" envPrefix:"HASHER_"`
	Directory DirectoryConfig `koanf:"directory" yaml:"directory" json:"directory,omitempty" envPrefix:"DIRECTORY_"`
	Storage   StorageConfig   `koanf:"storage" yaml:"storage" json:"storage,omitempty" envPrefix:"STORAGE_"`
	HTTP      AddrConfig      `koanf:"http" yaml:"http" json:"http,omitempty" envPrefix:"HTTP_"`
	Metrics   AddrConfig      `koanf:"metrics" yaml:"metrics" json:"metrics,omitempty" envPrefix:"METRICS_"`
	Control   AddrConfig      `koanf:"control" yaml:"control" json:"control,omitempty" envPrefix:"CONTROL_"`
	Log       LogConfig       `koanf:"log" yaml:"log" json:"log,omitempty" envPrefix:"LOG_"`
}

// TokenConfig configures bearer token signing.
type TokenConfig struct {
	Secret    string        `koanf:"secret" yaml:"secret" json:"secret,omitempty" env:"SECRET" jsonschema:"minLength=32"`
	Algorithm string        `koanf:"algorithm" yaml:"algorithm" json:"algorithm,omitempty" env:"ALGORITHM" jsonschema:"enum=HS256,enum=HS384,enum=HS512"`
	TTL       time.Duration `koanf:"ttl" yaml:"ttl" json:"ttl,omitempty" env:"TTL" jsonschema:"type=string"`
	Issuer    string        `koanf:"issuer" yaml:"issuer" json:"issuer,omitempty" env:"ISSUER"`
}

// HasherConfig selects the password hashing algorithm.
type HasherConfig struct {
	Algorithm  string            `koanf:"algorithm" yaml:"algorithm" json:"algorithm,omitempty" env:"ALGORITHM" jsonschema:"enum=argon2id,enum=bcrypt"`
	Argon2     auth.Argon2Params `koanf:"argon2" yaml:"argon2" json:"argon2,omitempty" envPrefix:"ARGON2_"`
	BcryptCost int               `koanf:"bcrypt_cost" yaml:"bcrypt_cost" json:"bcrypt_cost,omitempty" env:"BCRYPT_COST"`
}

// DirectoryConfig sets identifier case folding.
type DirectoryConfig struct {
	FoldUsername bool `koanf:"fold_username" yaml:"fold_username" json:"fold_username,omitempty" env:"FOLD_USERNAME"`
	FoldEmail    bool `koanf:"fold_email" yaml:"fold_email" json:"fold_email,omitempty" env:"FOLD_EMAIL"`
}

// StorageConfig selects the account directory backend.
type StorageConfig struct {
	Driver      string `koanf:"driver" yaml:"driver" json:"driver,omitempty" env:"DRIVER" jsonschema:"enum=postgres,enum=memory"`
	DatabaseURL string `koanf:"database_url" yaml:"database_url" json:"database_url,omitempty" env:"DATABASE_URL"`
	AutoMigrate bool   `koanf:"auto_migrate" yaml:"auto_migrate" json:"auto_migrate,omitempty" env:"AUTO_MIGRATE"`
	MaxConns    int32  `koanf:"max_conns" yaml:"max_conns" json:"max_conns,omitempty" env:"MAX_CONNS" jsonschema:"minimum=0"`
}

// AddrConfig is a listen address. An empty metrics address disables the
// observability server.
type AddrConfig struct {
	Addr string `koanf:"addr" yaml:"addr" json:"addr,omitempty" env:"ADDR"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format" json:"format,omitempty" env:"FORMAT" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" yaml:"level" json:"level,omitempty" env:"LEVEL" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// Default returns the built-in configuration. It has no token secret and
// therefore does not pass Validate on its own.
func Default() Config {
	return Config{
		Token: TokenConfig{
			Algorithm: "HS256",
			TTL:       auth.DefaultTokenTTL,
		},
		Hasher: HasherConfig{
			Algorithm: auth.AlgorithmArgon2id,
			Argon2:    auth.DefaultArgon2Params,
		},
		Directory: DirectoryConfig{
			FoldUsername: auth.DefaultIdentifierPolicy.FoldUsername,
			FoldEmail:    auth.DefaultIdentifierPolicy.FoldEmail,
		},
		Storage: StorageConfig{
			Driver: DriverPostgres,
		},
		HTTP:    AddrConfig{Addr: "127.0.0.1:8000"},
		Metrics: AddrConfig{Addr: "127.0.0.1:9100"},
		Control: AddrConfig{Addr: "127.0.0.1:9001"},
		Log: LogConfig{
			Format: "json",
			Level:  "info",
		},
	}
}

func invalid(key, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
}

// Validate checks the configuration for values the service cannot run with.
func (c Config) Validate() error {
	if len(c.Token.Secret) < auth.MinSecretLength {
		return invalid("token.secret", "token secret must be at least %d bytes", auth.MinSecretLength)
	}
	if !slices.Contains([]string{"HS256", "HS384", "HS512"}, c.Token.Algorithm) {
		return invalid("token.algorithm", "unsupported token algorithm %q", c.Token.Algorithm)
	}
	if c.Token.TTL < auth.MinTokenTTL {
		return invalid("token.ttl", "token ttl must be at least %s, got %s", auth.MinTokenTTL, c.Token.TTL)
	}
	if !slices.Contains([]string{auth.AlgorithmArgon2id, auth.AlgorithmBcrypt}, c.Hasher.Algorithm) {
		return invalid("hasher.algorithm", "unsupported hash algorithm %q", c.Hasher.Algorithm)
	}

	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return invalid("storage.database_url", "database url is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return invalid("storage.driver", "storage driver must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Storage.Driver)
	}
	if c.Storage.MaxConns < 0 {
		return invalid("storage.max_conns", "max_conns cannot be negative")
	}

	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http address is required")
	}
	if c.Control.Addr == "" {
		return invalid("control.addr", "control address is required")
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "log.level").Wrap(err)
	}
	return nil
}

// TokenOptions converts the token section for auth.NewTokenIssuer.
func (c Config) TokenOptions() auth.TokenOptions {
	return auth.TokenOptions{
		Secret:    []byte(c.Token.Secret),
		Algorithm: c.Token.Algorithm,
		TTL:       c.Token.TTL,
		Issuer:    c.Token.Issuer,
	}
}

// HasherOptions converts the hasher section for auth.NewPasswordHasher.
func (c Config) HasherOptions() auth.HasherOptions {
	return auth.HasherOptions{
		Algorithm:  c.Hasher.Algorithm,
		Argon2:     c.Hasher.Argon2,
		BcryptCost: c.Hasher.BcryptCost,
	}
}

// IdentifierPolicy converts the directory section.
func (c Config) IdentifierPolicy() auth.IdentifierPolicy {
	return auth.IdentifierPolicy{
		FoldUsername: c.Directory.FoldUsername,
		FoldEmail:    c.Directory.FoldEmail,
	}
}

// LogOptions converts the log section.
func (c Config) LogOptions() (logging.Options, error) {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return logging.Options{}, err
	}
	return logging.Options{Format: c.Log.Format, Level: level}, nil
}

// Redact returns a copy safe to print: the token secret is replaced and
// any database password is masked.
func (c Config) Redact() Config {
	if c.Token.Secret != "" {
		c.Token.Secret = Redacted
	}
	if c.Storage.DatabaseURL != "" {
		if u, err := url.Parse(c.Storage.DatabaseURL); err == nil {
			c.Storage.DatabaseURL = u.Redacted()
		} else {
			c.Storage.DatabaseURL = Redacted
		}
	}
	return c
}

// LogValue keeps secrets out of logs when a Config is logged directly.
func (c Config) LogValue() slog.Value {
	r := c.Redact()
	return slog.GroupValue(
		slog.String("token_algorithm", r.Token.Algorithm),
		slog.Duration("token_ttl", r.Token.TTL),
		slog.String("hasher", r.Hasher.Algorithm),
		slog.String("storage_driver", r.Storage.Driver),
		slog.String("database_url", r.Storage.DatabaseURL),
		slog.String("http_addr", r.HTTP.Addr),
		slog.String("metrics_addr", r.Metrics.Addr),
		slog.String("control_addr", r.Control.Addr),
	)
}
