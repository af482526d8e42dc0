// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

package config

import (
	"errors"
	"io/fs"
	"maps"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/knowly/knowly/internal/xdg"
)

// flagKeys maps command-line flag names to config keys. Flags not listed
// here are ignored by Load.
var flagKeys = map[string]string{
	"http-addr":    "http.addr",
	"metrics-addr": "metrics.addr",
	"control-addr": "control.addr",
	"storage":      "storage.driver",
	"database-url": "storage.database_url",
	"auto-migrate": "storage.auto_migrate",
	"log-format":   "log.format",
	"log-level":    "log.level",
}

// RegisterFlags adds the config-backed flags to flags. Only flags the user
// sets explicitly override other sources.
func RegisterFlags(flags *pflag.FlagSet) {
	d := Default()
	flags.String("http-addr", d.HTTP.Addr, "HTTP API listen address")
	flags.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	flags.String("control-addr", d.Control.Addr, "gRPC health listen address")
	flags.String("storage", d.Storage.Driver, "account storage driver (postgres or memory)")
	flags.String("database-url", "", "PostgreSQL connection URL")
	flags.Bool("auto-migrate", false, "apply pending migrations on startup")
	flags.String("log-format", d.Log.Format, "log format (json or text)")
	flags.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
}

// Options controls where Load reads from.
type Options struct {
	// File is the YAML config path. Empty means xdg.ConfigFile(), which
	// may be absent. An explicit File must exist.
	File string
	// EnvFiles are dotenv files read before the environment. Missing
	// files are skipped. Nil means ".env".
	EnvFiles []string
	// Environ replaces the process environment. Nil means os.Environ().
	Environ []string
	// Flags, when set, contributes explicitly changed flags.
	Flags *pflag.FlagSet
}

// legacyEnv holds the unprefixed variables older deployments set.
type legacyEnv struct {
	DatabaseURL   string `env:"DATABASE_URL"`
	SecretKey     string `env:"SECRET_KEY"`
	Algorithm     string `env:"ALGORITHM"`
	ExpireMinutes int    `env:"ACCESS_TOKEN_EXPIRE_MINUTES"`
}

func (l legacyEnv) apply(cfg *Config) {
	if l.DatabaseURL != "" {
		cfg.Storage.DatabaseURL = l.DatabaseURL
	}
	if l.SecretKey != "" {
		cfg.Token.Secret = l.SecretKey
	}
	if l.Algorithm != "" {
		cfg.Token.Algorithm = l.Algorithm
	}
	if l.ExpireMinutes != 0 {
		cfg.Token.TTL = time.Duration(l.ExpireMinutes) * time.Minute
	}
}

// Load builds a Config from every source and validates it.
func Load(opts Options) (Config, error) {
	cfg, err := load(opts)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadUnvalidated builds a Config like Load without the final Validate.
func LoadUnvalidated(opts Options) (Config, error) {
	return load(opts)
}

func load(opts Options) (Config, error) {
	cfg := Default()

	if err := loadFile(&cfg, opts.File); err != nil {
		return Config{}, err
	}

	environ, err := environment(opts)
	if err != nil {
		return Config{}, err
	}

	var legacy legacyEnv
	if err := env.ParseWithOptions(&legacy, env.Options{Environment: environ}); err != nil {
		return Config{}, oops.Code("CONFIG_ENV_INVALID").Wrap(err)
	}
	legacy.apply(&cfg)

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return Config{}, oops.Code("CONFIG_ENV_INVALID").Wrap(err)
	}

	if opts.Flags != nil {
		if err := loadFlags(&cfg, opts.Flags); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	required := path != ""
	if !required {
		path = xdg.ConfigFile()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
	}

	if err := ValidateYAML(data); err != nil {
		return oops.Code("CONFIG_SCHEMA_INVALID").With("path", path).Wrap(err)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_PARSE_FAILED").With("path", path).Wrap(err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return oops.Code("CONFIG_PARSE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}

// environment merges dotenv files under the real environment.
func environment(opts Options) (map[string]string, error) {
	files := opts.EnvFiles
	if files == nil {
		files = []string{".env"}
	}

	merged := map[string]string{}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		vars, err := godotenv.Read(f)
		if err != nil {
			return nil, oops.Code("CONFIG_DOTENV_INVALID").With("path", f).Wrap(err)
		}
		maps.Copy(merged, vars)
	}

	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	return merged, nil
}

func loadFlags(cfg *Config, flags *pflag.FlagSet) error {
	k := koanf.New(".")
	provider := posflag.ProviderWithFlag(flags, ".", nil, func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed {
			return "", nil
		}
		return key, posflag.FlagVal(flags, f)
	})
	if err := k.Load(provider, nil); err != nil {
		return oops.Code("CONFIG_FLAGS_INVALID").Wrap(err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return oops.Code("CONFIG_FLAGS_INVALID").Wrap(err)
	}
	return nil
}
