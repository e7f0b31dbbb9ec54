// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"errors"
	"net"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/sigil-dev/vecstore/internal/store"
	vserr "github.com/sigil-dev/vecstore/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g.
// VECSTORE_STORAGE_BACKEND=postgres.
const EnvPrefix = "VECSTORE"

// Backends lists the accepted storage.backend values.
var Backends = []string{"sqlite", "postgres", "qdrant", "memory"}

// Config is the top-level vecstore configuration.
type Config struct {
	Storage store.StorageConfig `mapstructure:"storage"`
	Ingest  IngestConfig        `mapstructure:"ingest"`
}

// IngestConfig controls the bulk JSON-lines loader.
type IngestConfig struct {
	BatchSize        int     `mapstructure:"batch_size"`
	BatchesPerSecond float64 `mapstructure:"batches_per_second"` // 0 disables pacing.
	MaxAttempts      int     `mapstructure:"max_attempts"`
}

// SetDefaults registers every known key with its default. Keys must be known
// to viper for AutomaticEnv to reach them during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.dimensions", store.DefaultDimensions)
	v.SetDefault("storage.index.lists", 100)
	v.SetDefault("storage.index.probes", 10)
	v.SetDefault("storage.sqlite.path", "vecstore.db")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.max_conns", 4)
	v.SetDefault("storage.qdrant.address", "localhost:6334")
	v.SetDefault("storage.qdrant.collection", "vecstore")
	v.SetDefault("storage.qdrant.api_key", "")
	v.SetDefault("storage.qdrant.tls", false)
	v.SetDefault("storage.qdrant.hnsw_m", 0)
	v.SetDefault("storage.qdrant.hnsw_ef_construct", 0)
	v.SetDefault("storage.memory.snapshot_path", "")
	v.SetDefault("ingest.batch_size", 500)
	v.SetDefault("ingest.batches_per_second", 0)
	v.SetDefault("ingest.max_attempts", 5)
}

// SetupEnv enables VECSTORE_-prefixed environment overrides.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults only when path
// is empty) with environment overrides, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, vserr.Errorf(vserr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, vserr.Errorf(vserr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, vserr.Errorf(vserr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}
	return &cfg, nil
}

// Validate checks the configuration for logical errors. It collects every
// problem rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateIngest()...)
	return errs
}

func invalid(format string, args ...any) error {
	return vserr.Errorf(vserr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}

func (c *Config) validateStorage() []error {
	var errs []error
	s := c.Storage

	if !slices.Contains(Backends, s.Backend) {
		errs = append(errs, invalid("storage.backend must be one of [%s], got %q", strings.Join(Backends, ", "), s.Backend))
	}
	if s.Dimensions < 1 {
		errs = append(errs, invalid("storage.dimensions must be greater than 0, got %d", s.Dimensions))
	}
	if s.Index.Lists < 1 {
		errs = append(errs, invalid("storage.index.lists must be greater than 0, got %d", s.Index.Lists))
	}
	if s.Index.Probes < 1 {
		errs = append(errs, invalid("storage.index.probes must be greater than 0, got %d", s.Index.Probes))
	} else if s.Index.Lists > 0 && s.Index.Probes > s.Index.Lists {
		errs = append(errs, invalid("storage.index.probes (%d) must not exceed storage.index.lists (%d)", s.Index.Probes, s.Index.Lists))
	}

	// Backend-specific settings are only checked for the selected backend.
	switch s.Backend {
	case "sqlite":
		if s.SQLite.Path == "" {
			errs = append(errs, invalid("storage.sqlite.path must not be empty"))
		}
	case "postgres":
		if s.Postgres.DSN == "" {
			errs = append(errs, invalid("storage.postgres.dsn must not be empty"))
		}
		if s.Postgres.MaxConns < 1 {
			errs = append(errs, invalid("storage.postgres.max_conns must be greater than 0, got %d", s.Postgres.MaxConns))
		}
	case "qdrant":
		if _, _, err := net.SplitHostPort(s.Qdrant.Address); err != nil {
			errs = append(errs, invalid("storage.qdrant.address must be a host:port address, got %q: %w", s.Qdrant.Address, err))
		}
		if s.Qdrant.Collection == "" {
			errs = append(errs, invalid("storage.qdrant.collection must not be empty"))
		}
	}

	return errs
}

func (c *Config) validateIngest() []error {
	var errs []error

	if c.Ingest.BatchSize < 1 {
		errs = append(errs, invalid("ingest.batch_size must be greater than 0, got %d", c.Ingest.BatchSize))
	}
	if c.Ingest.BatchesPerSecond < 0 {
		errs = append(errs, invalid("ingest.batches_per_second must not be negative, got %g", c.Ingest.BatchesPerSecond))
	}
	if c.Ingest.MaxAttempts < 1 {
		errs = append(errs, invalid("ingest.max_attempts must be greater than 0, got %d", c.Ingest.MaxAttempts))
	}

	return errs
}
