// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package postgres

import (
	"log/slog"

	"github.com/sigil-dev/vecstore/internal/store"
)

func init() {
	store.RegisterBackend("postgres", func(cfg store.StorageConfig, logger *slog.Logger) (store.VectorStore, error) {
		return NewVectorStore(Options{
			DSN:        cfg.Postgres.DSN,
			MaxConns:   cfg.Postgres.MaxConns,
			Dimensions: cfg.Dimensions,
			Lists:      cfg.Index.Lists,
			Probes:     cfg.Index.Probes,
		}, logger)
	})
}
