// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"log/slog"

	"github.com/sigil-dev/vecstore/internal/store"
)

func init() {
	store.RegisterBackend("sqlite", newVectorStore)
}

func newVectorStore(cfg store.StorageConfig, logger *slog.Logger) (store.VectorStore, error) {
	return NewVectorStore(cfg.SQLite.Path, cfg.Dimensions, logger)
}
