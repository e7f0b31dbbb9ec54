// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package memory

import (
	"log/slog"

	"github.com/sigil-dev/vecstore/internal/store"
)

func init() {
	store.RegisterBackend("memory", func(cfg store.StorageConfig, logger *slog.Logger) (store.VectorStore, error) {
		return NewVectorStore(Options{
			Dimensions:   cfg.Dimensions,
			Lists:        cfg.Index.Lists,
			Probes:       cfg.Index.Probes,
			SnapshotPath: cfg.Memory.SnapshotPath,
		}, logger)
	})
}
