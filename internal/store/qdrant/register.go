// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package qdrant

import (
	"log/slog"

	"github.com/sigil-dev/vecstore/internal/store"
)

func init() {
	store.RegisterBackend("qdrant", func(cfg store.StorageConfig, logger *slog.Logger) (store.VectorStore, error) {
		return NewVectorStore(Options{
			Address:         cfg.Qdrant.Address,
			Collection:      cfg.Qdrant.Collection,
			APIKey:          cfg.Qdrant.APIKey,
			TLS:             cfg.Qdrant.TLS,
			Dimensions:      cfg.Dimensions,
			HNSWM:           cfg.Qdrant.HNSWM,
			HNSWEfConstruct: cfg.Qdrant.HNSWEfConstruct,
		}, logger)
	})
}
