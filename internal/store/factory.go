// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"log/slog"
	"sort"
	"sync"

	vserr "github.com/sigil-dev/vecstore/pkg/errors"
)

// defaultBackend is used when StorageConfig.Backend is empty.
const defaultBackend = "sqlite"

// Factory opens a backend from its configuration.
type Factory func(cfg StorageConfig, logger *slog.Logger) (VectorStore, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers the factory for a named storage backend.
// Backend packages call this from init(). This function is goroutine-safe.
func RegisterBackend(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolveBackend returns the effective backend name, defaulting to "sqlite".
func resolveBackend(cfg StorageConfig) string {
	if cfg.Backend == "" {
		return defaultBackend
	}
	return cfg.Backend
}

// Open creates the vector store selected by cfg.Backend.
func Open(cfg StorageConfig, logger *slog.Logger) (VectorStore, error) {
	backend := resolveBackend(cfg)

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, vserr.Errorf(vserr.CodeStoreBackendUnsupported, "unsupported storage backend: %q", backend)
	}

	if logger == nil {
		logger = slog.Default()
	}
	cfg.Backend = backend
	cfg.Dimensions = cfg.EffectiveDimensions()

	return factory(cfg, logger.With("backend", backend))
}
