// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package embeddings is the engine callers use to store and retrieve
// embeddings. It validates input at the boundary, serializes schema changes
// against every other operation, and delegates storage to a store.VectorStore
// backend.
package embeddings

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sigil-dev/vecstore/internal/secrets"
	"github.com/sigil-dev/vecstore/internal/store"
	vserr "github.com/sigil-dev/vecstore/pkg/errors"
)

const tracerName = "github.com/sigil-dev/vecstore/internal/embeddings"

// Engine is safe for concurrent use. Provision holds the write lock; every
// other operation holds the read lock.
type Engine struct {
	store      store.VectorStore
	backend    string
	dimensions int
	logger     *slog.Logger

	mu sync.RWMutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithBackendName sets the backend name reported by HealthCheck and attached
// to errors.
func WithBackendName(name string) Option {
	return func(e *Engine) { e.backend = name }
}

// New wraps an opened backend. dimensions is the embedding length enforced on
// every write and query; values < 1 select store.DefaultDimensions.
func New(vs store.VectorStore, dimensions int, opts ...Option) *Engine {
	if dimensions < 1 {
		dimensions = store.DefaultDimensions
	}
	e := &Engine{
		store:      vs,
		backend:    "custom",
		dimensions: dimensions,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open opens the backend selected by cfg and wraps it in an Engine.
func Open(cfg store.StorageConfig, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	vs, err := store.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	backend := cfg.Backend
	if backend == "" {
		backend = "sqlite"
	}
	return New(vs, cfg.EffectiveDimensions(),
		WithLogger(logger.With("backend", backend)),
		WithBackendName(backend),
	), nil
}

// OpenWithSecrets resolves keyring:// references in the credential fields of
// cfg through s, then opens it like Open. Nothing is opened when a reference
// cannot be resolved.
func OpenWithSecrets(cfg store.StorageConfig, s secrets.Store, logger *slog.Logger) (*Engine, error) {
	if err := secrets.ResolveStorageSecrets(&cfg, s); err != nil {
		return nil, err
	}
	return Open(cfg, logger)
}

// Dimensions returns the enforced embedding length.
func (e *Engine) Dimensions() int { return e.dimensions }

// Backend returns the backend name.
func (e *Engine) Backend() string { return e.backend }

// Close releases the backend.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Close()
}

type op struct {
	end func(err error) error
	ctx context.Context
}

// start opens a span for an engine operation. The returned end func records
// err on the span and tags it with the backend name.
func (e *Engine) start(ctx context.Context, name string, attrs ...attribute.KeyValue) op {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "embeddings."+name)
	span.SetAttributes(append(attrs, attribute.String("vecstore.backend", e.backend))...)
	return op{
		ctx: ctx,
		end: func(err error) error {
			defer span.End()
			if err == nil {
				return nil
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return vserr.With(err, vserr.FieldBackend(e.backend))
		},
	}
}

func collectionAttr(collection string) attribute.KeyValue {
	return attribute.String("vecstore.collection", collection)
}
