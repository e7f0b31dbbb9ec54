// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sigil-dev/vecstore/internal/store"
	vserr "github.com/sigil-dev/vecstore/pkg/errors"
	"github.com/sigil-dev/vecstore/pkg/health"
)

// GetByID returns the record with the key. The bool is false, with a nil
// error, when no such record exists.
func (e *Engine) GetByID(ctx context.Context, collection, id string) (rec store.Record, found bool, err error) {
	o := e.start(ctx, "GetByID", collectionAttr(collection))
	defer func() { err = o.end(err) }()

	if err := store.ValidateKey(collection, id); err != nil {
		return store.Record{}, false, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.store.Get(o.ctx, collection, id)
}

// Search returns up to q.Limit records of q.Collection ordered by ascending
// cosine distance to q.Embedding, ties broken by ascending ID. When
// q.Threshold is positive, results farther than it are dropped before the
// limit applies. Backends with a clustered index answer approximately.
func (e *Engine) Search(ctx context.Context, q store.SearchQuery) (results []store.SearchResult, err error) {
	o := e.start(ctx, "Search", collectionAttr(q.Collection), attribute.Int("vecstore.limit", q.Limit))
	defer func() { err = o.end(err) }()

	if err := q.Validate(e.dimensions); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	results, err = e.store.Search(o.ctx, q)
	if err != nil {
		return nil, err
	}
	store.SortResults(results)
	results = store.TrimResults(results, q)
	if results == nil {
		results = []store.SearchResult{}
	}
	e.logger.Debug("searched collection", "collection", q.Collection, "limit", q.Limit, "results", len(results))
	return results, nil
}

// ListCollections returns every collection holding at least one record,
// sorted lexicographically.
func (e *Engine) ListCollections(ctx context.Context) (collections []string, err error) {
	o := e.start(ctx, "ListCollections")
	defer func() { err = o.end(err) }()

	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.store.ListCollections(o.ctx)
}

// Count returns the number of records in a collection.
func (e *Engine) Count(ctx context.Context, collection string) (n int64, err error) {
	o := e.start(ctx, "Count", collectionAttr(collection))
	defer func() { err = o.end(err) }()

	if collection == "" {
		return 0, vserr.New(vserr.CodeStoreRecordInvalid, "count: collection is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.store.Count(o.ctx, collection)
}

// HealthCheck probes the backend. The report is healthy only when the
// backend is reachable and the embeddings relation answers a trivial query.
func (e *Engine) HealthCheck(ctx context.Context) health.Report {
	o := e.start(ctx, "HealthCheck")

	e.mu.RLock()
	defer e.mu.RUnlock()

	started := time.Now()
	err := e.ping(o.ctx)
	report := health.Report{
		Healthy:   err == nil,
		Backend:   e.backend,
		Latency:   time.Since(started),
		CheckedAt: started.UTC(),
	}
	if err != nil {
		report.Error = err.Error()
		e.logger.Warn("health check failed", "error", err)
	}
	_ = o.end(err)
	return report
}

func (e *Engine) ping(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = vserr.Errorf(vserr.CodeStoreBackendUnavailable, "backend probe panicked: %v", r)
		}
	}()
	return e.store.Ping(ctx)
}
