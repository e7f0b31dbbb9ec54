// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package embeddings

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sigil-dev/vecstore/internal/store"
)

// UpsertOne inserts the record or fully replaces the one with the same
// (Collection, ID). Invalid input leaves storage unchanged.
func (e *Engine) UpsertOne(ctx context.Context, r store.Record) (err error) {
	o := e.start(ctx, "UpsertOne", collectionAttr(r.Collection))
	defer func() { err = o.end(err) }()

	if err := r.Validate(e.dimensions); err != nil {
		return err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.store.Upsert(o.ctx, r); err != nil {
		return err
	}
	e.logger.Debug("upserted record", "collection", r.Collection, "id", r.ID)
	return nil
}

// UpsertMany applies the batch all or nothing. Every entry is validated
// before anything is written; the first malformed entry fails the call and
// is named by its index. When the batch holds the same key more than once
// the last entry wins. An empty batch is a no-op.
func (e *Engine) UpsertMany(ctx context.Context, records []store.Record) (err error) {
	o := e.start(ctx, "UpsertMany", attribute.Int("vecstore.batch_size", len(records)))
	defer func() { err = o.end(err) }()

	if len(records) == 0 {
		return nil
	}
	if err := store.ValidateBatch(records, e.dimensions); err != nil {
		return err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	batch := dedupe(records)
	if err := e.store.Upsert(o.ctx, batch...); err != nil {
		return err
	}
	e.logger.Debug("upserted batch", "records", len(records), "unique", len(batch))
	return nil
}

// Update overwrites an existing record. It returns false, and writes
// nothing, when no record has the key.
func (e *Engine) Update(ctx context.Context, r store.Record) (updated bool, err error) {
	o := e.start(ctx, "Update", collectionAttr(r.Collection))
	defer func() { err = o.end(err) }()

	if err := r.Validate(e.dimensions); err != nil {
		return false, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	updated, err = e.store.Update(o.ctx, r)
	if err != nil {
		return false, err
	}
	e.logger.Debug("updated record", "collection", r.Collection, "id", r.ID, "found", updated)
	return updated, nil
}

// Delete removes the record with the key. Deleting a missing record is a
// no-op.
func (e *Engine) Delete(ctx context.Context, collection, id string) (err error) {
	o := e.start(ctx, "Delete", collectionAttr(collection))
	defer func() { err = o.end(err) }()

	if err := store.ValidateKey(collection, id); err != nil {
		return err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.store.Delete(o.ctx, collection, id); err != nil {
		return err
	}
	e.logger.Debug("deleted record", "collection", collection, "id", id)
	return nil
}

// dedupe keeps the last occurrence of every key, in the order those last
// occurrences appear.
func dedupe(records []store.Record) []store.Record {
	last := make(map[store.Key]int, len(records))
	for i, r := range records {
		last[r.Key()] = i
	}
	if len(last) == len(records) {
		return records
	}
	out := make([]store.Record, 0, len(last))
	for i, r := range records {
		if last[r.Key()] == i {
			out = append(out, r)
		}
	}
	return out
}
