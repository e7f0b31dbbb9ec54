// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import "context"

// VectorStore is the capability set an embedding backend provides. Each
// method is one transaction: callers never observe a partially applied call.
//
// Implementations assume their input was validated by the caller; see
// Record.Validate, ValidateBatch and SearchQuery.Validate.
type VectorStore interface {
	// Provision drops and recreates the embeddings relation and its indexes.
	// All stored records are lost.
	Provision(ctx context.Context) error

	// Upsert inserts or fully replaces every record, all or nothing. Later
	// entries win over earlier ones with the same key.
	Upsert(ctx context.Context, records ...Record) error
	// Update overwrites an existing record and reports whether one existed.
	Update(ctx context.Context, record Record) (bool, error)
	// Delete removes a record; deleting a missing key is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Get returns the record and true, or false when no record has the key.
	Get(ctx context.Context, collection, id string) (Record, bool, error)
	// Search returns the nearest records of one collection ordered by
	// ascending cosine distance, then ID.
	Search(ctx context.Context, query SearchQuery) ([]SearchResult, error)
	// ListCollections returns the distinct populated collections, sorted.
	ListCollections(ctx context.Context) ([]string, error)
	Count(ctx context.Context, collection string) (int64, error)

	// Ping succeeds when the backend is reachable and the relation is
	// queryable.
	Ping(ctx context.Context) error
	Close() error
}
