// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

// DefaultDimensions is the embedding length used when none is configured.
// Changing it requires re-provisioning every backend.
const DefaultDimensions = 100

// Record is a single embedding keyed by (Collection, ID).
type Record struct {
	ID         string `json:"id" yaml:"id"`
	Collection string `json:"collection" yaml:"collection"`
	Content    string `json:"content" yaml:"content"`

	// Metadata is stored as a JSON document and read back decoded, so it
	// round-trips with JSON equality rather than Go type identity: every
	// number comes back as float64, and nested slices and maps come back as
	// []any and map[string]any. nil means absent, distinct from an empty map.
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	Embedding []float32 `json:"embedding" yaml:"embedding,flow"`
}

// Key returns the composite primary key of the record.
func (r Record) Key() Key {
	return Key{Collection: r.Collection, ID: r.ID}
}

// Key identifies a record. IDs are unique only within a collection.
type Key struct {
	Collection string
	ID         string
}

// SearchQuery describes a nearest-neighbor search scoped to one collection.
type SearchQuery struct {
	Embedding  []float32
	Collection string
	Limit      int
	// Threshold is the maximum cosine distance a result may have.
	// Zero disables filtering.
	Threshold float64
}

// SearchResult is a record together with its cosine distance to the query.
// Lower distance means more similar; 0.0 is an exact directional match.
type SearchResult struct {
	Record   `yaml:",inline"`
	Distance float64 `json:"distance" yaml:"distance"`
}
