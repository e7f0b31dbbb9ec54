// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

// StorageConfig controls which backend the store factory opens and how.
type StorageConfig struct {
	Backend    string         `mapstructure:"backend"`
	Dimensions int            `mapstructure:"dimensions"` // 0 uses DefaultDimensions.
	Index      IndexConfig    `mapstructure:"index"`
	SQLite     SQLiteConfig   `mapstructure:"sqlite"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
	Qdrant     QdrantConfig   `mapstructure:"qdrant"`
	Memory     MemoryConfig   `mapstructure:"memory"`
}

// IndexConfig tunes clustered ANN indexes. More lists make the index
// costlier to build and each probe cheaper; more probes raise recall at the
// cost of latency.
type IndexConfig struct {
	Lists  int `mapstructure:"lists"`
	Probes int `mapstructure:"probes"`
}

// SQLiteConfig configures the sqlite-vec backend.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig configures the pgvector backend.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// QdrantConfig configures the Qdrant backend. All records live in one Qdrant
// collection; record collections are a payload field.
type QdrantConfig struct {
	Address         string `mapstructure:"address"`
	Collection      string `mapstructure:"collection"`
	APIKey          string `mapstructure:"api_key"`
	TLS             bool   `mapstructure:"tls"`
	HNSWM           uint64 `mapstructure:"hnsw_m"`
	HNSWEfConstruct uint64 `mapstructure:"hnsw_ef_construct"`
}

// MemoryConfig configures the in-process backend.
type MemoryConfig struct {
	SnapshotPath string `mapstructure:"snapshot_path"` // empty disables persistence.
}

// EffectiveDimensions returns the configured dimensionality or the default.
func (c StorageConfig) EffectiveDimensions() int {
	if c.Dimensions > 0 {
		return c.Dimensions
	}
	return DefaultDimensions
}
