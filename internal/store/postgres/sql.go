// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package postgres

import "fmt"

const tableName = "embeddings"

// provisionStatements returns the DDL that resets the embeddings relation.
// Dimensions and lists are integers validated by the caller, so formatting
// them into the statements is safe.
func provisionStatements(dimensions, lists int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`DROP TABLE IF EXISTS ` + tableName,
		fmt.Sprintf(`CREATE TABLE %s (
	id         TEXT NOT NULL,
	collection TEXT NOT NULL,
	content    TEXT NOT NULL,
	metadata   JSONB,
	embedding  vector(%d) NOT NULL,
	PRIMARY KEY (collection, id)
)`, tableName, dimensions),
		fmt.Sprintf(`CREATE INDEX %[1]s_embedding_idx ON %[1]s
	USING ivfflat (embedding vector_cosine_ops) WITH (lists = %[2]d)`, tableName, lists),
		fmt.Sprintf(`CREATE INDEX %[1]s_collection_idx ON %[1]s (collection)`, tableName),
	}
}

const upsertSQL = `INSERT INTO ` + tableName + ` (id, collection, content, metadata, embedding)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (collection, id) DO UPDATE SET
	content = EXCLUDED.content,
	metadata = EXCLUDED.metadata,
	embedding = EXCLUDED.embedding`

const updateSQL = `UPDATE ` + tableName + ` SET content = $3, metadata = $4, embedding = $5
WHERE collection = $1 AND id = $2`

const deleteSQL = `DELETE FROM ` + tableName + ` WHERE collection = $1 AND id = $2`

const getSQL = `SELECT id, collection, content, metadata, embedding FROM ` + tableName + `
WHERE collection = $1 AND id = $2`

const listCollectionsSQL = `SELECT DISTINCT collection FROM ` + tableName + ` ORDER BY collection`

const countSQL = `SELECT COUNT(*) FROM ` + tableName + ` WHERE collection = $1`

const probeSQL = `SELECT 1 FROM ` + tableName + ` LIMIT 1`

// searchSQL orders by the bare cosine distance expression, the shape the
// ivfflat index can serve. $1 is the query vector, $2 the collection and $3
// the row limit. With withThreshold, $4 is the maximum distance, applied
// outside the index scan so it cannot starve the candidate list.
func searchSQL(withThreshold bool) string {
	q := `SELECT id, collection, content, metadata, embedding, embedding <=> $1 AS distance
FROM ` + tableName + `
WHERE collection = $2
ORDER BY embedding <=> $1
LIMIT $3`
	if !withThreshold {
		return q
	}
	return `SELECT * FROM (` + q + `) nearest
WHERE distance <= $4`
}

// tieWindow is how many rows past the requested limit a search fetches. The
// index returns equal distances in arbitrary order; the extra rows let the
// caller break ties at the cut by ID before trimming.
const tieWindow = 16

func fetchLimit(limit int) int {
	return limit + tieWindow
}

func setProbesSQL(probes int) string {
	return fmt.Sprintf(`SET LOCAL ivfflat.probes = %d`, probes)
}
