// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/mattn/go-sqlite3"

	"github.com/sigil-dev/vecstore/internal/store"
	vserr "github.com/sigil-dev/vecstore/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
}

// Compile-time interface check.
var _ store.VectorStore = (*VectorStore)(nil)

// VectorStore implements store.VectorStore backed by SQLite with sqlite-vec.
//
// Records live in a plain table keyed by (collection, id); distances are
// computed with vec_distance_cosine. sqlite-vec has no clustered index, so
// searches are exact scans of one collection.
type VectorStore struct {
	db         *sql.DB
	dimensions int
	logger     *slog.Logger
}

// NewVectorStore opens (or creates) the SQLite database at dbPath. The schema
// is not created here; call Provision once before use.
func NewVectorStore(dbPath string, dimensions int, logger *slog.Logger) (*VectorStore, error) {
	if dbPath == "" {
		return nil, vserr.New(vserr.CodeConfigValidateInvalidValue, "sqlite: database path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, vserr.Errorf(vserr.CodeStoreBackendUnavailable, "creating sqlite directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, vserr.Errorf(vserr.CodeStoreBackendUnavailable, "opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, vserr.Errorf(vserr.CodeStoreBackendUnavailable, "pinging sqlite db: %w", err)
	}

	return &VectorStore{db: db, dimensions: dimensions, logger: logger}, nil
}

// Provision drops and recreates the embeddings table and its indexes.
func (v *VectorStore) Provision(ctx context.Context) error {
	ddl := `
DROP TABLE IF EXISTS embeddings;

CREATE TABLE embeddings (
	id         TEXT NOT NULL,
	collection TEXT NOT NULL,
	content    TEXT NOT NULL,
	metadata   TEXT,
	embedding  BLOB NOT NULL,
	PRIMARY KEY (collection, id)
);

CREATE INDEX idx_embeddings_collection ON embeddings(collection);
`
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return vserr.Errorf(vserr.CodeStoreProvisionFailure, "beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return vserr.Errorf(vserr.CodeStoreProvisionFailure, "creating embeddings table: %w", err)
	}
	// Probe the extension so a build without sqlite-vec fails here, not on
	// the first search.
	var version string
	if err := tx.QueryRowContext(ctx, `SELECT vec_version()`).Scan(&version); err != nil {
		return vserr.Errorf(vserr.CodeStoreProvisionFailure, "sqlite-vec extension unavailable: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return vserr.Errorf(vserr.CodeStoreProvisionFailure, "committing provision: %w", err)
	}

	v.logger.Debug("sqlite-vec has no clustered index; searches are exact", "vec_version", version, "dimensions", v.dimensions)
	return nil
}

// Upsert inserts or replaces records in one transaction.
func (v *VectorStore) Upsert(ctx context.Context, records ...store.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	const q = `INSERT INTO embeddings (id, collection, content, metadata, embedding)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(collection, id) DO UPDATE SET
	content = excluded.content,
	metadata = excluded.metadata,
	embedding = excluded.embedding`

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return wrapErr(err, "preparing upsert")
	}
	defer func() { _ = stmt.Close() }()

	for i, r := range records {
		meta, blob, err := encodeRecord(r)
		if err != nil {
			return vserr.Wrapf(err, vserr.CodeStoreBatchInvalid, "records[%d]: encoding", i)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Collection, r.Content, meta, blob); err != nil {
			return wrapErr(err, "upserting %s/%s", r.Collection, r.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapErr(err, "committing upsert of %d records", len(records))
	}
	return nil
}

// Update overwrites an existing record. It reports false when none exists.
func (v *VectorStore) Update(ctx context.Context, r store.Record) (bool, error) {
	meta, blob, err := encodeRecord(r)
	if err != nil {
		return false, vserr.Wrap(err, vserr.CodeStoreRecordInvalid, "encoding record")
	}

	const q = `UPDATE embeddings SET content = ?, metadata = ?, embedding = ?
WHERE collection = ? AND id = ?`

	res, err := v.db.ExecContext(ctx, q, r.Content, meta, blob, r.Collection, r.ID)
	if err != nil {
		return false, wrapErr(err, "updating %s/%s", r.Collection, r.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr(err, "reading rows affected")
	}
	return n > 0, nil
}

// Delete removes a record if present.
func (v *VectorStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := v.db.ExecContext(ctx, `DELETE FROM embeddings WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return wrapErr(err, "deleting %s/%s", collection, id)
	}
	return nil
}

// Get looks up a record by key.
func (v *VectorStore) Get(ctx context.Context, collection, id string) (store.Record, bool, error) {
	const q = `SELECT id, collection, content, metadata, embedding FROM embeddings
WHERE collection = ? AND id = ?`

	r, err := scanRecord(v.db.QueryRowContext(ctx, q, collection, id))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, wrapErr(err, "getting %s/%s", collection, id)
	}
	return r, true, nil
}

// Search scans the collection ordered by cosine distance to the query.
func (v *VectorStore) Search(ctx context.Context, query store.SearchQuery) ([]store.SearchResult, error) {
	blob, err := sqlite_vec.SerializeFloat32(query.Embedding)
	if err != nil {
		return nil, vserr.Wrap(err, vserr.CodeStoreSearchInvalid, "serializing query vector")
	}

	q := `SELECT id, collection, content, metadata, embedding, distance FROM (
	SELECT id, collection, content, metadata, embedding,
		vec_distance_cosine(embedding, ?) AS distance
	FROM embeddings
	WHERE collection = ?
)`
	args := []any{blob, query.Collection}
	if query.Threshold > 0 {
		q += "\nWHERE distance <= ?"
		args = append(args, query.Threshold)
	}
	q += "\nORDER BY distance, id\nLIMIT ?"
	args = append(args, query.Limit)

	rows, err := v.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr(err, "searching %s", query.Collection)
	}
	defer func() { _ = rows.Close() }()

	var results []store.SearchResult
	for rows.Next() {
		var res store.SearchResult
		var meta sql.NullString
		var emb []byte
		if err := rows.Scan(&res.ID, &res.Collection, &res.Content, &meta, &emb, &res.Distance); err != nil {
			return nil, wrapErr(err, "scanning search result")
		}
		if err := decodeInto(&res.Record, meta, emb); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err, "iterating search results")
	}

	return results, nil
}

// ListCollections returns the distinct collection names, sorted.
func (v *VectorStore) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := v.db.QueryContext(ctx, `SELECT DISTINCT collection FROM embeddings ORDER BY collection`)
	if err != nil {
		return nil, wrapErr(err, "listing collections")
	}
	defer func() { _ = rows.Close() }()

	collections := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapErr(err, "scanning collection")
		}
		collections = append(collections, name)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err, "iterating collections")
	}
	return collections, nil
}

// Count returns the number of records in a collection.
func (v *VectorStore) Count(ctx context.Context, collection string) (int64, error) {
	var n int64
	if err := v.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE collection = ?`, collection).Scan(&n); err != nil {
		return 0, wrapErr(err, "counting %s", collection)
	}
	return n, nil
}

// Ping checks that the database is reachable and the table is queryable.
func (v *VectorStore) Ping(ctx context.Context) error {
	if err := v.db.PingContext(ctx); err != nil {
		return vserr.Errorf(vserr.CodeStoreBackendUnavailable, "pinging sqlite db: %w", err)
	}
	var one int
	err := v.db.QueryRowContext(ctx, `SELECT 1 FROM embeddings LIMIT 1`).Scan(&one)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return wrapErr(err, "probing embeddings table")
	}
	return nil
}

// Close closes the underlying database connection.
func (v *VectorStore) Close() error {
	return v.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (store.Record, error) {
	var r store.Record
	var meta sql.NullString
	var emb []byte
	if err := row.Scan(&r.ID, &r.Collection, &r.Content, &meta, &emb); err != nil {
		return store.Record{}, err
	}
	if err := decodeInto(&r, meta, emb); err != nil {
		return store.Record{}, err
	}
	return r, nil
}

func encodeRecord(r store.Record) (sql.NullString, []byte, error) {
	raw, err := store.EncodeMetadata(r.Metadata)
	if err != nil {
		return sql.NullString{}, nil, fmt.Errorf("marshalling metadata: %w", err)
	}
	blob, err := sqlite_vec.SerializeFloat32(r.Embedding)
	if err != nil {
		return sql.NullString{}, nil, fmt.Errorf("serializing embedding: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: raw != nil}, blob, nil
}

func decodeInto(r *store.Record, meta sql.NullString, emb []byte) error {
	if meta.Valid {
		m, err := store.DecodeMetadata([]byte(meta.String))
		if err != nil {
			return vserr.Errorf(vserr.CodeStoreDatabaseFailure, "unmarshalling metadata of %s/%s: %w", r.Collection, r.ID, err)
		}
		r.Metadata = m
	}
	embedding, err := deserializeFloat32(emb)
	if err != nil {
		return vserr.Errorf(vserr.CodeStoreDatabaseFailure, "decoding embedding of %s/%s: %w", r.Collection, r.ID, err)
	}
	r.Embedding = embedding
	return nil
}

// deserializeFloat32 is the inverse of sqlite_vec.SerializeFloat32, which
// writes little-endian IEEE-754 values.
func deserializeFloat32(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}

// wrapErr classifies a database error: a missing table or an unreachable
// database file is reported as backend unavailable.
func wrapErr(err error, format string, args ...any) error {
	code := vserr.CodeStoreDatabaseFailure
	if isUnavailable(err) {
		code = vserr.CodeStoreBackendUnavailable
	}
	return vserr.Wrapf(err, code, format, args...)
}

func isUnavailable(err error) bool {
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if strings.Contains(err.Error(), "no such table") {
		return true
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrNotADB, sqlite3.ErrIoErr:
			return true
		}
	}
	return false
}
