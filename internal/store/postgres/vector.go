// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package postgres implements store.VectorStore on PostgreSQL with the
// pgvector extension and an ivfflat index.
package postgres

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/sigil-dev/vecstore/internal/store"
	vserr "github.com/sigil-dev/vecstore/pkg/errors"
)

const (
	defaultLists  = 100
	defaultProbes = 10
)

// Compile-time interface check.
var _ store.VectorStore = (*VectorStore)(nil)

// Options configures a VectorStore.
type Options struct {
	DSN        string
	MaxConns   int32
	Dimensions int
	Lists      int
	Probes     int
}

// VectorStore stores embeddings in a pgvector column. Connections are
// established lazily, so an unreachable server surfaces on first use.
type VectorStore struct {
	pool   *pgxpool.Pool
	opts   Options
	logger *slog.Logger
}

// NewVectorStore creates a connection pool for opts.DSN.
func NewVectorStore(opts Options, logger *slog.Logger) (*VectorStore, error) {
	if opts.DSN == "" {
		return nil, vserr.New(vserr.CodeConfigValidateInvalidValue, "postgres: dsn is required")
	}
	if opts.Dimensions < 1 {
		opts.Dimensions = store.DefaultDimensions
	}
	if opts.Lists < 1 {
		opts.Lists = defaultLists
	}
	if opts.Probes < 1 {
		opts.Probes = defaultProbes
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, vserr.Wrap(err, vserr.CodeConfigValidateInvalidValue, "postgres: parsing dsn")
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, vserr.Wrap(err, vserr.CodeStoreBackendUnavailable, "postgres: creating pool")
	}
	return &VectorStore{pool: pool, opts: opts, logger: logger}, nil
}

// Provision resets the embeddings table, the ivfflat index and the
// collection index in one transaction.
func (v *VectorStore) Provision(ctx context.Context) error {
	tx, err := v.pool.Begin(ctx)
	if err != nil {
		return classify(err, vserr.CodeStoreProvisionFailure, "beginning transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range provisionStatements(v.opts.Dimensions, v.opts.Lists) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return vserr.Wrapf(err, vserr.CodeStoreProvisionFailure, "executing %q", firstLine(stmt))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err, vserr.CodeStoreProvisionFailure, "committing provision")
	}

	v.logger.Debug("created ivfflat index", "lists", v.opts.Lists, "dimensions", v.opts.Dimensions)
	return nil
}

// Upsert writes every record in one transaction using a pipelined batch.
func (v *VectorStore) Upsert(ctx context.Context, records ...store.Record) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i, r := range records {
		meta, err := store.EncodeMetadata(r.Metadata)
		if err != nil {
			return vserr.Wrapf(err, vserr.CodeStoreBatchInvalid, "records[%d]: marshalling metadata", i)
		}
		batch.Queue(upsertSQL, r.ID, r.Collection, r.Content, meta, pgvector.NewVector(r.Embedding))
	}

	tx, err := v.pool.Begin(ctx)
	if err != nil {
		return classify(err, vserr.CodeStoreDatabaseFailure, "beginning transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return classify(err, vserr.CodeStoreDatabaseFailure, "upserting batch")
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err, vserr.CodeStoreDatabaseFailure, "committing upsert")
	}
	return nil
}

// Update overwrites an existing record.
func (v *VectorStore) Update(ctx context.Context, r store.Record) (bool, error) {
	meta, err := store.EncodeMetadata(r.Metadata)
	if err != nil {
		return false, vserr.Wrap(err, vserr.CodeStoreRecordInvalid, "marshalling metadata")
	}
	tag, err := v.pool.Exec(ctx, updateSQL, r.Collection, r.ID, r.Content, meta, pgvector.NewVector(r.Embedding))
	if err != nil {
		return false, classify(err, vserr.CodeStoreDatabaseFailure, "updating record")
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes a record if present.
func (v *VectorStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := v.pool.Exec(ctx, deleteSQL, collection, id); err != nil {
		return classify(err, vserr.CodeStoreDatabaseFailure, "deleting record")
	}
	return nil
}

// Get looks up a record by key.
func (v *VectorStore) Get(ctx context.Context, collection, id string) (store.Record, bool, error) {
	r, err := scanRecord(v.pool.QueryRow(ctx, getSQL, collection, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, classify(err, vserr.CodeStoreDatabaseFailure, "getting record")
	}
	return r, true, nil
}

// Search runs an approximate nearest-neighbor query through the ivfflat
// index. Recall depends on the probe count, which is set for the enclosing
// transaction only. Rows past q.Limit are fetched so the engine can order
// equal distances by ID before trimming.
func (v *VectorStore) Search(ctx context.Context, q store.SearchQuery) ([]store.SearchResult, error) {
	tx, err := v.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, classify(err, vserr.CodeStoreDatabaseFailure, "beginning transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, setProbesSQL(v.opts.Probes)); err != nil {
		return nil, classify(err, vserr.CodeStoreDatabaseFailure, "setting ivfflat.probes")
	}

	args := []any{pgvector.NewVector(q.Embedding), q.Collection, fetchLimit(q.Limit)}
	if q.Threshold > 0 {
		args = append(args, q.Threshold)
	}
	rows, err := tx.Query(ctx, searchSQL(q.Threshold > 0), args...)
	if err != nil {
		return nil, classify(err, vserr.CodeStoreDatabaseFailure, "searching")
	}
	defer rows.Close()

	results := []store.SearchResult{}
	for rows.Next() {
		var res store.SearchResult
		var meta []byte
		var emb pgvector.Vector
		if err := rows.Scan(&res.ID, &res.Collection, &res.Content, &meta, &emb, &res.Distance); err != nil {
			return nil, classify(err, vserr.CodeStoreDatabaseFailure, "scanning search result")
		}
		if err := fill(&res.Record, meta, emb); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, vserr.CodeStoreDatabaseFailure, "iterating search results")
	}
	return results, nil
}

// ListCollections returns the distinct collection names, sorted.
func (v *VectorStore) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := v.pool.Query(ctx, listCollectionsSQL)
	if err != nil {
		return nil, classify(err, vserr.CodeStoreDatabaseFailure, "listing collections")
	}
	collections, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify(err, vserr.CodeStoreDatabaseFailure, "scanning collections")
	}
	if collections == nil {
		collections = []string{}
	}
	return collections, nil
}

// Count returns the number of records in a collection.
func (v *VectorStore) Count(ctx context.Context, collection string) (int64, error) {
	var n int64
	if err := v.pool.QueryRow(ctx, countSQL, collection).Scan(&n); err != nil {
		return 0, classify(err, vserr.CodeStoreDatabaseFailure, "counting records")
	}
	return n, nil
}

// Ping checks connectivity and that the embeddings table is queryable.
func (v *VectorStore) Ping(ctx context.Context) error {
	if err := v.pool.Ping(ctx); err != nil {
		return vserr.Wrap(err, vserr.CodeStoreBackendUnavailable, "pinging postgres")
	}
	var one int
	err := v.pool.QueryRow(ctx, probeSQL).Scan(&one)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return classify(err, vserr.CodeStoreDatabaseFailure, "probing embeddings table")
	}
	return nil
}

// Close closes every pooled connection.
func (v *VectorStore) Close() error {
	v.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (store.Record, error) {
	var r store.Record
	var meta []byte
	var emb pgvector.Vector
	if err := row.Scan(&r.ID, &r.Collection, &r.Content, &meta, &emb); err != nil {
		return store.Record{}, err
	}
	if err := fill(&r, meta, emb); err != nil {
		return store.Record{}, err
	}
	return r, nil
}

func fill(r *store.Record, meta []byte, emb pgvector.Vector) error {
	m, err := store.DecodeMetadata(meta)
	if err != nil {
		return vserr.Wrapf(err, vserr.CodeStoreDatabaseFailure, "unmarshalling metadata of %s/%s", r.Collection, r.ID)
	}
	r.Metadata = m
	r.Embedding = emb.Slice()
	return nil
}

// classify wraps err with code, or with CodeStoreBackendUnavailable when the
// server is unreachable or the embeddings table does not exist.
func classify(err error, code vserr.Code, msg string) error {
	if isUnavailable(err) {
		code = vserr.CodeStoreBackendUnavailable
	}
	return vserr.Wrap(err, code, msg)
}

func isUnavailable(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42P01", // undefined_table
			pgErr.Code == "3D000",                 // invalid_catalog_name
			strings.HasPrefix(pgErr.Code, "08"),   // connection_exception
			strings.HasPrefix(pgErr.Code, "57P"): // operator intervention
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}

func firstLine(stmt string) string {
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return stmt[:i]
	}
	return stmt
}
