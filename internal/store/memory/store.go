// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package memory is an in-process store.VectorStore. Records are kept in a
// slot table; roaring bitmaps map collections and IVF lists to slots. An
// optional zstd-compressed snapshot persists the data across restarts.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

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
	Dimensions int
	// Lists is the IVF cluster count. The index is trained once the store
	// holds at least Lists records; below that every search is exact.
	Lists int
	// Probes is the number of lists scanned per search.
	Probes int
	// SnapshotPath, when set, is loaded on open and written on Close.
	SnapshotPath string
}

// VectorStore is safe for concurrent use.
type VectorStore struct {
	opts   Options
	logger *slog.Logger

	mu          sync.RWMutex
	provisioned bool
	closed      bool
	slots       []*slot
	free        []uint32
	keys        map[store.Key]uint32
	collections map[string]*roaring.Bitmap
	index       *ivfIndex
}

type slot struct {
	record store.Record
	unit   []float32
}

// NewVectorStore creates a store. When opts.SnapshotPath names an existing
// snapshot it is loaded and the store starts provisioned.
func NewVectorStore(opts Options, logger *slog.Logger) (*VectorStore, error) {
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

	vs := &VectorStore{opts: opts, logger: logger}
	vs.reset()

	if opts.SnapshotPath != "" {
		if err := vs.loadSnapshot(); err != nil {
			return nil, err
		}
	}
	return vs, nil
}

func (v *VectorStore) reset() {
	v.slots = nil
	v.free = nil
	v.keys = make(map[store.Key]uint32)
	v.collections = make(map[string]*roaring.Bitmap)
	v.index = nil
}

// Provision discards every record and the IVF index.
func (v *VectorStore) Provision(_ context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return errClosed()
	}
	v.reset()
	v.provisioned = true
	v.logger.Debug("memory index reset", "lists", v.opts.Lists, "probes", v.opts.Probes)
	return nil
}

// Upsert inserts or replaces records. Records are deep-copied.
func (v *VectorStore) Upsert(_ context.Context, records ...store.Record) error {
	copies := make([]store.Record, len(records))
	for i, r := range records {
		c, err := clone(r)
		if err != nil {
			return vserr.Wrapf(err, vserr.CodeStoreBatchInvalid, "records[%d]: copying metadata", i)
		}
		copies[i] = c
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ready(); err != nil {
		return err
	}
	for _, r := range copies {
		v.put(r)
	}
	v.maybeTrain()
	return nil
}

// Update overwrites an existing record.
func (v *VectorStore) Update(_ context.Context, r store.Record) (bool, error) {
	c, err := clone(r)
	if err != nil {
		return false, vserr.Wrap(err, vserr.CodeStoreRecordInvalid, "copying metadata")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ready(); err != nil {
		return false, err
	}
	if _, ok := v.keys[c.Key()]; !ok {
		return false, nil
	}
	v.put(c)
	return true, nil
}

// Delete removes a record if present.
func (v *VectorStore) Delete(_ context.Context, collection, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ready(); err != nil {
		return err
	}
	key := store.Key{Collection: collection, ID: id}
	sid, ok := v.keys[key]
	if !ok {
		return nil
	}

	delete(v.keys, key)
	v.slots[sid] = nil
	v.free = append(v.free, sid)
	if bm := v.collections[collection]; bm != nil {
		bm.Remove(sid)
		if bm.IsEmpty() {
			delete(v.collections, collection)
		}
	}
	if v.index != nil {
		v.index.remove(sid)
	}
	return nil
}

// Get returns a copy of the record with the key.
func (v *VectorStore) Get(_ context.Context, collection, id string) (store.Record, bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := v.ready(); err != nil {
		return store.Record{}, false, err
	}
	sid, ok := v.keys[store.Key{Collection: collection, ID: id}]
	if !ok {
		return store.Record{}, false, nil
	}
	r, err := clone(v.slots[sid].record)
	if err != nil {
		return store.Record{}, false, vserr.Wrap(err, vserr.CodeStoreDatabaseFailure, "copying record")
	}
	return r, true, nil
}

// Search scores the query against one collection. Once the IVF index is
// trained only the Probes nearest lists are scanned, in parallel.
func (v *VectorStore) Search(ctx context.Context, q store.SearchQuery) ([]store.SearchResult, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := v.ready(); err != nil {
		return nil, err
	}
	members := v.collections[q.Collection]
	if members == nil {
		return []store.SearchResult{}, nil
	}

	query := unitOf(q.Embedding)
	var partitions []*roaring.Bitmap
	if v.index == nil {
		partitions = []*roaring.Bitmap{members}
	} else {
		for _, list := range v.index.probe(query, v.opts.Probes) {
			partitions = append(partitions, roaring.And(v.index.lists[list], members))
		}
	}

	scored := make([][]store.SearchResult, len(partitions))
	g, gctx := errgroup.WithContext(ctx)
	for i, part := range partitions {
		g.Go(func() error {
			out := make([]store.SearchResult, 0, part.GetCardinality())
			it := part.Iterator()
			for it.HasNext() {
				if err := gctx.Err(); err != nil {
					return err
				}
				s := v.slots[it.Next()]
				d := cosineDistance(query, s.unit)
				if q.Threshold > 0 && d > q.Threshold {
					continue
				}
				out = append(out, store.SearchResult{Record: s.record, Distance: d})
			}
			store.SortResults(out)
			if len(out) > q.Limit {
				out = out[:q.Limit]
			}
			scored[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, vserr.Wrap(err, vserr.CodeStoreDatabaseFailure, "scanning lists")
	}

	var results []store.SearchResult
	for _, part := range scored {
		results = append(results, part...)
	}
	store.SortResults(results)
	results = store.TrimResults(results, q)

	for i := range results {
		r, err := clone(results[i].Record)
		if err != nil {
			return nil, vserr.Wrap(err, vserr.CodeStoreDatabaseFailure, "copying record")
		}
		results[i].Record = r
	}
	return results, nil
}

// ListCollections returns the populated collections, sorted.
func (v *VectorStore) ListCollections(_ context.Context) ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := v.ready(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(v.collections))
	for name := range v.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the number of records in a collection.
func (v *VectorStore) Count(_ context.Context, collection string) (int64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := v.ready(); err != nil {
		return 0, err
	}
	bm := v.collections[collection]
	if bm == nil {
		return 0, nil
	}
	return int64(bm.GetCardinality()), nil
}

// Ping fails before Provision and after Close.
func (v *VectorStore) Ping(_ context.Context) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ready()
}

// Close writes the snapshot, if configured, and rejects further use.
func (v *VectorStore) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true
	if v.opts.SnapshotPath != "" && v.provisioned {
		return v.writeSnapshot()
	}
	return nil
}

// Trained reports whether the IVF index is active.
func (v *VectorStore) Trained() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.index != nil
}

func (v *VectorStore) ready() error {
	if v.closed {
		return errClosed()
	}
	if !v.provisioned {
		return vserr.New(vserr.CodeStoreBackendUnavailable, "memory: embeddings relation is not provisioned")
	}
	return nil
}

func errClosed() error {
	return vserr.New(vserr.CodeStoreBackendUnavailable, "memory: store is closed")
}

// put stores r, reusing the slot of an existing record with the same key.
// The caller holds the write lock.
func (v *VectorStore) put(r store.Record) {
	s := &slot{record: r, unit: unitOf(r.Embedding)}
	key := r.Key()

	sid, exists := v.keys[key]
	switch {
	case exists:
		if v.index != nil {
			v.index.remove(sid)
		}
	case len(v.free) > 0:
		sid = v.free[len(v.free)-1]
		v.free = v.free[:len(v.free)-1]
	default:
		sid = uint32(len(v.slots))
		v.slots = append(v.slots, nil)
	}

	v.slots[sid] = s
	v.keys[key] = sid
	bm := v.collections[r.Collection]
	if bm == nil {
		bm = roaring.New()
		v.collections[r.Collection] = bm
	}
	bm.Add(sid)
	if v.index != nil {
		v.index.add(sid, s.unit, -1)
	}
}

// maybeTrain builds the IVF index once enough records exist and rebuilds it
// whenever the record count has doubled since the last training.
func (v *VectorStore) maybeTrain() {
	live := len(v.keys)
	if v.opts.Lists < 2 || live < v.opts.Lists {
		return
	}
	if v.index != nil && live < 2*v.index.trainedAt {
		return
	}

	ids := make([]uint32, 0, live)
	vectors := make([][]float32, 0, live)
	for _, sid := range v.keys {
		ids = append(ids, sid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, sid := range ids {
		vectors = append(vectors, v.slots[sid].unit)
	}

	v.index = trainIVF(ids, vectors, v.opts.Lists)
	v.logger.Debug("trained ivf index", "records", live, "lists", v.opts.Lists)
}

// clone deep-copies a record so callers never share memory with the store.
func clone(r store.Record) (store.Record, error) {
	raw, err := store.EncodeMetadata(r.Metadata)
	if err != nil {
		return store.Record{}, err
	}
	meta, err := store.DecodeMetadata(raw)
	if err != nil {
		return store.Record{}, err
	}
	r.Metadata = meta
	r.Embedding = append([]float32(nil), r.Embedding...)
	return r, nil
}
