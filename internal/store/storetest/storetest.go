// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package storetest is a conformance suite every storage backend must pass.
// Backends call Run from their own tests with a factory that opens a fresh,
// unprovisioned engine.
package storetest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/vecstore/internal/embeddings"
	"github.com/sigil-dev/vecstore/internal/store"
	vserr "github.com/sigil-dev/vecstore/pkg/errors"
)

// Factory opens an engine over a fresh backend. The suite provisions it and
// closes it.
type Factory func(t *testing.T) *embeddings.Engine

// Run executes every conformance case against engines produced by open.
func Run(t *testing.T, open Factory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, e *embeddings.Engine)
	}{
		{"UpsertIsIdempotent", testUpsertIdempotent},
		{"UpsertReplacesByKey", testUpsertReplaces},
		{"RejectsWrongDimensions", testDimensions},
		{"RejectsUnstorableText", testUnstorableText},
		{"BatchIsAtomic", testBatchAtomic},
		{"BatchLastEntryWins", testBatchLastWins},
		{"SearchOrdersByDistance", testSearchOrdering},
		{"SearchBreaksTiesByID", testSearchTies},
		{"SearchAppliesThreshold", testSearchThreshold},
		{"SearchIsolatesCollections", testCollectionIsolation},
		{"DeleteMissingIsNoop", testDelete},
		{"RoundTripsContentAndMetadata", testRoundTrip},
		{"MetadataNumbersReadBackAsFloat64", testMetadataNumbers},
		{"UpdateReportsPresence", testUpdate},
		{"ListCollectionsTracksPopulation", testListCollections},
		{"ProvisionWipesData", testProvisionWipes},
		{"HealthCheckAfterProvision", testHealth},
		{"ConcurrentUpserts", testConcurrentUpserts},
		{"ConcurrentWritersToOneKeyResolveWhole", testConcurrentSameKey},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := open(t)
			t.Cleanup(func() { _ = e.Close() })
			require.NoError(t, e.Provision(context.Background()))
			tc.fn(t, e)
		})
	}
}

// Vec returns a dims-long vector whose leading values are vals.
func Vec(dims int, vals ...float32) []float32 {
	v := make([]float32, dims)
	copy(v, vals)
	return v
}

// Rec builds a valid record for e.
func Rec(e *embeddings.Engine, collection, id string, vals ...float32) store.Record {
	if len(vals) == 0 {
		vals = []float32{1}
	}
	return store.Record{
		ID:         id,
		Collection: collection,
		Content:    "content of " + id,
		Embedding:  Vec(e.Dimensions(), vals...),
	}
}

// CosineDistance returns 1 - cos(a, b).
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func ids(results []store.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func testUpsertIdempotent(t *testing.T, e *embeddings.Engine) {
	ctx := context.Background()
	r := Rec(e, "docs", "x")

	require.NoError(t, e.UpsertOne(ctx, r))
	require.NoError(t, e.UpsertOne(ctx, r))

	n, err := e.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, ok, err := e.GetByID(ctx, "docs", "x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, r.Content, got.Content)
}

func testUpsertReplaces(t *testing.T, e *embeddings.Engine) {
	ctx := context.Background()
	r1 := Rec(e, "docs", "x", 1)
	r2 := Rec(e, "docs", "x", 0, 1)
	r2.Content = "second"

	require.NoError(t, e.UpsertOne(ctx, r1))
	require.NoError(t, e.UpsertOne(ctx, r2))

	n, err := e.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, ok, err := e.GetByID(ctx, "docs", "x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", got.Content)
	assert.InDelta(t, 0, CosineDistance(r2.Embedding, got.Embedding), 1e-5)
}

func testDimensions(t *testing.T, e *embeddings.Engine) {
	ctx := context.Background()
	r := Rec(e, "docs", "short")
	r.Embedding = Vec(e.Dimensions()-1, 1)

	err := e.UpsertOne(ctx, r)
	require.Error(t, err)
	assert.True(t, vserr.IsInvalidInput(err))

	_, ok, err := e.GetByID(ctx, "docs", "short")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = e.Search(ctx, store.SearchQuery{Collection: "docs", Embedding: Vec(e.Dimensions()+1, 1), Limit: 1})
	assert.True(t, vserr.IsInvalidInput(err))
}

func testUnstorableText(t *testing.T, e *embeddings.Engine) {
	ctx := context.Background()
	bad := Rec(e, "docs", "bad", 1)
	bad.Metadata = map[string]any{"k": "v\xff"}

	err := e.UpsertOne(ctx, bad)
	require.Error(t, err)
	assert.True(t, vserr.HasCode(err, vserr.CodeStoreRecordInvalid))

	nul := Rec(e, "docs", "nul", 1)
	nul.Content = "a\x00b"
	err = e.UpsertMany(ctx, []store.Record{Rec(e, "docs", "ok", 1), nul})
	require.Error(t, err)
	assert.True(t, vserr.HasCode(err, vserr.CodeStoreBatchInvalid))
	assert.Contains(t, err.Error(), "records[1]")

	n, err := e.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testBatchAtomic(t *testing.T, e *embeddings.Engine) {
	ctx := context.Background()
	batch := make([]store.Record, 0, 6)
	for i := 0; i < 5; i++ {
		batch = append(batch, Rec(e, "docs", fmt.Sprintf("r%d", i), 1, float32(i)))
	}
	bad := Rec(e, "docs", "bad")
	bad.Embedding = Vec(e.Dimensions()-1, 1)
	batch = append(batch, bad)

	err := e.UpsertMany(ctx, batch)
	require.Error(t, err)
	assert.True(t, vserr.IsInvalidInput(err))
	assert.Contains(t, err.Error(), "records[5]")

	n, err := e.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, e.UpsertMany(ctx, batch[:5]))
	n, err = e.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func testBatchLastWins(t *testing.T, e *embeddings.Engine) {
	ctx := context.Background()
	first := Rec(e, "docs", "dup", 1)
	last := Rec(e, "docs", "dup", 0, 1)
	last.Content = "last"

	require.NoError(t, e.UpsertMany(ctx, []store.Record{first, Rec(e, "docs", "other"), last}))

	got, ok, err := e.GetByID(ctx, "docs", "dup")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "last", got.Content)

	n, err := e.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func testSearchOrdering(t *testing.T, e *embeddings.Engine) {
	ctx := context.Background()
	require.NoError(t, e.UpsertMany(ctx, []store.Record{
		Rec(e, "docs", "far", 0, 1),
		Rec(e, "docs", "near", 0.9, 0.1),
		Rec(e, "docs", "exact", 1),
	}))

	results, err := e.Search(ctx, store.SearchQuery{Collection: "docs", Embedding: Vec(e.Dimensions(), 1), Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"exact", "near"}, ids(results))
	assert.InDelta(t, 0, results[0].Distance, 1e-5)
	assert.LessOrEqual(t, results[0].Distance, results[1].Distance)
	assert.NotEmpty(t, results[0].Content)
}

func testSearchTies(t *testing.T, e *embeddings.Engine) {
	ctx := context.Background()
	require.NoError(t, e.UpsertMany(ctx, []store.Record{
		Rec(e, "docs", "b", 1, 1),
		Rec(e, "docs", "c", 1, 1),
		Rec(e, "docs", "a", 1, 1),
	}))

	results, err := e.Search(ctx, store.SearchQuery{Collection: "docs", Embedding: Vec(e.Dimensions(), 1, 1), Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(results))
}

func testSearchThreshold(t *testing.T, e *embeddings.Engine) {
	ctx := context.Background()
	require.NoError(t, e.UpsertMany(ctx, []store.Record{
		Rec(e, "docs", "a", 1),
		Rec(e, "docs", "b", 1, 1),
		Rec(e, "docs", "c", 0, 1),
	}))

	q := store.SearchQuery{Collection: "docs", Embedding: Vec(e.Dimensions(), 1), Limit: 10, Threshold: 0.5}
	results, err := e.Search(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(results))
	for _, r := range results {
		assert.LessOrEqual(t, r.Distance, 0.5)
	}

	q.Threshold = -1
	_, err = e.Search(ctx, q)
	assert.True(t, vserr.IsInvalidInput(err))
}

func testCollectionIsolation(t *testing.T, e *embeddings.Engine) {
	ctx := context.Background()
	require.NoError(t, e.UpsertMany(ctx, []store.Record{
		Rec(e, "left", "x", 1),
		Rec(e, "right", "x", 1),
		Rec(e, "right", "y", 1, 0.1),
	}))

	results, err := e.Search(ctx, store.SearchQuery{Collection: "left", Embedding: Vec(e.Dimensions(), 1), Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "left", results[0].Collection)

	results, err = e.Search(ctx, store.SearchQuery{Collection: "empty", Embedding: Vec(e.Dimensions(), 1), Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func testDelete(t *testing.T, e *embeddings.Engine) {
	ctx := context.Background()
	require.NoError(t, e.Delete(ctx, "docs", "missing"))

	require.NoError(t, e.UpsertOne(ctx, Rec(e, "docs", "x")))
	require.NoError(t, e.Delete(ctx, "docs", "x"))
	require.NoError(t, e.Delete(ctx, "docs", "x"))

	_, ok, err := e.GetByID(ctx, "docs", "x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testRoundTrip(t *testing.T, e *embeddings.Engine) {
	ctx := context.Background()
	withMeta := Rec(e, "docs", "meta", 0.3, 0.4, 0.5)
	withMeta.Content = "The quick brown fox. ünïcödé ✓"
	withMeta.Metadata = map[string]any{
		"source": "test",
		"n":      float64(3),
		"tags":   []any{"a", "b"},
		"nested": map[string]any{"ok": true},
	}
	empty := Rec(e, "docs", "empty")
	empty.Metadata = map[string]any{}
	absent := Rec(e, "docs", "absent")

	require.NoError(t, e.UpsertMany(ctx, []store.Record{withMeta, empty, absent}))

	got, ok, err := e.GetByID(ctx, "docs", "meta")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, withMeta.ID, got.ID)
	assert.Equal(t, withMeta.Collection, got.Collection)
	assert.Equal(t, withMeta.Content, got.Content)
	assert.Equal(t, withMeta.Metadata, got.Metadata)
	require.Len(t, got.Embedding, e.Dimensions())
	assert.InDelta(t, 0, CosineDistance(withMeta.Embedding, got.Embedding), 1e-5)

	got, ok, err = e.GetByID(ctx, "docs", "empty")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotNil(t, got.Metadata)
	assert.Empty(t, got.Metadata)

	got, ok, err = e.GetByID(ctx, "docs", "absent")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, got.Metadata)
}

func testMetadataNumbers(t *testing.T, e *embeddings.Engine) {
	ctx := context.Background()
	r := Rec(e, "docs", "n", 1)
	r.Metadata = map[string]any{"count": 7, "ratio": float32(0.5)}
	require.NoError(t, e.UpsertOne(ctx, r))

	got, ok, err := e.GetByID(ctx, "docs", "n")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"count": float64(7), "ratio": float64(0.5)}, got.Metadata)
}

func testUpdate(t *testing.T, e *embeddings.Engine) {
	ctx := context.Background()
	r := Rec(e, "docs", "x")

	updated, err := e.Update(ctx, r)
	require.NoError(t, err)
	assert.False(t, updated)
	_, ok, err := e.GetByID(ctx, "docs", "x")
	require.NoError(t, err)
	assert.False(t, ok, "update must not insert")

	require.NoError(t, e.UpsertOne(ctx, r))
	r.Content = "changed"
	updated, err = e.Update(ctx, r)
	require.NoError(t, err)
	assert.True(t, updated)

	got, _, err := e.GetByID(ctx, "docs", "x")
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Content)
}

func testListCollections(t *testing.T, e *embeddings.Engine) {
	ctx := context.Background()
	collections, err := e.ListCollections(ctx)
	require.NoError(t, err)
	assert.Empty(t, collections)

	require.NoError(t, e.UpsertMany(ctx, []store.Record{
		Rec(e, "b", "1"),
		Rec(e, "a", "1"),
		Rec(e, "b", "2"),
	}))

	collections, err = e.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, collections)

	require.NoError(t, e.Delete(ctx, "a", "1"))
	collections, err = e.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, collections)
}

func testProvisionWipes(t *testing.T, e *embeddings.Engine) {
	ctx := context.Background()
	require.NoError(t, e.UpsertOne(ctx, Rec(e, "docs", "x")))
	require.NoError(t, e.Provision(ctx))

	n, err := e.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testHealth(t *testing.T, e *embeddings.Engine) {
	report := e.HealthCheck(context.Background())
	assert.True(t, report.Healthy, report.Error)
	assert.Equal(t, e.Backend(), report.Backend)
	assert.False(t, report.CheckedAt.IsZero())
}

func testConcurrentUpserts(t *testing.T, e *embeddings.Engine) {
	ctx := context.Background()
	const workers, perWorker = 4, 10

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				errs <- e.UpsertOne(ctx, Rec(e, "docs", fmt.Sprintf("w%d-%d", w, i), 1, float32(w), float32(i)))
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	n, err := e.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), n)
}

// Every writer's record is distinguishable in each field, so a mix of two
// writers shows up as a mismatch.
func testConcurrentSameKey(t *testing.T, e *embeddings.Engine) {
	ctx := context.Background()
	const writers = 8

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			errs <- e.UpsertOne(ctx, store.Record{
				ID:         "shared",
				Collection: "docs",
				Content:    fmt.Sprintf("writer %d", w),
				Metadata:   map[string]any{"writer": w},
				Embedding:  Vec(e.Dimensions(), 1, float32(w)),
			})
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	n, err := e.Count(ctx, "docs")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, found, err := e.GetByID(ctx, "docs", "shared")
	require.NoError(t, err)
	require.True(t, found)

	var winner int
	_, err = fmt.Sscanf(got.Content, "writer %d", &winner)
	require.NoError(t, err, "content %q", got.Content)
	assert.Equal(t, map[string]any{"writer": float64(winner)}, got.Metadata)
	assert.InDelta(t, 0, CosineDistance(got.Embedding, Vec(e.Dimensions(), 1, float32(winner))), 1e-5,
		"embedding belongs to another writer than content %q", got.Content)
}
