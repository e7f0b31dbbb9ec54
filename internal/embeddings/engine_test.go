// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package embeddings_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/vecstore/internal/embeddings"
	"github.com/sigil-dev/vecstore/internal/store"
	vserr "github.com/sigil-dev/vecstore/pkg/errors"
)

// fakeStore records what reaches the backend. Unset funcs succeed.
type fakeStore struct {
	upserts   [][]store.Record
	results   []store.SearchResult
	provision func() error
	ping      func() error
	closed    bool
}

func (f *fakeStore) Provision(context.Context) error {
	if f.provision != nil {
		return f.provision()
	}
	return nil
}

func (f *fakeStore) Upsert(_ context.Context, records ...store.Record) error {
	f.upserts = append(f.upserts, records)
	return nil
}

func (f *fakeStore) Update(context.Context, store.Record) (bool, error) { return true, nil }
func (f *fakeStore) Delete(context.Context, string, string) error       { return nil }

func (f *fakeStore) Get(context.Context, string, string) (store.Record, bool, error) {
	return store.Record{}, false, nil
}

func (f *fakeStore) Search(context.Context, store.SearchQuery) ([]store.SearchResult, error) {
	return f.results, nil
}

func (f *fakeStore) ListCollections(context.Context) ([]string, error) { return nil, nil }
func (f *fakeStore) Count(context.Context, string) (int64, error)      { return 0, nil }

func (f *fakeStore) Ping(context.Context) error {
	if f.ping != nil {
		return f.ping()
	}
	return nil
}

func (f *fakeStore) Close() error {
	f.closed = true
	return nil
}

func rec(id string, x float32) store.Record {
	return store.Record{ID: id, Collection: "c", Content: id, Embedding: []float32{x, 1}}
}

func TestNew_Defaults(t *testing.T) {
	e := embeddings.New(&fakeStore{}, 0)
	assert.Equal(t, store.DefaultDimensions, e.Dimensions())
	assert.Equal(t, "custom", e.Backend())
}

func TestUpsertMany_LastEntryWinsBeforeReachingBackend(t *testing.T) {
	fs := &fakeStore{}
	e := embeddings.New(fs, 2)

	batch := []store.Record{rec("a", 1), rec("b", 2), rec("a", 3)}
	require.NoError(t, e.UpsertMany(context.Background(), batch))

	require.Len(t, fs.upserts, 1)
	got := fs.upserts[0]
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
	assert.Equal(t, float32(3), got[1].Embedding[0])
}

func TestUpsertMany_EmptyIsNoop(t *testing.T) {
	fs := &fakeStore{}
	e := embeddings.New(fs, 2)
	require.NoError(t, e.UpsertMany(context.Background(), nil))
	assert.Empty(t, fs.upserts)
}

func TestUpsertMany_InvalidNeverReachesBackend(t *testing.T) {
	fs := &fakeStore{}
	e := embeddings.New(fs, 2, embeddings.WithBackendName("fake"))

	bad := rec("b", 1)
	bad.Embedding = []float32{1, 2, 3}
	err := e.UpsertMany(context.Background(), []store.Record{rec("a", 1), bad})
	require.Error(t, err)
	assert.True(t, vserr.HasCode(err, vserr.CodeStoreBatchInvalid))
	assert.Equal(t, "fake", vserr.FieldsOf(err)["backend"])
	assert.Empty(t, fs.upserts)
}

func TestSearch_SortsAndTrimsBackendResults(t *testing.T) {
	fs := &fakeStore{results: []store.SearchResult{
		{Record: store.Record{ID: "z"}, Distance: 0.2},
		{Record: store.Record{ID: "y"}, Distance: 0.9},
		{Record: store.Record{ID: "x"}, Distance: 0.2},
		{Record: store.Record{ID: "w"}, Distance: 0.1},
	}}
	e := embeddings.New(fs, 2)

	got, err := e.Search(context.Background(), store.SearchQuery{
		Embedding: []float32{1, 0}, Collection: "c", Limit: 3, Threshold: 0.5,
	})
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, r := range got {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"w", "x", "z"}, ids)
}

func TestSearch_NoResultsIsEmptySlice(t *testing.T) {
	e := embeddings.New(&fakeStore{}, 2)
	got, err := e.Search(context.Background(), store.SearchQuery{Embedding: []float32{1, 0}, Collection: "c", Limit: 1})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCount_RequiresCollection(t *testing.T) {
	e := embeddings.New(&fakeStore{}, 2)
	_, err := e.Count(context.Background(), "")
	require.Error(t, err)
	assert.True(t, vserr.IsInvalidInput(err))
}

func TestProvision_WrapsUncodedFailures(t *testing.T) {
	fs := &fakeStore{provision: func() error { return errors.New("disk full") }}
	e := embeddings.New(fs, 2)

	err := e.Provision(context.Background())
	require.Error(t, err)
	assert.True(t, vserr.HasCode(err, vserr.CodeStoreProvisionFailure))
	assert.Contains(t, err.Error(), "disk full")
}

func TestProvision_KeepsBackendClassification(t *testing.T) {
	fs := &fakeStore{provision: func() error {
		return vserr.New(vserr.CodeStoreBackendUnavailable, "connection refused")
	}}
	e := embeddings.New(fs, 2)

	err := e.Provision(context.Background())
	require.Error(t, err)
	assert.True(t, vserr.IsUnavailable(err))
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name    string
		ping    func() error
		healthy bool
		errText string
	}{
		{name: "reachable", healthy: true},
		{name: "unreachable", ping: func() error { return errors.New("connection refused") }, errText: "connection refused"},
		{name: "panicking probe", ping: func() error { panic("driver bug") }, errText: "driver bug"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := embeddings.New(&fakeStore{ping: tt.ping}, 2, embeddings.WithBackendName("fake"))
			report := e.HealthCheck(context.Background())

			assert.Equal(t, tt.healthy, report.Healthy)
			assert.Equal(t, "fake", report.Backend)
			assert.False(t, report.CheckedAt.IsZero())
			if tt.errText == "" {
				assert.Empty(t, report.Error)
				assert.Equal(t, "ok", report.Status())
				return
			}
			assert.Contains(t, report.Error, tt.errText)
			assert.Equal(t, "unavailable", report.Status())
		})
	}
}

func TestClose_ReleasesBackend(t *testing.T) {
	fs := &fakeStore{}
	e := embeddings.New(fs, 2)
	require.NoError(t, e.Close())
	assert.True(t, fs.closed)
}
