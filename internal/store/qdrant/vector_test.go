// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package qdrant_test

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sigil-dev/vecstore/internal/store"
	"github.com/sigil-dev/vecstore/internal/store/qdrant"
	vserr "github.com/sigil-dev/vecstore/pkg/errors"
)

// --- Mocks ---

type mockPoints struct {
	upsertReq  *pb.UpsertPoints
	upsertErr  error
	deleteReq  *pb.DeletePoints
	getResp    *pb.GetResponse
	getErr     error
	searchReq  *pb.SearchPoints
	searchResp *pb.SearchResponse
	countReq   *pb.CountPoints
	countResp  *pb.CountResponse
	countErr   error
	scrollResp []*pb.ScrollResponse
	scrollReqs []*pb.ScrollPoints
	indexReq   *pb.CreateFieldIndexCollection
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upsertReq = in
	return &pb.PointsOperationResponse{}, m.upsertErr
}

func (m *mockPoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.deleteReq = in
	return &pb.PointsOperationResponse{}, nil
}

func (m *mockPoints) Get(_ context.Context, _ *pb.GetPoints, _ ...grpc.CallOption) (*pb.GetResponse, error) {
	if m.getResp == nil {
		return &pb.GetResponse{}, m.getErr
	}
	return m.getResp, m.getErr
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchReq = in
	return m.searchResp, nil
}

func (m *mockPoints) Count(_ context.Context, in *pb.CountPoints, _ ...grpc.CallOption) (*pb.CountResponse, error) {
	m.countReq = in
	return m.countResp, m.countErr
}

func (m *mockPoints) Scroll(_ context.Context, in *pb.ScrollPoints, _ ...grpc.CallOption) (*pb.ScrollResponse, error) {
	m.scrollReqs = append(m.scrollReqs, in)
	resp := m.scrollResp[0]
	m.scrollResp = m.scrollResp[1:]
	return resp, nil
}

func (m *mockPoints) CreateFieldIndex(_ context.Context, in *pb.CreateFieldIndexCollection, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.indexReq = in
	return &pb.PointsOperationResponse{}, nil
}

type mockCollections struct {
	exists    bool
	existsErr error
	createReq *pb.CreateCollection
	createErr error
	deleted   []string
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.createReq = in
	return &pb.CollectionOperationResponse{Result: true}, m.createErr
}

func (m *mockCollections) Delete(_ context.Context, in *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.deleted = append(m.deleted, in.GetCollectionName())
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func (m *mockCollections) CollectionExists(_ context.Context, _ *pb.CollectionExistsRequest, _ ...grpc.CallOption) (*pb.CollectionExistsResponse, error) {
	return &pb.CollectionExistsResponse{Result: &pb.CollectionExists{Exists: m.exists}}, m.existsErr
}

func payload(collection, id, content string, meta *string) map[string]*pb.Value {
	p := map[string]*pb.Value{
		"collection": {Kind: &pb.Value_StringValue{StringValue: collection}},
		"id":         {Kind: &pb.Value_StringValue{StringValue: id}},
		"content":    {Kind: &pb.Value_StringValue{StringValue: content}},
	}
	if meta != nil {
		p["metadata"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: *meta}}
	}
	return p
}

func newStore(points *mockPoints, cols *mockCollections) *qdrant.VectorStore {
	return qdrant.NewWithClients(points, cols, qdrant.Options{Collection: "test", Dimensions: 3, HNSWM: 32}, nil)
}

// --- Tests ---

func TestNewVectorStore_RequiresAddress(t *testing.T) {
	_, err := qdrant.NewVectorStore(qdrant.Options{}, nil)
	require.Error(t, err)
	assert.True(t, vserr.IsInvalidInput(err))
}

func TestNewVectorStore_DialsLazily(t *testing.T) {
	vs, err := qdrant.NewVectorStore(qdrant.Options{Address: "127.0.0.1:1", APIKey: "secret"}, nil)
	require.NoError(t, err)
	assert.NoError(t, vs.Close())
}

func TestProvision_RecreatesCollection(t *testing.T) {
	points := &mockPoints{}
	cols := &mockCollections{exists: true}
	vs := newStore(points, cols)

	require.NoError(t, vs.Provision(context.Background()))

	assert.Equal(t, []string{"test"}, cols.deleted)
	require.NotNil(t, cols.createReq)
	params := cols.createReq.GetVectorsConfig().GetParams()
	assert.Equal(t, uint64(3), params.GetSize())
	assert.Equal(t, pb.Distance_Cosine, params.GetDistance())
	assert.Equal(t, uint64(32), cols.createReq.GetHnswConfig().GetM())
	assert.Nil(t, cols.createReq.GetHnswConfig().EfConstruct)

	require.NotNil(t, points.indexReq)
	assert.Equal(t, "collection", points.indexReq.GetFieldName())
	assert.Equal(t, pb.FieldType_FieldTypeKeyword, points.indexReq.GetFieldType())
}

func TestProvision_SkipsDeleteWhenAbsent(t *testing.T) {
	cols := &mockCollections{}
	require.NoError(t, newStore(&mockPoints{}, cols).Provision(context.Background()))
	assert.Empty(t, cols.deleted)
}

func TestProvision_CreateError(t *testing.T) {
	cols := &mockCollections{createErr: errors.New("create fail")}
	err := newStore(&mockPoints{}, cols).Provision(context.Background())
	require.Error(t, err)
	assert.True(t, vserr.HasCode(err, vserr.CodeStoreProvisionFailure))
}

func TestUpsert_BuildsPoints(t *testing.T) {
	points := &mockPoints{}
	vs := newStore(points, &mockCollections{})

	err := vs.Upsert(context.Background(),
		store.Record{ID: "a", Collection: "docs", Content: "alpha", Embedding: []float32{1, 0, 0}},
		store.Record{ID: "b", Collection: "docs", Content: "beta", Metadata: map[string]any{}, Embedding: []float32{0, 1, 0}},
	)
	require.NoError(t, err)

	req := points.upsertReq
	require.NotNil(t, req)
	assert.True(t, req.GetWait())
	require.Len(t, req.GetPoints(), 2)

	a, b := req.GetPoints()[0], req.GetPoints()[1]
	assert.Equal(t, "docs", a.GetPayload()["collection"].GetStringValue())
	assert.NotContains(t, a.GetPayload(), "metadata")
	assert.Equal(t, "{}", b.GetPayload()["metadata"].GetStringValue())
	assert.Equal(t, []float32{1, 0, 0}, a.GetVectors().GetVector().GetData())
	assert.NotEqual(t, a.GetId().GetUuid(), b.GetId().GetUuid())
}

func TestUpsert_PointIDsAreDeterministicPerKey(t *testing.T) {
	points := &mockPoints{}
	vs := newStore(points, &mockCollections{})
	ctx := context.Background()

	rec := store.Record{ID: "x", Collection: "left", Content: "c", Embedding: []float32{1, 0, 0}}
	require.NoError(t, vs.Upsert(ctx, rec))
	first := points.upsertReq.GetPoints()[0].GetId().GetUuid()
	require.NoError(t, vs.Upsert(ctx, rec))
	assert.Equal(t, first, points.upsertReq.GetPoints()[0].GetId().GetUuid())

	rec.Collection = "right"
	require.NoError(t, vs.Upsert(ctx, rec))
	assert.NotEqual(t, first, points.upsertReq.GetPoints()[0].GetId().GetUuid())
}

func TestUpsert_PointIDsSeparateKeysSharingAJoinedForm(t *testing.T) {
	points := &mockPoints{}
	vs := newStore(points, &mockCollections{})
	ctx := context.Background()

	require.NoError(t, vs.Upsert(ctx, store.Record{ID: "c", Collection: "a\x00b", Content: "x", Embedding: []float32{1, 0, 0}}))
	first := points.upsertReq.GetPoints()[0].GetId().GetUuid()
	require.NoError(t, vs.Upsert(ctx, store.Record{ID: "b\x00c", Collection: "a", Content: "y", Embedding: []float32{1, 0, 0}}))
	second := points.upsertReq.GetPoints()[0].GetId().GetUuid()
	assert.NotEqual(t, first, second)

	require.NoError(t, vs.Upsert(ctx, store.Record{ID: "bc", Collection: "a", Content: "z", Embedding: []float32{1, 0, 0}}))
	third := points.upsertReq.GetPoints()[0].GetId().GetUuid()
	require.NoError(t, vs.Upsert(ctx, store.Record{ID: "c", Collection: "ab", Content: "z", Embedding: []float32{1, 0, 0}}))
	assert.NotEqual(t, third, points.upsertReq.GetPoints()[0].GetId().GetUuid())
}

func TestUpsert_UnavailableServer(t *testing.T) {
	points := &mockPoints{upsertErr: status.Error(codes.Unavailable, "connection refused")}
	err := newStore(points, &mockCollections{}).Upsert(context.Background(),
		store.Record{ID: "a", Collection: "docs", Content: "alpha", Embedding: []float32{1, 0, 0}})
	require.Error(t, err)
	assert.True(t, vserr.IsUnavailable(err))
}

func TestGet_DecodesPayload(t *testing.T) {
	meta := `{"n":1,"tags":["x"]}`
	points := &mockPoints{getResp: &pb.GetResponse{Result: []*pb.RetrievedPoint{{
		Payload: payload("docs", "a", "alpha", &meta),
	}}}}
	vs := newStore(points, &mockCollections{})

	r, ok, err := vs.Get(context.Background(), "docs", "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alpha", r.Content)
	assert.Equal(t, map[string]any{"n": float64(1), "tags": []any{"x"}}, r.Metadata)
}

func TestGet_IgnoresPointOfAnotherKey(t *testing.T) {
	points := &mockPoints{getResp: &pb.GetResponse{Result: []*pb.RetrievedPoint{{
		Payload: payload("other", "a", "alpha", nil),
	}}}}
	vs := newStore(points, &mockCollections{})

	_, ok, err := vs.Get(context.Background(), "docs", "a")
	require.NoError(t, err)
	assert.False(t, ok)

	updated, err := vs.Update(context.Background(), store.Record{ID: "a", Collection: "docs", Content: "x", Embedding: []float32{1, 0, 0}})
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Nil(t, points.upsertReq)
}

func TestGet_Missing(t *testing.T) {
	vs := newStore(&mockPoints{}, &mockCollections{})
	_, ok, err := vs.Get(context.Background(), "docs", "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdate_MissingDoesNotWrite(t *testing.T) {
	points := &mockPoints{}
	vs := newStore(points, &mockCollections{})

	ok, err := vs.Update(context.Background(), store.Record{ID: "a", Collection: "docs", Content: "x", Embedding: []float32{1, 0, 0}})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, points.upsertReq)
}

func TestUpdate_ExistingWrites(t *testing.T) {
	points := &mockPoints{getResp: &pb.GetResponse{Result: []*pb.RetrievedPoint{{Payload: payload("docs", "a", "old", nil)}}}}
	vs := newStore(points, &mockCollections{})

	ok, err := vs.Update(context.Background(), store.Record{ID: "a", Collection: "docs", Content: "new", Embedding: []float32{1, 0, 0}})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "new", points.upsertReq.GetPoints()[0].GetPayload()["content"].GetStringValue())
}

func TestDelete_TargetsDerivedPointID(t *testing.T) {
	points := &mockPoints{}
	vs := newStore(points, &mockCollections{})
	require.NoError(t, vs.Upsert(context.Background(), store.Record{ID: "a", Collection: "docs", Content: "x", Embedding: []float32{1, 0, 0}}))
	want := points.upsertReq.GetPoints()[0].GetId().GetUuid()

	require.NoError(t, vs.Delete(context.Background(), "docs", "a"))
	ids := points.deleteReq.GetPoints().GetPoints().GetIds()
	require.Len(t, ids, 1)
	assert.Equal(t, want, ids[0].GetUuid())
}

func TestSearch_ConvertsScoresAndFilters(t *testing.T) {
	points := &mockPoints{searchResp: &pb.SearchResponse{Result: []*pb.ScoredPoint{
		{Payload: payload("docs", "b", "beta", nil), Score: 0.8},
		{Payload: payload("docs", "a", "alpha", nil), Score: 1},
		{Payload: payload("docs", "c", "gamma", nil), Score: 0.8},
	}}}
	vs := newStore(points, &mockCollections{})

	results, err := vs.Search(context.Background(), store.SearchQuery{
		Collection: "docs", Embedding: []float32{1, 0, 0}, Limit: 3, Threshold: 0.25,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
	assert.Equal(t, "b", results[1].ID)
	assert.Equal(t, "c", results[2].ID)
	assert.InDelta(t, 0.2, results[1].Distance, 1e-6)

	req := points.searchReq
	assert.Equal(t, uint64(3), req.GetLimit())
	assert.InDelta(t, 0.75, req.GetScoreThreshold(), 1e-6)
	cond := req.GetFilter().GetMust()[0].GetField()
	assert.Equal(t, "collection", cond.GetKey())
	assert.Equal(t, "docs", cond.GetMatch().GetKeyword())
}

func TestListCollections_ScrollsAllPages(t *testing.T) {
	next := &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "00000000-0000-0000-0000-000000000001"}}
	points := &mockPoints{scrollResp: []*pb.ScrollResponse{
		{Result: []*pb.RetrievedPoint{{Payload: payload("b", "1", "", nil)}, {Payload: payload("a", "1", "", nil)}}, NextPageOffset: next},
		{Result: []*pb.RetrievedPoint{{Payload: payload("b", "2", "", nil)}}},
	}}
	vs := newStore(points, &mockCollections{})

	names, err := vs.ListCollections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
	require.Len(t, points.scrollReqs, 2)
	assert.Equal(t, next, points.scrollReqs[1].GetOffset())
}

func TestCount(t *testing.T) {
	points := &mockPoints{countResp: &pb.CountResponse{Result: &pb.CountResult{Count: 7}}}
	n, err := newStore(points, &mockCollections{}).Count(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.True(t, points.countReq.GetExact())
}

func TestPing(t *testing.T) {
	ctx := context.Background()
	points := &mockPoints{countResp: &pb.CountResponse{Result: &pb.CountResult{}}}

	err := newStore(points, &mockCollections{}).Ping(ctx)
	require.Error(t, err)
	assert.True(t, vserr.IsUnavailable(err), "missing collection")

	err = newStore(points, &mockCollections{existsErr: status.Error(codes.Unavailable, "down")}).Ping(ctx)
	assert.True(t, vserr.IsUnavailable(err))

	assert.NoError(t, newStore(points, &mockCollections{exists: true}).Ping(ctx))
}
