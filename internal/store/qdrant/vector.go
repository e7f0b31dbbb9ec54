// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package qdrant implements store.VectorStore on a Qdrant server over gRPC.
//
// Every record lives in one Qdrant collection. The record's collection, ID,
// content and metadata are payload fields; the point ID is a name-based UUID
// derived from (collection, id). Qdrant normalizes vectors stored for cosine
// distance, so embeddings read back have unit length.
package qdrant

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/sigil-dev/vecstore/internal/store"
	vserr "github.com/sigil-dev/vecstore/pkg/errors"
)

const (
	defaultCollection = "vecstore"
	scrollPage        = 256

	fieldCollection = "collection"
	fieldID         = "id"
	fieldContent    = "content"
	fieldMetadata   = "metadata"
)

// pointNamespace seeds the SHA-1 point IDs.
var pointNamespace = uuid.MustParse("6f1c3c52-8d1e-4c55-9a43-2b7d0e5f9a10")

// Compile-time interface check.
var _ store.VectorStore = (*VectorStore)(nil)

type pointsClient interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Get(ctx context.Context, in *pb.GetPoints, opts ...grpc.CallOption) (*pb.GetResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

type collectionsClient interface {
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	CollectionExists(ctx context.Context, in *pb.CollectionExistsRequest, opts ...grpc.CallOption) (*pb.CollectionExistsResponse, error)
}

// Options configures a VectorStore.
type Options struct {
	Address         string
	Collection      string
	APIKey          string
	TLS             bool
	Dimensions      int
	HNSWM           uint64
	HNSWEfConstruct uint64
}

// VectorStore is the sole owner of Qdrant operations for vecstore.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsClient
	collections collectionsClient
	opts        Options
	logger      *slog.Logger
}

// NewVectorStore connects to Qdrant's gRPC endpoint. The connection is
// established lazily.
func NewVectorStore(opts Options, logger *slog.Logger) (*VectorStore, error) {
	if opts.Address == "" {
		return nil, vserr.New(vserr.CodeConfigValidateInvalidValue, "qdrant: address is required")
	}

	creds := insecure.NewCredentials()
	if opts.TLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if opts.APIKey != "" {
		dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(apiKeyInterceptor(opts.APIKey)))
	}

	conn, err := grpc.NewClient(opts.Address, dialOpts...)
	if err != nil {
		return nil, vserr.Wrapf(err, vserr.CodeStoreBackendUnavailable, "qdrant: dial %s", opts.Address)
	}
	vs := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), opts, logger)
	vs.conn = conn
	return vs, nil
}

// NewWithClients builds a VectorStore over existing gRPC clients.
func NewWithClients(points pointsClient, collections collectionsClient, opts Options, logger *slog.Logger) *VectorStore {
	if opts.Collection == "" {
		opts.Collection = defaultCollection
	}
	if opts.Dimensions < 1 {
		opts.Dimensions = store.DefaultDimensions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorStore{points: points, collections: collections, opts: opts, logger: logger}
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// Provision deletes and recreates the Qdrant collection with cosine
// distance and an HNSW graph, then indexes the collection payload field.
func (v *VectorStore) Provision(ctx context.Context) error {
	exists, err := v.exists(ctx)
	if err != nil {
		return vserr.Wrap(err, vserr.CodeStoreProvisionFailure, "checking collection")
	}
	if exists {
		if _, err := v.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: v.opts.Collection}); err != nil {
			return vserr.Wrapf(err, vserr.CodeStoreProvisionFailure, "deleting collection %s", v.opts.Collection)
		}
	}

	req := &pb.CreateCollection{
		CollectionName: v.opts.Collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(v.opts.Dimensions),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	}
	if v.opts.HNSWM > 0 || v.opts.HNSWEfConstruct > 0 {
		hnsw := &pb.HnswConfigDiff{}
		if v.opts.HNSWM > 0 {
			hnsw.M = &v.opts.HNSWM
		}
		if v.opts.HNSWEfConstruct > 0 {
			hnsw.EfConstruct = &v.opts.HNSWEfConstruct
		}
		req.HnswConfig = hnsw
	}
	if _, err := v.collections.Create(ctx, req); err != nil {
		return vserr.Wrapf(err, vserr.CodeStoreProvisionFailure, "creating collection %s", v.opts.Collection)
	}

	wait := true
	keyword := pb.FieldType_FieldTypeKeyword
	if _, err := v.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: v.opts.Collection,
		Wait:           &wait,
		FieldName:      fieldCollection,
		FieldType:      &keyword,
	}); err != nil {
		return vserr.Wrapf(err, vserr.CodeStoreProvisionFailure, "indexing %s payload", fieldCollection)
	}

	v.logger.Debug("created qdrant collection", "collection", v.opts.Collection, "hnsw_m", v.opts.HNSWM, "hnsw_ef_construct", v.opts.HNSWEfConstruct)
	return nil
}

// Upsert writes every record in a single request and waits for it to apply.
func (v *VectorStore) Upsert(ctx context.Context, records ...store.Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		p, err := toPoint(r)
		if err != nil {
			return vserr.Wrapf(err, vserr.CodeStoreBatchInvalid, "records[%d]: marshalling metadata", i)
		}
		points[i] = p
	}

	wait := true
	if _, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.opts.Collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return classify(err, "upserting %d points", len(records))
	}
	return nil
}

// Update overwrites an existing record. Qdrant has no conditional write, so
// a concurrent Delete between the lookup and the write can resurrect the
// record.
func (v *VectorStore) Update(ctx context.Context, r store.Record) (bool, error) {
	_, found, err := v.Get(ctx, r.Collection, r.ID)
	if err != nil || !found {
		return false, err
	}
	if err := v.Upsert(ctx, r); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes a record if present.
func (v *VectorStore) Delete(ctx context.Context, collection, id string) error {
	wait := true
	if _, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.opts.Collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{pointID(collection, id)}},
			},
		},
	}); err != nil {
		return classify(err, "deleting point")
	}
	return nil
}

// Get looks up a record by key.
func (v *VectorStore) Get(ctx context.Context, collection, id string) (store.Record, bool, error) {
	resp, err := v.points.Get(ctx, &pb.GetPoints{
		CollectionName: v.opts.Collection,
		Ids:            []*pb.PointId{pointID(collection, id)},
		WithPayload:    withPayload(),
		WithVectors:    withVectors(),
	})
	if err != nil {
		return store.Record{}, false, classify(err, "getting point")
	}
	if len(resp.GetResult()) == 0 {
		return store.Record{}, false, nil
	}
	p := resp.GetResult()[0]
	r, err := fromPayload(p.GetPayload(), p.GetVectors().GetVector().GetData())
	if err != nil {
		return store.Record{}, false, err
	}
	// A point written under another key is not this record.
	if r.Collection != collection || r.ID != id {
		v.logger.Warn("point payload does not match requested key",
			"collection", collection, "id", id,
			"payload_collection", r.Collection, "payload_id", r.ID)
		return store.Record{}, false, nil
	}
	return r, true, nil
}

// Search runs an HNSW-backed nearest-neighbor search filtered to one
// collection. Qdrant scores cosine similarity; distance is 1 - score.
func (v *VectorStore) Search(ctx context.Context, q store.SearchQuery) ([]store.SearchResult, error) {
	req := &pb.SearchPoints{
		CollectionName: v.opts.Collection,
		Vector:         q.Embedding,
		Filter:         &pb.Filter{Must: []*pb.Condition{fieldMatch(fieldCollection, q.Collection)}},
		Limit:          uint64(q.Limit),
		WithPayload:    withPayload(),
		WithVectors:    withVectors(),
	}
	if q.Threshold > 0 {
		minScore := float32(1 - q.Threshold)
		req.ScoreThreshold = &minScore
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, classify(err, "searching")
	}

	results := make([]store.SearchResult, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		r, err := fromPayload(p.GetPayload(), p.GetVectors().GetVector().GetData())
		if err != nil {
			return nil, err
		}
		results = append(results, store.SearchResult{Record: r, Distance: 1 - float64(p.GetScore())})
	}
	store.SortResults(results)
	return store.TrimResults(results, q), nil
}

// ListCollections scrolls the collection payload field of every point.
func (v *VectorStore) ListCollections(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	limit := uint32(scrollPage)
	var offset *pb.PointId
	for {
		resp, err := v.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: v.opts.Collection,
			Offset:         offset,
			Limit:          &limit,
			WithPayload: &pb.WithPayloadSelector{
				SelectorOptions: &pb.WithPayloadSelector_Include{
					Include: &pb.PayloadIncludeSelector{Fields: []string{fieldCollection}},
				},
			},
		})
		if err != nil {
			return nil, classify(err, "scrolling points")
		}
		for _, p := range resp.GetResult() {
			seen[p.GetPayload()[fieldCollection].GetStringValue()] = struct{}{}
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the exact number of points in a record collection.
func (v *VectorStore) Count(ctx context.Context, collection string) (int64, error) {
	exact := true
	resp, err := v.points.Count(ctx, &pb.CountPoints{
		CollectionName: v.opts.Collection,
		Filter:         &pb.Filter{Must: []*pb.Condition{fieldMatch(fieldCollection, collection)}},
		Exact:          &exact,
	})
	if err != nil {
		return 0, classify(err, "counting points")
	}
	return int64(resp.GetResult().GetCount()), nil
}

// Ping checks that Qdrant answers and the collection exists.
func (v *VectorStore) Ping(ctx context.Context) error {
	exists, err := v.exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return vserr.Errorf(vserr.CodeStoreBackendUnavailable, "qdrant: collection %s does not exist", v.opts.Collection)
	}
	exact := false
	if _, err := v.points.Count(ctx, &pb.CountPoints{CollectionName: v.opts.Collection, Exact: &exact}); err != nil {
		return classify(err, "probing collection")
	}
	return nil
}

// Close closes the gRPC connection, if this store owns one.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

func (v *VectorStore) exists(ctx context.Context) (bool, error) {
	resp, err := v.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: v.opts.Collection})
	if err != nil {
		return false, classify(err, "checking collection %s", v.opts.Collection)
	}
	return resp.GetResult().GetExists(), nil
}

// pointID derives the point UUID from the record key. The collection is
// length-prefixed so no two distinct keys hash the same name.
func pointID(collection, id string) *pb.PointId {
	u := uuid.NewSHA1(pointNamespace, fmt.Appendf(nil, "%d:%s%s", len(collection), collection, id))
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: u.String()}}
}

func toPoint(r store.Record) (*pb.PointStruct, error) {
	payload := map[string]*pb.Value{
		fieldCollection: stringValue(r.Collection),
		fieldID:         stringValue(r.ID),
		fieldContent:    stringValue(r.Content),
	}
	raw, err := store.EncodeMetadata(r.Metadata)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		// Stored as a JSON string so nested values and an empty map survive
		// exactly.
		payload[fieldMetadata] = stringValue(string(raw))
	}

	return &pb.PointStruct{
		Id: pointID(r.Collection, r.ID),
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{
				Vector: &pb.Vector{Data: r.Embedding},
			},
		},
		Payload: payload,
	}, nil
}

func fromPayload(payload map[string]*pb.Value, embedding []float32) (store.Record, error) {
	r := store.Record{
		ID:         payload[fieldID].GetStringValue(),
		Collection: payload[fieldCollection].GetStringValue(),
		Content:    payload[fieldContent].GetStringValue(),
		Embedding:  embedding,
	}
	if m, ok := payload[fieldMetadata]; ok {
		meta := map[string]any{}
		if err := json.Unmarshal([]byte(m.GetStringValue()), &meta); err != nil {
			return store.Record{}, vserr.Wrapf(err, vserr.CodeStoreDatabaseFailure, "unmarshalling metadata of %s/%s", r.Collection, r.ID)
		}
		r.Metadata = meta
	}
	return r, nil
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func withPayload() *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}}
}

func withVectors() *pb.WithVectorsSelector {
	return &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

// classify maps gRPC failures that mean the server or collection is missing
// to CodeStoreBackendUnavailable.
func classify(err error, format string, args ...any) error {
	code := vserr.CodeStoreDatabaseFailure
	switch status.Code(err) {
	case codes.Unavailable, codes.NotFound:
		code = vserr.CodeStoreBackendUnavailable
	}
	return vserr.Wrapf(err, code, "qdrant: "+format, args...)
}
