// Package semantic owns every Qdrant operation: collection lifecycle, batch
// upserts of stored documents, hash scans for dedup and similarity search.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/WessleyAI/ami-rag/engine/domain"
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Payload field names.
const (
	FieldText     = "page_content"
	FieldHash     = "content_hash"
	FieldSource   = "source"
	FieldMetadata = "metadata"
)

const scrollPageSize = 256

// pointsAPI is the subset of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	Get(ctx context.Context, in *pb.GetPoints, opts ...grpc.CallOption) (*pb.GetResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of all Qdrant operations. Collections are
// created lazily with the configured vector dimension.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	dims        int
	known       sync.Map // collection name -> struct{}
	logger      *slog.Logger
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string, dims int, logger *slog.Logger) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	vs := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), dims, logger)
	vs.conn = conn
	return vs, nil
}

// NewWithClients builds a VectorStore on pre-built clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, dims int, logger *slog.Logger) *VectorStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorStore{points: points, collections: collections, dims: dims, logger: logger}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// PointID derives the Qdrant point ID of a content hash. Equal content always
// maps to the same point, so concurrent upserts of a chunk overwrite rather
// than duplicate.
func PointID(h domain.ContentHash) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("ami-rag:"+string(h))).String()
}

// EnsureCollection creates the collection if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, collection string) error {
	if _, ok := v.known.Load(collection); ok {
		return nil
	}
	exists, err := v.exists(ctx, collection)
	if err != nil {
		return err
	}
	if !exists {
		_, err = v.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: collection,
			VectorsConfig: &pb.VectorsConfig{
				Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{
						Size:     uint64(v.dims),
						Distance: pb.Distance_Cosine,
					},
				},
			},
		})
		if err != nil {
			// Another writer may have created it in between.
			if ok, lerr := v.exists(ctx, collection); lerr != nil || !ok {
				return fmt.Errorf("semantic: create collection %s: %w", collection, err)
			}
		} else {
			v.logger.Info("semantic: collection created", "collection", collection, "dims", v.dims)
		}
	}
	v.known.Store(collection, struct{}{})
	return nil
}

func (v *VectorStore) exists(ctx context.Context, collection string) (bool, error) {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == collection {
			return true, nil
		}
	}
	return false, nil
}

// UpsertDocuments writes docs in a single batch and returns how many were
// written. The request waits for the write to be applied.
func (v *VectorStore) UpsertDocuments(ctx context.Context, collection string, docs []domain.StoredDocument) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	if err := v.EnsureCollection(ctx, collection); err != nil {
		return 0, err
	}

	points := make([]*pb.PointStruct, len(docs))
	for i, d := range docs {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(d.ContentHash)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: d.Embedding},
				},
			},
			Payload: documentPayload(d),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: upsert %d points: %w", len(docs), err)
	}
	return len(docs), nil
}

// ScanHashes pages through the whole collection reading only the
// content_hash payload field. A missing collection has no hashes.
func (v *VectorStore) ScanHashes(ctx context.Context, collection string) ([]domain.ContentHash, error) {
	exists, err := v.exists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	limit := uint32(scrollPageSize)
	var (
		hashes []domain.ContentHash
		offset *pb.PointId
	)
	for {
		resp, err := v.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: collection,
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    includeFields(FieldHash),
		})
		if err != nil {
			return nil, fmt.Errorf("semantic: scroll %s: %w", collection, err)
		}
		for _, p := range resp.GetResult() {
			if h := p.GetPayload()[FieldHash].GetStringValue(); h != "" {
				hashes = append(hashes, domain.ContentHash(h))
			}
		}
		offset = resp.GetNextPageOffset()
		if offset == nil || len(resp.GetResult()) == 0 {
			return hashes, nil
		}
	}
}

// ExistingHashes returns which of hashes are already stored, looking their
// points up by ID instead of scanning the collection.
func (v *VectorStore) ExistingHashes(ctx context.Context, collection string, hashes []domain.ContentHash) ([]domain.ContentHash, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	exists, err := v.exists(ctx, collection)
	if err != nil || !exists {
		return nil, err
	}

	ids := make([]*pb.PointId, len(hashes))
	for i, h := range hashes {
		ids[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(h)}}
	}
	resp, err := v.points.Get(ctx, &pb.GetPoints{
		CollectionName: collection,
		Ids:            ids,
		WithPayload:    includeFields(FieldHash),
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: get points %s: %w", collection, err)
	}
	found := make([]domain.ContentHash, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		if h := p.GetPayload()[FieldHash].GetStringValue(); h != "" {
			found = append(found, domain.ContentHash(h))
		}
	}
	return found, nil
}

// SimilaritySearch returns up to k documents nearest to vector, in store order.
// A collection that does not exist yet is created, so it simply has no hits.
func (v *VectorStore) SimilaritySearch(ctx context.Context, collection string, vector []float32, k int) ([]domain.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := v.EnsureCollection(ctx, collection); err != nil {
		return nil, err
	}
	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search %s: %w", collection, err)
	}

	hits := make([]domain.Hit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		score := float64(r.GetScore())
		hits[i] = domain.Hit{
			Document:   payloadDocument(r.GetPayload()),
			Similarity: &score,
		}
	}
	return hits, nil
}

// ClearMethod names how a collection was emptied.
type ClearMethod string

const (
	ClearDeleteCollection ClearMethod = "delete_collection"
	ClearDeleteMany       ClearMethod = "delete_many"
)

// ClearResult reports which clearing strategy succeeded.
type ClearResult struct {
	Collection string      `json:"collection"`
	Method     ClearMethod `json:"method"`
}

// DropOrClear deletes the collection. If the hard delete fails it falls back
// to deleting every point and keeps the collection.
func (v *VectorStore) DropOrClear(ctx context.Context, collection string) (ClearResult, error) {
	_, dropErr := v.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: collection})
	if dropErr == nil {
		v.known.Delete(collection)
		v.logger.Info("semantic: collection dropped", "collection", collection)
		return ClearResult{Collection: collection, Method: ClearDeleteCollection}, nil
	}
	v.logger.Warn("semantic: drop failed, deleting points", "collection", collection, "error", dropErr)

	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: &pb.Filter{}},
		},
	})
	if err != nil {
		return ClearResult{}, fmt.Errorf("semantic: clear %s: %w", collection, errors.Join(dropErr, err))
	}
	return ClearResult{Collection: collection, Method: ClearDeleteMany}, nil
}

func includeFields(fields ...string) *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{
		SelectorOptions: &pb.WithPayloadSelector_Include{
			Include: &pb.PayloadIncludeSelector{Fields: fields},
		},
	}
}
