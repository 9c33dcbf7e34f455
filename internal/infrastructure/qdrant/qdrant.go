// Package qdrant stores backend exemplar vectors for semantic selection.
package qdrant

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"

	"github.com/thalamus/thalamus-api/internal/domain/repository"
)

const payloadBackend = "backend_id"

var exemplarNamespace = uuid.MustParse("6f1c2a3e-7b0d-4c55-9a52-2d3f0c1e8b41")

// Index implements repository.ExemplarIndex using the official Qdrant Go SDK.
type Index struct {
	client     *pb.Client
	collection string
	log        logr.Logger
}

var _ repository.ExemplarIndex = (*Index)(nil)

// NewIndex connects to Qdrant. The collection is created by EnsureCollection.
func NewIndex(host string, port int, collection string, log logr.Logger) (*Index, error) {
	client, err := pb.NewClient(&pb.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
	}

	log = log.WithName("qdrant")
	log.Info("Connected", "addr", fmt.Sprintf("%s:%d", host, port), "collection", collection)
	return &Index{client: client, collection: collection, log: log}, nil
}

// EnsureCollection creates the collection with the embedding dimension if missing.
func (i *Index) EnsureCollection(ctx context.Context, vectorSize uint64) error {
	exists, err := i.client.CollectionExists(ctx, i.collection)
	if err != nil {
		return fmt.Errorf("qdrant collection check failed: %w", err)
	}
	if exists {
		return nil
	}

	err = i.client.CreateCollection(ctx, &pb.CreateCollection{
		CollectionName: i.collection,
		VectorsConfig: pb.NewVectorsConfig(&pb.VectorParams{
			Size:     vectorSize,
			Distance: pb.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection %q failed: %w", i.collection, err)
	}

	i.log.Info("Created collection", "collection", i.collection, "size", vectorSize)
	return nil
}

// UpsertExemplars writes exemplar vectors. Point ids derive from backend and text,
// so re-indexing the same registry overwrites instead of duplicating.
func (i *Index) UpsertExemplars(ctx context.Context, exemplars []repository.Exemplar) error {
	if len(exemplars) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, 0, len(exemplars))
	for _, ex := range exemplars {
		points = append(points, &pb.PointStruct{
			Id:      pb.NewIDUUID(ExemplarID(ex.BackendID, ex.Text)),
			Vectors: pb.NewVectors(ex.Vector...),
			Payload: pb.NewValueMap(map[string]any{
				payloadBackend: ex.BackendID,
				"text":         ex.Text,
			}),
		})
	}

	_, err := i.client.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: i.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}

	i.log.V(1).Info("Upserted exemplars", "count", len(points))
	return nil
}

// Nearest returns the exemplar closest to vector, if any.
func (i *Index) Nearest(ctx context.Context, vector []float32) (repository.ExemplarMatch, bool, error) {
	points, err := i.client.Query(ctx, &pb.QueryPoints{
		CollectionName: i.collection,
		Query:          pb.NewQuery(vector...),
		Limit:          pb.PtrOf(uint64(1)),
		WithPayload:    pb.NewWithPayload(true),
	})
	if err != nil {
		return repository.ExemplarMatch{}, false, fmt.Errorf("qdrant query failed: %w", err)
	}
	m, ok := bestMatch(points)
	return m, ok, nil
}

// Close closes the underlying Qdrant gRPC connection.
func (i *Index) Close() error {
	return i.client.Close()
}

// ExemplarID is the point id stored for one exemplar.
func ExemplarID(backendID, text string) string {
	return uuid.NewSHA1(exemplarNamespace, []byte(backendID+"\x00"+text)).String()
}

func bestMatch(points []*pb.ScoredPoint) (repository.ExemplarMatch, bool) {
	var best repository.ExemplarMatch
	found := false
	for _, p := range points {
		if p == nil {
			continue
		}
		id := p.GetPayload()[payloadBackend].GetStringValue()
		if id == "" {
			continue
		}
		if !found || p.GetScore() > best.Score {
			best = repository.ExemplarMatch{BackendID: id, Score: p.GetScore()}
			found = true
		}
	}
	return best, found
}
