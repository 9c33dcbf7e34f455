package repository

import (
	"context"
)

// EmbeddingClient defines the interface for generating embeddings from text.
type EmbeddingClient interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// Exemplar ties a sample prompt to the backend that should answer prompts like it.
type Exemplar struct {
	BackendID string
	Text      string
	Vector    []float32
}

// ExemplarMatch is the nearest exemplar for a query vector.
type ExemplarMatch struct {
	BackendID string
	Score     float32
}

// ExemplarIndex stores exemplar vectors for semantic backend selection.
type ExemplarIndex interface {
	EnsureCollection(ctx context.Context, vectorSize uint64) error
	UpsertExemplars(ctx context.Context, exemplars []Exemplar) error
	Nearest(ctx context.Context, vector []float32) (ExemplarMatch, bool, error)
	Close() error
}
