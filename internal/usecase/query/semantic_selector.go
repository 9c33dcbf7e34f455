package query

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/thalamus/thalamus-api/internal/domain/repository"
)

// SemanticSelector routes a query to the backend owning its nearest exemplar.
// Any lookup failure, a weak match or an unknown backend falls back to the
// wrapped selector, so Select never fails.
type SemanticSelector struct {
	registry *repository.Registry
	embedder repository.EmbeddingClient
	index    repository.ExemplarIndex
	fallback repository.Selector
	minScore float32
	log      logr.Logger
}

// NewSemanticSelector creates a selector that falls back to fallback.
func NewSemanticSelector(reg *repository.Registry, embedder repository.EmbeddingClient, index repository.ExemplarIndex, fallback repository.Selector, minScore float32, log logr.Logger) *SemanticSelector {
	return &SemanticSelector{
		registry: reg,
		embedder: embedder,
		index:    index,
		fallback: fallback,
		minScore: minScore,
		log:      log.WithName("selector"),
	}
}

func (s *SemanticSelector) Select(ctx context.Context, q repository.Query) repository.Descriptor {
	vecs, err := s.embedder.Embed(ctx, []string{q.Text})
	if err != nil || len(vecs) == 0 {
		s.log.V(1).Info("Embedding failed, using fallback selector", "error", fmt.Sprint(err))
		return s.fallback.Select(ctx, q)
	}

	m, ok, err := s.index.Nearest(ctx, vecs[0])
	if err != nil {
		s.log.V(1).Info("Exemplar lookup failed, using fallback selector", "error", err.Error())
		return s.fallback.Select(ctx, q)
	}
	if !ok || m.Score < s.minScore {
		return s.fallback.Select(ctx, q)
	}

	d, ok := s.registry.Lookup(m.BackendID)
	if !ok {
		s.log.V(1).Info("Exemplar points at an unknown backend", "backend", m.BackendID)
		return s.fallback.Select(ctx, q)
	}
	s.log.V(1).Info("🧭 Semantic match", "backend", d.ID, "score", m.Score)
	return d
}

// Index embeds every exemplar in the registry and stores it. It returns the
// number of exemplars written.
func (s *SemanticSelector) Index(ctx context.Context) (int, error) {
	var exemplars []repository.Exemplar
	var texts []string
	for _, d := range s.registry.All() {
		for _, text := range d.Exemplars {
			exemplars = append(exemplars, repository.Exemplar{BackendID: d.ID, Text: text})
			texts = append(texts, text)
		}
	}
	if len(texts) == 0 {
		return 0, nil
	}

	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed exemplars: %w", err)
	}
	if len(vecs) != len(texts) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d exemplars", len(vecs), len(texts))
	}
	for i := range exemplars {
		exemplars[i].Vector = vecs[i]
	}

	if err := s.index.EnsureCollection(ctx, uint64(len(vecs[0]))); err != nil {
		return 0, err
	}
	if err := s.index.UpsertExemplars(ctx, exemplars); err != nil {
		return 0, err
	}
	s.log.Info("Indexed backend exemplars", "count", len(exemplars))
	return len(exemplars), nil
}
