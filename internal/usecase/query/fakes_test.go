package query

import (
	"context"
	"errors"
	"sync"

	"github.com/thalamus/thalamus-api/internal/chunk"
	"github.com/thalamus/thalamus-api/internal/domain/repository"
)

type spySelector struct {
	backend repository.Descriptor
	calls   int
}

func (s *spySelector) Select(context.Context, repository.Query) repository.Descriptor {
	s.calls++
	return s.backend
}

// echoDispatcher answers with the backend id and the query, so each stream is
// recognizably tied to the backend that produced it.
type echoDispatcher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (d *echoDispatcher) Stream(ctx context.Context, q repository.Query, desc repository.Descriptor) (repository.ChunkSequence, error) {
	d.mu.Lock()
	d.calls = append(d.calls, desc.ID)
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return chunk.Fragments(ctx, nil, desc.ID, ":", q.Text), nil
}

func (d *echoDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type fakeEmbedder struct {
	vecs [][]float32
	err  error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.vecs != nil {
		return f.vecs, nil
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1, 0}
	}
	return out, nil
}
func (f *fakeEmbedder) Name() string { return "fake" }

type fakeIndex struct {
	match    repository.ExemplarMatch
	found    bool
	err      error
	size     uint64
	upserted []repository.Exemplar
}

func (f *fakeIndex) EnsureCollection(_ context.Context, size uint64) error {
	f.size = size
	return nil
}
func (f *fakeIndex) UpsertExemplars(_ context.Context, ex []repository.Exemplar) error {
	f.upserted = append(f.upserted, ex...)
	return nil
}
func (f *fakeIndex) Nearest(context.Context, []float32) (repository.ExemplarMatch, bool, error) {
	return f.match, f.found, f.err
}
func (f *fakeIndex) Close() error { return nil }

type memoryAudit struct {
	mu       sync.Mutex
	outcomes []repository.RouteOutcome
	err      error
}

func (m *memoryAudit) RecordRoute(_ context.Context, o repository.RouteOutcome) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.outcomes = append(m.outcomes, o)
	return "id", nil
}

func (m *memoryAudit) RecentRoutes(context.Context, int) ([]repository.RouteOutcomeRecord, error) {
	return nil, errors.New("not implemented")
}

func (m *memoryAudit) Route(context.Context, string) (repository.RouteOutcomeRecord, error) {
	return repository.RouteOutcomeRecord{}, repository.ErrNotFound
}

func (m *memoryAudit) all() []repository.RouteOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]repository.RouteOutcome(nil), m.outcomes...)
}
