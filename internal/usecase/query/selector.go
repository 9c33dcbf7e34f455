package query

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/thalamus/thalamus-api/internal/domain/repository"
)

// RandomSelector picks a backend uniformly at random, ignoring the query.
type RandomSelector struct {
	backends []repository.Descriptor

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSelector creates a selector over every backend in reg. A nil src
// uses a randomly seeded PCG.
func NewRandomSelector(reg *repository.Registry, src rand.Source) *RandomSelector {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &RandomSelector{backends: reg.All(), rng: rand.New(src)}
}

func (s *RandomSelector) Select(_ context.Context, _ repository.Query) repository.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backends[s.rng.IntN(len(s.backends))]
}

// FixedSelector always answers with the same backend.
type FixedSelector struct {
	Backend repository.Descriptor
}

func (s FixedSelector) Select(context.Context, repository.Query) repository.Descriptor {
	return s.Backend
}
