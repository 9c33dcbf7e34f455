package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"github.com/thalamus/thalamus-api/internal/domain/repository"
)

// Router picks a backend for each query and hands the query to the dispatcher
// for that backend's kind. The returned sequence is the dispatcher's own.
type Router struct {
	selector repository.Selector
	tunnel   repository.Dispatcher
	hosted   repository.Dispatcher
	log      logr.Logger
}

// NewRouter wires the selector with the self-hosted and hosted dispatchers.
func NewRouter(selector repository.Selector, tunnel, hosted repository.Dispatcher, log logr.Logger) *Router {
	return &Router{
		selector: selector,
		tunnel:   tunnel,
		hosted:   hosted,
		log:      log.WithName("router"),
	}
}

// RouteQuery rejects blank text before doing any work, then selects and dispatches.
func (r *Router) RouteQuery(ctx context.Context, text string) (repository.Descriptor, repository.ChunkSequence, error) {
	if strings.TrimSpace(text) == "" {
		return repository.Descriptor{}, nil, fmt.Errorf("%w: query text is required", repository.ErrValidation)
	}

	q := repository.Query{Text: text}
	d := r.selector.Select(ctx, q)
	seq, err := r.dispatch(ctx, q, d)
	return d, seq, err
}

// RouteTo skips selection and sends text straight to d.
func (r *Router) RouteTo(ctx context.Context, text string, d repository.Descriptor) (repository.ChunkSequence, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: query text is required", repository.ErrValidation)
	}
	return r.dispatch(ctx, repository.Query{Text: text}, d)
}

func (r *Router) dispatch(ctx context.Context, q repository.Query, d repository.Descriptor) (repository.ChunkSequence, error) {
	var icon string
	var target repository.Dispatcher
	switch {
	case d.Kind == repository.KindSelfHosted:
		target, icon = r.tunnel, "🏠"
	case d.Kind.Hosted():
		target, icon = r.hosted, "☁️"
	default:
		return nil, fmt.Errorf("%w: backend %q has unsupported kind %q", repository.ErrProvider, d.ID, d.Kind)
	}

	r.log.Info("🛤️ Routing query", "backend", d.ID, "kind", string(d.Kind), "via", icon)
	return target.Stream(ctx, q, d)
}
