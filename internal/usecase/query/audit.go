package query

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/thalamus/thalamus-api/internal/chunk"
	"github.com/thalamus/thalamus-api/internal/domain/repository"
)

const auditTimeout = 5 * time.Second

// AuditedDispatcher records one RouteOutcome per dispatch without altering the
// stream it wraps. Recording failures are logged and otherwise ignored.
type AuditedDispatcher struct {
	next repository.Dispatcher
	repo repository.RouteAuditRepository
	log  logr.Logger
	now  func() time.Time
}

var _ repository.Dispatcher = (*AuditedDispatcher)(nil)

// NewAuditedDispatcher wraps next.
func NewAuditedDispatcher(next repository.Dispatcher, repo repository.RouteAuditRepository, log logr.Logger) *AuditedDispatcher {
	return &AuditedDispatcher{next: next, repo: repo, log: log.WithName("audit"), now: time.Now}
}

func (a *AuditedDispatcher) Stream(ctx context.Context, q repository.Query, d repository.Descriptor) (repository.ChunkSequence, error) {
	start := a.now()
	seq, err := a.next.Stream(ctx, q, d)
	if err != nil {
		a.record(repository.RouteOutcome{
			BackendID: d.ID,
			Kind:      d.Kind,
			Status:    statusOf(err),
			Err:       err.Error(),
			StartedAt: start,
			Duration:  a.now().Sub(start),
		})
		return nil, err
	}
	return &auditedSequence{inner: seq, audit: a, desc: d, start: start}, nil
}

func (a *AuditedDispatcher) record(o repository.RouteOutcome) {
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if _, err := a.repo.RecordRoute(ctx, o); err != nil {
		a.log.Error(err, "Failed to record route", "backend", o.BackendID)
	}
}

func statusOf(err error) repository.RouteStatus {
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return repository.RouteCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, chunk.ErrClosed):
		return repository.RouteCanceled
	}
	return repository.RouteFailed
}

type auditedSequence struct {
	inner repository.ChunkSequence
	audit *AuditedDispatcher
	desc  repository.Descriptor
	start time.Time

	mu        sync.Mutex
	fragments int
	bytes     int
	once      sync.Once
}

func (s *auditedSequence) Recv() (string, error) {
	text, err := s.inner.Recv()
	if err == nil {
		s.mu.Lock()
		s.fragments++
		s.bytes += len(text)
		s.mu.Unlock()
		return text, nil
	}
	s.finish(err)
	return text, err
}

func (s *auditedSequence) Close() error {
	err := s.inner.Close()
	s.finish(context.Canceled)
	return err
}

func (s *auditedSequence) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		o := repository.RouteOutcome{
			BackendID: s.desc.ID,
			Kind:      s.desc.Kind,
			Status:    statusOf(err),
			Fragments: s.fragments,
			Bytes:     s.bytes,
			StartedAt: s.start,
			Duration:  s.audit.now().Sub(s.start),
		}
		s.mu.Unlock()
		if o.Status == repository.RouteFailed {
			o.Err = err.Error()
		}
		s.audit.record(o)
	})
}
