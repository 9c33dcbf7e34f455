package repository

import (
	"context"
	"time"
)

// RouteStatus is how a routed query ended.
type RouteStatus string

const (
	RouteCompleted RouteStatus = "completed"
	RouteFailed    RouteStatus = "failed"
	RouteCanceled  RouteStatus = "canceled"
)

// RouteOutcome summarizes one routed query. Query text and output are not part of it.
type RouteOutcome struct {
	BackendID string
	Kind      Kind
	Status    RouteStatus
	Fragments int
	Bytes     int
	Err       string
	StartedAt time.Time
	Duration  time.Duration
}

// RouteAuditRepository persists route outcomes.
type RouteAuditRepository interface {
	RecordRoute(ctx context.Context, o RouteOutcome) (string, error)
	RecentRoutes(ctx context.Context, limit int) ([]RouteOutcomeRecord, error)
	// Route returns one record, or ErrNotFound.
	Route(ctx context.Context, id string) (RouteOutcomeRecord, error)
}

// RouteOutcomeRecord is a stored RouteOutcome with its id.
type RouteOutcomeRecord struct {
	ID string
	RouteOutcome
}
