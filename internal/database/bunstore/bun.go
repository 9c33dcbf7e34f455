package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"

	"github.com/thalamus/thalamus-api/internal/database"
	"github.com/thalamus/thalamus-api/internal/database/models"
	"github.com/thalamus/thalamus-api/internal/domain/repository"
)

const maxRecentRoutes = 500

type BunStore struct {
	db *bun.DB
}

var (
	_ database.RouteRepository        = (*BunStore)(nil)
	_ repository.RouteAuditRepository = (*BunStore)(nil)
)

func NewBunStore(ctx context.Context, db *sql.DB, dialect schema.Dialect) (*BunStore, error) {
	bunDB := bun.NewDB(db, dialect)

	if _, err := bunDB.NewCreateTable().Model((*models.RouteRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create route_records table: %w", err)
	}
	if _, err := bunDB.NewCreateIndex().Model((*models.RouteRecord)(nil)).
		Index("route_records_started_at_idx").Column("started_at").IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create route_records index: %w", err)
	}

	return &BunStore{db: bunDB}, nil
}

// OpenSQLite opens dsn with the sqlite driver picked by sqliteshim.
func OpenSQLite(ctx context.Context, dsn string) (*BunStore, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", dsn, err)
	}
	// a single connection keeps ":memory:" databases alive across calls
	sqldb.SetMaxOpenConns(1)

	store, err := NewBunStore(ctx, sqldb, sqlitedialect.New())
	if err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return store, nil
}

func (s *BunStore) Close() error {
	return s.db.Close()
}

// RouteRepository Implementation
func (s *BunStore) CreateRoute(ctx context.Context, rec *models.RouteRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, err := s.db.NewInsert().Model(rec).Exec(ctx); err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (s *BunStore) GetRoute(ctx context.Context, id string) (*models.RouteRecord, error) {
	rec := new(models.RouteRecord)
	if err := s.db.NewSelect().Model(rec).Where("id = ?", id).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("route %s: %w", id, database.ErrNotFound)
		}
		return nil, err
	}
	return rec, nil
}

func (s *BunStore) ListRecentRoutes(ctx context.Context, limit int) ([]*models.RouteRecord, error) {
	if limit <= 0 || limit > maxRecentRoutes {
		limit = maxRecentRoutes
	}
	var recs []*models.RouteRecord
	if err := s.db.NewSelect().Model(&recs).Order("started_at DESC").Limit(limit).Scan(ctx); err != nil {
		return nil, err
	}
	return recs, nil
}

// RouteAuditRepository Implementation
func (s *BunStore) RecordRoute(ctx context.Context, o repository.RouteOutcome) (string, error) {
	return s.CreateRoute(ctx, &models.RouteRecord{
		BackendID:  o.BackendID,
		Kind:       string(o.Kind),
		Status:     string(o.Status),
		Fragments:  o.Fragments,
		Bytes:      o.Bytes,
		Error:      o.Err,
		StartedAt:  o.StartedAt.UTC(),
		DurationMS: o.Duration.Milliseconds(),
	})
}

func (s *BunStore) RecentRoutes(ctx context.Context, limit int) ([]repository.RouteOutcomeRecord, error) {
	recs, err := s.ListRecentRoutes(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]repository.RouteOutcomeRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, toOutcome(r))
	}
	return out, nil
}

func (s *BunStore) Route(ctx context.Context, id string) (repository.RouteOutcomeRecord, error) {
	rec, err := s.GetRoute(ctx, id)
	if err != nil {
		return repository.RouteOutcomeRecord{}, err
	}
	return toOutcome(rec), nil
}

func toOutcome(r *models.RouteRecord) repository.RouteOutcomeRecord {
	return repository.RouteOutcomeRecord{
		ID: r.ID,
		RouteOutcome: repository.RouteOutcome{
			BackendID: r.BackendID,
			Kind:      repository.Kind(r.Kind),
			Status:    repository.RouteStatus(r.Status),
			Fragments: r.Fragments,
			Bytes:     r.Bytes,
			Err:       r.Error,
			StartedAt: r.StartedAt,
			Duration:  time.Duration(r.DurationMS) * time.Millisecond,
		},
	}
}
