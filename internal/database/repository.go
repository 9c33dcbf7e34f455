package database

import (
	"context"

	"github.com/thalamus/thalamus-api/internal/database/models"
	"github.com/thalamus/thalamus-api/internal/domain/repository"
)

var ErrNotFound = repository.ErrNotFound

// RouteRepository handles route audit persistence
type RouteRepository interface {
	CreateRoute(ctx context.Context, rec *models.RouteRecord) (string, error)
	GetRoute(ctx context.Context, id string) (*models.RouteRecord, error)
	ListRecentRoutes(ctx context.Context, limit int) ([]*models.RouteRecord, error)
}
