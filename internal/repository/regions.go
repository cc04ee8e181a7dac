package repository

import (
	"context"
	"database/sql"
	"fmt"

	"metoffice-climate/internal/models"
	"metoffice-climate/pkg/database"
	"metoffice-climate/pkg/logging"
)

// RegionRepository provides data access for MetOffice regions
type RegionRepository interface {
	Create(ctx context.Context, region *models.Region) error
	GetByID(ctx context.Context, id int64) (*models.Region, error)
	GetByCode(ctx context.Context, code string) (*models.Region, error)
	List(ctx context.Context, activeOnly bool) ([]*models.Region, error)
}

type regionRepository struct {
	db     *database.PostgresDB
	logger *logging.StructuredLogger
}

// NewRegionRepository creates a new region repository
func NewRegionRepository(db *database.PostgresDB, logger *logging.StructuredLogger) RegionRepository {
	return &regionRepository{db: db, logger: logger}
}

// Create inserts a region; an existing code is left untouched
func (r *regionRepository) Create(ctx context.Context, region *models.Region) error {
	query := `
		INSERT INTO regions (name, code, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (code) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, "insert_region", query,
		region.Name,
		region.Code,
		region.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to create region: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_CREATE_REGION] Region ensured", logging.Fields{
		"code": region.Code,
	})

	return nil
}

func (r *regionRepository) GetByID(ctx context.Context, id int64) (*models.Region, error) {
	query := `
		SELECT id, name, code, is_active, created_at, updated_at
		FROM regions
		WHERE id = $1
	`

	var region models.Region
	err := r.db.GetContext(ctx, "get_region", &region, query, id)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "region", ID: fmt.Sprintf("%d", id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get region: %w", err)
	}

	return &region, nil
}

// GetByCode looks a region up by its MetOffice dataset code, e.g. "England"
func (r *regionRepository) GetByCode(ctx context.Context, code string) (*models.Region, error) {
	query := `
		SELECT id, name, code, is_active, created_at, updated_at
		FROM regions
		WHERE code = $1
	`

	var region models.Region
	err := r.db.GetContext(ctx, "get_region_by_code", &region, query, code)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "region", ID: code}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get region by code: %w", err)
	}

	return &region, nil
}

func (r *regionRepository) List(ctx context.Context, activeOnly bool) ([]*models.Region, error) {
	query := `
		SELECT id, name, code, is_active, created_at, updated_at
		FROM regions
	`
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY code"

	var regions []*models.Region
	err := r.db.SelectContext(ctx, "list_regions", &regions, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}

	return regions, nil
}
