package repository

import (
	"context"
	"database/sql"
	"fmt"

	"metoffice-climate/internal/models"
	"metoffice-climate/pkg/database"
	"metoffice-climate/pkg/logging"
)

// ParameterRepository provides data access for climate parameters
type ParameterRepository interface {
	Create(ctx context.Context, param *models.Parameter) error
	GetByID(ctx context.Context, id int64) (*models.Parameter, error)
	GetByCode(ctx context.Context, code string) (*models.Parameter, error)
	List(ctx context.Context, activeOnly bool) ([]*models.Parameter, error)
}

type parameterRepository struct {
	db     *database.PostgresDB
	logger *logging.StructuredLogger
}

// NewParameterRepository creates a new parameter repository
func NewParameterRepository(db *database.PostgresDB, logger *logging.StructuredLogger) ParameterRepository {
	return &parameterRepository{db: db, logger: logger}
}

// Create inserts a parameter; an existing code is left untouched
func (r *parameterRepository) Create(ctx context.Context, param *models.Parameter) error {
	query := `
		INSERT INTO parameters (code, display_name, unit, min_valid, max_valid, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (code) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, "insert_parameter", query,
		param.Code,
		param.DisplayName,
		param.Unit,
		param.MinValid,
		param.MaxValid,
		param.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to create parameter: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_CREATE_PARAMETER] Parameter ensured", logging.Fields{
		"code": param.Code,
	})

	return nil
}

func (r *parameterRepository) GetByID(ctx context.Context, id int64) (*models.Parameter, error) {
	query := `
		SELECT id, code, display_name, unit, min_valid, max_valid, is_active, created_at, updated_at
		FROM parameters
		WHERE id = $1
	`

	var param models.Parameter
	err := r.db.GetContext(ctx, "get_parameter", &param, query, id)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "parameter", ID: fmt.Sprintf("%d", id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get parameter: %w", err)
	}

	return &param, nil
}

func (r *parameterRepository) GetByCode(ctx context.Context, code string) (*models.Parameter, error) {
	query := `
		SELECT id, code, display_name, unit, min_valid, max_valid, is_active, created_at, updated_at
		FROM parameters
		WHERE code = $1
	`

	var param models.Parameter
	err := r.db.GetContext(ctx, "get_parameter_by_code", &param, query, code)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "parameter", ID: code}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get parameter by code: %w", err)
	}

	return &param, nil
}

func (r *parameterRepository) List(ctx context.Context, activeOnly bool) ([]*models.Parameter, error) {
	query := `
		SELECT id, code, display_name, unit, min_valid, max_valid, is_active, created_at, updated_at
		FROM parameters
	`
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY code"

	var params []*models.Parameter
	err := r.db.SelectContext(ctx, "list_parameters", &params, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list parameters: %w", err)
	}

	return params, nil
}
