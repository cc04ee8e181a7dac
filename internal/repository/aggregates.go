package repository

import (
	"context"
	"fmt"

	"metoffice-climate/internal/models"
	"metoffice-climate/pkg/database"
	"metoffice-climate/pkg/logging"
	"metoffice-climate/pkg/metrics"
)

// AggregateFilter defines filters for querying precomputed aggregates
type AggregateFilter struct {
	RegionID    *int64
	ParameterID *int64
	Type        *models.AggregateType
	PeriodKey   *string
	Limit       int
	Offset      int
}

// AggregateRepository provides data access for precomputed aggregates
type AggregateRepository interface {
	// Replace overwrites the aggregate row for its (region, parameter,
	// type, period_key) key. Recomputation never merges with a prior row.
	Replace(ctx context.Context, agg *models.Aggregate) error
	// Delete removes the aggregate row for the key, if one exists. Used
	// when a recompute finds no inputs left for the period.
	Delete(ctx context.Context, regionID, parameterID int64, aggType models.AggregateType, periodKey string) error
	List(ctx context.Context, filter AggregateFilter) ([]*models.Aggregate, int, error)
}

type aggregateRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewAggregateRepository creates a new aggregate repository
func NewAggregateRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) AggregateRepository {
	return &aggregateRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

func (r *aggregateRepository) Replace(ctx context.Context, agg *models.Aggregate) error {
	query := `
		INSERT INTO weather_aggregates (
			region_id, parameter_id, aggregate_type, period_key,
			mean_value, min_value, max_value, record_count,
			complete, derived, computed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (region_id, parameter_id, aggregate_type, period_key) DO UPDATE SET
			mean_value = EXCLUDED.mean_value,
			min_value = EXCLUDED.min_value,
			max_value = EXCLUDED.max_value,
			record_count = EXCLUDED.record_count,
			complete = EXCLUDED.complete,
			derived = EXCLUDED.derived,
			computed_at = EXCLUDED.computed_at
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, "replace_aggregate", query,
		agg.RegionID,
		agg.ParameterID,
		agg.Type,
		agg.PeriodKey,
		agg.MeanValue,
		agg.MinValue,
		agg.MaxValue,
		agg.RecordCount,
		agg.Complete,
		agg.Derived,
		agg.ComputedAt,
	).Scan(&agg.ID)

	if err != nil {
		r.metrics.RecordDBError("replace_aggregate")
		return fmt.Errorf("failed to replace aggregate: %w", err)
	}

	return nil
}

func (r *aggregateRepository) Delete(ctx context.Context, regionID, parameterID int64, aggType models.AggregateType, periodKey string) error {
	query := `
		DELETE FROM weather_aggregates
		WHERE region_id = $1 AND parameter_id = $2
		  AND aggregate_type = $3 AND period_key = $4
	`

	_, err := r.db.ExecContext(ctx, "delete_aggregate", query, regionID, parameterID, aggType, periodKey)
	if err != nil {
		r.metrics.RecordDBError("delete_aggregate")
		return fmt.Errorf("failed to delete aggregate: %w", err)
	}

	return nil
}

func (r *aggregateRepository) List(ctx context.Context, filter AggregateFilter) ([]*models.Aggregate, int, error) {
	query := `
		SELECT id, region_id, parameter_id, aggregate_type, period_key,
		       mean_value, min_value, max_value, record_count,
		       complete, derived, computed_at
		FROM weather_aggregates
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.RegionID != nil {
		query += fmt.Sprintf(" AND region_id = $%d", argNum)
		args = append(args, *filter.RegionID)
		argNum++
	}

	if filter.ParameterID != nil {
		query += fmt.Sprintf(" AND parameter_id = $%d", argNum)
		args = append(args, *filter.ParameterID)
		argNum++
	}

	if filter.Type != nil {
		query += fmt.Sprintf(" AND aggregate_type = $%d", argNum)
		args = append(args, *filter.Type)
		argNum++
	}

	if filter.PeriodKey != nil {
		query += fmt.Sprintf(" AND period_key = $%d", argNum)
		args = append(args, *filter.PeriodKey)
		argNum++
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	err := r.db.GetContext(ctx, "count_aggregates", &totalCount, countQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count aggregates: %w", err)
	}

	query += " ORDER BY period_key DESC, aggregate_type"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	var aggregates []*models.Aggregate
	err = r.db.SelectContext(ctx, "get_aggregates", &aggregates, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get aggregates: %w", err)
	}

	return aggregates, totalCount, nil
}
