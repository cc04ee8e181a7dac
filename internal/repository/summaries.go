package repository

import (
	"context"
	"database/sql"
	"fmt"

	"metoffice-climate/internal/models"
	"metoffice-climate/pkg/database"
	"metoffice-climate/pkg/logging"
	"metoffice-climate/pkg/metrics"
)

// SeasonalSummaryRepository stores the season and annual columns published
// in the MetOffice datasets alongside the monthly values.
type SeasonalSummaryRepository interface {
	Upsert(ctx context.Context, summary *models.SeasonalSummary) (UpsertOutcome, error)
	// ListRange returns published summaries for a pair whose label year
	// falls within [fromYear, toYear], ordered by year then season.
	ListRange(ctx context.Context, regionID, parameterID int64, fromYear, toYear int) ([]*models.SeasonalSummary, error)
}

type seasonalSummaryRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewSeasonalSummaryRepository creates a new seasonal summary repository
func NewSeasonalSummaryRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) SeasonalSummaryRepository {
	return &seasonalSummaryRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

func (r *seasonalSummaryRepository) Upsert(ctx context.Context, summary *models.SeasonalSummary) (UpsertOutcome, error) {
	query := `
		INSERT INTO seasonal_summaries (
			region_id, parameter_id, year, season, value, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (region_id, parameter_id, year, season) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = NOW()
		WHERE seasonal_summaries.value IS DISTINCT FROM EXCLUDED.value
		RETURNING id, (xmax = 0) AS inserted
	`

	var inserted bool
	err := r.db.QueryRowContext(ctx, "upsert_summary", query,
		summary.RegionID,
		summary.ParameterID,
		summary.Year,
		summary.Season,
		summary.Value,
	).Scan(&summary.ID, &inserted)

	if err == sql.ErrNoRows {
		return OutcomeUnchanged, nil
	}
	if err != nil {
		r.metrics.RecordDBError("upsert_summary")
		return "", fmt.Errorf("failed to upsert seasonal summary: %w", err)
	}

	if inserted {
		return OutcomeCreated, nil
	}
	return OutcomeUpdated, nil
}

func (r *seasonalSummaryRepository) ListRange(ctx context.Context, regionID, parameterID int64, fromYear, toYear int) ([]*models.SeasonalSummary, error) {
	query := `
		SELECT id, region_id, parameter_id, year, season, value, created_at, updated_at
		FROM seasonal_summaries
		WHERE region_id = $1 AND parameter_id = $2
		  AND year BETWEEN $3 AND $4
		ORDER BY year, season
	`

	var summaries []*models.SeasonalSummary
	err := r.db.SelectContext(ctx, "list_summary_range", &summaries, query, regionID, parameterID, fromYear, toYear)
	if err != nil {
		return nil, fmt.Errorf("failed to list seasonal summaries: %w", err)
	}

	return summaries, nil
}
