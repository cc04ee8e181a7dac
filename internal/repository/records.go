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

// UpsertOutcome reports what an upsert actually did to the row.
type UpsertOutcome string

const (
	OutcomeCreated   UpsertOutcome = "created"
	OutcomeUpdated   UpsertOutcome = "updated"
	OutcomeUnchanged UpsertOutcome = "unchanged"
)

// RecordFilter defines filters for querying weather records
type RecordFilter struct {
	RegionID    *int64
	ParameterID *int64
	Year        *int
	Month       *int
	Limit       int
	Offset      int
}

// WeatherRecordRepository provides data access for monthly weather records
type WeatherRecordRepository interface {
	// Upsert writes one monthly record keyed on (region, parameter, year,
	// month) and reports whether the row was created, updated, or already
	// held the same value.
	Upsert(ctx context.Context, record *models.WeatherRecord) (UpsertOutcome, error)
	List(ctx context.Context, filter RecordFilter) ([]*models.WeatherRecord, int, error)
	// ListRange returns all records for a pair within [fromYear, toYear],
	// ordered by year then month. Aggregation reads through this.
	ListRange(ctx context.Context, regionID, parameterID int64, fromYear, toYear int) ([]*models.WeatherRecord, error)
}

type weatherRecordRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewWeatherRecordRepository creates a new weather record repository
func NewWeatherRecordRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) WeatherRecordRepository {
	return &weatherRecordRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Upsert relies on two Postgres behaviors: xmax = 0 distinguishes a fresh
// insert from a conflict update, and the DO UPDATE WHERE clause suppresses
// the write entirely when the stored value already matches, which surfaces
// as sql.ErrNoRows from RETURNING.
func (r *weatherRecordRepository) Upsert(ctx context.Context, record *models.WeatherRecord) (UpsertOutcome, error) {
	query := `
		INSERT INTO weather_records (
			region_id, parameter_id, year, month, value,
			source_url, fetched_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (region_id, parameter_id, year, month) DO UPDATE SET
			value = EXCLUDED.value,
			source_url = EXCLUDED.source_url,
			fetched_at = EXCLUDED.fetched_at,
			updated_at = NOW()
		WHERE weather_records.value IS DISTINCT FROM EXCLUDED.value
		RETURNING id, (xmax = 0) AS inserted
	`

	var inserted bool
	err := r.db.QueryRowContext(ctx, "upsert_record", query,
		record.RegionID,
		record.ParameterID,
		record.Year,
		record.Month,
		record.Value,
		record.SourceURL,
		record.FetchedAt,
	).Scan(&record.ID, &inserted)

	if err == sql.ErrNoRows {
		return OutcomeUnchanged, nil
	}
	if err != nil {
		r.metrics.RecordDBError("upsert_record")
		return "", fmt.Errorf("failed to upsert weather record: %w", err)
	}

	if inserted {
		return OutcomeCreated, nil
	}
	return OutcomeUpdated, nil
}

func (r *weatherRecordRepository) List(ctx context.Context, filter RecordFilter) ([]*models.WeatherRecord, int, error) {
	query := `
		SELECT id, region_id, parameter_id, year, month, value,
		       source_url, fetched_at, created_at, updated_at
		FROM weather_records
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

	if filter.Year != nil {
		query += fmt.Sprintf(" AND year = $%d", argNum)
		args = append(args, *filter.Year)
		argNum++
	}

	if filter.Month != nil {
		query += fmt.Sprintf(" AND month = $%d", argNum)
		args = append(args, *filter.Month)
		argNum++
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	err := r.db.GetContext(ctx, "count_records", &totalCount, countQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count weather records: %w", err)
	}

	query += " ORDER BY year DESC, month DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	var records []*models.WeatherRecord
	err = r.db.SelectContext(ctx, "get_records", &records, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get weather records: %w", err)
	}

	return records, totalCount, nil
}

func (r *weatherRecordRepository) ListRange(ctx context.Context, regionID, parameterID int64, fromYear, toYear int) ([]*models.WeatherRecord, error) {
	query := `
		SELECT id, region_id, parameter_id, year, month, value,
		       source_url, fetched_at, created_at, updated_at
		FROM weather_records
		WHERE region_id = $1 AND parameter_id = $2
		  AND year BETWEEN $3 AND $4
		ORDER BY year, month
	`

	var records []*models.WeatherRecord
	err := r.db.SelectContext(ctx, "list_record_range", &records, query, regionID, parameterID, fromYear, toYear)
	if err != nil {
		return nil, fmt.Errorf("failed to list weather record range: %w", err)
	}

	return records, nil
}
