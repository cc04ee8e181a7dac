package repository

import (
	"context"
	"database/sql"
	"fmt"

	"metoffice-climate/internal/models"
	"metoffice-climate/pkg/database"
	"metoffice-climate/pkg/logging"
)

// ErrLogFinalized is returned when an update targets an ingestion log that
// already reached a terminal status.
var ErrLogFinalized = fmt.Errorf("ingestion log already finalized")

// LogFilter defines filters for querying ingestion logs
type LogFilter struct {
	RegionID    *int64
	ParameterID *int64
	Status      *models.IngestionStatus
	Limit       int
	Offset      int
}

// IngestionLogRepository provides data access for ingestion run logs
type IngestionLogRepository interface {
	Create(ctx context.Context, log *models.IngestionLog) error
	// Update rewrites the mutable columns of a log. Terminal rows are
	// immutable; updating one returns ErrLogFinalized.
	Update(ctx context.Context, log *models.IngestionLog) error
	GetByID(ctx context.Context, id int64) (*models.IngestionLog, error)
	List(ctx context.Context, filter LogFilter) ([]*models.IngestionLog, int, error)
}

type ingestionLogRepository struct {
	db     *database.PostgresDB
	logger *logging.StructuredLogger
}

// NewIngestionLogRepository creates a new ingestion log repository
func NewIngestionLogRepository(db *database.PostgresDB, logger *logging.StructuredLogger) IngestionLogRepository {
	return &ingestionLogRepository{db: db, logger: logger}
}

func (r *ingestionLogRepository) Create(ctx context.Context, log *models.IngestionLog) error {
	query := `
		INSERT INTO ingestion_logs (
			region_id, parameter_id, status,
			records_processed, records_created, records_updated,
			records_unchanged, records_rejected, malformed_rows,
			error_detail, source_url, started_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, "insert_ingestion_log", query,
		log.RegionID,
		log.ParameterID,
		log.Status,
		log.RecordsProcessed,
		log.RecordsCreated,
		log.RecordsUpdated,
		log.RecordsUnchanged,
		log.RecordsRejected,
		log.MalformedRows,
		log.ErrorDetail,
		log.SourceURL,
		log.StartedAt,
	).Scan(&log.ID)

	if err != nil {
		return fmt.Errorf("failed to create ingestion log: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_CREATE_LOG] Ingestion log created", logging.Fields{
		"log_id":       log.ID,
		"region_id":    log.RegionID,
		"parameter_id": log.ParameterID,
		"status":       string(log.Status),
	})

	return nil
}

func (r *ingestionLogRepository) Update(ctx context.Context, log *models.IngestionLog) error {
	query := `
		UPDATE ingestion_logs SET
			status = $2,
			records_processed = $3,
			records_created = $4,
			records_updated = $5,
			records_unchanged = $6,
			records_rejected = $7,
			malformed_rows = $8,
			error_detail = $9,
			source_url = $10,
			finished_at = $11
		WHERE id = $1
		  AND status NOT IN ('completed', 'failed', 'partial')
	`

	result, err := r.db.ExecContext(ctx, "update_ingestion_log", query,
		log.ID,
		log.Status,
		log.RecordsProcessed,
		log.RecordsCreated,
		log.RecordsUpdated,
		log.RecordsUnchanged,
		log.RecordsRejected,
		log.MalformedRows,
		log.ErrorDetail,
		log.SourceURL,
		log.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update ingestion log: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if rows == 0 {
		// Either the row is missing or it already reached a terminal
		// status. Distinguish so transient retries do not mask a bug.
		if _, getErr := r.GetByID(ctx, log.ID); getErr != nil {
			return getErr
		}
		return ErrLogFinalized
	}

	return nil
}

func (r *ingestionLogRepository) GetByID(ctx context.Context, id int64) (*models.IngestionLog, error) {
	query := `
		SELECT id, region_id, parameter_id, status,
		       records_processed, records_created, records_updated,
		       records_unchanged, records_rejected, malformed_rows,
		       error_detail, source_url, started_at, finished_at, created_at
		FROM ingestion_logs
		WHERE id = $1
	`

	var log models.IngestionLog
	err := r.db.GetContext(ctx, "get_ingestion_log", &log, query, id)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "ingestion_log", ID: fmt.Sprintf("%d", id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ingestion log: %w", err)
	}

	return &log, nil
}

func (r *ingestionLogRepository) List(ctx context.Context, filter LogFilter) ([]*models.IngestionLog, int, error) {
	query := `
		SELECT id, region_id, parameter_id, status,
		       records_processed, records_created, records_updated,
		       records_unchanged, records_rejected, malformed_rows,
		       error_detail, source_url, started_at, finished_at, created_at
		FROM ingestion_logs
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

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filter.Status)
		argNum++
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	err := r.db.GetContext(ctx, "count_ingestion_logs", &totalCount, countQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count ingestion logs: %w", err)
	}

	query += " ORDER BY started_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	var logs []*models.IngestionLog
	err = r.db.SelectContext(ctx, "get_ingestion_logs", &logs, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get ingestion logs: %w", err)
	}

	return logs, totalCount, nil
}
