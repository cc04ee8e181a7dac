package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metoffice-climate/internal/models"
	"metoffice-climate/internal/repository"
	"metoffice-climate/pkg/logging"
	"metoffice-climate/pkg/metrics"
)

var testCollector = metrics.NewCollector("handlers_test")

type stubLogs struct {
	lastFilter repository.LogFilter
	listCalls  int
}

func (s *stubLogs) Create(ctx context.Context, log *models.IngestionLog) error { return nil }
func (s *stubLogs) Update(ctx context.Context, log *models.IngestionLog) error { return nil }
func (s *stubLogs) GetByID(ctx context.Context, id int64) (*models.IngestionLog, error) {
	return nil, &repository.NotFoundError{Resource: "ingestion_log", ID: "?"}
}

func (s *stubLogs) List(ctx context.Context, filter repository.LogFilter) ([]*models.IngestionLog, int, error) {
	s.listCalls++
	s.lastFilter = filter
	return nil, 0, nil
}

func newTestHandler(logs repository.IngestionLogRepository) *ClimateHandler {
	logger := logging.NewStructuredLogger("handlers-test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	return NewClimateHandler(nil, nil, nil, nil, logs, nil, nil, 0, logger, testCollector)
}

func TestGetIngestionsRejectsUnknownStatus(t *testing.T) {
	logs := &stubLogs{}
	h := newTestHandler(logs)

	req := httptest.NewRequest(http.MethodGet, "/api/ingestions?status=bogus", nil)
	rec := httptest.NewRecorder()
	h.GetIngestions(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, logs.listCalls, "an invalid status must not reach the repository")
}

func TestGetIngestionsFiltersByKnownStatus(t *testing.T) {
	logs := &stubLogs{}
	h := newTestHandler(logs)

	req := httptest.NewRequest(http.MethodGet, "/api/ingestions?status=partial", nil)
	rec := httptest.NewRecorder()
	h.GetIngestions(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, logs.lastFilter.Status)
	assert.Equal(t, models.IngestionPartial, *logs.lastFilter.Status)
}
