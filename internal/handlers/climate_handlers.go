package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"metoffice-climate/internal/ingest"
	"metoffice-climate/internal/models"
	"metoffice-climate/internal/repository"
	"metoffice-climate/pkg/cache"
	"metoffice-climate/pkg/logging"
	"metoffice-climate/pkg/metrics"
)

// statusTTL keeps the status endpoint cheap without hiding a stalled
// ingestion for long.
const statusTTL = 30 * time.Second

// ClimateHandler handles the climate API endpoints
type ClimateHandler struct {
	regions      repository.RegionRepository
	params       repository.ParameterRepository
	records      repository.WeatherRecordRepository
	aggregates   repository.AggregateRepository
	logs         repository.IngestionLogRepository
	orchestrator *ingest.Orchestrator
	cache        cache.Cache
	cacheTTL     time.Duration
	logger       *logging.StructuredLogger
	metrics      *metrics.Collector
}

// NewClimateHandler creates a new climate handler. The cache may be nil.
func NewClimateHandler(
	regions repository.RegionRepository,
	params repository.ParameterRepository,
	records repository.WeatherRecordRepository,
	aggregates repository.AggregateRepository,
	logs repository.IngestionLogRepository,
	orchestrator *ingest.Orchestrator,
	cacheLayer cache.Cache,
	cacheTTL time.Duration,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *ClimateHandler {
	return &ClimateHandler{
		regions:      regions,
		params:       params,
		records:      records,
		aggregates:   aggregates,
		logs:         logs,
		orchestrator: orchestrator,
		cache:        cacheLayer,
		cacheTTL:     cacheTTL,
		logger:       logger,
		metrics:      metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// TriggerIngestion handles POST /api/ingest/{region}/{parameter}
func (h *ClimateHandler) TriggerIngestion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	log, err := h.orchestrator.Trigger(ctx, vars["region"], vars["parameter"])
	if errors.Is(err, ingest.ErrIngestionInProgress) {
		h.sendError(w, r, "ingestion already in progress for this region and parameter", http.StatusConflict)
		return
	}
	var notFound *repository.NotFoundError
	if errors.As(err, &notFound) {
		h.sendError(w, r, notFound.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error(ctx, "[API_TRIGGER_ERROR] Failed to trigger ingestion", logging.Fields{
			"region":    vars["region"],
			"parameter": vars["parameter"],
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/ingest")
		h.sendError(w, r, "failed to trigger ingestion", http.StatusInternalServerError)
		return
	}

	h.sendJSON(w, map[string]interface{}{
		"log_id": log.ID,
		"status": log.Status,
	}, http.StatusAccepted)
}

// TriggerAllIngestions handles POST /api/ingest
func (h *ClimateHandler) TriggerAllIngestions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	logs, err := h.orchestrator.TriggerAll(ctx)
	if err != nil {
		h.logger.Error(ctx, "[API_TRIGGER_ALL_ERROR] Failed to trigger full refresh", logging.Fields{
			"triggered": len(logs),
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/ingest")
		h.sendError(w, r, "failed to trigger full refresh", http.StatusInternalServerError)
		return
	}

	ids := make([]int64, 0, len(logs))
	for _, log := range logs {
		ids = append(ids, log.ID)
	}

	h.sendJSON(w, map[string]interface{}{
		"triggered": len(logs),
		"log_ids":   ids,
	}, http.StatusAccepted)
}

// GetRecords handles GET /api/records
func (h *ClimateHandler) GetRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	timer := h.metrics.NewTimer(h.metrics.APIRequestDuration.WithLabelValues("/api/records"))
	defer timer.ObserveDuration()

	regionCode := r.URL.Query().Get("region")
	parameterCode := r.URL.Query().Get("parameter")
	page, limit := h.pagination(r, 100)

	filter := repository.RecordFilter{
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	if regionCode != "" {
		region, err := h.regions.GetByCode(ctx, regionCode)
		if err != nil {
			h.sendError(w, r, "unknown region", http.StatusNotFound)
			return
		}
		filter.RegionID = &region.ID
	}
	if parameterCode != "" {
		param, err := h.params.GetByCode(ctx, parameterCode)
		if err != nil {
			h.sendError(w, r, "unknown parameter", http.StatusNotFound)
			return
		}
		filter.ParameterID = &param.ID
	}

	var year int
	if yearStr := r.URL.Query().Get("year"); yearStr != "" {
		y, err := strconv.Atoi(yearStr)
		if err != nil {
			h.sendError(w, r, "invalid year, expected integer", http.StatusBadRequest)
			return
		}
		year = y
		filter.Year = &year
	}
	if monthStr := r.URL.Query().Get("month"); monthStr != "" {
		m, err := strconv.Atoi(monthStr)
		if err != nil || m < 1 || m > 12 {
			h.sendError(w, r, "invalid month, expected 1-12", http.StatusBadRequest)
			return
		}
		filter.Month = &m
	}

	// Read-through caching only for fully qualified pages; partially
	// filtered listings cannot be invalidated precisely.
	cacheKey := ""
	if regionCode != "" && parameterCode != "" && filter.Year != nil && filter.Month == nil {
		cacheKey = cache.RecordsPageKey(regionCode, parameterCode, year, page, limit)
		if h.serveCached(w, r, cacheKey) {
			return
		}
	}

	records, total, err := h.records.List(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_RECORDS_ERROR] Failed to get records", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/records")
		h.sendError(w, r, "failed to retrieve records", http.StatusInternalServerError)
		return
	}

	response := PaginatedResponse{
		Data:       records,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}

	h.sendCacheable(w, r, cacheKey, response)
}

// GetAggregates handles GET /api/aggregates
func (h *ClimateHandler) GetAggregates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	timer := h.metrics.NewTimer(h.metrics.APIRequestDuration.WithLabelValues("/api/aggregates"))
	defer timer.ObserveDuration()

	regionCode := r.URL.Query().Get("region")
	parameterCode := r.URL.Query().Get("parameter")
	typeStr := r.URL.Query().Get("type")
	periodKey := r.URL.Query().Get("period")
	page, limit := h.pagination(r, 100)

	filter := repository.AggregateFilter{
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	if regionCode != "" {
		region, err := h.regions.GetByCode(ctx, regionCode)
		if err != nil {
			h.sendError(w, r, "unknown region", http.StatusNotFound)
			return
		}
		filter.RegionID = &region.ID
	}
	if parameterCode != "" {
		param, err := h.params.GetByCode(ctx, parameterCode)
		if err != nil {
			h.sendError(w, r, "unknown parameter", http.StatusNotFound)
			return
		}
		filter.ParameterID = &param.ID
	}

	var aggType models.AggregateType
	if typeStr != "" {
		aggType = models.AggregateType(typeStr)
		if !aggType.Valid() {
			h.sendError(w, r, "invalid type, expected monthly, yearly, seasonal or decadal", http.StatusBadRequest)
			return
		}
		filter.Type = &aggType
	}
	if periodKey != "" {
		filter.PeriodKey = &periodKey
	}

	cacheKey := ""
	if regionCode != "" && parameterCode != "" && typeStr != "" && periodKey != "" {
		cacheKey = cache.AggregatesKey(aggType, regionCode, parameterCode, periodKey)
		if h.serveCached(w, r, cacheKey) {
			return
		}
	}

	aggregates, total, err := h.aggregates.List(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_AGGREGATES_ERROR] Failed to get aggregates", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/aggregates")
		h.sendError(w, r, "failed to retrieve aggregates", http.StatusInternalServerError)
		return
	}

	response := PaginatedResponse{
		Data:       aggregates,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}

	h.sendCacheable(w, r, cacheKey, response)
}

// GetIngestions handles GET /api/ingestions
func (h *ClimateHandler) GetIngestions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, limit := h.pagination(r, 50)

	filter := repository.LogFilter{
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	if regionCode := r.URL.Query().Get("region"); regionCode != "" {
		region, err := h.regions.GetByCode(ctx, regionCode)
		if err != nil {
			h.sendError(w, r, "unknown region", http.StatusNotFound)
			return
		}
		filter.RegionID = &region.ID
	}
	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status := models.IngestionStatus(statusStr)
		if !status.Valid() {
			h.sendError(w, r, "invalid status, expected pending, running, completed, failed or partial", http.StatusBadRequest)
			return
		}
		filter.Status = &status
	}

	logs, total, err := h.logs.List(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_INGESTIONS_ERROR] Failed to get ingestion logs", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/ingestions")
		h.sendError(w, r, "failed to retrieve ingestion logs", http.StatusInternalServerError)
		return
	}

	h.sendJSON(w, PaginatedResponse{
		Data:       logs,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, http.StatusOK)
}

// GetIngestion handles GET /api/ingestions/{id}
func (h *ClimateHandler) GetIngestion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.sendError(w, r, "invalid ingestion log id", http.StatusBadRequest)
		return
	}

	log, err := h.logs.GetByID(ctx, id)
	var notFound *repository.NotFoundError
	if errors.As(err, &notFound) {
		h.sendError(w, r, notFound.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		h.metrics.RecordAPIError("internal_error", "/api/ingestions")
		h.sendError(w, r, "failed to retrieve ingestion log", http.StatusInternalServerError)
		return
	}

	h.sendJSON(w, log, http.StatusOK)
}

// GetRegions handles GET /api/regions
func (h *ClimateHandler) GetRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := h.regions.List(r.Context(), false)
	if err != nil {
		h.metrics.RecordAPIError("internal_error", "/api/regions")
		h.sendError(w, r, "failed to retrieve regions", http.StatusInternalServerError)
		return
	}
	h.sendJSON(w, regions, http.StatusOK)
}

// GetParameters handles GET /api/parameters
func (h *ClimateHandler) GetParameters(w http.ResponseWriter, r *http.Request) {
	params, err := h.params.List(r.Context(), false)
	if err != nil {
		h.metrics.RecordAPIError("internal_error", "/api/parameters")
		h.sendError(w, r, "failed to retrieve parameters", http.StatusInternalServerError)
		return
	}
	h.sendJSON(w, params, http.StatusOK)
}

// GetStatus handles GET /api/status
func (h *ClimateHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.cache != nil {
		if cached, found, err := h.cache.Get(ctx, cache.StatusKey()); err == nil && found {
			h.metrics.CacheHitsTotal.Inc()
			h.sendJSONString(w, cached, http.StatusOK)
			return
		}
		h.metrics.CacheMissesTotal.Inc()
	}

	running := models.IngestionRunning
	active, _, err := h.logs.List(ctx, repository.LogFilter{Status: &running, Limit: 50})
	if err != nil {
		h.metrics.RecordAPIError("internal_error", "/api/status")
		h.sendError(w, r, "failed to retrieve status", http.StatusInternalServerError)
		return
	}
	recent, _, err := h.logs.List(ctx, repository.LogFilter{Limit: 10})
	if err != nil {
		h.metrics.RecordAPIError("internal_error", "/api/status")
		h.sendError(w, r, "failed to retrieve status", http.StatusInternalServerError)
		return
	}

	status := map[string]interface{}{
		"status":          "ok",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"active_runs":     len(active),
		"recent_runs":     recent,
		"cache_reachable": h.cacheReachable(ctx),
	}

	body, err := json.Marshal(status)
	if err != nil {
		h.sendError(w, r, "failed to encode status", http.StatusInternalServerError)
		return
	}
	if h.cache != nil {
		if err := h.cache.Set(ctx, cache.StatusKey(), string(body), statusTTL); err != nil {
			h.logger.Warn(ctx, "[API_STATUS_CACHE] Failed to cache status", logging.Fields{
				"error": err.Error(),
			})
		}
	}

	h.sendJSONString(w, string(body), http.StatusOK)
}

// HealthCheck handles GET /health
func (h *ClimateHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, http.StatusOK)
}

func (h *ClimateHandler) cacheReachable(ctx context.Context) bool {
	if h.cache == nil {
		return false
	}
	return h.cache.Ping(ctx) == nil
}

// serveCached writes the cached payload when present.
func (h *ClimateHandler) serveCached(w http.ResponseWriter, r *http.Request, key string) bool {
	if h.cache == nil || key == "" {
		return false
	}

	cached, found, err := h.cache.Get(r.Context(), key)
	if err != nil {
		h.logger.Warn(r.Context(), "[API_CACHE_GET] Cache read failed", logging.Fields{
			"key":   key,
			"error": err.Error(),
		})
		return false
	}
	if !found {
		h.metrics.CacheMissesTotal.Inc()
		return false
	}

	h.metrics.CacheHitsTotal.Inc()
	w.Header().Set("X-Cache", "HIT")
	h.sendJSONString(w, cached, http.StatusOK)
	return true
}

// sendCacheable sends the response and stores it under key when caching
// applies to this request.
func (h *ClimateHandler) sendCacheable(w http.ResponseWriter, r *http.Request, key string, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		h.sendError(w, r, "failed to encode response", http.StatusInternalServerError)
		return
	}

	if h.cache != nil && key != "" {
		if err := h.cache.Set(r.Context(), key, string(body), h.cacheTTL); err != nil {
			h.logger.Warn(r.Context(), "[API_CACHE_SET] Cache write failed", logging.Fields{
				"key":   key,
				"error": err.Error(),
			})
		}
	}

	w.Header().Set("X-Cache", "MISS")
	h.sendJSONString(w, string(body), http.StatusOK)
}

func (h *ClimateHandler) pagination(r *http.Request, defaultLimit int) (page, limit int) {
	page = 1
	limit = defaultLimit

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	return page, limit
}

// sendJSON sends a JSON response
func (h *ClimateHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendJSONString sends a pre-encoded JSON body
func (h *ClimateHandler) sendJSONString(w http.ResponseWriter, body string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write([]byte(body))
}

// sendError sends an error response
func (h *ClimateHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all climate API routes
func (h *ClimateHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/ingest/{region}/{parameter}", h.TriggerIngestion).Methods("POST")
	router.HandleFunc("/api/ingest", h.TriggerAllIngestions).Methods("POST")
	router.HandleFunc("/api/records", h.GetRecords).Methods("GET")
	router.HandleFunc("/api/aggregates", h.GetAggregates).Methods("GET")
	router.HandleFunc("/api/ingestions", h.GetIngestions).Methods("GET")
	router.HandleFunc("/api/ingestions/{id}", h.GetIngestion).Methods("GET")
	router.HandleFunc("/api/regions", h.GetRegions).Methods("GET")
	router.HandleFunc("/api/parameters", h.GetParameters).Methods("GET")
	router.HandleFunc("/api/status", h.GetStatus).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
