// Package ingest coordinates fetching MetOffice source files, validating
// their rows, and writing weather records, with downstream aggregation
// queued after each run that changed data.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"metoffice-climate/internal/aggregate"
	"metoffice-climate/internal/metoffice"
	"metoffice-climate/internal/models"
	"metoffice-climate/internal/repository"
	"metoffice-climate/internal/validator"
	"metoffice-climate/pkg/cache"
	"metoffice-climate/pkg/logging"
	"metoffice-climate/pkg/metrics"
)

// ErrIngestionInProgress is returned when a run is already active for the
// same region and parameter.
var ErrIngestionInProgress = errors.New("ingestion already in progress for this region and parameter")

// maxErrorDetailItems caps how many per-row problems are itemized in a
// log's error_detail column.
const maxErrorDetailItems = 20

// Orchestrator owns the ingestion lifecycle for (region, parameter) pairs.
// At most one run per pair is active at a time; the pair lock is taken at
// trigger time and held until the run finishes.
type Orchestrator struct {
	regions   repository.RegionRepository
	params    repository.ParameterRepository
	records   repository.WeatherRecordRepository
	summaries repository.SeasonalSummaryRepository
	logs      repository.IngestionLogRepository

	fetcher  metoffice.Fetcher
	engine   *aggregate.Engine
	queue    *Queue
	cache    cache.Cache
	parseCfg metoffice.ParseConfig

	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	clock   clockwork.Clock

	mu      sync.Mutex
	running map[string]struct{}
}

// NewOrchestrator wires the ingestion pipeline. The cache may be nil.
func NewOrchestrator(
	regions repository.RegionRepository,
	params repository.ParameterRepository,
	records repository.WeatherRecordRepository,
	summaries repository.SeasonalSummaryRepository,
	logs repository.IngestionLogRepository,
	fetcher metoffice.Fetcher,
	engine *aggregate.Engine,
	queue *Queue,
	cacheLayer cache.Cache,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
	clock clockwork.Clock,
) *Orchestrator {
	return &Orchestrator{
		regions:   regions,
		params:    params,
		records:   records,
		summaries: summaries,
		logs:      logs,
		fetcher:   fetcher,
		engine:    engine,
		queue:     queue,
		cache:     cacheLayer,
		parseCfg:  metoffice.DefaultParseConfig(),
		logger:    logger,
		metrics:   metricsCollector,
		clock:     clock,
		running:   make(map[string]struct{}),
	}
}

// RegisterHandlers binds the orchestrator's task handlers to its queue.
func (o *Orchestrator) RegisterHandlers() {
	o.queue.Register(TaskIngest, o.handleIngest)
	o.queue.Register(TaskAggregate, o.handleAggregate)
}

func pairKey(regionID, parameterID int64) string {
	return fmt.Sprintf("%d:%d", regionID, parameterID)
}

// Trigger starts an ingestion run for one region and parameter. It creates
// the pending log row, queues the work, and returns immediately. A second
// trigger while a run is active returns ErrIngestionInProgress without
// creating a log.
func (o *Orchestrator) Trigger(ctx context.Context, regionCode, parameterCode string) (*models.IngestionLog, error) {
	region, err := o.regions.GetByCode(ctx, regionCode)
	if err != nil {
		return nil, err
	}
	param, err := o.params.GetByCode(ctx, parameterCode)
	if err != nil {
		return nil, err
	}

	key := pairKey(region.ID, param.ID)
	if !o.acquire(key) {
		return nil, ErrIngestionInProgress
	}

	log := &models.IngestionLog{
		RegionID:    region.ID,
		ParameterID: param.ID,
		Status:      models.IngestionPending,
		SourceURL:   o.fetcher.SourceURL(param.Code, region.Code),
		StartedAt:   o.clock.Now().UTC(),
	}
	if err := o.logs.Create(ctx, log); err != nil {
		o.release(key)
		return nil, err
	}

	task := Task{
		Kind: TaskIngest,
		Scope: TaskScope{
			RegionID:      region.ID,
			ParameterID:   param.ID,
			RegionCode:    region.Code,
			ParameterCode: param.Code,
			LogID:         log.ID,
		},
	}
	if err := o.queue.Enqueue(task); err != nil {
		o.finalize(ctx, log, models.IngestionFailed, err.Error())
		o.release(key)
		return nil, err
	}

	o.logger.Info(ctx, "[INGEST_TRIGGER] Ingestion queued", logging.Fields{
		"log_id":    log.ID,
		"region":    region.Code,
		"parameter": param.Code,
	})

	return log, nil
}

// TriggerAll starts a run for every active (region, parameter) pair. Pairs
// already running are skipped, not errors.
func (o *Orchestrator) TriggerAll(ctx context.Context) ([]*models.IngestionLog, error) {
	regions, err := o.regions.List(ctx, true)
	if err != nil {
		return nil, err
	}
	params, err := o.params.List(ctx, true)
	if err != nil {
		return nil, err
	}

	var logs []*models.IngestionLog
	for _, region := range regions {
		for _, param := range params {
			log, err := o.Trigger(ctx, region.Code, param.Code)
			if errors.Is(err, ErrIngestionInProgress) {
				continue
			}
			if err != nil {
				return logs, err
			}
			logs = append(logs, log)
		}
	}

	return logs, nil
}

func (o *Orchestrator) acquire(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.running[key]; busy {
		return false
	}
	o.running[key] = struct{}{}
	return true
}

func (o *Orchestrator) release(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, key)
}

// handleIngest runs an ingestion task. Run failures are recorded in the
// ingestion log rather than returned; the fetch layer already retries
// transient upstream errors, so a failed run is not redelivered.
func (o *Orchestrator) handleIngest(ctx context.Context, task Task) error {
	defer o.release(pairKey(task.Scope.RegionID, task.Scope.ParameterID))

	log, err := o.logs.GetByID(ctx, task.Scope.LogID)
	if err != nil {
		o.logger.Error(ctx, "[INGEST_LOG_MISSING] Ingestion log not found", logging.Fields{
			"log_id": task.Scope.LogID,
		}, err)
		return nil
	}
	if log.Status.Terminal() {
		return nil
	}

	region, err := o.regions.GetByID(ctx, task.Scope.RegionID)
	if err != nil {
		o.finalize(ctx, log, models.IngestionFailed, err.Error())
		return nil
	}
	param, err := o.params.GetByID(ctx, task.Scope.ParameterID)
	if err != nil {
		o.finalize(ctx, log, models.IngestionFailed, err.Error())
		return nil
	}

	o.runIngestion(ctx, region, param, log)
	return nil
}

func (o *Orchestrator) handleAggregate(ctx context.Context, task Task) error {
	region, err := o.regions.GetByID(ctx, task.Scope.RegionID)
	if err != nil {
		return err
	}
	param, err := o.params.GetByID(ctx, task.Scope.ParameterID)
	if err != nil {
		return err
	}
	return o.engine.Recompute(ctx, region, param, task.Scope.Years)
}

func (o *Orchestrator) runIngestion(ctx context.Context, region *models.Region, param *models.Parameter, log *models.IngestionLog) {
	timer := o.metrics.NewTimer(o.metrics.IngestionDuration)
	defer timer.ObserveDuration()

	log.Status = models.IngestionRunning
	if err := o.logs.Update(ctx, log); err != nil {
		o.logger.Error(ctx, "[INGEST_LOG_UPDATE] Failed to mark run as running", logging.Fields{
			"log_id": log.ID,
		}, err)
		return
	}

	result, err := o.fetcher.Fetch(ctx, param.Code, region.Code)
	if err != nil {
		o.metrics.IngestionRunsTotal.WithLabelValues(string(models.IngestionFailed)).Inc()
		o.finalize(ctx, log, models.IngestionFailed, fmt.Sprintf("fetch failed: %v", err))
		return
	}
	log.SourceURL = result.SourceURL

	scanner := metoffice.NewScanner(strings.NewReader(result.Text), o.parseCfg)
	batch := validator.NewBatch(param)

	changedYears := make(map[int]struct{})
	var detail []string

	for scanner.Scan() {
		c := scanner.Candidate()

		switch c.Kind {
		case metoffice.CandidateMonth:
			log.RecordsProcessed++

			if rej := batch.CheckMonth(c); rej != nil {
				log.RecordsRejected++
				o.metrics.RecordRejection(rej.Reason)
				if len(detail) < maxErrorDetailItems {
					detail = append(detail, rej.Error())
				}
				continue
			}

			rec := &models.WeatherRecord{
				RegionID:    region.ID,
				ParameterID: param.ID,
				Year:        c.Year,
				Month:       c.Month,
				Value:       c.Value,
				SourceURL:   result.SourceURL,
				FetchedAt:   result.FetchedAt,
			}
			outcome, err := o.records.Upsert(ctx, rec)
			if err != nil {
				o.metrics.IngestionRunsTotal.WithLabelValues(string(models.IngestionFailed)).Inc()
				o.finalize(ctx, log, models.IngestionFailed, fmt.Sprintf("record write failed: %v", err))
				return
			}
			o.metrics.RecordUpsertOutcome(string(outcome))

			switch outcome {
			case repository.OutcomeCreated:
				log.RecordsCreated++
				changedYears[c.Year] = struct{}{}
			case repository.OutcomeUpdated:
				log.RecordsUpdated++
				changedYears[c.Year] = struct{}{}
			case repository.OutcomeUnchanged:
				log.RecordsUnchanged++
			}

		case metoffice.CandidateSeason:
			log.RecordsProcessed++

			if rej := batch.CheckSeason(c); rej != nil {
				log.RecordsRejected++
				o.metrics.RecordRejection(rej.Reason)
				if len(detail) < maxErrorDetailItems {
					detail = append(detail, rej.Error())
				}
				continue
			}

			summary := &models.SeasonalSummary{
				RegionID:    region.ID,
				ParameterID: param.ID,
				Year:        c.Year,
				Season:      c.Season,
				Value:       c.Value.Decimal,
			}
			outcome, err := o.summaries.Upsert(ctx, summary)
			if err != nil {
				o.metrics.IngestionRunsTotal.WithLabelValues(string(models.IngestionFailed)).Inc()
				o.finalize(ctx, log, models.IngestionFailed, fmt.Sprintf("summary write failed: %v", err))
				return
			}
			// Season columns feed the run totals the same way months do.
			switch outcome {
			case repository.OutcomeCreated:
				log.RecordsCreated++
				changedYears[c.Year] = struct{}{}
			case repository.OutcomeUpdated:
				log.RecordsUpdated++
				changedYears[c.Year] = struct{}{}
			case repository.OutcomeUnchanged:
				log.RecordsUnchanged++
			}
		}
	}

	if err := scanner.Err(); err != nil {
		o.metrics.IngestionRunsTotal.WithLabelValues(string(models.IngestionFailed)).Inc()
		o.finalize(ctx, log, models.IngestionFailed, fmt.Sprintf("read failed: %v", err))
		return
	}

	log.MalformedRows = len(scanner.RowErrors())
	o.metrics.RowsParsedTotal.Add(float64(scanner.DataRows()))
	o.metrics.RowsMalformedTotal.Add(float64(log.MalformedRows))
	for _, rowErr := range scanner.RowErrors() {
		if len(detail) < maxErrorDetailItems {
			detail = append(detail, rowErr.Error())
		}
	}

	status := models.IngestionCompleted
	switch {
	case log.RecordsProcessed == 0 && scanner.DataRows() == 0:
		status = models.IngestionFailed
		detail = append(detail, "no parseable data rows in source file")
	case log.MalformedRows > 0 || log.RecordsRejected > 0:
		status = models.IngestionPartial
	}

	o.metrics.IngestionRunsTotal.WithLabelValues(string(status)).Inc()
	o.finalize(ctx, log, status, strings.Join(detail, "; "))

	if len(changedYears) > 0 {
		years := make([]int, 0, len(changedYears))
		for y := range changedYears {
			years = append(years, y)
		}
		sort.Ints(years)

		o.invalidate(ctx, region, param, years)

		task := Task{
			Kind: TaskAggregate,
			Scope: TaskScope{
				RegionID:      region.ID,
				ParameterID:   param.ID,
				RegionCode:    region.Code,
				ParameterCode: param.Code,
				Years:         years,
			},
		}
		if err := o.queue.Enqueue(task); err != nil {
			o.logger.Error(ctx, "[INGEST_AGG_ENQUEUE] Failed to queue aggregation", logging.Fields{
				"log_id": log.ID,
				"years":  len(years),
			}, err)
		}
	}

	o.logger.Info(ctx, "[INGEST_DONE] Ingestion run finished", logging.Fields{
		"log_id":    log.ID,
		"region":    region.Code,
		"parameter": param.Code,
		"status":    string(log.Status),
		"processed": log.RecordsProcessed,
		"created":   log.RecordsCreated,
		"updated":   log.RecordsUpdated,
		"unchanged": log.RecordsUnchanged,
		"rejected":  log.RecordsRejected,
		"malformed": log.MalformedRows,
	})
}

func (o *Orchestrator) finalize(ctx context.Context, log *models.IngestionLog, status models.IngestionStatus, errorDetail string) {
	now := o.clock.Now().UTC()
	log.Status = status
	log.ErrorDetail = errorDetail
	log.FinishedAt = &now

	if err := o.logs.Update(ctx, log); err != nil {
		o.logger.Error(ctx, "[INGEST_FINALIZE] Failed to finalize ingestion log", logging.Fields{
			"log_id": log.ID,
			"status": string(status),
		}, err)
	}
}

// invalidate drops cached pages touched by the changed years. Aggregate
// prefixes are covered again after recomputation; dropping them here too
// keeps the window of stale reads small.
func (o *Orchestrator) invalidate(ctx context.Context, region *models.Region, param *models.Parameter, years []int) {
	if o.cache == nil {
		return
	}

	o.metrics.CacheInvalidationsTotal.Inc()
	for _, prefix := range cache.InvalidationPrefixes(region.Code, param.Code, years) {
		removed, err := o.cache.Invalidate(ctx, prefix)
		if err != nil {
			o.logger.Warn(ctx, "[INGEST_CACHE_INVALIDATE] Cache invalidation failed", logging.Fields{
				"prefix": prefix,
				"error":  err.Error(),
			})
			continue
		}
		o.metrics.CacheKeysInvalidated.Add(float64(removed))
	}
}
