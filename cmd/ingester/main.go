package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jonboulle/clockwork"

	"metoffice-climate/internal/aggregate"
	"metoffice-climate/internal/config"
	"metoffice-climate/internal/ingest"
	"metoffice-climate/internal/metoffice"
	"metoffice-climate/internal/models"
	"metoffice-climate/internal/repository"
	"metoffice-climate/internal/seed"
	"metoffice-climate/pkg/cache"
	"metoffice-climate/pkg/database"
	"metoffice-climate/pkg/logging"
	"metoffice-climate/pkg/metrics"
)

func main() {
	region := flag.String("region", "", "Ingest a single region code (default: all active)")
	parameter := flag.String("parameter", "", "Ingest a single parameter code (default: all active)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("metoffice-climate-ingester", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[INGESTER_START] Starting one-shot ingestion", logging.Fields{
		"version":   "1.0.0",
		"region":    *region,
		"parameter": *parameter,
	})

	metricsCollector := metrics.NewCollector("metoffice_climate_ingester")
	clock := clockwork.NewRealClock()

	dbConfig := &database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}

	db, err := database.NewPostgresDB(dbConfig, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	var cacheLayer cache.Cache
	redisCache, err := cache.NewRedisCache(ctx, cache.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		logger.Warn(ctx, "[INGESTER_START] Redis unavailable, running without cache", logging.Fields{
			"addr":  cfg.Redis.Addr,
			"error": err.Error(),
		})
	} else {
		cacheLayer = redisCache
		defer redisCache.Close()
	}

	regionRepo := repository.NewRegionRepository(db, logger)
	paramRepo := repository.NewParameterRepository(db, logger)
	recordRepo := repository.NewWeatherRecordRepository(db, logger, metricsCollector)
	summaryRepo := repository.NewSeasonalSummaryRepository(db, logger, metricsCollector)
	aggregateRepo := repository.NewAggregateRepository(db, logger, metricsCollector)
	logRepo := repository.NewIngestionLogRepository(db, logger)

	if err := seed.Run(ctx, regionRepo, paramRepo, logger); err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to seed reference data", logging.Fields{}, err)
	}

	fetcher := metoffice.NewClient(cfg.MetOffice, logger, metricsCollector, clock)
	engine := aggregate.NewEngine(recordRepo, summaryRepo, aggregateRepo, cacheLayer, logger, metricsCollector, clock,
		cfg.Aggregation.MinMonthsComplete, cfg.Aggregation.MinDecadeYears)
	queue := ingest.NewQueue(cfg.Ingestion.QueueSize, cfg.Ingestion.Workers, cfg.Ingestion.TaskMaxAttempts, logger, metricsCollector)
	orchestrator := ingest.NewOrchestrator(regionRepo, paramRepo, recordRepo, summaryRepo, logRepo,
		fetcher, engine, queue, cacheLayer, logger, metricsCollector, clock)
	orchestrator.RegisterHandlers()

	var logs []*models.IngestionLog
	if *region != "" && *parameter != "" {
		log, err := orchestrator.Trigger(ctx, *region, *parameter)
		if err != nil {
			logger.Fatal(ctx, "[INGESTER_ERROR] Failed to trigger ingestion", logging.Fields{
				"region":    *region,
				"parameter": *parameter,
			}, err)
		}
		logs = append(logs, log)
	} else {
		logs, err = orchestrator.TriggerAll(ctx)
		if err != nil {
			logger.Fatal(ctx, "[INGESTER_ERROR] Failed to trigger ingestion", logging.Fields{}, err)
		}
	}

	// Drain the queue on this goroutine; ingestion enqueues aggregation
	// tasks, so keep going until nothing is left.
	queue.RunPending(ctx)

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("INGESTION COMPLETE")
	fmt.Println(strings.Repeat("=", 80))

	counts := make(map[models.IngestionStatus]int)
	for _, pending := range logs {
		final, err := logRepo.GetByID(ctx, pending.ID)
		if err != nil {
			fmt.Printf("log %d: %v\n", pending.ID, err)
			continue
		}
		counts[final.Status]++
		fmt.Printf("log %-4d %-18s %-10s status=%-9s processed=%-4d created=%-4d updated=%-4d unchanged=%-4d rejected=%-3d malformed=%d\n",
			final.ID, regionLabel(ctx, regionRepo, final.RegionID), paramLabel(ctx, paramRepo, final.ParameterID),
			final.Status, final.RecordsProcessed, final.RecordsCreated, final.RecordsUpdated,
			final.RecordsUnchanged, final.RecordsRejected, final.MalformedRows)
	}

	fmt.Printf("\nRuns: %d completed, %d partial, %d failed\n",
		counts[models.IngestionCompleted], counts[models.IngestionPartial], counts[models.IngestionFailed])

	logger.Info(ctx, "[INGESTER_COMPLETE] One-shot ingestion finished", logging.Fields{
		"runs":      len(logs),
		"completed": counts[models.IngestionCompleted],
		"partial":   counts[models.IngestionPartial],
		"failed":    counts[models.IngestionFailed],
	})

	if counts[models.IngestionFailed] > 0 {
		os.Exit(1)
	}
}

func regionLabel(ctx context.Context, repo repository.RegionRepository, id int64) string {
	region, err := repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Sprintf("region#%d", id)
	}
	return region.Code
}

func paramLabel(ctx context.Context, repo repository.ParameterRepository, id int64) string {
	param, err := repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Sprintf("param#%d", id)
	}
	return param.Code
}
