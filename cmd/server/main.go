package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"metoffice-climate/internal/aggregate"
	"metoffice-climate/internal/config"
	"metoffice-climate/internal/handlers"
	"metoffice-climate/internal/ingest"
	"metoffice-climate/internal/metoffice"
	"metoffice-climate/internal/repository"
	"metoffice-climate/internal/scheduler"
	"metoffice-climate/internal/seed"
	"metoffice-climate/pkg/cache"
	"metoffice-climate/pkg/database"
	"metoffice-climate/pkg/logging"
	"metoffice-climate/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("metoffice-climate-api", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting climate API server", logging.Fields{
		"version":     "1.0.0",
		"server_host": cfg.Server.Host,
		"server_port": cfg.Server.Port,
		"db_host":     cfg.Database.Host,
		"db_name":     cfg.Database.Database,
	})

	metricsCollector := metrics.NewCollector("metoffice_climate")
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
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	var cacheLayer cache.Cache
	redisCache, err := cache.NewRedisCache(ctx, cache.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		// The cache is an optimization; the API serves from Postgres
		// without it.
		logger.Warn(ctx, "[STARTUP] Redis unavailable, running without cache", logging.Fields{
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
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to seed reference data", logging.Fields{}, err)
	}

	fetcher := metoffice.NewClient(cfg.MetOffice, logger, metricsCollector, clock)
	engine := aggregate.NewEngine(recordRepo, summaryRepo, aggregateRepo, cacheLayer, logger, metricsCollector, clock,
		cfg.Aggregation.MinMonthsComplete, cfg.Aggregation.MinDecadeYears)
	queue := ingest.NewQueue(cfg.Ingestion.QueueSize, cfg.Ingestion.Workers, cfg.Ingestion.TaskMaxAttempts, logger, metricsCollector)
	orchestrator := ingest.NewOrchestrator(regionRepo, paramRepo, recordRepo, summaryRepo, logRepo,
		fetcher, engine, queue, cacheLayer, logger, metricsCollector, clock)
	orchestrator.RegisterHandlers()

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	queue.Start(workerCtx)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(orchestrator, cfg.Scheduler.Interval, logger)
		if err := sched.Start(); err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to start scheduler", logging.Fields{}, err)
		}
		defer sched.Stop()
	}

	climateHandler := handlers.NewClimateHandler(regionRepo, paramRepo, recordRepo, aggregateRepo, logRepo,
		orchestrator, cacheLayer, cfg.Redis.TTL, logger, metricsCollector)

	router := mux.NewRouter()
	climateHandler.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	stopWorkers()
	queue.Wait()

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}
