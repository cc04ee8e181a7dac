// Package scheduler periodically re-ingests every active region and
// parameter so stored series track upstream revisions.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"metoffice-climate/internal/ingest"
	"metoffice-climate/pkg/logging"
)

// jobTimeout bounds one full refresh sweep, not one pair.
const jobTimeout = 30 * time.Minute

// Scheduler drives periodic ingestion through the orchestrator.
type Scheduler struct {
	scheduler    *gocron.Scheduler
	orchestrator *ingest.Orchestrator
	interval     time.Duration
	logger       *logging.StructuredLogger
}

// New creates a scheduler that refreshes all pairs every interval.
func New(orchestrator *ingest.Orchestrator, interval time.Duration, logger *logging.StructuredLogger) *Scheduler {
	return &Scheduler{
		scheduler:    gocron.NewScheduler(time.UTC),
		orchestrator: orchestrator,
		interval:     interval,
		logger:       logger,
	}
}

// Start schedules the refresh job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Every(s.interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		s.logger.Info(ctx, "[SCHED_REFRESH] Starting scheduled refresh", nil)

		// Pairs still running from a previous sweep are skipped by the
		// orchestrator, not treated as failures.
		logs, err := s.orchestrator.TriggerAll(ctx)
		if err != nil {
			s.logger.Error(ctx, "[SCHED_REFRESH] Scheduled refresh failed", logging.Fields{
				"triggered": len(logs),
			}, err)
			return
		}

		s.logger.Info(ctx, "[SCHED_REFRESH] Scheduled refresh queued", logging.Fields{
			"triggered": len(logs),
		})
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
