package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"metoffice-climate/pkg/logging"
	"metoffice-climate/pkg/metrics"
)

// ErrQueueFull is returned when a task cannot be accepted without blocking.
var ErrQueueFull = errors.New("ingestion queue full")

// TaskKind identifies what a queued task does.
type TaskKind string

const (
	TaskIngest    TaskKind = "ingest"
	TaskAggregate TaskKind = "aggregate"
)

// TaskScope carries the identifiers a task handler needs. Handlers must be
// idempotent because a failed task is redelivered.
type TaskScope struct {
	RegionID      int64
	ParameterID   int64
	RegionCode    string
	ParameterCode string
	Years         []int
	LogID         int64
}

// Task is one unit of queued work.
type Task struct {
	ID       uuid.UUID
	Kind     TaskKind
	Scope    TaskScope
	Attempts int
}

// Handler processes one task. Returning an error requeues the task until
// its attempt budget is spent.
type Handler func(ctx context.Context, task Task) error

// Queue is an in-process work queue backed by a buffered channel and a
// fixed worker pool. Delivery is at least once.
type Queue struct {
	tasks       chan Task
	handlers    map[TaskKind]Handler
	workers     int
	maxAttempts int
	logger      *logging.StructuredLogger
	metrics     *metrics.Collector

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// NewQueue creates a queue with the given buffer size and worker count.
func NewQueue(size, workers, maxAttempts int, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Queue {
	return &Queue{
		tasks:       make(chan Task, size),
		handlers:    make(map[TaskKind]Handler),
		workers:     workers,
		maxAttempts: maxAttempts,
		logger:      logger,
		metrics:     metricsCollector,
	}
}

// Register binds a handler to a task kind. Must be called before Start.
func (q *Queue) Register(kind TaskKind, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = handler
}

// Enqueue offers a task without blocking.
func (q *Queue) Enqueue(task Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}

	select {
	case q.tasks <- task:
		q.metrics.QueueDepth.Set(float64(len(q.tasks)))
		return nil
	default:
		q.metrics.RecordTask(string(task.Kind), "dropped")
		return fmt.Errorf("%w: kind=%s", ErrQueueFull, task.Kind)
	}
}

// Start launches the worker pool. Workers drain until the context is
// cancelled, then exit; buffered tasks left behind are dropped with the
// queue.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}

	q.logger.Info(ctx, "[QUEUE_START] Worker pool started", logging.Fields{
		"workers":  q.workers,
		"capacity": cap(q.tasks),
	})
}

// RunPending processes queued tasks on the caller's goroutine until the
// buffer is empty. One-shot commands use this instead of Start.
func (q *Queue) RunPending(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-q.tasks:
			q.metrics.QueueDepth.Set(float64(len(q.tasks)))
			q.process(ctx, task)
		default:
			return
		}
	}
}

// Wait blocks until all workers have exited.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-q.tasks:
			q.metrics.QueueDepth.Set(float64(len(q.tasks)))
			q.process(ctx, task)
		}
	}
}

func (q *Queue) process(ctx context.Context, task Task) {
	q.mu.Lock()
	handler, ok := q.handlers[task.Kind]
	q.mu.Unlock()

	if !ok {
		q.metrics.RecordTask(string(task.Kind), "unhandled")
		q.logger.Error(ctx, "[QUEUE_UNHANDLED] No handler for task kind", logging.Fields{
			"task_id": task.ID.String(),
			"kind":    string(task.Kind),
		}, nil)
		return
	}

	task.Attempts++
	err := handler(ctx, task)
	if err == nil {
		q.metrics.RecordTask(string(task.Kind), "ok")
		return
	}

	if task.Attempts >= q.maxAttempts {
		q.metrics.RecordTask(string(task.Kind), "exhausted")
		q.logger.Error(ctx, "[QUEUE_EXHAUSTED] Task failed after max attempts", logging.Fields{
			"task_id":  task.ID.String(),
			"kind":     string(task.Kind),
			"attempts": task.Attempts,
		}, err)
		return
	}

	q.logger.Warn(ctx, "[QUEUE_RETRY] Task failed, requeueing", logging.Fields{
		"task_id":  task.ID.String(),
		"kind":     string(task.Kind),
		"attempts": task.Attempts,
		"error":    err.Error(),
	})

	select {
	case q.tasks <- task:
		q.metrics.QueueDepth.Set(float64(len(q.tasks)))
	default:
		q.metrics.RecordTask(string(task.Kind), "dropped")
		q.logger.Error(ctx, "[QUEUE_DROP] Queue full, retry dropped", logging.Fields{
			"task_id": task.ID.String(),
			"kind":    string(task.Kind),
		}, err)
	}
}
