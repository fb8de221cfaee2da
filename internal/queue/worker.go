package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrUnknownJob is the failure recorded for jobs with no registered handler
var ErrUnknownJob = errors.New("unknown job")

// HandlerFunc runs one job. Its return value is stored as the job output.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// JobMetrics counts processed jobs
type JobMetrics interface {
	RecordQueueJob(job, outcome string)
}

// Worker pops jobs and dispatches them by name. Jobs are not retried.
type Worker struct {
	queue    *Queue
	handlers map[string]HandlerFunc
	log      *zap.Logger
	metrics  JobMetrics
	timeout  time.Duration
}

// NewWorker creates a worker. log and metrics may be nil.
func NewWorker(q *Queue, log *zap.Logger, metrics JobMetrics) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		queue:    q,
		handlers: map[string]HandlerFunc{},
		log:      log,
		metrics:  metrics,
		timeout:  5 * time.Second,
	}
}

// Handle registers fn for jobs called name
func (w *Worker) Handle(name string, fn HandlerFunc) {
	w.handlers[name] = fn
}

// Run processes jobs until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Worker started", zap.String("queue", w.queue.Name()), zap.Int("handlers", len(w.handlers)))
	for {
		if ctx.Err() != nil {
			w.log.Info("Worker stopped")
			return nil
		}
		job, err := w.queue.pop(ctx, w.timeout)
		if err != nil {
			if ctx.Err() != nil {
				w.log.Info("Worker stopped")
				return nil
			}
			w.log.Error("Failed to pop job", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}
		w.Process(ctx, *job)
	}
}

// Process runs one job and stores its result
func (w *Worker) Process(ctx context.Context, job Job) *Result {
	log := w.log.With(zap.String("job_id", job.ID), zap.String("job", job.Name))
	start := time.Now()

	output, err := w.dispatch(ctx, job)
	res := &Result{JobID: job.ID, Name: job.Name, Status: "success", FinishedAt: time.Now().UTC()}
	if err == nil && output != nil {
		res.Output, err = json.Marshal(output)
	}
	if err != nil {
		res.Status = "failure"
		res.Error = err.Error()
		log.Error("Job failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
	} else {
		log.Info("Job finished", zap.Duration("duration", time.Since(start)))
	}
	if w.metrics != nil {
		w.metrics.RecordQueueJob(job.Name, res.Status)
	}

	if err := w.queue.storeResult(ctx, res); err != nil {
		log.Warn("Failed to store job result", zap.Error(err))
	}
	return res
}

func (w *Worker) dispatch(ctx context.Context, job Job) (out any, err error) {
	fn, ok := w.handlers[job.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, job.Name)
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return fn(ctx, job.Payload)
}
