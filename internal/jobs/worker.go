package jobs

import (
	"context"
	"sync"
	"time"

	pkgerrors "github.com/qreahq/qrea-backend/pkg/errors"
	"github.com/qreahq/qrea-backend/pkg/logger"
	"github.com/qreahq/qrea-backend/pkg/metrics"
)

const (
	defaultConcurrency  = 5
	defaultPollInterval = 250 * time.Millisecond
	defaultBackoffBase  = 2 * time.Second
)

// Handler processes one job attempt. A returned error costs the job an
// attempt and schedules a retry until the budget runs out.
type Handler func(ctx context.Context, job *Job) error

// WorkerParams configure the worker pool.
type WorkerParams struct {
	Queue        *Queue
	Handler      Handler
	Logger       *logger.Logger
	Metrics      *metrics.QueueMetrics
	Concurrency  int
	PollInterval time.Duration
	BackoffBase  time.Duration

	// AfterJob runs after every handled job, success or not, off the
	// retry path.
	AfterJob func(ctx context.Context)
	// OnExhausted runs when a job burns its last attempt.
	OnExhausted func(ctx context.Context, job *Job, err error)
}

// Worker drains the queue with a fixed pool of goroutines.
type Worker struct {
	queue        *Queue
	handler      Handler
	logg         *logger.Logger
	metrics      *metrics.QueueMetrics
	concurrency  int
	pollInterval time.Duration
	backoffBase  time.Duration
	afterJob     func(ctx context.Context)
	onExhausted  func(ctx context.Context, job *Job, err error)
}

func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Queue == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "queue required")
	}
	if params.Handler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "handler required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	pollInterval := params.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	backoffBase := params.BackoffBase
	if backoffBase <= 0 {
		backoffBase = defaultBackoffBase
	}
	return &Worker{
		queue:        params.Queue,
		handler:      params.Handler,
		logg:         params.Logger,
		metrics:      params.Metrics,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		backoffBase:  backoffBase,
		afterJob:     params.AfterJob,
		onExhausted:  params.OnExhausted,
	}, nil
}

// Run blocks until the context is canceled, processing jobs with the
// configured concurrency.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, ok, err := w.queue.Dequeue(ctx)
		if err != nil {
			w.logg.Error(ctx, "dequeue failed", err)
			w.sleep(ctx, w.pollInterval)
			continue
		}
		if !ok {
			w.sleep(ctx, w.pollInterval)
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	attempt := job.Attempts + 1
	jobCtx := w.logg.WithFields(ctx, map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
		"event_id": job.EventID,
		"attempt":  attempt,
	})

	start := time.Now()
	err := w.handler(jobCtx, job)
	w.metrics.ObserveDuration(w.queue.Name(), job.Type, time.Since(start))

	// A job that just ran may have created the subscription row an
	// earlier event is still waiting on.
	if w.afterJob != nil {
		defer w.afterJob(jobCtx)
	}

	if err == nil {
		if completeErr := w.queue.Complete(jobCtx, job); completeErr != nil {
			w.logg.Error(jobCtx, "failed to record job completion", completeErr)
		}
		w.metrics.IncCompleted(w.queue.Name(), job.Type)
		w.logg.Info(jobCtx, "job completed")
		return
	}

	job.Attempts = attempt
	job.LastError = err.Error()

	if attempt >= job.MaxAttempts {
		if failErr := w.queue.Fail(jobCtx, job, err.Error()); failErr != nil {
			w.logg.Error(jobCtx, "failed to record job failure", failErr)
		}
		w.metrics.IncFailed(w.queue.Name(), job.Type)
		w.logg.Error(jobCtx, "job failed permanently", err)
		if w.onExhausted != nil {
			w.onExhausted(jobCtx, job, err)
		}
		return
	}

	delay := w.backoffDelay(attempt)
	if retryErr := w.queue.Retry(jobCtx, job, delay); retryErr != nil {
		w.logg.Error(jobCtx, "failed to schedule job retry", retryErr)
		return
	}
	w.metrics.IncRetried(w.queue.Name(), job.Type)
	jobCtx = w.logg.WithField(jobCtx, "retry_in", delay.String())
	w.logg.Warn(jobCtx, "job attempt failed, retry scheduled")
}

// backoffDelay doubles per attempt starting from the base delay.
func (w *Worker) backoffDelay(attempt int) time.Duration {
	delay := w.backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
