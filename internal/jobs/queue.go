package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/qreahq/qrea-backend/pkg/errors"
	"github.com/qreahq/qrea-backend/pkg/metrics"
)

const (
	// priorityband spaces priorities far enough apart that the per-queue
	// sequence number breaks ties FIFO inside a band.
	priorityBand = float64(1 << 40)

	defaultMaxAttempts        = 3
	defaultCompletedRetention = 100
	defaultFailedRetention    = 50
)

// store is the slice of redis operations the queue needs.
type store interface {
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZPopMin(ctx context.Context, key string) (string, bool, error)
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	ZRem(ctx context.Context, key, member string) (bool, error)
	LPushTrim(ctx context.Context, key, value string, keep int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
	QueueKey(parts ...string) string
}

// QueueParams configure a durable queue instance.
type QueueParams struct {
	Name               string
	Store              store
	Metrics            *metrics.QueueMetrics
	MaxAttempts        int
	CompletedRetention int
	FailedRetention    int
}

// Queue is a redis-backed priority queue. Ready jobs sit in a sorted set
// scored by priority band plus arrival order; jobs waiting out a backoff
// sit in a second set scored by their due time.
type Queue struct {
	name               string
	store              store
	metrics            *metrics.QueueMetrics
	maxAttempts        int
	completedRetention int
	failedRetention    int
}

func NewQueue(params QueueParams) (*Queue, error) {
	if params.Name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "queue name required")
	}
	if params.Store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "queue store required")
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	completed := params.CompletedRetention
	if completed <= 0 {
		completed = defaultCompletedRetention
	}
	failed := params.FailedRetention
	if failed <= 0 {
		failed = defaultFailedRetention
	}
	return &Queue{
		name:               params.Name,
		store:              params.Store,
		metrics:            params.Metrics,
		maxAttempts:        maxAttempts,
		completedRetention: completed,
		failedRetention:    failed,
	}, nil
}

// Name returns the queue identifier used in keys and metrics.
func (q *Queue) Name() string {
	return q.name
}

// MaxAttempts returns the per-job attempt budget.
func (q *Queue) MaxAttempts() int {
	return q.maxAttempts
}

// Enqueue stores the job payload and makes it ready for dequeue.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	if job == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "job required")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Priority <= 0 {
		job.Priority = PriorityFor(job.Type)
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.maxAttempts
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	seq, err := q.store.Incr(ctx, q.store.QueueKey(q.name, "seq"))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocate job sequence")
	}
	if err := q.writePayload(ctx, job); err != nil {
		return err
	}
	score := float64(job.Priority)*priorityBand + float64(seq)
	if err := q.store.ZAdd(ctx, q.pendingKey(), score, job.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue job")
	}
	q.metrics.IncEnqueued(q.name, job.Type)
	return nil
}

// Dequeue promotes due retries, then pops the highest-priority ready job.
// The second return is false when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*Job, bool, error) {
	if err := q.promoteDue(ctx); err != nil {
		return nil, false, err
	}

	for {
		id, ok, err := q.store.ZPopMin(ctx, q.pendingKey())
		if err != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "pop pending job")
		}
		if !ok {
			return nil, false, nil
		}
		job, err := q.readPayload(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if job == nil {
			// orphaned member without payload, skip it
			continue
		}
		return job, true, nil
	}
}

// Retry schedules another attempt after the backoff delay.
func (q *Queue) Retry(ctx context.Context, job *Job, delay time.Duration) error {
	if job == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "job required")
	}
	if err := q.writePayload(ctx, job); err != nil {
		return err
	}
	availableAt := time.Now().UTC().Add(delay)
	score := float64(availableAt.UnixMilli())
	if err := q.store.ZAdd(ctx, q.delayedKey(), score, job.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "schedule job retry")
	}
	return nil
}

// Complete drops the job payload and records it in the completed list,
// trimmed to the retention cap.
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	if job == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "job required")
	}
	if err := q.store.Del(ctx, q.payloadKey(job.ID)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "drop job payload")
	}
	return q.pushSummary(ctx, q.completedKey(), job, "", int64(q.completedRetention))
}

// Fail drops the job payload and records the terminal failure, trimmed
// to the retention cap.
func (q *Queue) Fail(ctx context.Context, job *Job, cause string) error {
	if job == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "job required")
	}
	if err := q.store.Del(ctx, q.payloadKey(job.ID)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "drop job payload")
	}
	return q.pushSummary(ctx, q.failedKey(), job, cause, int64(q.failedRetention))
}

// ListFailed returns the most recent terminal failures, newest first.
func (q *Queue) ListFailed(ctx context.Context, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = int64(q.failedRetention)
	}
	entries, err := q.store.LRange(ctx, q.failedKey(), 0, limit-1)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list failed jobs")
	}
	return entries, nil
}

func (q *Queue) promoteDue(ctx context.Context) error {
	now := float64(time.Now().UTC().UnixMilli())
	due, err := q.store.ZRangeByScore(ctx, q.delayedKey(), 0, now)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "scan delayed jobs")
	}
	for _, id := range due {
		removed, err := q.store.ZRem(ctx, q.delayedKey(), id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "promote delayed job")
		}
		if !removed {
			// another worker promoted it first
			continue
		}
		job, err := q.readPayload(ctx, id)
		if err != nil {
			return err
		}
		if job == nil {
			continue
		}
		seq, err := q.store.Incr(ctx, q.store.QueueKey(q.name, "seq"))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocate job sequence")
		}
		score := float64(job.Priority)*priorityBand + float64(seq)
		if err := q.store.ZAdd(ctx, q.pendingKey(), score, id); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "requeue delayed job")
		}
	}
	return nil
}

func (q *Queue) writePayload(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode job")
	}
	if err := q.store.Set(ctx, q.payloadKey(job.ID), string(data), 0); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store job payload")
	}
	return nil
}

func (q *Queue) readPayload(ctx context.Context, id string) (*Job, error) {
	raw, err := q.store.Get(ctx, q.payloadKey(id))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load job payload")
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode job")
	}
	return &job, nil
}

func (q *Queue) pushSummary(ctx context.Context, key string, job *Job, cause string, keep int64) error {
	data, err := json.Marshal(summary{
		ID:         job.ID,
		Type:       job.Type,
		EventID:    job.EventID,
		Attempts:   job.Attempts,
		FinishedAt: time.Now().UTC(),
		Error:      cause,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode job summary")
	}
	if err := q.store.LPushTrim(ctx, key, string(data), keep); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record job summary")
	}
	return nil
}

func (q *Queue) pendingKey() string {
	return q.store.QueueKey(q.name, "pending")
}

func (q *Queue) delayedKey() string {
	return q.store.QueueKey(q.name, "delayed")
}

func (q *Queue) completedKey() string {
	return q.store.QueueKey(q.name, "completed")
}

func (q *Queue) failedKey() string {
	return q.store.QueueKey(q.name, "failed")
}

func (q *Queue) payloadKey(id string) string {
	return q.store.QueueKey(q.name, "job", id)
}
