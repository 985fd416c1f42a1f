package cron

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/qreahq/qrea-backend/internal/jobs"
	"github.com/qreahq/qrea-backend/pkg/db/models"
	pkgerrors "github.com/qreahq/qrea-backend/pkg/errors"
	"github.com/qreahq/qrea-backend/pkg/logger"
)

const (
	defaultReconcileLimit  = 250
	defaultReconcileMinAge = time.Hour
	defaultReconcileEvery  = time.Hour
)

type unprocessedLister interface {
	ListUnprocessed(ctx context.Context, limit int) ([]models.StripeEvent, error)
}

type jobEnqueuer interface {
	Enqueue(ctx context.Context, job *jobs.Job) error
}

// EventReconcileJobParams configure the stale event sweep.
type EventReconcileJobParams struct {
	Logger *logger.Logger
	Events unprocessedLister
	Queue  jobEnqueuer
	Limit  int
	// MinAge keeps the sweep off events the live pipeline is still
	// working through.
	MinAge time.Duration
	// Every throttles the sweep below the shared cron tick so a stuck
	// event is requeued at most once per interval.
	Every time.Duration
	Now   func() time.Time
}

// EventReconcileJob re-enqueues stored events that never finished
// processing, typically after a worker crash or a drained retry budget.
type EventReconcileJob struct {
	logg    *logger.Logger
	events  unprocessedLister
	queue   jobEnqueuer
	limit   int
	minAge  time.Duration
	every   time.Duration
	now     func() time.Time
	lastRun time.Time
}

// NewEventReconcileJob builds the reconcile cron job.
func NewEventReconcileJob(params EventReconcileJobParams) (*EventReconcileJob, error) {
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event lister required")
	}
	if params.Queue == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "job queue required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	minAge := params.MinAge
	if minAge <= 0 {
		minAge = defaultReconcileMinAge
	}
	every := params.Every
	if every <= 0 {
		every = defaultReconcileEvery
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &EventReconcileJob{
		logg:   params.Logger,
		events: params.Events,
		queue:  params.Queue,
		limit:  limit,
		minAge: minAge,
		every:  every,
		now:    now,
	}, nil
}

// Name identifies the job in logs and metrics.
func (j *EventReconcileJob) Name() string {
	return "event-reconcile"
}

// Run sweeps unprocessed events older than the minimum age back onto the
// queue. The sweep honors its own cadence independent of the cron tick,
// skips events that already exhausted their retry budget, and collects
// individual enqueue failures so one bad event does not stall the rest.
func (j *EventReconcileJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	if !j.lastRun.IsZero() && now.Sub(j.lastRun) < j.every {
		return nil
	}
	j.lastRun = now

	events, err := j.events.ListUnprocessed(ctx, j.limit)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list unprocessed events")
	}

	cutoff := now.Add(-j.minAge)
	var errs error
	requeued := 0
	for i := range events {
		event := &events[i]
		if event.ReceivedAt.After(cutoff) {
			continue
		}
		if event.Error != nil {
			// Exhausted its handler attempts; requeueing would just
			// burn another budget on the same failure.
			continue
		}
		err := j.queue.Enqueue(ctx, &jobs.Job{
			Type:    event.Type,
			EventID: event.EventID,
			Payload: event.Payload,
		})
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		requeued++
	}

	if requeued > 0 {
		ctx = j.logg.WithField(ctx, "requeued", requeued)
		j.logg.Info(ctx, "stale events swept back onto the queue")
	}
	return errs
}
