package stripewebhook

import (
	"context"

	"github.com/stripe/stripe-go/v84"

	"github.com/qreahq/qrea-backend/internal/events"
	"github.com/qreahq/qrea-backend/internal/jobs"
	"github.com/qreahq/qrea-backend/pkg/logger"
	"github.com/qreahq/qrea-backend/pkg/metrics"

	pkgerrors "github.com/qreahq/qrea-backend/pkg/errors"
)

type eventRecorder interface {
	RecordEvent(ctx context.Context, event *stripe.Event) (*events.RecordResult, error)
}

type jobEnqueuer interface {
	Enqueue(ctx context.Context, job *jobs.Job) error
}

type linkScheduler interface {
	Enqueue(ctx context.Context, eventID, customerID string) error
}

type IntakeParams struct {
	Events    eventRecorder
	Jobs      jobEnqueuer
	LinkQueue linkScheduler
	Logger    *logger.Logger
	Metrics   *metrics.WebhookMetrics
}

// Intake is the receiving half of the pipeline: it persists a verified
// event, schedules deferred linking when the owning row is unknown, and
// hands the event to the worker queue.
type Intake struct {
	events  eventRecorder
	jobs    jobEnqueuer
	links   linkScheduler
	logg    *logger.Logger
	metrics *metrics.WebhookMetrics
}

func NewIntake(params IntakeParams) (*Intake, error) {
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event recorder required")
	}
	if params.Jobs == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "job queue required")
	}
	if params.LinkQueue == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "link queue required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Intake{
		events:  params.Events,
		jobs:    params.Jobs,
		links:   params.LinkQueue,
		logg:    params.Logger,
		metrics: params.Metrics,
	}, nil
}

// IngestResult tells the webhook endpoint what happened to the delivery.
type IngestResult struct {
	Saved  bool `json:"saved"`
	Queued bool `json:"queued"`
}

// Ingest stores the event and enqueues it for processing. Storage failures
// propagate so the provider redelivers; a queue failure after a successful
// save is reported the same way, the upsert makes the retry harmless.
func (i *Intake) Ingest(ctx context.Context, event *stripe.Event) (*IngestResult, error) {
	if event == nil || event.Data == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = i.logg.WithEventID(ctx, event.ID)
	i.metrics.IncReceived(string(event.Type))

	result, err := i.events.RecordEvent(ctx, event)
	if err != nil {
		return nil, err
	}
	if result.Event != nil && result.Event.Processed {
		// Stripe redelivers for up to 72h, well past the redis guard's
		// TTL. A replay of a finished event must not rerun its handler.
		i.logg.Info(ctx, "event already processed, acknowledging replay")
		return &IngestResult{Saved: true}, nil
	}
	if result.Deferred {
		// The stored event stays the durable record; the reconcile
		// sweep retries anything that slips through here.
		if err := i.links.Enqueue(ctx, event.ID, result.Identity.CustomerID); err != nil {
			i.logg.Error(ctx, "failed to schedule deferred link", err)
		}
	}

	job := &jobs.Job{
		Type:    string(event.Type),
		EventID: event.ID,
		Payload: event.Data.Raw,
	}
	if err := i.jobs.Enqueue(ctx, job); err != nil {
		return &IngestResult{Saved: true}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue webhook job")
	}

	i.logg.Info(ctx, "webhook event stored and queued")
	return &IngestResult{Saved: true, Queued: true}, nil
}
