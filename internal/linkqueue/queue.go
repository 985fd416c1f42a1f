package linkqueue

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/qreahq/qrea-backend/pkg/db/models"
	pkgerrors "github.com/qreahq/qrea-backend/pkg/errors"
	"github.com/qreahq/qrea-backend/pkg/logger"
)

const defaultMaxAttempts = 7

type eventLinker interface {
	SetSubscriptionRef(ctx context.Context, eventID string, subscriptionID uuid.UUID) error
}

type customerFinder interface {
	FindByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*models.Subscription, error)
}

type linkStore interface {
	HSet(ctx context.Context, key, field string, value any) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	QueueKey(parts ...string) string
}

type entry struct {
	CustomerID string `json:"customer_id"`
	Attempts   int    `json:"attempts"`
}

type Params struct {
	Store            linkStore
	EventRepo        eventLinker
	SubscriptionRepo customerFinder
	Logger           *logger.Logger
	MaxAttempts      int
}

// Queue holds webhook events whose customer had no subscription row at
// intake time. Entries live in a redis hash so the api process that
// receives webhooks and the worker process that drains share one table.
// Each drain pass retries the lookup; entries that stay unresolvable
// after the attempt budget are dropped.
type Queue struct {
	store linkStore
	key   string

	events      eventLinker
	subs        customerFinder
	logg        *logger.Logger
	maxAttempts int
}

func New(params Params) (*Queue, error) {
	if params.Store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "link store required")
	}
	if params.EventRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event repo required")
	}
	if params.SubscriptionRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repo required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Queue{
		store:       params.Store,
		key:         params.Store.QueueKey("links", "pending"),
		events:      params.EventRepo,
		subs:        params.SubscriptionRepo,
		logg:        params.Logger,
		maxAttempts: maxAttempts,
	}, nil
}

// Enqueue registers an event for deferred linking. Re-enqueueing the same
// event resets its attempt count.
func (q *Queue) Enqueue(ctx context.Context, eventID, customerID string) error {
	if eventID == "" || customerID == "" {
		return nil
	}
	raw, err := json.Marshal(entry{CustomerID: customerID})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode link entry")
	}
	if err := q.store.HSet(ctx, q.key, eventID, string(raw)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store link entry")
	}
	return nil
}

// Len reports how many events are waiting for a link.
func (q *Queue) Len(ctx context.Context) (int, error) {
	pending, err := q.store.HGetAll(ctx, q.key)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read link entries")
	}
	return len(pending), nil
}

// DrainOnce retries every pending entry once. A resolved entry links the
// event and leaves the queue; a lookup miss costs an attempt; transient
// store errors leave the entry untouched for the next pass.
func (q *Queue) DrainOnce(ctx context.Context) {
	pending, err := q.store.HGetAll(ctx, q.key)
	if err != nil {
		q.logg.Error(ctx, "failed to read deferred link entries", err)
		return
	}

	for eventID, raw := range pending {
		var e entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			q.logg.Error(ctx, "dropping undecodable link entry", err)
			q.remove(ctx, eventID)
			continue
		}

		ctx := q.logg.WithFields(ctx, map[string]any{
			"event_id":    eventID,
			"customer_id": e.CustomerID,
		})

		if e.Attempts >= q.maxAttempts {
			q.logg.Warn(ctx, "giving up on deferred link after max attempts")
			q.remove(ctx, eventID)
			continue
		}

		sub, err := q.subs.FindByStripeCustomerID(ctx, e.CustomerID)
		if err != nil {
			q.logg.Error(ctx, "deferred link lookup failed", err)
			continue
		}
		if sub == nil {
			q.bumpAttempts(ctx, eventID, e)
			continue
		}

		if err := q.events.SetSubscriptionRef(ctx, eventID, sub.ID); err != nil {
			q.logg.Error(ctx, "deferred link update failed", err)
			continue
		}
		q.logg.Info(ctx, "deferred link resolved")
		q.remove(ctx, eventID)
	}
}

func (q *Queue) remove(ctx context.Context, eventID string) {
	if err := q.store.HDel(ctx, q.key, eventID); err != nil {
		q.logg.Error(ctx, "failed to remove link entry", err)
	}
}

func (q *Queue) bumpAttempts(ctx context.Context, eventID string, e entry) {
	e.Attempts++
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := q.store.HSet(ctx, q.key, eventID, string(raw)); err != nil {
		q.logg.Error(ctx, "failed to record link attempt", err)
	}
}
