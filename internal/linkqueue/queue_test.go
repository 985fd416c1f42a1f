package linkqueue

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qreahq/qrea-backend/pkg/db/models"
	"github.com/qreahq/qrea-backend/pkg/logger"
)

type stubLinker struct {
	linked map[string]uuid.UUID
	err    error
}

func (s *stubLinker) SetSubscriptionRef(ctx context.Context, eventID string, subscriptionID uuid.UUID) error {
	if s.err != nil {
		return s.err
	}
	if s.linked == nil {
		s.linked = map[string]uuid.UUID{}
	}
	s.linked[eventID] = subscriptionID
	return nil
}

type stubFinder struct {
	byCustomer map[string]*models.Subscription
	err        error
	calls      int
}

func (s *stubFinder) FindByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*models.Subscription, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.byCustomer[stripeCustomerID], nil
}

// memoryLinkStore stands in for the redis hash both binaries share.
type memoryLinkStore struct {
	hashes map[string]map[string]string
	err    error
}

func newMemoryLinkStore() *memoryLinkStore {
	return &memoryLinkStore{hashes: make(map[string]map[string]string)}
}

func (m *memoryLinkStore) HSet(_ context.Context, key, field string, value any) error {
	if m.err != nil {
		return m.err
	}
	if m.hashes[key] == nil {
		m.hashes[key] = make(map[string]string)
	}
	m.hashes[key][field] = value.(string)
	return nil
}

func (m *memoryLinkStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]string, len(m.hashes[key]))
	for field, value := range m.hashes[key] {
		out[field] = value
	}
	return out, nil
}

func (m *memoryLinkStore) HDel(_ context.Context, key string, fields ...string) error {
	if m.err != nil {
		return m.err
	}
	for _, field := range fields {
		delete(m.hashes[key], field)
	}
	return nil
}

func (m *memoryLinkStore) QueueKey(parts ...string) string {
	return "qrea:queue:" + strings.Join(parts, ":")
}

func newQueue(t *testing.T, store *memoryLinkStore, linker *stubLinker, finder *stubFinder, maxAttempts int) *Queue {
	t.Helper()
	q, err := New(Params{
		Store:            store,
		EventRepo:        linker,
		SubscriptionRepo: finder,
		Logger:           logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		MaxAttempts:      maxAttempts,
	})
	require.NoError(t, err)
	return q
}

func queueLen(t *testing.T, q *Queue) int {
	t.Helper()
	n, err := q.Len(context.Background())
	require.NoError(t, err)
	return n
}

func TestDrainOnceResolvesLink(t *testing.T) {
	ctx := context.Background()
	sub := &models.Subscription{ID: uuid.New(), StripeCustomerID: "cus_abc"}
	linker := &stubLinker{}
	finder := &stubFinder{byCustomer: map[string]*models.Subscription{"cus_abc": sub}}
	q := newQueue(t, newMemoryLinkStore(), linker, finder, 0)

	require.NoError(t, q.Enqueue(ctx, "evt_1", "cus_abc"))
	require.Equal(t, 1, queueLen(t, q))

	q.DrainOnce(ctx)

	assert.Equal(t, 0, queueLen(t, q))
	assert.Equal(t, sub.ID, linker.linked["evt_1"])
}

func TestDrainSharedStoreAcrossQueues(t *testing.T) {
	ctx := context.Background()
	sub := &models.Subscription{ID: uuid.New(), StripeCustomerID: "cus_abc"}
	linker := &stubLinker{}
	finder := &stubFinder{byCustomer: map[string]*models.Subscription{"cus_abc": sub}}
	store := newMemoryLinkStore()

	// one queue per process: the receiving side enqueues, the worker drains
	receiver := newQueue(t, store, linker, finder, 0)
	drainer := newQueue(t, store, linker, finder, 0)

	require.NoError(t, receiver.Enqueue(ctx, "evt_1", "cus_abc"))

	drainer.DrainOnce(ctx)

	assert.Equal(t, sub.ID, linker.linked["evt_1"])
	assert.Equal(t, 0, queueLen(t, receiver))
}

func TestDrainOnceMissCostsAttempt(t *testing.T) {
	ctx := context.Background()
	linker := &stubLinker{}
	finder := &stubFinder{}
	q := newQueue(t, newMemoryLinkStore(), linker, finder, 2)

	require.NoError(t, q.Enqueue(ctx, "evt_1", "cus_abc"))

	q.DrainOnce(ctx)
	assert.Equal(t, 1, queueLen(t, q))

	q.DrainOnce(ctx)
	assert.Equal(t, 1, queueLen(t, q))

	// both attempts are burned; the next pass drops the entry
	q.DrainOnce(ctx)
	assert.Equal(t, 0, queueLen(t, q))
	assert.Empty(t, linker.linked)
}

func TestDrainOnceLookupErrorKeepsAttempts(t *testing.T) {
	ctx := context.Background()
	linker := &stubLinker{}
	finder := &stubFinder{err: errors.New("db down")}
	q := newQueue(t, newMemoryLinkStore(), linker, finder, 1)

	require.NoError(t, q.Enqueue(ctx, "evt_1", "cus_abc"))

	q.DrainOnce(ctx)
	q.DrainOnce(ctx)

	// transient failures never consume the attempt budget
	assert.Equal(t, 1, queueLen(t, q))
	assert.Equal(t, 2, finder.calls)
}

func TestDrainOnceLinkErrorRetriesLater(t *testing.T) {
	ctx := context.Background()
	sub := &models.Subscription{ID: uuid.New(), StripeCustomerID: "cus_abc"}
	linker := &stubLinker{err: errors.New("db down")}
	finder := &stubFinder{byCustomer: map[string]*models.Subscription{"cus_abc": sub}}
	q := newQueue(t, newMemoryLinkStore(), linker, finder, 3)

	require.NoError(t, q.Enqueue(ctx, "evt_1", "cus_abc"))
	q.DrainOnce(ctx)

	assert.Equal(t, 1, queueLen(t, q))

	linker.err = nil
	q.DrainOnce(ctx)
	assert.Equal(t, 0, queueLen(t, q))
	assert.Equal(t, sub.ID, linker.linked["evt_1"])
}

func TestEnqueueSameEventResetsAttempts(t *testing.T) {
	ctx := context.Background()
	linker := &stubLinker{}
	finder := &stubFinder{}
	q := newQueue(t, newMemoryLinkStore(), linker, finder, 2)

	require.NoError(t, q.Enqueue(ctx, "evt_1", "cus_abc"))
	q.DrainOnce(ctx)
	q.DrainOnce(ctx)

	require.NoError(t, q.Enqueue(ctx, "evt_1", "cus_abc"))
	q.DrainOnce(ctx)

	// the re-enqueue restarted the budget, so the entry survives
	assert.Equal(t, 1, queueLen(t, q))
}

func TestEnqueueIgnoresBlankIDs(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t, newMemoryLinkStore(), &stubLinker{}, &stubFinder{}, 1)

	require.NoError(t, q.Enqueue(ctx, "", "cus_abc"))
	require.NoError(t, q.Enqueue(ctx, "evt_1", ""))

	assert.Equal(t, 0, queueLen(t, q))
}

func TestEnqueueStoreFailurePropagates(t *testing.T) {
	store := newMemoryLinkStore()
	store.err = errors.New("redis down")
	q := newQueue(t, store, &stubLinker{}, &stubFinder{}, 1)

	err := q.Enqueue(context.Background(), "evt_1", "cus_abc")
	require.Error(t, err)
}
