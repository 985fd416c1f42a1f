package jobs

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qreahq/qrea-backend/pkg/metrics"
)

// memoryStore implements the queue's redis surface in memory.
type memoryStore struct {
	mu       sync.Mutex
	values   map[string]string
	counters map[string]int64
	zsets    map[string]map[string]float64
	lists    map[string][]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		values:   map[string]string{},
		counters: map[string]int64{},
		zsets:    map[string]map[string]float64{},
		lists:    map[string][]string{},
	}
}

func (m *memoryStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.zsets[key] == nil {
		m.zsets[key] = map[string]float64{}
	}
	m.zsets[key][member] = score
	return nil
}

func (m *memoryStore) ZPopMin(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.zsets[key]
	if len(set) == 0 {
		return "", false, nil
	}
	var best string
	bestScore := 0.0
	first := true
	for member, score := range set {
		if first || score < bestScore {
			best, bestScore, first = member, score, false
		}
	}
	delete(set, best)
	return best, true, nil
}

func (m *memoryStore) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type pair struct {
		member string
		score  float64
	}
	var out []pair
	for member, score := range m.zsets[key] {
		if score >= min && score <= max {
			out = append(out, pair{member, score})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].score < out[j].score })
	members := make([]string, 0, len(out))
	for _, p := range out {
		members = append(members, p.member)
	}
	return members, nil
}

func (m *memoryStore) ZRem(ctx context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.zsets[key]
	if _, ok := set[member]; !ok {
		return false, nil
	}
	delete(set, member)
	return true, nil
}

func (m *memoryStore) LPushTrim(ctx context.Context, key, value string, keep int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]string{value}, m.lists[key]...)
	if keep > 0 && int64(len(list)) > keep {
		list = list[:keep]
	}
	m.lists[key] = list
	return nil
}

func (m *memoryStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	if start < 0 || start >= int64(len(list)) {
		return nil, nil
	}
	if stop < 0 || stop >= int64(len(list)) {
		stop = int64(len(list)) - 1
	}
	return append([]string(nil), list[start:stop+1]...), nil
}

func (m *memoryStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value.(string)
	return nil
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return value, nil
}

func (m *memoryStore) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func (m *memoryStore) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}

func (m *memoryStore) QueueKey(parts ...string) string {
	return "qrea:queue:" + strings.Join(parts, ":")
}

func newTestQueue(t *testing.T) (*Queue, *memoryStore) {
	t.Helper()
	store := newMemoryStore()
	q, err := NewQueue(QueueParams{Name: "stripe", Store: store, MaxAttempts: 3})
	require.NoError(t, err)
	return q, store
}

func TestQueueEnqueueDequeueRoundTrip(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job := &Job{Type: "invoice.created", EventID: "evt_1", Payload: json.RawMessage(`{"id":"in_1"}`)}
	require.NoError(t, q.Enqueue(ctx, job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 3, job.Priority)
	assert.Equal(t, 3, job.MaxAttempts)

	got, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "evt_1", got.EventID)
	assert.JSONEq(t, `{"id":"in_1"}`, string(got.Payload))

	_, ok, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueuePriorityOrdering(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	low := &Job{Type: "invoice.updated", EventID: "evt_low"}
	high := &Job{Type: "checkout.session.completed", EventID: "evt_high"}
	mid := &Job{Type: "invoice.payment_failed", EventID: "evt_mid"}
	require.NoError(t, q.Enqueue(ctx, low))
	require.NoError(t, q.Enqueue(ctx, high))
	require.NoError(t, q.Enqueue(ctx, mid))

	var order []string
	for {
		job, ok, err := q.Dequeue(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		order = append(order, job.EventID)
	}
	assert.Equal(t, []string{"evt_high", "evt_mid", "evt_low"}, order)
}

func TestQueueFIFOWithinPriorityBand(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first := &Job{Type: "invoice.created", EventID: "evt_1"}
	second := &Job{Type: "invoice.updated", EventID: "evt_2"}
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	job, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "evt_1", job.EventID)
}

func TestQueueRetryDelaysRedelivery(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	job := &Job{Type: "invoice.created", EventID: "evt_1"}
	require.NoError(t, q.Enqueue(ctx, job))

	got, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	got.Attempts = 1
	require.NoError(t, q.Retry(ctx, got, time.Hour))

	_, ok, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "job should still be delayed")

	// force the delayed entry due
	store.mu.Lock()
	for member := range store.zsets[store.QueueKey("stripe", "delayed")] {
		store.zsets[store.QueueKey("stripe", "delayed")][member] = 0
	}
	store.mu.Unlock()

	promoted, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "evt_1", promoted.EventID)
	assert.Equal(t, 1, promoted.Attempts)
}

func TestQueueCompleteDropsPayloadAndRecordsSummary(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	job := &Job{Type: "invoice.created", EventID: "evt_1"}
	require.NoError(t, q.Enqueue(ctx, job))
	got, _, err := q.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Complete(ctx, got))

	_, err = store.Get(ctx, store.QueueKey("stripe", "job", got.ID))
	assert.ErrorIs(t, err, goredis.Nil)

	summaries := store.lists[store.QueueKey("stripe", "completed")]
	require.Len(t, summaries, 1)
	assert.Contains(t, summaries[0], "evt_1")
}

func TestQueueFailRecordsCause(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job := &Job{Type: "invoice.created", EventID: "evt_1"}
	require.NoError(t, q.Enqueue(ctx, job))
	got, _, err := q.Dequeue(ctx)
	require.NoError(t, err)

	got.Attempts = 3
	require.NoError(t, q.Fail(ctx, got, "stripe unavailable"))

	failed, err := q.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0], "stripe unavailable")
}

func TestPriorityFor(t *testing.T) {
	assert.Equal(t, 1, PriorityFor("checkout.session.completed"))
	assert.Equal(t, 2, PriorityFor("invoice.payment_failed"))
	assert.Equal(t, DefaultPriority, PriorityFor("customer.updated"))
}

func TestEnqueueCountsJobs(t *testing.T) {
	reg := prometheus.NewRegistry()
	q, err := NewQueue(QueueParams{
		Name:    "stripe",
		Store:   newMemoryStore(),
		Metrics: metrics.NewQueueMetrics(reg),
	})
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(context.Background(), &Job{Type: "invoice.created", EventID: "evt_1"}))
	require.NoError(t, q.Enqueue(context.Background(), &Job{Type: "invoice.created", EventID: "evt_2"}))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	var got float64
	for _, mf := range mfs {
		if mf.GetName() != "queue_jobs_enqueued_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			got += m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(2), got)
}
