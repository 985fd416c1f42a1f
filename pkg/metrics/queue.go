package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// QueueMetrics records job queue activity for the stripe event pipeline.
type QueueMetrics struct {
	enqueued  *prometheus.CounterVec
	completed *prometheus.CounterVec
	retried   *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewQueueMetrics registers queue metrics on the provided registerer.
func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	if reg == nil {
		return &QueueMetrics{}
	}
	enqueued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_enqueued_total",
		Help: "Jobs added to the queue.",
	}, []string{"queue", "type"})
	completed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_completed_total",
		Help: "Jobs that finished successfully.",
	}, []string{"queue", "type"})
	retried := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_retried_total",
		Help: "Jobs rescheduled after a failed attempt.",
	}, []string{"queue", "type"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_failed_total",
		Help: "Jobs that exhausted their attempts.",
	}, []string{"queue", "type"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "queue_job_duration_seconds",
		Help:    "Duration of job handler executions in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue", "type"})
	reg.MustRegister(enqueued, completed, retried, failed, duration)
	return &QueueMetrics{
		enqueued:  enqueued,
		completed: completed,
		retried:   retried,
		failed:    failed,
		duration:  duration,
	}
}

// IncEnqueued increments the enqueue counter.
func (q *QueueMetrics) IncEnqueued(queue, jobType string) {
	if q == nil || q.enqueued == nil {
		return
	}
	q.enqueued.WithLabelValues(normalizeLabel(queue), normalizeLabel(jobType)).Inc()
}

// IncCompleted increments the completion counter.
func (q *QueueMetrics) IncCompleted(queue, jobType string) {
	if q == nil || q.completed == nil {
		return
	}
	q.completed.WithLabelValues(normalizeLabel(queue), normalizeLabel(jobType)).Inc()
}

// IncRetried increments the retry counter.
func (q *QueueMetrics) IncRetried(queue, jobType string) {
	if q == nil || q.retried == nil {
		return
	}
	q.retried.WithLabelValues(normalizeLabel(queue), normalizeLabel(jobType)).Inc()
}

// IncFailed increments the terminal failure counter.
func (q *QueueMetrics) IncFailed(queue, jobType string) {
	if q == nil || q.failed == nil {
		return
	}
	q.failed.WithLabelValues(normalizeLabel(queue), normalizeLabel(jobType)).Inc()
}

// ObserveDuration records how long a job handler ran.
func (q *QueueMetrics) ObserveDuration(queue, jobType string, duration time.Duration) {
	if q == nil || q.duration == nil {
		return
	}
	q.duration.WithLabelValues(normalizeLabel(queue), normalizeLabel(jobType)).Observe(duration.Seconds())
}
