package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	activeSessions      prometheus.Gauge
	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram
	sessionEvictions    prometheus.Counter
	persistFailures     *prometheus.CounterVec
	corruptRecords      prometheus.Counter
	sweepDuration       prometheus.Histogram

	answerTotal      *prometheus.CounterVec
	answerDuration   *prometheus.HistogramVec
	providerCooldown *prometheus.GaugeVec
	rateLimitedTotal prometheus.Counter
	knowledgeReloads *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "abitur_queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "abitur_enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "abitur_dequeue_total",
					Help: "Total completed queue tasks by status.",
				},
				[]string{"status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "abitur_task_duration_seconds",
					Help:    "Queued task execution duration in seconds by status.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"status"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "abitur_active_sessions",
					Help: "Sessions currently held in memory.",
				},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "abitur_session_load_duration_seconds",
					Help:    "Durable session record load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "abitur_session_save_duration_seconds",
					Help:    "Durable session record save duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionEvictions: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "abitur_session_evictions_total",
					Help: "Idle sessions persisted and evicted from memory.",
				},
			),
			persistFailures: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "abitur_session_persist_failures_total",
					Help: "Failed durable store operations by operation.",
				},
				[]string{"op"},
			),
			corruptRecords: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "abitur_session_corrupt_records_total",
					Help: "Durable records that could not be decoded and were treated as absent.",
				},
			),
			sweepDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "abitur_sweep_duration_seconds",
					Help:    "Idle eviction sweep duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			answerTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "abitur_answer_total",
					Help: "Generated answers by provider and status.",
				},
				[]string{"provider", "status"},
			),
			answerDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "abitur_answer_duration_seconds",
					Help:    "Backend call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			providerCooldown: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "abitur_provider_cooldown_active",
					Help: "Provider cooldown active state (1 active, 0 inactive).",
				},
				[]string{"provider"},
			),
			rateLimitedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "abitur_rate_limited_total",
					Help: "Inbound messages rejected by the per-user rate limiter.",
				},
			),
			knowledgeReloads: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "abitur_knowledge_reloads_total",
					Help: "Knowledge document reloads by status.",
				},
				[]string{"status"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.activeSessions,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.sessionEvictions,
			m.persistFailures,
			m.corruptRecords,
			m.sweepDuration,
			m.answerTotal,
			m.answerDuration,
			m.providerCooldown,
			m.rateLimitedTotal,
			m.knowledgeReloads,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

// RecordQueueCompletion is labelled by status only; lanes are per user.
func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	status := statusLabel(success)
	m.dequeueTotal.WithLabelValues(status).Inc()
	m.taskDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

// ForgetLane drops the per-lane series of a lane that has gone idle.
func ForgetLane(lane string) {
	m := getMetrics()
	m.queueSize.DeleteLabelValues(lane)
	m.enqueueTotal.DeleteLabelValues(lane)
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func RecordSessionLoad(duration time.Duration) {
	m := getMetrics()
	m.sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration) {
	m := getMetrics()
	m.sessionSaveDuration.Observe(duration.Seconds())
}

func RecordSessionEviction() {
	getMetrics().sessionEvictions.Inc()
}

func RecordPersistFailure(op string) {
	getMetrics().persistFailures.WithLabelValues(op).Inc()
}

func RecordCorruptRecord() {
	getMetrics().corruptRecords.Inc()
}

func RecordSweep(duration time.Duration) {
	getMetrics().sweepDuration.Observe(duration.Seconds())
}

func RecordAnswer(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.answerTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	m.answerDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func SetProviderCooldown(provider string, active bool) {
	m := getMetrics()
	value := 0.0
	if active {
		value = 1.0
	}
	m.providerCooldown.WithLabelValues(provider).Set(value)
}

func RecordRateLimited() {
	getMetrics().rateLimitedTotal.Inc()
}

func RecordKnowledgeReload(success bool) {
	getMetrics().knowledgeReloads.WithLabelValues(statusLabel(success)).Inc()
}
