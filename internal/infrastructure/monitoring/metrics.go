package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Scheduling metrics
	TasksSubmitted *prometheus.CounterVec
	TasksRejected  *prometheus.CounterVec
	TasksCompleted *prometheus.CounterVec
	TasksFailed    *prometheus.CounterVec

	// Agent pool metrics
	AgentsActive   *prometheus.GaugeVec
	LimiterInUse   prometheus.Gauge
	LimiterWaiting prometheus.Gauge
	PoolResets     prometheus.Counter

	// Tape metrics
	TapeTurns *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yaar_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "yaar_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		TasksSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yaar_tasks_submitted_total",
				Help: "Tasks accepted by the scheduler, by channel kind",
			},
			[]string{"kind"},
		),
		TasksRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yaar_tasks_rejected_total",
				Help: "Tasks rejected by the scheduler, by reason",
			},
			[]string{"reason"},
		),
		TasksCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yaar_tasks_completed_total",
				Help: "Tasks that finished successfully, by channel kind",
			},
			[]string{"kind"},
		),
		TasksFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yaar_tasks_failed_total",
				Help: "Tasks that finished with an error, by channel kind",
			},
			[]string{"kind"},
		),

		AgentsActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "yaar_agents_active",
				Help: "Currently live agent sessions, by slot kind",
			},
			[]string{"kind"},
		),
		LimiterInUse: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "yaar_limiter_slots_in_use",
			Help: "Agent limiter slots currently held",
		}),
		LimiterWaiting: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "yaar_limiter_waiters",
			Help: "Callers queued on the agent limiter",
		}),
		PoolResets: promauto.NewCounter(prometheus.CounterOpts{
			Name: "yaar_pool_resets_total",
			Help: "Completed pool reset cycles",
		}),

		TapeTurns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yaar_tape_turns_total",
				Help: "Turns appended to the conversation tape, by channel",
			},
			[]string{"channel"},
		),

		WSConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "yaar_ws_connections",
			Help: "Active WebSocket connections",
		}),

		Uptime: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "yaar_uptime_seconds",
			Help: "Process uptime in seconds",
		}),
	}
}

// RecordHTTPRequest records metrics for an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTaskSubmitted records an accepted task
func (m *Metrics) RecordTaskSubmitted(kind string) {
	m.TasksSubmitted.WithLabelValues(kind).Inc()
}

// RecordTaskRejected records a rejected task
func (m *Metrics) RecordTaskRejected(reason string) {
	m.TasksRejected.WithLabelValues(reason).Inc()
}

// RecordTaskFinished records a task outcome
func (m *Metrics) RecordTaskFinished(kind string, failed bool) {
	if failed {
		m.TasksFailed.WithLabelValues(kind).Inc()
	} else {
		m.TasksCompleted.WithLabelValues(kind).Inc()
	}
}

// RecordTapeTurn records one appended turn
func (m *Metrics) RecordTapeTurn(channel string) {
	m.TapeTurns.WithLabelValues(channel).Inc()
}

// UpdateUptime refreshes the uptime gauge
func (m *Metrics) UpdateUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}
