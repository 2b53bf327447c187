package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter      = prometheus.NewCounter(prometheus.CounterOpts{Name: "studyflow_jobs_enqueued_total", Help: "Total enqueued generation jobs"})
	RateLimitRejects    = prometheus.NewCounter(prometheus.CounterOpts{Name: "studyflow_rate_limit_rejects_total", Help: "Enqueue requests rejected by rate limiter"})
	JobsCompleted       = prometheus.NewCounter(prometheus.CounterOpts{Name: "studyflow_jobs_completed_total", Help: "Jobs that published a complete event"})
	JobsFailed          = prometheus.NewCounter(prometheus.CounterOpts{Name: "studyflow_jobs_failed_total", Help: "Jobs that published an error event"})
	MalformedEvents     = prometheus.NewCounter(prometheus.CounterOpts{Name: "studyflow_malformed_events_total", Help: "Channel events dropped because they failed to decode"})
	TransportReconnects = prometheus.NewCounter(prometheus.CounterOpts{Name: "studyflow_transport_reconnects_total", Help: "Pub/sub receive failures that triggered a backoff retry"})
	ActiveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{Name: "studyflow_active_subscriptions", Help: "Channel subscriptions currently active"})
	CheckpointsSaved    = prometheus.NewCounter(prometheus.CounterOpts{Name: "studyflow_checkpoints_saved_total", Help: "Session checkpoints written to the local store"})
	CheckpointsExpired  = prometheus.NewCounter(prometheus.CounterOpts{Name: "studyflow_checkpoints_expired_total", Help: "Session checkpoints purged after exceeding retention"})
	QueueDepthGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "studyflow_queue_depth", Help: "Ready queue depth across process types"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			RateLimitRejects,
			JobsCompleted,
			JobsFailed,
			MalformedEvents,
			TransportReconnects,
			ActiveSubscriptions,
			CheckpointsSaved,
			CheckpointsExpired,
			QueueDepthGauge,
		)
	})
	return promhttp.Handler()
}
