package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsCreated   = prometheus.NewCounter(prometheus.CounterOpts{Name: "cutflow_jobs_created_total", Help: "Jobs created"})
	JobsDeduped   = prometheus.NewCounter(prometheus.CounterOpts{Name: "cutflow_jobs_dedup_total", Help: "Submissions answered by an existing job"})
	JobsClaimed   = prometheus.NewCounter(prometheus.CounterOpts{Name: "cutflow_jobs_claimed_total", Help: "Jobs claimed by a runner"})
	JobsCompleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "cutflow_jobs_completed_total", Help: "Jobs that reached DONE"})
	JobsHeld      = prometheus.NewCounter(prometheus.CounterOpts{Name: "cutflow_jobs_hold_total", Help: "Jobs parked in HOLD"})
	JobsFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "cutflow_jobs_failed_total", Help: "Jobs that ended an attempt in FAILED"})
	JobsRetried   = prometheus.NewCounter(prometheus.CounterOpts{Name: "cutflow_jobs_retried_total", Help: "Retries scheduled"})
	PipelineSecs  = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "cutflow_pipeline_duration_seconds", Help: "Wall time of one processing attempt", Buckets: prometheus.ExponentialBuckets(0.1, 2, 12)})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsCreated,
			JobsDeduped,
			JobsClaimed,
			JobsCompleted,
			JobsHeld,
			JobsFailed,
			JobsRetried,
			PipelineSecs,
		)
	})
	return promhttp.Handler()
}
