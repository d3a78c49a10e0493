package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		jobsSubmitted,
		jobsFinished,
		jobDuration,
		workersBusy,
		queueDepth,
		jobsRecovered,
	)
}

var (
	jobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genjob_jobs_submitted_total",
			Help: "Jobs accepted for processing per kind.",
		},
		[]string{"kind"},
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genjob_jobs_finished_total",
			Help: "Jobs that reached a terminal status per kind/status.",
		},
		[]string{"kind", "status"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genjob_job_duration_seconds",
			Help:    "Time from claim to terminal status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"kind", "status"},
	)

	workersBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "genjob_workers_busy",
			Help: "Workers currently processing a job.",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "genjob_queue_depth",
			Help: "Job ids waiting for a free worker.",
		},
	)

	jobsRecovered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genjob_jobs_recovered_total",
			Help: "Jobs handled by startup recovery per action (requeued/orphaned).",
		},
		[]string{"action"},
	)
)

func IncJobSubmitted(kind string) {
	jobsSubmitted.WithLabelValues(norm(kind)).Inc()
}

// ObserveJobFinished counts a terminal job and records how long it ran.
func ObserveJobFinished(kind, status string, elapsed time.Duration) {
	jobsFinished.WithLabelValues(norm(kind), norm(status)).Inc()
	jobDuration.WithLabelValues(norm(kind), norm(status)).Observe(elapsed.Seconds())
}

func WorkerBusy() { workersBusy.Inc() }
func WorkerIdle() { workersBusy.Dec() }

func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

func IncJobsRecovered(action string, n int) {
	if n <= 0 {
		return
	}
	jobsRecovered.WithLabelValues(norm(action)).Add(float64(n))
}
