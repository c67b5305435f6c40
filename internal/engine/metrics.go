package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reportd_jobs_submitted_total",
			Help: "Total number of jobs accepted for execution.",
		},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportd_jobs_finished_total",
			Help: "Total number of jobs reaching a terminal status.",
		},
		[]string{"status"},
	)

	jobDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reportd_job_duration_seconds",
			Help:    "Wall-clock execution duration of finished jobs in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	queueDepthGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reportd_queue_depth",
			Help: "Number of jobs currently waiting in the queue.",
		},
	)

	workersBusyGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reportd_workers_busy",
			Help: "Number of workers currently executing a job.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsSubmittedTotal)
	prometheus.MustRegister(jobsFinishedTotal)
	prometheus.MustRegister(jobDurationSeconds)
	prometheus.MustRegister(queueDepthGauge)
	prometheus.MustRegister(workersBusyGauge)
}
