package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type schedulerMetrics struct {
	enqueuedJobCounter     *prometheus.CounterVec
	succeededJobCounter    *prometheus.CounterVec
	retriedJobCounter      *prometheus.CounterVec
	failedJobCounter       *prometheus.CounterVec
	rateLimitDeferralCount *prometheus.CounterVec
	taskDuration           *prometheus.HistogramVec
}

func newSchedulerMetrics() *schedulerMetrics {
	metrics := new(schedulerMetrics)

	metrics.enqueuedJobCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_connector_enqueued_job_count",
		Help: "The number of jobs enqueued",
	}, []string{"queue"})

	metrics.succeededJobCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_connector_succeeded_job_count",
		Help: "The number of jobs that completed successfully",
	}, []string{"queue"})

	metrics.retriedJobCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_connector_retried_job_count",
		Help: "The number of job attempts rescheduled after a transient failure",
	}, []string{"queue"})

	metrics.failedJobCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_connector_failed_job_count",
		Help: "The number of jobs that ended terminally failed",
	}, []string{"queue"})

	metrics.rateLimitDeferralCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_connector_rate_limit_deferral_count",
		Help: "The number of jobs requeued because the provider token bucket was empty",
	}, []string{"queue"})

	metrics.taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "crm_connector_task_duration",
		Help: "The amount of time a task handler ran",
	}, []string{"queue", "operation"})

	return metrics
}

var (
	metrics = newSchedulerMetrics()
)
