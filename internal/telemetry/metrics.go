package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsClaimed         = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "erp_jobs_claimed_total", Help: "Jobs locked by a worker"}, []string{"handler"})
	JobsSucceeded       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "erp_jobs_succeeded_total", Help: "Job runs that succeeded"}, []string{"handler"})
	JobsFailed          = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "erp_jobs_failed_total", Help: "Job runs that failed, timeouts included"}, []string{"handler"})
	JobsTimedOut        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "erp_jobs_timed_out_total", Help: "Job runs that hit their deadline"}, []string{"handler"})
	JobsRetried         = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "erp_jobs_retried_total", Help: "Failed runs queued for another attempt"}, []string{"handler"})
	LockContention      = prometheus.NewCounter(prometheus.CounterOpts{Name: "erp_jobs_lock_lost_total", Help: "Due jobs another worker locked first"})
	InFlightGauge       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "erp_jobs_inflight", Help: "Handlers currently running in this process"})
	RunDuration         = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "erp_job_run_duration_seconds", Help: "Handler run time", Buckets: prometheus.DefBuckets}, []string{"handler"})
	ApprovalsEscalated  = prometheus.NewCounter(prometheus.CounterOpts{Name: "erp_approvals_escalated_total", Help: "Approval requests escalated as overdue"})
	ScheduleJobsCreated = prometheus.NewCounter(prometheus.CounterOpts{Name: "erp_schedule_jobs_created_total", Help: "Jobs created from job schedules"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsClaimed,
			JobsSucceeded,
			JobsFailed,
			JobsTimedOut,
			JobsRetried,
			LockContention,
			InFlightGauge,
			RunDuration,
			ApprovalsEscalated,
			ScheduleJobsCreated,
		)
	})
	return promhttp.Handler()
}
