package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ExecutionsSubmitted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_executions_submitted_total", Help: "Executions accepted for processing"})
	RateLimitRejects     = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	ScheduledSubmissions = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "report_scheduled_submissions_total", Help: "Executions submitted by the scheduler"}, []string{"recipe"})
	ExecutionResults     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "report_execution_results_total", Help: "Finished executions by result"}, []string{"result"})
	ExecutionDuration    = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "report_execution_duration_seconds", Help: "Wall time of one recipe execution", Buckets: prometheus.ExponentialBuckets(0.5, 2, 10)})
	WorkerRetries        = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_worker_retries_total", Help: "Executions rescheduled after a failure"})
	WorkerDeadLetter     = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_worker_dead_letter_total", Help: "Executions moved to DLQ"})
	QueueDepthGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "report_queue_depth", Help: "Ready queue depth across priorities"})
	InFlightGauge        = prometheus.NewGauge(prometheus.GaugeOpts{Name: "report_inflight", Help: "Executions currently leased"})
	QueryPolls           = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_query_polls_total", Help: "Status polls of queries still queued or running"})
	ResultPages          = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_result_pages_total", Help: "Result pages fetched"})
	MessagesEnqueued     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "report_messages_enqueued_total", Help: "Notifications accepted by the outbound queue"}, []string{"channel"})
	DispatchFailures     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "report_dispatch_failures_total", Help: "Notifications that could not be enqueued"}, []string{"channel"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			ExecutionsSubmitted,
			RateLimitRejects,
			ScheduledSubmissions,
			ExecutionResults,
			ExecutionDuration,
			WorkerRetries,
			WorkerDeadLetter,
			QueueDepthGauge,
			InFlightGauge,
			QueryPolls,
			ResultPages,
			MessagesEnqueued,
			DispatchFailures,
		)
	})
	return promhttp.Handler()
}

// ChannelLabel bounds the channel label set to known channels.
func ChannelLabel(channel string, supported bool) string {
	if !supported {
		return "unsupported"
	}
	return channel
}
