// Package telemetry provides observability primitives for the raftbot gateway
// and job queue.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the bot.
type Metrics struct {
	JobsSubmitted      *prometheus.CounterVec
	JobsClaimed        *prometheus.CounterVec
	JobsCompleted      *prometheus.CounterVec
	JobsFailed         *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
	QueueDepth         *prometheus.GaugeVec
	ActiveWorkers      *prometheus.GaugeVec
	AdminRequestsTotal   *prometheus.CounterVec
	AdminRequestDuration *prometheus.HistogramVec
	HeartbeatsSent     prometheus.Counter
	GatewayReconnects  prometheus.Counter
	RateLimitWaitTime  *prometheus.HistogramVec
	RateLimitRejects   *prometheus.CounterVec
	CircuitBreakerState   *prometheus.GaugeVec // labels: route, state
	CircuitBreakerRejects *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raftbot",
			Name:      "jobs_submitted_total",
			Help:      "Total number of jobs submitted to a pool.",
		}, []string{"pool"}),

		JobsClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raftbot",
			Name:      "jobs_claimed_total",
			Help:      "Total number of jobs claimed by a worker.",
		}, []string{"pool"}),

		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raftbot",
			Name:      "jobs_completed_total",
			Help:      "Total number of jobs completed successfully.",
		}, []string{"pool"}),

		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raftbot",
			Name:      "jobs_failed_total",
			Help:      "Total number of jobs that exhausted their retries.",
		}, []string{"pool"}),

		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "raftbot",
			Name:                            "job_duration_seconds",
			Help:                            "Job processing duration in seconds, claim to completion.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"pool"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "raftbot",
			Name:      "queue_depth",
			Help:      "Number of pending or processing jobs per pool.",
		}, []string{"pool", "status"}),

		ActiveWorkers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "raftbot",
			Name:      "active_workers",
			Help:      "Number of worker goroutines currently running per pool.",
		}, []string{"pool"}),

		HeartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raftbot",
			Name:      "gateway_heartbeats_total",
			Help:      "Total heartbeats sent on the gateway session.",
		}),

		GatewayReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raftbot",
			Name:      "gateway_reconnects_total",
			Help:      "Total gateway reconnect attempts, RESUME or fresh IDENTIFY.",
		}),

		RateLimitWaitTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "raftbot",
			Name:      "ratelimit_wait_seconds",
			Help:      "Time spent waiting on the Discord API rate limiter.",
		}, []string{"route"}),

		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raftbot",
			Name:      "ratelimit_rejects_total",
			Help:      "Total requests rejected before reaching the rate limiter.",
		}, []string{"route"}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "raftbot",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per route (0=closed, 1=open, 2=half_open).",
		}, []string{"route"}),

		CircuitBreakerRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raftbot",
			Name:      "circuit_breaker_rejects_total",
			Help:      "Total requests rejected by an open circuit breaker.",
		}, []string{"route"}),

		AdminRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raftbot",
			Name:      "admin_requests_total",
			Help:      "Total requests served by the admin HTTP surface.",
		}, []string{"method", "path", "status"}),

		AdminRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "raftbot",
			Name:      "admin_request_duration_seconds",
			Help:      "Admin HTTP surface request duration in seconds.",
		}, []string{"method", "path"}),
	}

	reg.MustRegister(
		m.JobsSubmitted,
		m.JobsClaimed,
		m.JobsCompleted,
		m.JobsFailed,
		m.JobDuration,
		m.QueueDepth,
		m.ActiveWorkers,
		m.HeartbeatsSent,
		m.GatewayReconnects,
		m.RateLimitWaitTime,
		m.RateLimitRejects,
		m.CircuitBreakerState,
		m.CircuitBreakerRejects,
		m.AdminRequestsTotal,
		m.AdminRequestDuration,
	)

	return m
}
