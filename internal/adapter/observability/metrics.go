// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry and Prometheus for system monitoring of
// the task scheduler, worker supervision, and proxy registry components.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts control-surface HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of control-surface HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records control-surface request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Control-surface HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"route", "method"},
	)

	// TaskClaimsTotal counts ClaimNext outcomes by result (claimed, empty, rate_limited).
	TaskClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_claims_total",
			Help: "Total number of TaskQueue.ClaimNext calls by result",
		},
		[]string{"result"},
	)
	// TaskClaimDuration records the latency of the ClaimNext transaction.
	TaskClaimDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "task_claim_duration_seconds",
			Help:    "Duration of the TaskQueue.ClaimNext transaction in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)
	// TaskAttemptsTotal counts recorded TaskAttempt rows by status and error kind.
	TaskAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_attempts_total",
			Help: "Total number of TaskAttempt rows recorded",
		},
		[]string{"status", "error_kind"},
	)
	// TasksBlockedTotal counts tasks transitioned to blocked by reason.
	TasksBlockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_blocked_total",
			Help: "Total number of tasks transitioned to blocked",
		},
		[]string{"reason"},
	)
	// HourlyCapRejectionsTotal counts claims rejected by the per-profile hourly cap.
	HourlyCapRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hourly_cap_rejections_total",
			Help: "Total number of claims rejected by the per-profile hourly message cap",
		},
		[]string{"profile_id"},
	)
	// StaleTasksReclaimedTotal counts tasks returned to pending by the stale reaper.
	StaleTasksReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stale_tasks_reclaimed_total",
			Help: "Total number of in_progress tasks returned to pending by ResetStale",
		},
	)

	// ProxyRotationsTotal counts proxy rotations by reason.
	ProxyRotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_rotations_total",
			Help: "Total number of proxy rotations",
		},
		[]string{"reason"},
	)
	// ProxyUnhealthyTotal counts proxies marked unhealthy.
	ProxyUnhealthyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "proxy_unhealthy_total",
			Help: "Total number of proxies marked unhealthy",
		},
	)

	// WorkersRunning is a gauge of currently running workers.
	WorkersRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "workers_running",
			Help: "Number of workers currently running under the Supervisor",
		},
	)
	// WorkerRestartsTotal counts worker restarts by profile.
	WorkerRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_restarts_total",
			Help: "Total number of worker restarts by profile",
		},
		[]string{"profile_id"},
	)
	// WorkerExitsTotal counts worker exits by exit class.
	WorkerExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_exits_total",
			Help: "Total number of worker process exits by class",
		},
		[]string{"class"},
	)

	// CircuitBreakerStatus tracks circuit breaker state for proxy health checks.
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service", "operation"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(TaskClaimsTotal)
	prometheus.MustRegister(TaskClaimDuration)
	prometheus.MustRegister(TaskAttemptsTotal)
	prometheus.MustRegister(TasksBlockedTotal)
	prometheus.MustRegister(HourlyCapRejectionsTotal)
	prometheus.MustRegister(StaleTasksReclaimedTotal)
	prometheus.MustRegister(ProxyRotationsTotal)
	prometheus.MustRegister(ProxyUnhealthyTotal)
	prometheus.MustRegister(WorkersRunning)
	prometheus.MustRegister(WorkerRestartsTotal)
	prometheus.MustRegister(WorkerExitsTotal)
	prometheus.MustRegister(CircuitBreakerStatus)
}

// HTTPMetricsMiddleware records Prometheus metrics for each control-surface request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// RecordClaim records the outcome of one TaskQueue.ClaimNext call.
func RecordClaim(result string, duration time.Duration) {
	TaskClaimsTotal.WithLabelValues(result).Inc()
	TaskClaimDuration.Observe(duration.Seconds())
}

// RecordAttempt records one TaskAttempt row.
func RecordAttempt(status, errorKind string) {
	TaskAttemptsTotal.WithLabelValues(status, errorKind).Inc()
}

// RecordTaskBlocked records a task transitioning to blocked.
func RecordTaskBlocked(reason string) {
	TasksBlockedTotal.WithLabelValues(reason).Inc()
}

// RecordHourlyCapRejection records a claim rejected by the hourly cap.
func RecordHourlyCapRejection(profileID string) {
	HourlyCapRejectionsTotal.WithLabelValues(profileID).Inc()
}

// RecordStaleReclaim records n tasks reclaimed by the stale reaper.
func RecordStaleReclaim(n int) {
	StaleTasksReclaimedTotal.Add(float64(n))
}

// RecordProxyRotation records a proxy rotation by reason.
func RecordProxyRotation(reason string) {
	ProxyRotationsTotal.WithLabelValues(reason).Inc()
}

// RecordProxyUnhealthy records a proxy marked unhealthy.
func RecordProxyUnhealthy() {
	ProxyUnhealthyTotal.Inc()
}

// RecordWorkerRestart records a worker restart for profileID.
func RecordWorkerRestart(profileID string) {
	WorkerRestartsTotal.WithLabelValues(profileID).Inc()
}

// RecordWorkerExit records a worker exit by class (normal, transient, do_not_restart, config_error).
func RecordWorkerExit(class string) {
	WorkerExitsTotal.WithLabelValues(class).Inc()
}

// RecordCircuitBreakerStatus records circuit breaker state.
func RecordCircuitBreakerStatus(service, operation string, status int) {
	CircuitBreakerStatus.WithLabelValues(service, operation).Set(float64(status))
}
