package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. The Record* helpers are safe to call
// on a nil *Metrics so components can run without instrumentation.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	LoginAttemptsTotal   *prometheus.CounterVec
	AccountLockoutsTotal prometheus.Counter
	TokensIssuedTotal    *prometheus.CounterVec
	TokenRejectionsTotal *prometheus.CounterVec
	APIKeyAuthTotal      *prometheus.CounterVec
	AuthzDecisionsTotal  *prometheus.CounterVec
	RateLimitedTotal     *prometheus.CounterVec

	// Store metrics
	StoreOperationDuration *prometheus.HistogramVec
	StoreErrorsTotal       *prometheus.CounterVec

	// Cache metrics
	CacheRequestsTotal *prometheus.CounterVec

	// Business metrics
	LockedAccounts    prometheus.Gauge
	ExpiredKeysPurged prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrauth_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hrauth_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrauth_login_attempts_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		AccountLockoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hrauth_account_lockouts_total",
				Help: "Number of times an account crossed the failed-login threshold",
			},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrauth_tokens_issued_total",
				Help: "Tokens issued by kind",
			},
			[]string{"kind"},
		),
		TokenRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrauth_token_rejections_total",
				Help: "Rejected bearer or refresh tokens by reason",
			},
			[]string{"reason"},
		),
		APIKeyAuthTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrauth_api_key_auth_total",
				Help: "API key authentications by outcome",
			},
			[]string{"outcome"},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrauth_authz_decisions_total",
				Help: "Authorization guard decisions",
			},
			[]string{"guard", "decision"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrauth_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"scope"},
		),

		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hrauth_store_operation_duration_seconds",
				Help:    "Credential store operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
			},
			[]string{"operation"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrauth_store_errors_total",
				Help: "Credential store infrastructure failures",
			},
			[]string{"operation"},
		),

		CacheRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrauth_cache_requests_total",
				Help: "Cache-aside lookups by result",
			},
			[]string{"result"},
		),

		LockedAccounts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hrauth_locked_accounts",
				Help: "Accounts locked at the last maintenance run",
			},
		),
		ExpiredKeysPurged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hrauth_expired_api_keys_deactivated_total",
				Help: "API keys deactivated by maintenance after expiry",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginAttemptsTotal,
		m.AccountLockoutsTotal,
		m.TokensIssuedTotal,
		m.TokenRejectionsTotal,
		m.APIKeyAuthTotal,
		m.AuthzDecisionsTotal,
		m.RateLimitedTotal,
		m.StoreOperationDuration,
		m.StoreErrorsTotal,
		m.CacheRequestsTotal,
		m.LockedAccounts,
		m.ExpiredKeysPurged,
	)

	return m
}

// RecordLogin counts a login attempt outcome.
func (m *Metrics) RecordLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordLockout counts an account crossing the lockout threshold.
func (m *Metrics) RecordLockout() {
	if m == nil {
		return
	}
	m.AccountLockoutsTotal.Inc()
}

// RecordTokenIssued counts an issued token.
func (m *Metrics) RecordTokenIssued(kind string) {
	if m == nil {
		return
	}
	m.TokensIssuedTotal.WithLabelValues(kind).Inc()
}

// RecordTokenRejected counts a rejected token.
func (m *Metrics) RecordTokenRejected(reason string) {
	if m == nil {
		return
	}
	m.TokenRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordAPIKeyAuth counts an API key authentication outcome.
func (m *Metrics) RecordAPIKeyAuth(outcome string) {
	if m == nil {
		return
	}
	m.APIKeyAuthTotal.WithLabelValues(outcome).Inc()
}

// RecordAuthz counts a guard decision.
func (m *Metrics) RecordAuthz(guard string, allowed bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.AuthzDecisionsTotal.WithLabelValues(guard, decision).Inc()
}

// RecordRateLimited counts a rate-limited request.
func (m *Metrics) RecordRateLimited(scope string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(scope).Inc()
}

// RecordCache counts a cache-aside lookup result (hit, miss, error).
func (m *Metrics) RecordCache(result string) {
	if m == nil {
		return
	}
	m.CacheRequestsTotal.WithLabelValues(result).Inc()
}

// ObserveStore records a store call and whether it failed.
func (m *Metrics) ObserveStore(operation string, start time.Time, failed bool) {
	if m == nil {
		return
	}
	m.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if failed {
		m.StoreErrorsTotal.WithLabelValues(operation).Inc()
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel prefers the mux route template to keep label cardinality bounded.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
