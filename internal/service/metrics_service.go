package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP
// surface and the authentication flows.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	loginTotal      *prometheus.CounterVec
	mfaChallenges   prometheus.Counter
	mfaFailures     prometheus.Counter
	tokenRefreshes  prometheus.Counter
	tokenRotations  prometheus.Counter
	lockouts        prometheus.Counter
}

// Login outcome labels.
const (
	LoginOutcomeSuccess     = "success"
	LoginOutcomeFailure     = "failure"
	LoginOutcomeMFARequired = "mfa_required"
	LoginOutcomeMFASetup    = "mfa_setup_required"
)

// NewMetricsService registers the core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	loginTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_logins_total",
		Help: "Login attempts by outcome",
	}, []string{"outcome"})

	mfaChallenges := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_mfa_challenges_total",
		Help: "MFA code verifications attempted",
	})

	mfaFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_mfa_failures_total",
		Help: "MFA code verifications rejected",
	})

	tokenRefreshes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_token_refreshes_total",
		Help: "Refresh token exchanges",
	})

	tokenRotations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_token_rotations_total",
		Help: "Refresh tokens rotated into replacements",
	})

	lockouts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_lockouts_total",
		Help: "Login attempts rejected by the lockout counter",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, loginTotal, mfaChallenges, mfaFailures, tokenRefreshes, tokenRotations, lockouts, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		loginTotal:      loginTotal,
		mfaChallenges:   mfaChallenges,
		mfaFailures:     mfaFailures,
		tokenRefreshes:  tokenRefreshes,
		tokenRotations:  tokenRotations,
		lockouts:        lockouts,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordLogin counts a login attempt by outcome.
func (m *MetricsService) RecordLogin(outcome string) {
	if m == nil {
		return
	}
	m.loginTotal.WithLabelValues(outcome).Inc()
}

// RecordMFAChallenge counts an MFA verification attempt and its result.
func (m *MetricsService) RecordMFAChallenge(ok bool) {
	if m == nil {
		return
	}
	m.mfaChallenges.Inc()
	if !ok {
		m.mfaFailures.Inc()
	}
}

// RecordTokenRefresh counts a refresh exchange; rotated marks the expired
// path where a replacement token was minted.
func (m *MetricsService) RecordTokenRefresh(rotated bool) {
	if m == nil {
		return
	}
	m.tokenRefreshes.Inc()
	if rotated {
		m.tokenRotations.Inc()
	}
}

// RecordLockout counts a login rejected by the attempt limiter.
func (m *MetricsService) RecordLockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}
