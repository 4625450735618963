// Package metrics exposes Prometheus instrumentation for the admin API.
package metrics

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "moonshot"

// Outcome labels for auth events.
const (
	ResultSuccess  = "success"
	ResultInvalid  = "invalid"
	ResultError    = "error"
	ResultSent     = "sent"
	ResultNotSent  = "not_sent"
	ResultRejected = "rejected"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	LoginsTotal             *prometheus.CounterVec
	PasswordChangesTotal    *prometheus.CounterVec
	ResetRequestsTotal      *prometheus.CounterVec
	ResetConfirmationsTotal *prometheus.CounterVec
	RecoveryRequestsTotal   *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry along
// with the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		LoginsTotal:             authCounter("admin_logins_total", "Admin login attempts by result"),
		PasswordChangesTotal:    authCounter("admin_password_changes_total", "Admin password changes by result"),
		ResetRequestsTotal:      authCounter("password_reset_requests_total", "Password reset requests by result"),
		ResetConfirmationsTotal: authCounter("password_reset_confirmations_total", "Password reset confirmations by result"),
		RecoveryRequestsTotal:   authCounter("access_recovery_requests_total", "Access recovery requests by result"),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginsTotal,
		m.PasswordChangesTotal,
		m.ResetRequestsTotal,
		m.ResetConfirmationsTotal,
		m.RecoveryRequestsTotal,
	)
	return m
}

func authCounter(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help},
		[]string{"result"},
	)
}

// RegisterDB adds connection pool statistics for db.
func (m *Metrics) RegisterDB(db *sql.DB, driver string) error {
	if m == nil || db == nil {
		return nil
	}
	return m.registry.Register(collectors.NewDBStatsCollector(db, driver))
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Login(result string) {
	if m != nil {
		m.LoginsTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) PasswordChange(result string) {
	if m != nil {
		m.PasswordChangesTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ResetRequest(result string) {
	if m != nil {
		m.ResetRequestsTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ResetConfirmation(result string) {
	if m != nil {
		m.ResetConfirmationsTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) RecoveryRequest(result string) {
	if m != nil {
		m.RecoveryRequestsTotal.WithLabelValues(result).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency labelled by the matched
// chi route pattern, so path parameters do not inflate cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
