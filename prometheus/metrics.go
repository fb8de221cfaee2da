package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	// HTTP request metrics
	HttpRequestsTotal   *prometheus.CounterVec
	HttpRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	AuthErrorsCounter *prometheus.CounterVec

	// Tenant metrics
	TenantProvisionCounter  *prometheus.CounterVec
	TenantProvisionDuration prometheus.Histogram

	// Database operation metrics
	DbOperationDuration *prometheus.HistogramVec

	// Queue metrics
	QueueJobsCounter *prometheus.CounterVec
}

// InitMetrics registers the service collectors on a fresh registry
func InitMetrics(prefix string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetrics(prefix, reg, reg)
}

// NewMetrics registers the service collectors on reg
func NewMetrics(prefix string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,

		HttpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HttpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		AuthErrorsCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_auth_errors_total",
				Help: "Total number of authentication errors",
			},
			[]string{"type"},
		),
		TenantProvisionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_tenant_provision_total",
				Help: "Total number of tenant schema provisioning attempts",
			},
			[]string{"outcome"},
		),
		TenantProvisionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    prefix + "_tenant_provision_duration_seconds",
				Help:    "Duration of tenant schema provisioning in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		DbOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_db_operation_duration_seconds",
				Help:    "Duration of database operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation_type"},
		),
		QueueJobsCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_queue_jobs_total",
				Help: "Total number of processed queue jobs",
			},
			[]string{"job", "outcome"},
		),
	}
}

// Middleware records request count and duration per route
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if !c.Response().Committed {
					status = http.StatusInternalServerError
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			labels := []string{c.Request().Method, path, strconv.Itoa(status)}
			m.HttpRequestsTotal.WithLabelValues(labels...).Inc()
			m.HttpRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// TrackDBOperation returns a function that records the duration of a database operation
func (m *Metrics) TrackDBOperation(operationType string) func(startTime time.Time) {
	return func(startTime time.Time) {
		if m == nil {
			return
		}
		m.DbOperationDuration.WithLabelValues(operationType).Observe(time.Since(startTime).Seconds())
	}
}

// ObserveProvision records one tenant schema provisioning attempt
func (m *Metrics) ObserveProvision(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TenantProvisionCounter.WithLabelValues(outcome).Inc()
	m.TenantProvisionDuration.Observe(d.Seconds())
}

// RecordAuthError increments the auth error counter for errType
func (m *Metrics) RecordAuthError(errType string) {
	if m == nil {
		return
	}
	m.AuthErrorsCounter.WithLabelValues(errType).Inc()
}

// RecordQueueJob increments the queue job counter
func (m *Metrics) RecordQueueJob(job, outcome string) {
	if m == nil {
		return
	}
	m.QueueJobsCounter.WithLabelValues(job, outcome).Inc()
}
