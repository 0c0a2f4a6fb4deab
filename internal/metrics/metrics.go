// Package metrics exposes gateway and storage counters to Prometheus.
//
// A nil *Collector is valid and records nothing, so components take one
// unconditionally and metrics stay optional.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Collector owns a private registry and the gateway's metric families.
type Collector struct {
	registry *prometheus.Registry

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	storageRequests   *prometheus.CounterVec
	storageDuration   *prometheus.HistogramVec
	batchInFlight     prometheus.Gauge
	sessions          *prometheus.GaugeVec
}

// New creates a collector with Go runtime and process metrics registered.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Collector{
		registry: reg,
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3ftp_operations_total",
				Help: "Filesystem operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "s3ftp_operation_duration_seconds",
				Help:    "Duration of filesystem operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		storageRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3ftp_storage_requests_total",
				Help: "Object store requests by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		storageDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "s3ftp_storage_request_duration_seconds",
				Help:    "Duration of object store requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		batchInFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "s3ftp_batch_inflight",
				Help: "Bulk delete requests currently in flight",
			},
		),
		sessions: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "s3ftp_sessions",
				Help: "Connected client sessions by protocol",
			},
			[]string{"protocol"},
		),
	}
}

// Registry returns the collector's registry, or nil for a nil collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveOperation records one filesystem operation.
func (c *Collector) ObserveOperation(op, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.operations.WithLabelValues(op, outcome).Inc()
	c.operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveStorage records one object store request.
func (c *Collector) ObserveStorage(method, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.storageRequests.WithLabelValues(method, outcome).Inc()
	c.storageDuration.WithLabelValues(method).Observe(d.Seconds())
}

// BatchStarted marks a bulk delete request as in flight.
func (c *Collector) BatchStarted() {
	if c == nil {
		return
	}
	c.batchInFlight.Inc()
}

// BatchFinished marks a bulk delete request as done.
func (c *Collector) BatchFinished() {
	if c == nil {
		return
	}
	c.batchInFlight.Dec()
}

// SessionOpened counts a connected client.
func (c *Collector) SessionOpened(protocol string) {
	if c == nil {
		return
	}
	c.sessions.WithLabelValues(protocol).Inc()
}

// SessionClosed counts a disconnected client.
func (c *Collector) SessionClosed(protocol string) {
	if c == nil {
		return
	}
	c.sessions.WithLabelValues(protocol).Dec()
}
