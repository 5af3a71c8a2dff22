package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/statuswatch/statuswatch/internal/status"
)

// Metrics wraps Prometheus collectors for statuswatch.
type Metrics struct {
	registry                 *prometheus.Registry
	refreshDurationSeconds   prometheus.Histogram
	servicesTotal            *prometheus.GaugeVec
	incidentsTotal           *prometheus.CounterVec
	probeTimeoutsTotal       prometheus.Counter
	persistenceErrorsTotal   prometheus.Counter
	lastRefreshTimestampUnix prometheus.Gauge
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		refreshDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "statuswatch_refresh_duration_seconds",
			Help:    "Duration of status refresh cycles in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		servicesTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "statuswatch_services_total",
			Help: "Services observed in the latest refresh, by status.",
		}, []string{"status"}),
		incidentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statuswatch_incidents_total",
			Help: "Status transitions recorded, by service.",
		}, []string{"service"}),
		probeTimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "statuswatch_probe_timeouts_total",
			Help: "Probes that exceeded their per-probe timeout.",
		}),
		persistenceErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "statuswatch_persistence_errors_total",
			Help: "Observation store writes that failed.",
		}),
		lastRefreshTimestampUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "statuswatch_last_refresh_timestamp",
			Help: "Unix timestamp of the last completed refresh cycle.",
		}),
	}

	registry.MustRegister(
		m.refreshDurationSeconds,
		m.servicesTotal,
		m.incidentsTotal,
		m.probeTimeoutsTotal,
		m.persistenceErrorsTotal,
		m.lastRefreshTimestampUnix,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRefresh records one completed refresh cycle.
func (m *Metrics) ObserveRefresh(duration time.Duration, counts map[status.Status]int, finishedAt time.Time) {
	if m == nil {
		return
	}
	m.refreshDurationSeconds.Observe(duration.Seconds())
	for st, count := range counts {
		m.servicesTotal.WithLabelValues(string(st)).Set(float64(count))
	}
	m.lastRefreshTimestampUnix.Set(float64(finishedAt.Unix()))
}

// IncIncidents increments the incident counter for a service.
func (m *Metrics) IncIncidents(serviceID string) {
	if m == nil {
		return
	}
	m.incidentsTotal.WithLabelValues(serviceID).Inc()
}

// IncProbeTimeouts increments the probe timeout counter.
func (m *Metrics) IncProbeTimeouts() {
	if m == nil {
		return
	}
	m.probeTimeoutsTotal.Inc()
}

// IncPersistenceErrors increments the persistence error counter.
func (m *Metrics) IncPersistenceErrors() {
	if m == nil {
		return
	}
	m.persistenceErrorsTotal.Inc()
}
