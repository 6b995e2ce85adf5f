package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Exporter publishes pipeline stats to a Prometheus registry.
type Exporter struct {
	eventsSubmitted prometheus.Counter
	eventsProcessed prometheus.Counter
	eventsDropped   prometheus.Counter
	eventsInvalid   prometheus.Counter
	alertsCreated   *prometheus.CounterVec
	alertsDeduped   prometheus.Counter
	queueDepth      prometheus.Gauge
	latencyP95      prometheus.Gauge
	latencyP99      prometheus.Gauge
	latencyMean     prometheus.Gauge
	anomalies       *prometheus.CounterVec

	lastStats ProcessingStats
}

// NewExporter creates an exporter and registers its collectors. Pass
// prometheus.DefaultRegisterer outside of tests.
func NewExporter(reg prometheus.Registerer) *Exporter {
	e := &Exporter{
		eventsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_events_submitted_total",
			Help: "Total events submitted to the pipeline",
		}),
		eventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_events_processed_total",
			Help: "Total events fully processed",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_events_dropped_total",
			Help: "Total events dropped by the bounded ingress queue",
		}),
		eventsInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_events_invalid_total",
			Help: "Total events rejected by schema validation",
		}),
		alertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_alerts_created_total",
			Help: "Total alerts created",
		}, []string{"severity"}),
		alertsDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_alerts_deduped_total",
			Help: "Total alerts suppressed by fingerprint deduplication",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_queue_depth",
			Help: "Current ingress queue depth",
		}),
		latencyP95: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_processing_latency_p95_seconds",
			Help: "95th percentile processing latency",
		}),
		latencyP99: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_processing_latency_p99_seconds",
			Help: "99th percentile processing latency",
		}),
		latencyMean: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_processing_latency_mean_seconds",
			Help: "Mean processing latency",
		}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_latency_anomalies_total",
			Help: "Advisory latency anomalies detected",
		}, []string{"direction"}),
	}

	reg.MustRegister(
		e.eventsSubmitted,
		e.eventsProcessed,
		e.eventsDropped,
		e.eventsInvalid,
		e.alertsCreated,
		e.alertsDeduped,
		e.queueDepth,
		e.latencyP95,
		e.latencyP99,
		e.latencyMean,
		e.anomalies,
	)
	return e
}

// Observe pushes a stats snapshot into the collectors. Counters advance by
// the delta since the previous snapshot.
func (e *Exporter) Observe(s ProcessingStats) {
	e.eventsSubmitted.Add(float64(s.EventsSubmitted - e.lastStats.EventsSubmitted))
	e.eventsProcessed.Add(float64(s.EventsProcessed - e.lastStats.EventsProcessed))
	e.eventsDropped.Add(float64(s.EventsDropped - e.lastStats.EventsDropped))
	e.eventsInvalid.Add(float64(s.EventsInvalid - e.lastStats.EventsInvalid))
	e.alertsDeduped.Add(float64(s.AlertsDeduped - e.lastStats.AlertsDeduped))

	e.queueDepth.Set(float64(s.QueueDepth))
	e.latencyP95.Set(s.Latency.P95.Seconds())
	e.latencyP99.Set(s.Latency.P99.Seconds())
	e.latencyMean.Set(s.Latency.Mean.Seconds())

	if s.Anomaly != nil {
		e.anomalies.WithLabelValues(string(s.Anomaly.Direction)).Inc()
	}

	e.lastStats = s
}

// AlertCreated counts one created alert by severity.
func (e *Exporter) AlertCreated(severity string) {
	e.alertsCreated.WithLabelValues(severity).Inc()
}
