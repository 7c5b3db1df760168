// ABOUTME: Prometheus instruments for turns, upstream streams and the item log
// ABOUTME: All metrics live on a private registry exposed through Handler

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "endobot"

// Metrics groups the service's instruments. A nil *Metrics is valid and
// records nothing, so components can run without metrics wired.
type Metrics struct {
	registry *prometheus.Registry

	turnsTotal        *prometheus.CounterVec
	timeToFirstDelta  prometheus.Histogram
	streamDuration    *prometheus.HistogramVec
	activeStreams     prometheus.Gauge
	malformedFrames   prometheus.Counter
	upstreamErrors    *prometheus.CounterVec
	itemsAppended     *prometheus.CounterVec
	broadcastsDropped prometheus.Counter
}

// New registers every instrument on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		turnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "User turns by final outcome",
		}, []string{"outcome"}),
		timeToFirstDelta: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "time_to_first_delta_seconds",
			Help:      "Time from opening the upstream stream to the first text delta",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		streamDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Duration of a bridged upstream stream",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"outcome"}),
		activeStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Upstream streams currently being bridged",
		}),
		malformedFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_malformed_frames_total",
			Help:      "Upstream data frames dropped as unrecognizable",
		}),
		upstreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_errors_total",
			Help:      "Streams ended with stream_error, by error kind",
		}, []string{"kind"}),
		itemsAppended: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_appended_total",
			Help:      "Items appended to thread logs, by role",
		}, []string{"role"}),
		broadcastsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Item notifications dropped because a subscriber was full",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TurnFinished counts a user turn by outcome (completed, error, cancelled).
func (m *Metrics) TurnFinished(outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(outcome).Inc()
}

// StreamStarted marks a stream active and returns a func that records its
// end. The returned func must be called exactly once.
func (m *Metrics) StreamStarted() func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.activeStreams.Inc()
	return func(outcome string) {
		m.activeStreams.Dec()
		m.streamDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
}

// FirstDelta records the latency to the first text delta.
func (m *Metrics) FirstDelta(d time.Duration) {
	if m == nil {
		return
	}
	m.timeToFirstDelta.Observe(d.Seconds())
}

// MalformedFrames adds n dropped frames.
func (m *Metrics) MalformedFrames(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.malformedFrames.Add(float64(n))
}

// StreamError counts a stream_error by kind.
func (m *Metrics) StreamError(kind string) {
	if m == nil {
		return
	}
	m.upstreamErrors.WithLabelValues(kind).Inc()
}

// ItemAppended counts an appended item by role.
func (m *Metrics) ItemAppended(role string) {
	if m == nil {
		return
	}
	m.itemsAppended.WithLabelValues(role).Inc()
}

// BroadcastDropped counts a notification dropped for a slow subscriber.
func (m *Metrics) BroadcastDropped() {
	if m == nil {
		return
	}
	m.broadcastsDropped.Inc()
}
