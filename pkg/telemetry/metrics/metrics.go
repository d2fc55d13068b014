// Package metrics defines the gateway's Prometheus metrics.
//
// All metrics live under the ganymede namespace. The collector owns its
// registry and pre-allocates every metric vector at construction, so
// recording is a label lookup and an atomic update.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config contains metrics configuration.
type Config struct {
	// Enabled toggles metric recording. A disabled collector still exists
	// so callers need no nil checks.
	Enabled bool `yaml:"enabled"`

	// Namespace is the metric name prefix. Default: "ganymede"
	Namespace string `yaml:"namespace"`
}

// Collector records all gateway metrics.
type Collector struct {
	config   Config
	registry *prometheus.Registry

	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	coalescedTotal     *prometheus.CounterVec
	upstreamCallsTotal *prometheus.CounterVec
	streamEventsTotal  *prometheus.CounterVec
	droppedSubscribers prometheus.Counter
	timeToFirstEvent   *prometheus.HistogramVec
	pacerWaitSeconds   *prometheus.HistogramVec
	pacerRejections    *prometheus.CounterVec
	assemblySource     *prometheus.CounterVec
	turnsAppended      prometheus.Counter
}

// NewCollector creates the collector and registers every metric with its own
// registry (or the given one when non-nil).
func NewCollector(cfg Config, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "ganymede"
	}

	c := &Collector{
		config:   cfg,
		registry: registry,

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "requests_total",
			Help:      "Chat requests by provider, model, and final status.",
		}, []string{"provider", "model", "status"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end request duration.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
		}, []string{"provider", "model"}),

		coalescedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "coalesced_requests_total",
			Help:      "Requests by coalescing role (leader drives upstream, follower attaches).",
		}, []string{"role"}),

		upstreamCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "upstream_calls_total",
			Help:      "Upstream provider calls by outcome.",
		}, []string{"provider", "outcome"}),

		streamEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "stream_events_total",
			Help:      "Broadcast stream events published, by type.",
		}, []string{"type"}),

		droppedSubscribers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "dropped_subscribers_total",
			Help:      "Subscribers dropped for falling behind the stream.",
		}),

		timeToFirstEvent: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "time_to_first_event_seconds",
			Help:      "Time from request arrival to the meta event.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}, []string{"provider"}),

		pacerWaitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "pacer_wait_seconds",
			Help:      "Time spent waiting for an upstream permit.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0},
		}, []string{"provider"}),

		pacerRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "pacer_rejections_total",
			Help:      "Requests rejected by the pacer, by reason.",
		}, []string{"provider", "reason"}),

		assemblySource: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "context_assembly_total",
			Help:      "Context assemblies by history source (cache, store, degraded).",
		}, []string{"source"}),

		turnsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "turns_appended_total",
			Help:      "Turns persisted to the thread store.",
		}),
	}

	registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.coalescedTotal,
		c.upstreamCallsTotal,
		c.streamEventsTotal,
		c.droppedSubscribers,
		c.timeToFirstEvent,
		c.pacerWaitSeconds,
		c.pacerRejections,
		c.assemblySource,
		c.turnsAppended,
	)

	return c
}

// Registry returns the collector's Prometheus registry for the /metrics
// handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordRequest records a completed chat request.
func (c *Collector) RecordRequest(provider, model, status string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.requestsTotal.WithLabelValues(provider, model, status).Inc()
	c.requestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// RecordCoalesce records a request's coalescing role.
func (c *Collector) RecordCoalesce(role string) {
	if !c.config.Enabled {
		return
	}
	c.coalescedTotal.WithLabelValues(role).Inc()
}

// RecordUpstreamCall records an upstream call outcome.
func (c *Collector) RecordUpstreamCall(provider, outcome string) {
	if !c.config.Enabled {
		return
	}
	c.upstreamCallsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordStreamEvent records a published broadcast event.
func (c *Collector) RecordStreamEvent(eventType string) {
	if !c.config.Enabled {
		return
	}
	c.streamEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordDroppedSubscriber records a subscriber dropped for slowness.
func (c *Collector) RecordDroppedSubscriber() {
	if !c.config.Enabled {
		return
	}
	c.droppedSubscribers.Inc()
}

// RecordTimeToFirstEvent records request-to-meta latency.
func (c *Collector) RecordTimeToFirstEvent(provider string, d time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.timeToFirstEvent.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordPacerWait records time spent waiting for a permit.
func (c *Collector) RecordPacerWait(provider string, d time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.pacerWaitSeconds.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordPacerRejection records a pacer rejection.
func (c *Collector) RecordPacerRejection(provider, reason string) {
	if !c.config.Enabled {
		return
	}
	c.pacerRejections.WithLabelValues(provider, reason).Inc()
}

// RecordAssembly records a context assembly by history source.
func (c *Collector) RecordAssembly(source string) {
	if !c.config.Enabled {
		return
	}
	c.assemblySource.WithLabelValues(source).Inc()
}

// RecordTurnsAppended records persisted turns.
func (c *Collector) RecordTurnsAppended(n int) {
	if !c.config.Enabled {
		return
	}
	c.turnsAppended.Add(float64(n))
}
