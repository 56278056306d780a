// Package metrics exposes reference resolution and store activity as
// Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-datastore/pkg/activity"
	"github.com/goliatone/go-datastore/pkg/reference"
)

// Config configures a Collector.
type Config struct {
	// Prefix is the metric namespace (default: "datastore").
	Prefix string

	// Labels are constant labels added to every metric.
	Labels map[string]string

	// Buckets for the resolution duration histogram, in seconds.
	Buckets []float64

	// Runtime registers the Go and process collectors.
	Runtime bool
}

// DefaultBuckets returns the default resolution duration buckets.
func DefaultBuckets() []float64 {
	return []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}
}

// Collector records resolution outcomes and activity events. It implements
// reference.Observer and activity.ActivityHook.
type Collector struct {
	registry    *prometheus.Registry
	resolutions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	events      *prometheus.CounterVec
}

// NewCollector creates a Collector with its own registry.
func NewCollector(cfg Config) *Collector {
	if cfg.Prefix == "" {
		cfg.Prefix = "datastore"
	}
	if cfg.Buckets == nil {
		cfg.Buckets = DefaultBuckets()
	}

	c := &Collector{registry: prometheus.NewRegistry()}
	c.resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   cfg.Prefix,
			Name:        "reference_resolutions_total",
			Help:        "Reference resolution attempts by storage strategy and outcome.",
			ConstLabels: cfg.Labels,
		},
		[]string{"strategy", "outcome"},
	)
	c.duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   cfg.Prefix,
			Name:        "reference_resolution_duration_seconds",
			Help:        "Time spent dispatching a reference to its storage strategy.",
			ConstLabels: cfg.Labels,
			Buckets:     cfg.Buckets,
		},
		[]string{"strategy"},
	)
	c.events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   cfg.Prefix,
			Name:        "activity_events_total",
			Help:        "Store activity events by verb.",
			ConstLabels: cfg.Labels,
		},
		[]string{"verb"},
	)

	c.registry.MustRegister(c.resolutions, c.duration, c.events)
	if cfg.Runtime {
		c.registry.MustRegister(prometheus.NewGoCollector())
		c.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	}
	return c
}

// ObserveResolution implements reference.Observer.
func (c *Collector) ObserveResolution(strategy reference.Strategy, outcome reference.Outcome, elapsed time.Duration) {
	name := strategy.String()
	c.resolutions.WithLabelValues(name, string(outcome)).Inc()
	c.duration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// Notify implements activity.ActivityHook.
func (c *Collector) Notify(_ context.Context, event activity.Event) error {
	c.events.WithLabelValues(event.Verb).Inc()
	return nil
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the HTTP handler for the scrape endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

var (
	_ reference.Observer    = (*Collector)(nil)
	_ activity.ActivityHook = (*Collector)(nil)
)
