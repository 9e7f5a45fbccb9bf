package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Route outcomes recorded by the edge router.
const (
	OutcomePassthrough = "passthrough"
	OutcomeCacheHit    = "cache_hit"
	OutcomeCacheMiss   = "cache_miss"
	OutcomeRejected    = "rejected"
)

// Transform pipeline stages timed by the engine.
const (
	StageFetch  = "fetch"
	StageDecode = "decode"
	StageResize = "resize"
	StageEncode = "encode"
	StageWrite  = "write"
)

// Collector owns the prometheus registry for the transform core. All
// observation methods are safe on a nil receiver so request-scoped Lambda
// entrypoints can run without metrics.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	routeOutcomes      *prometheus.CounterVec
	transformTotal     *prometheus.CounterVec
	transformErrors    *prometheus.CounterVec
	stageDuration      *prometheus.HistogramVec
	renditionBytes     prometheus.Counter
	sourceBytes        prometheus.Counter
	invocationsTotal   *prometheus.CounterVec
	writeFailuresTotal prometheus.Counter

	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// NewCollector creates a new metrics collector. A disabled config returns
// a collector whose observations are no-ops.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Port:      8080,
			Path:      "/metrics",
			Namespace: "galerly",
		}
	}

	if !config.Enabled {
		return nil, nil
	}

	registry := prometheus.NewRegistry()
	c := &Collector{config: config, registry: registry}

	c.routeOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "route_outcomes_total",
		Help:      "Edge routing decisions by outcome",
	}, []string{"outcome"})

	c.transformTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "transforms_total",
		Help:      "Completed transform requests by status",
	}, []string{"status"})

	c.transformErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "transform_errors_total",
		Help:      "Transform failures by error kind",
	}, []string{"kind"})

	c.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: config.Namespace,
		Name:      "stage_duration_seconds",
		Help:      "Duration of transform pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"stage"})

	c.renditionBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "rendition_bytes_total",
		Help:      "Total bytes of encoded renditions produced",
	})

	c.sourceBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "source_bytes_total",
		Help:      "Total bytes of original objects fetched",
	})

	c.invocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "invocations_total",
		Help:      "Transform function invocations by discipline and result",
	}, []string{"mode", "result"})

	c.writeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "rendition_write_failures_total",
		Help:      "Rendition cache writes that failed after retries",
	})

	for _, col := range []prometheus.Collector{
		c.routeOutcomes, c.transformTotal, c.transformErrors, c.stageDuration,
		c.renditionBytes, c.sourceBytes, c.invocationsTotal, c.writeFailuresTotal,
	} {
		if err := registry.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return c, nil
}

// Start serves the registry over HTTP for scrapes. Only used by long-lived
// local runs; Lambda invocations never call it.
func (c *Collector) Start(ctx context.Context) error {
	if c == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Metrics are best-effort; scrape failures never fail the run.
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	go func() {
		<-ctx.Done()
		_ = c.Stop()
	}()

	return nil
}

// Stop shuts down the metrics server if running
func (c *Collector) Stop() error {
	if c == nil || c.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.server.Shutdown(ctx)
}

// Registry exposes the underlying registry for tests
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveRoute records an edge routing decision
func (c *Collector) ObserveRoute(outcome string) {
	if c == nil {
		return
	}
	c.routeOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveTransform records a completed transform by status ("ok"/"error")
func (c *Collector) ObserveTransform(status string) {
	if c == nil {
		return
	}
	c.transformTotal.WithLabelValues(status).Inc()
}

// ObserveError records a transform failure by invocation-boundary kind
func (c *Collector) ObserveError(kind string) {
	if c == nil {
		return
	}
	c.transformErrors.WithLabelValues(kind).Inc()
}

// ObserveStage records the duration of one pipeline stage
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// AddSourceBytes counts bytes fetched from the originals namespace
func (c *Collector) AddSourceBytes(n int) {
	if c == nil {
		return
	}
	c.sourceBytes.Add(float64(n))
}

// AddRenditionBytes counts encoded output bytes
func (c *Collector) AddRenditionBytes(n int) {
	if c == nil {
		return
	}
	c.renditionBytes.Add(float64(n))
}

// ObserveInvocation records a transform function dispatch
func (c *Collector) ObserveInvocation(mode, result string) {
	if c == nil {
		return
	}
	c.invocationsTotal.WithLabelValues(mode, result).Inc()
}

// ObserveWriteFailure records a rendition write that failed after retries
func (c *Collector) ObserveWriteFailure() {
	if c == nil {
		return
	}
	c.writeFailuresTotal.Inc()
}
