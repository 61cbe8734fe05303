package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	lerrors "github.com/lumaview/lumaview/pkg/errors"
	"github.com/lumaview/lumaview/pkg/utils"
)

// Config represents metrics configuration
type Config struct {
	Enabled        bool              `yaml:"enabled"`
	Port           int               `yaml:"port"`
	Path           string            `yaml:"path"`
	Labels         map[string]string `yaml:"labels"`
	Namespace      string            `yaml:"namespace"`
	Subsystem      string            `yaml:"subsystem"`
	UpdateInterval time.Duration     `yaml:"update_interval"`
}

// DefaultConfig returns the default metrics configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		Port:           9464,
		Path:           "/metrics",
		Namespace:      "lumaview",
		UpdateInterval: 5 * time.Second,
		Labels:         make(map[string]string),
	}
}

// Collector exports pool, cache and prefetch statistics to Prometheus and
// records navigation latency.
type Collector struct {
	mu       sync.Mutex
	config   *Config
	registry *prometheus.Registry
	logger   *utils.StructuredLogger

	navigationDuration *prometheus.HistogramVec
	navigationTotal    *prometheus.CounterVec
	footprintBytes     prometheus.Histogram

	extra    map[string]http.Handler
	server   *http.Server
	listener net.Listener
}

// NewCollector creates a new metrics collector over sources.
func NewCollector(config *Config, sources Sources, logger *utils.StructuredLogger) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if logger == nil {
		logger = utils.NewDefaultLogger()
	}

	c := &Collector{
		config:   config,
		registry: prometheus.NewRegistry(),
		logger:   logger.WithComponent("metrics"),
	}
	c.initMetrics()

	collectors := []prometheus.Collector{
		c.navigationDuration,
		c.navigationTotal,
		c.footprintBytes,
		newStatsCollector(config.Namespace, config.Subsystem, config.Labels, sources),
	}
	for _, metric := range collectors {
		if err := c.registry.Register(metric); err != nil {
			return nil, lerrors.Wrap(err, lerrors.ErrCodeInvalidConfig, "failed to register metrics").WithComponent("metrics")
		}
	}
	return c, nil
}

func (c *Collector) initMetrics() {
	c.navigationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "navigation_duration_seconds",
			Help:        "Time from navigation request to image available",
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms to ~16s
			ConstLabels: c.config.Labels,
		},
		[]string{"source"},
	)

	c.navigationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "navigations_total",
			Help:        "Navigations by outcome",
			ConstLabels: c.config.Labels,
		},
		[]string{"outcome"},
	)

	c.footprintBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "image_footprint_bytes",
			Help:        "Decoded image footprint",
			Buckets:     prometheus.ExponentialBuckets(64*1024, 2, 14), // 64KiB to 512MiB
			ConstLabels: c.config.Labels,
		},
	)
}

// RecordNavigation records one navigation. fromCache selects the latency
// series; err classifies the outcome.
func (c *Collector) RecordNavigation(latency time.Duration, fromCache bool, footprint int64, err error) {
	switch {
	case err == nil:
		source := "decode"
		if fromCache {
			source = "cache"
		}
		c.navigationDuration.WithLabelValues(source).Observe(latency.Seconds())
		c.navigationTotal.WithLabelValues(source).Inc()
		if footprint > 0 {
			c.footprintBytes.Observe(float64(footprint))
		}
	case lerrors.IsCanceled(err):
		c.navigationTotal.WithLabelValues("canceled").Inc()
	default:
		c.navigationTotal.WithLabelValues("error").Inc()
	}
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Mount serves handler under pattern alongside the metrics endpoint. It must
// be called before Start.
func (c *Collector) Mount(pattern string, handler http.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.extra == nil {
		c.extra = make(map[string]http.Handler)
	}
	c.extra[pattern] = handler
}

// Handler returns the HTTP handler serving the metrics and health endpoints.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", c.healthHandler)
	for pattern, handler := range c.extra {
		mux.Handle(pattern, handler)
	}
	return mux
}

// Start serves the metrics endpoint when enabled.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.server != nil {
		return lerrors.NewError(lerrors.ErrCodeAlreadyStarted, "metrics server already running").WithComponent("metrics")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", c.config.Port))
	if err != nil {
		return lerrors.Wrap(err, lerrors.ErrCodeOperationFailed, "failed to listen for metrics").WithComponent("metrics")
	}

	c.listener = ln
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	server := c.server
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Metrics server error", map[string]interface{}{"error": err})
		}
	}()

	c.logger.Info("Metrics server started", map[string]interface{}{
		"addr": ln.Addr().String(),
		"path": c.config.Path,
	})
	return nil
}

// Addr returns the listening address, or "" when not serving.
func (c *Collector) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop stops the metrics server
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	server := c.server
	c.server = nil
	c.listener = nil
	c.mu.Unlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"lumaview-metrics"}`)) // Ignore write error for health check
}
