// Package metrics exposes Prometheus metrics for conversation turns, risk
// escalation, language-model latency, email delivery and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds configuration for the Collector.
type Config struct {
	Namespace      string   `yaml:"namespace" json:"namespace"`
	Subsystem      string   `yaml:"subsystem" json:"subsystem"`
	Path           string   `yaml:"path" json:"path"`
	EnabledMetrics []string `yaml:"enabledMetrics" json:"enabledMetrics"`
	// Runtime adds the Go runtime and process collectors.
	Runtime bool `yaml:"runtime" json:"runtime"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Namespace:      "mindcare",
		Path:           "/metrics",
		EnabledMetrics: []string{"turns", "llm", "http", "email", "sessions"},
		Runtime:        true,
	}
}

func enabled(list []string, name string) bool {
	for _, e := range list {
		if e == name {
			return true
		}
	}
	return false
}

// Collector owns a private registry and the metric vectors. Every Record
// method is a no-op for a disabled metric group or a nil Collector.
type Collector struct {
	config   Config
	registry *prometheus.Registry

	TurnsTotal          *prometheus.CounterVec
	TurnDuration        *prometheus.HistogramVec
	RiskEscalations     *prometheus.CounterVec
	GenerationDuration  *prometheus.HistogramVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	EmailsTotal         *prometheus.CounterVec
	ActiveSessions      prometheus.Gauge
}

// New creates a Collector with the default configuration.
func New() *Collector {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Collector with its own Prometheus registry.
func NewWithConfig(cfg Config) *Collector {
	reg := prometheus.NewRegistry()
	ns, sub := cfg.Namespace, cfg.Subsystem
	c := &Collector{config: cfg, registry: reg}

	if cfg.Runtime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	if enabled(cfg.EnabledMetrics, "turns") {
		c.TurnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "turns_total",
			Help:      "Total number of conversation turns",
		}, []string{"decision", "risk", "status"})

		c.TurnDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "turn_duration_seconds",
			Help:      "Duration of conversation turns in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"decision"})

		c.RiskEscalations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "risk_escalations_total",
			Help:      "Turns that ended above low risk",
		}, []string{"risk"})

		reg.MustRegister(c.TurnsTotal, c.TurnDuration, c.RiskEscalations)
	}

	if enabled(cfg.EnabledMetrics, "llm") {
		c.GenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "llm_generation_duration_seconds",
			Help:      "Latency of language model calls in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"kind", "status"})

		reg.MustRegister(c.GenerationDuration)
	}

	if enabled(cfg.EnabledMetrics, "http") {
		c.HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status_code"})

		c.HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"})

		reg.MustRegister(c.HTTPRequestsTotal, c.HTTPRequestDuration)
	}

	if enabled(cfg.EnabledMetrics, "email") {
		c.EmailsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "summary_emails_total",
			Help:      "Session summary emails by outcome",
		}, []string{"status"})

		reg.MustRegister(c.EmailsTotal)
	}

	if enabled(cfg.EnabledMetrics, "sessions") {
		c.ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "active_sessions",
			Help:      "Sessions started and not yet finished",
		})

		reg.MustRegister(c.ActiveSessions)
	}

	return c
}

// Path returns the configured metrics endpoint path.
func (c *Collector) Path() string { return c.config.Path }

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler returns an HTTP handler that serves the metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordTurn records one completed or failed turn.
func (c *Collector) RecordTurn(decision, risk string, duration time.Duration, err error) {
	if c == nil || c.TurnsTotal == nil {
		return
	}
	if decision == "" {
		decision = "none"
	}
	c.TurnsTotal.WithLabelValues(decision, risk, status(err)).Inc()
	c.TurnDuration.WithLabelValues(decision).Observe(duration.Seconds())
	if err == nil && risk != "" && risk != "low" {
		c.RiskEscalations.WithLabelValues(risk).Inc()
	}
}

// GenerationDone records the latency of a language model call.
func (c *Collector) GenerationDone(kind string, elapsed time.Duration, err error) {
	if c == nil || c.GenerationDuration == nil {
		return
	}
	c.GenerationDuration.WithLabelValues(kind, status(err)).Observe(elapsed.Seconds())
}

// RecordHTTPRequest records an HTTP request metric.
func (c *Collector) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if c == nil || c.HTTPRequestsTotal == nil {
		return
	}
	c.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	c.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Email outcomes.
const (
	EmailSent    = "sent"
	EmailFailed  = "failed"
	EmailSkipped = "skipped"
)

// RecordEmail records the outcome of a summary email.
func (c *Collector) RecordEmail(outcome string) {
	if c == nil || c.EmailsTotal == nil {
		return
	}
	c.EmailsTotal.WithLabelValues(outcome).Inc()
}

// SessionStarted increments the active session gauge.
func (c *Collector) SessionStarted() {
	if c == nil || c.ActiveSessions == nil {
		return
	}
	c.ActiveSessions.Inc()
}

// SessionFinished decrements the active session gauge.
func (c *Collector) SessionFinished() {
	if c == nil || c.ActiveSessions == nil {
		return
	}
	c.ActiveSessions.Dec()
}

// Middleware records request counts and latency labelled by the matched
// route pattern, so path parameters do not explode label cardinality.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		c.RecordHTTPRequest(r.Method, path, rw.status, time.Since(start))
	})
}
