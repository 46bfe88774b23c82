package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reminder_engine"

// Metrics stores Prometheus collectors used by the HTTP surface and the orchestrator.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	attemptsStartedTotal    prometheus.Counter
	attemptTransitionsTotal *prometheus.CounterVec
	webhookEventsTotal      *prometheus.CounterVec
	smsFallbackTotal        *prometheus.CounterVec
	providerRequestDuration *prometheus.HistogramVec
	audioArtifactsInflight  prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		attemptsStartedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_started_total",
				Help:      "Total number of reminder attempts created.",
			},
		),
		attemptTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempt_transitions_total",
				Help:      "Total number of attempt state changes by source and target state.",
			},
			[]string{"from", "to"},
		),
		webhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Provider webhook deliveries by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		smsFallbackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sms_fallback_total",
				Help:      "SMS fallback sends by outcome.",
			},
			[]string{"outcome"},
		),
		providerRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Outbound provider request duration in seconds by provider and operation.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"provider", "operation"},
		),
		audioArtifactsInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "audio_artifacts_inflight",
				Help:      "Generated audio artifacts currently hosted and awaiting deletion.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.attemptsStartedTotal,
		m.attemptTransitionsTotal,
		m.webhookEventsTotal,
		m.smsFallbackTotal,
		m.providerRequestDuration,
		m.audioArtifactsInflight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the private registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil || m.registry == nil {
		return prometheus.DefaultGatherer
	}
	return m.registry
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncAttemptStarted() {
	if m == nil {
		return
	}
	m.attemptsStartedTotal.Inc()
}

func (m *Metrics) IncAttemptTransition(from, to string) {
	if m == nil {
		return
	}
	m.attemptTransitionsTotal.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (m *Metrics) IncWebhookEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.webhookEventsTotal.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncSMSFallback(outcome string) {
	if m == nil {
		return
	}
	m.smsFallbackTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveProviderRequest(provider, operation string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.providerRequestDuration.WithLabelValues(normalizeLabel(provider), normalizeLabel(operation)).Observe(seconds)
}

// AudioInflight is handed to the audio generator, which owns its value.
func (m *Metrics) AudioInflight() prometheus.Gauge {
	if m == nil {
		return nil
	}
	return m.audioArtifactsInflight
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
