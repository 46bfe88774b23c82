package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsAttemptCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncAttemptStarted()
	metrics.IncAttemptTransition("PENDING", "VOICEMAIL")
	metrics.IncWebhookEvent("status", "")
	metrics.IncSMSFallback("sent")
	metrics.ObserveProviderRequest("twilio", "place_call", 120*time.Millisecond)
	metrics.AudioInflight().Inc()

	if got := testutil.ToFloat64(metrics.attemptsStartedTotal); got != 1 {
		t.Fatalf("attempts_started_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.attemptTransitionsTotal.WithLabelValues("pending", "voicemail")); got != 1 {
		t.Fatalf("attempt_transitions_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.webhookEventsTotal.WithLabelValues("status", "unknown")); got != 1 {
		t.Fatalf("webhook_events_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.smsFallbackTotal.WithLabelValues("sent")); got != 1 {
		t.Fatalf("sms_fallback_total = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(metrics.providerRequestDuration); got != 1 {
		t.Fatalf("provider_request_duration_seconds series = %d, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.audioArtifactsInflight); got != 1 {
		t.Fatalf("audio_artifacts_inflight = %v, want 1", got)
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncAttemptStarted()
	metrics.IncAttemptTransition("PENDING", "ANSWERED")
	metrics.IncSMSFallback("failed")
	if metrics.AudioInflight() != nil {
		t.Fatal("nil metrics should not expose a gauge")
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
