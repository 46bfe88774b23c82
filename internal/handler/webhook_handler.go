package handler

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/reminder-engine/internal/observability"
	"github.com/kursadbilgin/reminder-engine/internal/provider"
	"github.com/kursadbilgin/reminder-engine/internal/service"
	"go.uber.org/zap"
)

const (
	signatureHeader = "X-Twilio-Signature"
	mimeTextXML     = "text/xml"

	// hangupMarkup is served when the orchestrator cannot build a response.
	hangupMarkup = `<?xml version="1.0" encoding="UTF-8"?>` + "\n" + `<Response><Hangup></Hangup></Response>`
)

type WebhookService interface {
	HandleStatus(ctx context.Context, event service.StatusEvent) error
	HandleInput(ctx context.Context, event service.InputEvent) (string, error)
}

type WebhookOptions struct {
	AuthToken string
	// PublicBaseURL is the origin the provider signed requests against.
	PublicBaseURL     string
	ValidateSignature bool
}

type WebhookHandler struct {
	service WebhookService
	logger  *zap.Logger
}

func RegisterWebhookRoutes(router fiber.Router, svc WebhookService, opts WebhookOptions, logger *zap.Logger) error {
	if svc == nil {
		return fmt.Errorf("webhook service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ValidateSignature && strings.TrimSpace(opts.AuthToken) == "" {
		return fmt.Errorf("auth token is required when signature validation is enabled")
	}

	h := &WebhookHandler{service: svc, logger: logger}

	handlers := []fiber.Handler{}
	if opts.ValidateSignature {
		handlers = append(handlers, signatureMiddleware(opts.AuthToken, strings.TrimRight(opts.PublicBaseURL, "/"), logger))
	}

	router.Post(service.StatusWebhookPath, append(handlers, h.Status)...)
	router.Post(service.InputWebhookPath, append(handlers, h.Input)...)

	return nil
}

// Status acknowledges every well-formed callback so the provider does not
// retry; processing failures are logged instead.
func (h *WebhookHandler) Status(c *fiber.Ctx) error {
	event := service.StatusEvent{
		CallID:       strings.TrimSpace(c.FormValue("CallSid")),
		AttemptID:    strings.TrimSpace(c.Query(service.AttemptIDParam)),
		Status:       strings.TrimSpace(c.FormValue("CallStatus")),
		RecordingURL: strings.TrimSpace(c.FormValue("RecordingUrl")),
	}
	if event.CallID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "CallSid is required")
	}

	ctx := observability.WithRequestID(c.UserContext(), requestID(c))
	if err := h.service.HandleStatus(ctx, event); err != nil {
		h.logger.Error("status callback failed",
			zap.String("providerCallId", event.CallID),
			zap.String("callStatus", event.Status),
			zap.Error(err),
		)
	}

	return c.SendStatus(fiber.StatusOK)
}

func (h *WebhookHandler) Input(c *fiber.Ctx) error {
	event := service.InputEvent{
		CallID:    strings.TrimSpace(c.FormValue("CallSid")),
		AttemptID: strings.TrimSpace(c.Query(service.AttemptIDParam)),
		Digits:    strings.TrimSpace(c.FormValue("Digits")),
		Speech:    strings.TrimSpace(c.FormValue("SpeechResult")),
	}
	if raw := strings.TrimSpace(c.FormValue("Confidence")); raw != "" {
		if confidence, err := strconv.ParseFloat(raw, 64); err == nil {
			event.Confidence = confidence
		}
	}

	c.Set(fiber.HeaderContentType, mimeTextXML)

	ctx := observability.WithRequestID(c.UserContext(), requestID(c))
	markup, err := h.service.HandleInput(ctx, event)
	if err != nil {
		h.logger.Error("input callback failed", zap.String("providerCallId", event.CallID), zap.Error(err))
		return c.Status(fiber.StatusOK).SendString(hangupMarkup)
	}

	return c.Status(fiber.StatusOK).SendString(markup)
}

func signatureMiddleware(authToken, baseURL string, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		params := url.Values{}
		c.Request().PostArgs().VisitAll(func(key, value []byte) {
			params.Add(string(key), string(value))
		})

		fullURL := baseURL + c.OriginalURL()
		if !provider.ValidTwilioSignature(authToken, fullURL, params, c.Get(signatureHeader)) {
			logger.Warn("rejected webhook with invalid signature", zap.String("path", c.Path()))
			return fiber.NewError(fiber.StatusForbidden, "invalid signature")
		}
		return c.Next()
	}
}
