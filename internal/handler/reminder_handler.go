package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/reminder-engine/internal/domain"
	"github.com/kursadbilgin/reminder-engine/internal/observability"
	"github.com/kursadbilgin/reminder-engine/internal/repository"
	"github.com/kursadbilgin/reminder-engine/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type ReminderService interface {
	StartReminder(ctx context.Context, in service.StartReminderInput) (*domain.Attempt, error)
	GetAttempt(ctx context.Context, id string) (*domain.Attempt, error)
	ListAttempts(ctx context.Context, params repository.ListParams) ([]domain.Attempt, int64, error)
}

type ReminderHandler struct {
	service ReminderService
}

func NewReminderHandler(service ReminderService) (*ReminderHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("reminder service is required")
	}
	return &ReminderHandler{service: service}, nil
}

func RegisterReminderRoutes(router fiber.Router, service ReminderService) error {
	h, err := NewReminderHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/reminders", h.StartReminder)
	v1.Get("/reminders/:id", h.GetAttempt)
	v1.Get("/reminders", h.ListAttempts)

	return nil
}

type startReminderRequest struct {
	PatientID      string `json:"patientId"`
	PrescriptionID string `json:"prescriptionId"`
}

type transcriptEntryResponse struct {
	Source         string    `json:"source"`
	Text           string    `json:"text"`
	Classification string    `json:"classification,omitempty"`
	RecordedAt     time.Time `json:"recordedAt"`
}

type attemptResponse struct {
	ID             string                    `json:"id"`
	PatientID      string                    `json:"patientId"`
	PrescriptionID string                    `json:"prescriptionId"`
	State          string                    `json:"state"`
	ProviderCallID *string                   `json:"providerCallId,omitempty"`
	RecordingURL   *string                   `json:"recordingUrl,omitempty"`
	SMSMessageID   *string                   `json:"smsMessageId,omitempty"`
	LastError      *string                   `json:"lastError,omitempty"`
	Transcript     []transcriptEntryResponse `json:"transcript"`
	CreatedAt      time.Time                 `json:"createdAt"`
	UpdatedAt      time.Time                 `json:"updatedAt"`
}

type placementFailedResponse struct {
	Error   string          `json:"error"`
	Attempt attemptResponse `json:"attempt"`
}

type listAttemptsResponse struct {
	Data []attemptResponse `json:"data"`
	Meta listMeta          `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

// StartReminder creates an attempt and places the call. When placement fails
// the attempt has already fallen back to SMS, so it is returned with a 502.
func (h *ReminderHandler) StartReminder(c *fiber.Ctx) error {
	var req startReminderRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	ctx := observability.WithRequestID(c.UserContext(), requestID(c))
	attempt, err := h.service.StartReminder(ctx, service.StartReminderInput{
		PatientID:      strings.TrimSpace(req.PatientID),
		PrescriptionID: strings.TrimSpace(req.PrescriptionID),
	})
	if err != nil {
		if errors.Is(err, domain.ErrCallPlacement) && attempt != nil {
			return c.Status(fiber.StatusBadGateway).JSON(placementFailedResponse{
				Error:   err.Error(),
				Attempt: toAttemptResponse(attempt),
			})
		}
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toAttemptResponse(attempt))
}

func (h *ReminderHandler) GetAttempt(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	attempt, err := h.service.GetAttempt(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toAttemptResponse(attempt))
}

func (h *ReminderHandler) ListAttempts(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	attempts, total, err := h.service.ListAttempts(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]attemptResponse, 0, len(attempts))
	for i := range attempts {
		data = append(data, toAttemptResponse(&attempts[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listAttemptsResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		PatientID:      strings.TrimSpace(c.Query("patientId")),
		PrescriptionID: strings.TrimSpace(c.Query("prescriptionId")),
		Page:           c.QueryInt("page", defaultPage),
		PageSize:       c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawState := strings.TrimSpace(c.Query("state")); rawState != "" {
		state, err := domain.ParseAttemptStateFromString(rawState)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.State = &state
	}

	return params, nil
}

func toAttemptResponse(a *domain.Attempt) attemptResponse {
	if a == nil {
		return attemptResponse{}
	}

	transcript := make([]transcriptEntryResponse, 0, len(a.Transcript))
	for _, entry := range a.Transcript {
		transcript = append(transcript, transcriptEntryResponse{
			Source:         string(entry.Source),
			Text:           entry.Text,
			Classification: string(entry.Classification),
			RecordedAt:     entry.RecordedAt,
		})
	}

	return attemptResponse{
		ID:             a.ID,
		PatientID:      a.PatientID,
		PrescriptionID: a.PrescriptionID,
		State:          a.State.String(),
		ProviderCallID: a.ProviderCallID,
		RecordingURL:   a.RecordingURL,
		SMSMessageID:   a.SMSMessageID,
		LastError:      a.LastError,
		Transcript:     transcript,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}
