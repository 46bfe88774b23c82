package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/reminder-engine/internal/domain"
)

// AttemptEvent is the broker payload emitted after every attempt state change.
type AttemptEvent struct {
	AttemptID      string              `json:"attemptId"`
	PatientID      string              `json:"patientId"`
	PrescriptionID string              `json:"prescriptionId"`
	ProviderCallID string              `json:"providerCallId,omitempty"`
	State          domain.AttemptState `json:"state"`
	// PreviousState is empty for the event announcing a new attempt.
	PreviousState domain.AttemptState `json:"previousState,omitempty"`
	OccurredAt    time.Time           `json:"occurredAt"`
}

func NewAttemptEvent(a *domain.Attempt, previous domain.AttemptState) AttemptEvent {
	return AttemptEvent{
		AttemptID:      a.ID,
		PatientID:      a.PatientID,
		PrescriptionID: a.PrescriptionID,
		ProviderCallID: a.CallID(),
		State:          a.State,
		PreviousState:  previous,
		OccurredAt:     a.UpdatedAt.UTC(),
	}
}

func (e AttemptEvent) Validate() error {
	if strings.TrimSpace(e.AttemptID) == "" {
		return fmt.Errorf("attemptId is required")
	}
	if !e.State.IsValid() {
		return fmt.Errorf("invalid state %q", e.State)
	}
	if e.PreviousState != "" && !e.PreviousState.IsValid() {
		return fmt.Errorf("invalid previous state %q", e.PreviousState)
	}
	return nil
}
