package domain

import (
	"fmt"
	"strings"
	"time"
)

// AttemptState is the delivery state of a single reminder attempt.
type AttemptState string

const (
	StatePending   AttemptState = "PENDING"
	StateAnswered  AttemptState = "ANSWERED"
	StateVoicemail AttemptState = "VOICEMAIL"
	StateSMSSent   AttemptState = "SMS_SENT"
	StateFailed    AttemptState = "FAILED"
)

func (s AttemptState) String() string { return string(s) }

func (s AttemptState) IsValid() bool {
	switch s {
	case StatePending, StateAnswered, StateVoicemail, StateSMSSent, StateFailed:
		return true
	}
	return false
}

func ParseAttemptStateFromString(s string) (AttemptState, error) {
	st := AttemptState(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid attempt state %q", ErrValidation, s)
	}
	return st, nil
}

// transitions is the complete forward graph; anything absent is rejected.
var transitions = map[AttemptState][]AttemptState{
	StatePending:   {StateAnswered, StateVoicemail, StateFailed},
	StateVoicemail: {StateSMSSent, StateFailed},
	StateFailed:    {StateSMSSent},
}

func (s AttemptState) CanTransitionTo(next AttemptState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsFinal reports whether no further transition can leave s.
func (s AttemptState) IsFinal() bool {
	return len(transitions[s]) == 0
}

// Attempt is one try at delivering a medication reminder to a patient.
type Attempt struct {
	ID             string
	PatientID      string
	PrescriptionID string
	State          AttemptState
	ProviderCallID *string
	RecordingURL   *string
	Transcript     []TranscriptEntry
	SMSMessageID   *string
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func NewAttempt(id, patientID, prescriptionID string, now time.Time) *Attempt {
	return &Attempt{
		ID:             id,
		PatientID:      patientID,
		PrescriptionID: prescriptionID,
		State:          StatePending,
		Transcript:     []TranscriptEntry{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (a *Attempt) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("%w: attempt id is required", ErrValidation)
	}
	if strings.TrimSpace(a.PatientID) == "" {
		return fmt.Errorf("%w: patient id is required", ErrValidation)
	}
	if strings.TrimSpace(a.PrescriptionID) == "" {
		return fmt.Errorf("%w: prescription id is required", ErrValidation)
	}
	if !a.State.IsValid() {
		return fmt.Errorf("%w: invalid attempt state %q", ErrValidation, a.State)
	}
	return nil
}

// TransitionTo moves the attempt along the transition graph.
func (a *Attempt) TransitionTo(next AttemptState, now time.Time) error {
	if !a.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.State, next)
	}
	a.State = next
	a.UpdatedAt = now
	return nil
}

// AttachRecording stores url unless a recording is already known.
// It reports whether the attempt changed.
func (a *Attempt) AttachRecording(url string, now time.Time) bool {
	url = strings.TrimSpace(url)
	if url == "" || a.RecordingURL != nil {
		return false
	}
	a.RecordingURL = &url
	a.UpdatedAt = now
	return true
}

func (a *Attempt) AppendTranscript(entry TranscriptEntry, now time.Time) {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = now
	}
	a.Transcript = append(a.Transcript, entry)
	a.UpdatedAt = now
}

func (a *Attempt) RecordError(err error, now time.Time) {
	if err == nil {
		return
	}
	msg := err.Error()
	a.LastError = &msg
	a.UpdatedAt = now
}

// BindProviderCallID sets the correlation token once. Binding the same token
// again is a no-op; a different token is a conflict.
func (a *Attempt) BindProviderCallID(callID string, now time.Time) (bool, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return false, fmt.Errorf("%w: provider call id is required", ErrValidation)
	}
	if a.ProviderCallID != nil {
		if *a.ProviderCallID == callID {
			return false, nil
		}
		return false, fmt.Errorf("%w: attempt %s already bound to call %s", ErrConflict, a.ID, *a.ProviderCallID)
	}
	a.ProviderCallID = &callID
	a.UpdatedAt = now
	return true, nil
}

// LastPatientEntry returns the most recent transcript line produced by the
// caller, if any.
func (a *Attempt) LastPatientEntry() (TranscriptEntry, bool) {
	for i := len(a.Transcript) - 1; i >= 0; i-- {
		if a.Transcript[i].Source == TranscriptSourcePatient {
			return a.Transcript[i], true
		}
	}
	return TranscriptEntry{}, false
}

func (a *Attempt) CallID() string {
	if a.ProviderCallID == nil {
		return ""
	}
	return *a.ProviderCallID
}

// Clone returns a deep copy safe to hand across goroutines.
func (a *Attempt) Clone() *Attempt {
	if a == nil {
		return nil
	}
	c := *a
	c.ProviderCallID = cloneString(a.ProviderCallID)
	c.RecordingURL = cloneString(a.RecordingURL)
	c.SMSMessageID = cloneString(a.SMSMessageID)
	c.LastError = cloneString(a.LastError)
	c.Transcript = append([]TranscriptEntry(nil), a.Transcript...)
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

// TranscriptSource tells who produced a transcript line.
type TranscriptSource string

const (
	TranscriptSourcePatient   TranscriptSource = "patient"
	TranscriptSourceRecording TranscriptSource = "recording"
)

type TranscriptEntry struct {
	Source         TranscriptSource `json:"source"`
	Text           string           `json:"text"`
	Classification Classification   `json:"classification,omitempty"`
	RecordedAt     time.Time        `json:"recordedAt"`
}
