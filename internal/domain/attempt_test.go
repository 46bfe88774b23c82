package domain

import (
	"errors"
	"testing"
	"time"
)

var allStates = []AttemptState{StatePending, StateAnswered, StateVoicemail, StateSMSSent, StateFailed}

func TestParseAttemptStateFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    AttemptState
		wantErr bool
	}{
		{name: "valid uppercase", input: "ANSWERED", want: StateAnswered},
		{name: "valid lowercase with spaces", input: " sms_sent ", want: StateSMSSent},
		{name: "invalid", input: "ringing", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseAttemptStateFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseAttemptStateFromString() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAttemptStateFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseAttemptStateFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAttemptStateTransitionGraph(t *testing.T) {
	t.Parallel()

	allowed := map[[2]AttemptState]bool{
		{StatePending, StateAnswered}:  true,
		{StatePending, StateVoicemail}: true,
		{StatePending, StateFailed}:    true,
		{StateVoicemail, StateSMSSent}: true,
		{StateVoicemail, StateFailed}:  true,
		{StateFailed, StateSMSSent}:    true,
	}

	for _, from := range allStates {
		for _, to := range allStates {
			want := allowed[[2]AttemptState{from, to}]
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestAttemptStateIsFinal(t *testing.T) {
	t.Parallel()

	final := map[AttemptState]bool{StateAnswered: true, StateSMSSent: true}
	for _, s := range allStates {
		if got := s.IsFinal(); got != final[s] {
			t.Errorf("%s.IsFinal() = %v, want %v", s, got, final[s])
		}
	}
}

func TestAttemptTransitionTo(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC)
	later := created.Add(time.Minute)

	a := NewAttempt("a-1", "p-1", "rx-1", created)
	if a.State != StatePending {
		t.Fatalf("new attempt state = %s, want PENDING", a.State)
	}

	if err := a.TransitionTo(StateVoicemail, later); err != nil {
		t.Fatalf("TransitionTo(VOICEMAIL) error = %v", err)
	}
	if !a.UpdatedAt.Equal(later) {
		t.Fatalf("UpdatedAt = %v, want %v", a.UpdatedAt, later)
	}

	err := a.TransitionTo(StateAnswered, later)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("TransitionTo(ANSWERED) error = %v, want ErrInvalidTransition", err)
	}
	if a.State != StateVoicemail {
		t.Fatalf("state after rejected transition = %s, want VOICEMAIL", a.State)
	}

	if err := a.TransitionTo(StateSMSSent, later); err != nil {
		t.Fatalf("TransitionTo(SMS_SENT) error = %v", err)
	}
	if err := a.TransitionTo(StateSMSSent, later); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("repeated TransitionTo(SMS_SENT) error = %v, want ErrInvalidTransition", err)
	}
}

func TestAttemptAttachRecording(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	a := NewAttempt("a-1", "p-1", "rx-1", now)

	if a.AttachRecording("   ", now) {
		t.Fatal("blank url should not be attached")
	}
	if !a.AttachRecording("https://rec/1", now) {
		t.Fatal("first url should be attached")
	}
	if a.AttachRecording("https://rec/2", now) {
		t.Fatal("second url should be ignored")
	}
	if got := *a.RecordingURL; got != "https://rec/1" {
		t.Fatalf("RecordingURL = %q, want first url", got)
	}
}

func TestAttemptValidate(t *testing.T) {
	t.Parallel()

	base := *NewAttempt("a-1", "p-1", "rx-1", time.Now())

	tests := []struct {
		name    string
		mutate  func(*Attempt)
		wantErr bool
	}{
		{name: "valid", mutate: func(a *Attempt) {}},
		{name: "missing id", mutate: func(a *Attempt) { a.ID = " " }, wantErr: true},
		{name: "missing patient", mutate: func(a *Attempt) { a.PatientID = "" }, wantErr: true},
		{name: "missing prescription", mutate: func(a *Attempt) { a.PrescriptionID = "" }, wantErr: true},
		{name: "bad state", mutate: func(a *Attempt) { a.State = "DONE" }, wantErr: true},
	}

		tt := tt
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			current := base
			tt.mutate(&current)
			err := current.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestAttemptCloneIsDeep(t *testing.T) {
	t.Parallel()

	now := time.Now()
	a := NewAttempt("a-1", "p-1", "rx-1", now)
	callID := "CA1"
	a.ProviderCallID = &callID
	a.AppendTranscript(TranscriptEntry{Source: TranscriptSourcePatient, Text: "yes"}, now)

	c := a.Clone()
	*c.ProviderCallID = "CA2"
	c.Transcript[0].Text = "no"

	if a.CallID() != "CA1" {
		t.Fatalf("original call id mutated to %q", a.CallID())
	}
	if a.Transcript[0].Text != "yes" {
		t.Fatalf("original transcript mutated to %q", a.Transcript[0].Text)
	}
}

func TestAttemptBindProviderCallID(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	a := NewAttempt("a-1", "p-1", "rx-1", now)

	if _, err := a.BindProviderCallID("  ", now); !errors.Is(err, ErrValidation) {
		t.Fatalf("BindProviderCallID(blank) error = %v, want ErrValidation", err)
	}

	bound, err := a.BindProviderCallID("CA1", now)
	if err != nil || !bound {
		t.Fatalf("first BindProviderCallID() = (%v, %v), want (true, nil)", bound, err)
	}
	bound, err = a.BindProviderCallID("CA1", now)
	if err != nil || bound {
		t.Fatalf("repeated BindProviderCallID() = (%v, %v), want (false, nil)", bound, err)
	}
	if _, err := a.BindProviderCallID("CA2", now); !errors.Is(err, ErrConflict) {
		t.Fatalf("BindProviderCallID(other) error = %v, want ErrConflict", err)
	}
	if a.CallID() != "CA1" {
		t.Fatalf("CallID() = %q, want CA1", a.CallID())
	}
}

func TestAttemptLastPatientEntry(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	a := NewAttempt("a-1", "p-1", "rx-1", now)

	if _, ok := a.LastPatientEntry(); ok {
		t.Fatal("empty transcript should have no patient entry")
	}

	a.AppendTranscript(TranscriptEntry{Source: TranscriptSourcePatient, Text: "yes", Classification: ClassificationAffirmative}, now)
	a.AppendTranscript(TranscriptEntry{Source: TranscriptSourceRecording, Text: "https://rec/1"}, now)

	got, ok := a.LastPatientEntry()
	if !ok || got.Text != "yes" {
		t.Fatalf("LastPatientEntry() = (%+v, %v), want the patient answer", got, ok)
	}
}
