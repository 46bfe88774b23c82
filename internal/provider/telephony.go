package provider

import (
	"context"

	"github.com/kursadbilgin/reminder-engine/internal/twiml"
)

// Telephony is the outbound calling and messaging port used by the orchestrator.
type Telephony interface {
	PlaceCall(ctx context.Context, req CallRequest) (string, error)
	SendSMS(ctx context.Context, to string, body string) (string, error)
	// DeliverVoicemail places a short call that plays audioURL to whoever
	// (or whatever) answers and hangs up. It is not correlated to an attempt.
	DeliverVoicemail(ctx context.Context, to string, audioURL string) (string, error)
}

type CallRequest struct {
	To                string
	InitialAudioURL   string
	PromptAudioURL    string
	FallbackAudioURL  string
	StatusCallbackURL string
	InputCallbackURL  string
}

const speechHints = "yes, no, I have, I have not"

// CallScript is the interactive script for a reminder call: play the
// personalised reminder, gather one digit or a spoken answer, and play the
// fallback prompt if nothing was gathered.
func CallScript(req CallRequest) *twiml.Response {
	return twiml.NewResponse(
		&twiml.Play{URL: req.InitialAudioURL},
		&twiml.Gather{
			Input:         "dtmf speech",
			Action:        req.InputCallbackURL,
			Method:        "POST",
			NumDigits:     1,
			SpeechTimeout: "auto",
			SpeechModel:   "phone_call",
			Hints:         speechHints,
			Nouns:         []twiml.GatherNoun{&twiml.Play{URL: req.PromptAudioURL}},
		},
		&twiml.Play{URL: req.FallbackAudioURL},
	)
}

func VoicemailScript(audioURL string) *twiml.Response {
	return twiml.NewResponse(
		&twiml.Play{URL: audioURL},
		&twiml.Hangup{},
	)
}
