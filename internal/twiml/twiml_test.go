package twiml

import (
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateCallScript(t *testing.T) {
	t.Parallel()

	resp := NewResponse(
		&Play{URL: "https://example.com/audio/a.wav"},
		&Gather{
			Input:         "dtmf speech",
			Action:        "https://example.com/webhooks/receive",
			Method:        "POST",
			NumDigits:     1,
			SpeechTimeout: "auto",
			SpeechModel:   "phone_call",
			Hints:         "yes, no, I have, I have not",
			Nouns:         []GatherNoun{&Play{URL: "https://example.com/prompts/prompt.mp3"}},
		},
		&Play{URL: "https://example.com/prompts/text-fallback.mp3"},
	)

	out, err := resp.Generate()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, xml.Header))
	require.Contains(t, out, `<Play>https://example.com/audio/a.wav</Play>`)
	require.Contains(t, out, `<Gather input="dtmf speech" action="https://example.com/webhooks/receive" method="POST" numDigits="1" speechTimeout="auto" speechModel="phone_call" hints="yes, no, I have, I have not"><Play>https://example.com/prompts/prompt.mp3</Play></Gather>`)
	require.True(t, strings.HasSuffix(out, `<Play>https://example.com/prompts/text-fallback.mp3</Play></Response>`))
}

func TestGenerateSayAndHangup(t *testing.T) {
	t.Parallel()

	out, err := NewResponse(&Say{Voice: "alice", Text: "Thank you & goodbye."}, &Hangup{}).Generate()
	require.NoError(t, err)
	require.Contains(t, out, `<Say voice="alice">Thank you &amp; goodbye.</Say><Hangup></Hangup>`)
}

func TestPlayURLIsEscaped(t *testing.T) {
	t.Parallel()

	out, err := NewResponse(&Play{URL: "https://example.com/a.wav?x=1&y=2"}).Generate()
	require.NoError(t, err)
	require.Contains(t, out, "x=1&amp;y=2")
}

func TestValidateRejectsBadVerbs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		resp *Response
	}{
		{name: "empty play", resp: NewResponse(&Play{})},
		{name: "empty say", resp: NewResponse(&Say{Text: " "})},
		{name: "bad gather method", resp: NewResponse(&Gather{Method: "PUT"})},
		{name: "bad gather input", resp: NewResponse(&Gather{Input: "dtmf video"})},
		{name: "bad nested play", resp: NewResponse(&Gather{Nouns: []GatherNoun{&Play{}}})},
		{name: "nil verb", resp: NewResponse(Verb(nil))},
	}

	for _, tt := range tests {
		tt := tt
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := tt.resp.Generate()
			require.Error(t, err)
		})
	}
}

func TestAppend(t *testing.T) {
	t.Parallel()

	resp := NewResponse(&Play{URL: "https://example.com/a.wav"}).Append(&Pause{Length: 1}, &Hangup{})
	require.Len(t, resp.Verbs, 3)

	out, err := resp.Generate()
	require.NoError(t, err)
	require.Contains(t, out, `<Pause length="1"></Pause><Hangup></Hangup>`)
}
