package provider

import "context"

// Synthesizer turns text into playable audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Transcriber turns a hosted recording into text.
type Transcriber interface {
	TranscribeURL(ctx context.Context, recordingURL string) (string, error)
}
