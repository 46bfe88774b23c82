package audio

import (
	"net/url"
	"strings"

	"github.com/kursadbilgin/reminder-engine/internal/domain"
)

// Static prompts recorded ahead of time and served from the prompt directory.
const (
	PresetPrompt       = "prompt.mp3"
	PresetTextFallback = "text-fallback.mp3"
	PresetPositive     = "positive.mp3"
	PresetNegative     = "negative.mp3"
	// PresetUnclear acknowledges the call and says the healthcare provider
	// has been notified.
	PresetUnclear = "unclear.mp3"
	// PresetError is played when the answer could not be stored.
	PresetError = "error.mp3"
)

const (
	GeneratedPathPrefix = "/audio"
	PresetPathPrefix    = "/prompts"
)

func Presets() []string {
	return []string{PresetPrompt, PresetTextFallback, PresetPositive, PresetNegative, PresetUnclear, PresetError}
}

// PresetForClassification picks the reply played after the caller answers.
func PresetForClassification(c domain.Classification) string {
	switch c {
	case domain.ClassificationAffirmative:
		return PresetPositive
	case domain.ClassificationNegative:
		return PresetNegative
	default:
		return PresetUnclear
	}
}

// PresetURL is the public URL of a static prompt.
func PresetURL(publicBaseURL, name string) string {
	return joinURL(publicBaseURL, PresetPathPrefix, name)
}

func generatedURL(publicBaseURL, name string) string {
	return joinURL(publicBaseURL, GeneratedPathPrefix, name)
}

func joinURL(base, prefix, name string) string {
	return strings.TrimRight(base, "/") + prefix + "/" + url.PathEscape(name)
}
