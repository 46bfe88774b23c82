package domain

import (
	"regexp"
	"strings"
)

// Classification is the interpreted meaning of a patient's answer.
type Classification string

const (
	ClassificationAffirmative Classification = "affirmative"
	ClassificationNegative    Classification = "negative"
	ClassificationUnclear     Classification = "unclear"
)

func (c Classification) String() string { return string(c) }

var (
	negationPattern    = regexp.MustCompile(`(?i)have not|haven't`)
	affirmativePattern = regexp.MustCompile(`(?i)yes|have taken|i have`)
	negativePattern    = regexp.MustCompile(`(?i)no`)
)

// Classify interprets keypad digits, or speech when no digits were pressed.
// Explicit negations win over "i have" so "no I haven't" reads as negative.
func Classify(digits, speech string) Classification {
	input := strings.TrimSpace(digits)
	if input == "" {
		input = strings.TrimSpace(speech)
	}

	switch {
	case input == "":
		return ClassificationUnclear
	case input == "1":
		return ClassificationAffirmative
	case input == "2":
		return ClassificationNegative
	case negationPattern.MatchString(input):
		return ClassificationNegative
	case affirmativePattern.MatchString(input):
		return ClassificationAffirmative
	case negativePattern.MatchString(input):
		return ClassificationNegative
	default:
		return ClassificationUnclear
	}
}

// RawInput returns the text recorded for a caller answer.
func RawInput(digits, speech string) string {
	if d := strings.TrimSpace(digits); d != "" {
		return d
	}
	return strings.TrimSpace(speech)
}
