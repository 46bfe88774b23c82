package domain

import (
	"fmt"
	"strings"
)

// MedicationPhrase renders drug names as a spoken list: "A", "A, and B", "A, B, and C".
func MedicationPhrase(drugs []string) string {
	switch len(drugs) {
	case 0:
		return ""
	case 1:
		return drugs[0]
	}

	var b strings.Builder
	for i, drug := range drugs {
		if i == len(drugs)-1 {
			b.WriteString("and ")
			b.WriteString(drug)
			break
		}
		b.WriteString(drug)
		b.WriteString(", ")
	}
	return b.String()
}

func InitialReminderMessage(patientName string, drugs []string) string {
	return fmt.Sprintf(
		"Hello %s, this is a reminder from your healthcare provider to confirm your medications for the day. Please confirm if you have taken your %s today.",
		patientName, MedicationPhrase(drugs),
	)
}

// FallbackReminderMessage is used for both the voicemail drop and the SMS.
func FallbackReminderMessage(drugs []string) string {
	return fmt.Sprintf(
		"We called to check on your medication but couldn't reach you. Please call us back or take your %s if you haven't done so.",
		MedicationPhrase(drugs),
	)
}

const UnknownCallGoodbye = "Thank you for your response. Goodbye."
