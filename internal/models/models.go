package models

import (
	"fmt"
	"strings"
)

// Temperament is one of the four classic temperament types.
type Temperament string

const (
	Phlegmatic  Temperament = "Phlegmatic"
	Sanguine    Temperament = "Sanguine"
	Melancholic Temperament = "Melancholic"
	Choleric    Temperament = "Choleric"
)

// Temperaments lists every accepted temperament in a stable order.
var Temperaments = []Temperament{Phlegmatic, Sanguine, Melancholic, Choleric}

// ParseTemperament matches s against the known temperaments, ignoring case and
// surrounding whitespace.
func ParseTemperament(s string) (Temperament, error) {
	s = strings.TrimSpace(s)
	for _, t := range Temperaments {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown temperament %q", s)
}

// Assistant is a named reference to an OpenAI-hosted assistant.
type Assistant struct {
	OpenAIID string `json:"openai_id"`
	Name     string `json:"name"`
}

// Mental is the profile extracted by the interview flow.
type Mental struct {
	Temperament Temperament `json:"temperament"`
	Profession  string      `json:"profession"`
}

// User is a snapshot of a bot user with everything loaded for it.
// Mental is nil until the user completes the interview.
type User struct {
	ID         int64       `json:"id"`
	TgID       int64       `json:"tg_id"`
	Assistants []Assistant `json:"assistants"`
	Mental     *Mental     `json:"mental,omitempty"`
}

// HasAssistant reports whether openaiID belongs to one of the user's assistants.
func (u User) HasAssistant(openaiID string) bool {
	for _, a := range u.Assistants {
		if a.OpenAIID == openaiID {
			return true
		}
	}
	return false
}
