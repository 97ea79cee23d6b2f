package bot

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/xaenox/voice-bot/internal/models"
)

const defaultInstructions = "Be friendly and positive"

const (
	interviewerName = "Mental interviewer"

	interviewerInstructions = `You interview the user to learn two things about them:
their temperament (Phlegmatic, Sanguine, Melancholic or Choleric) and their profession.

Ask one short question at a time. Do not name the temperament types in your questions;
infer the temperament from how the user describes their habits and reactions.
As soon as you are confident about both, call save_mental_profile.`

	// mentalFormatRule is what the confirmer checks extracted arguments against.
	mentalFormatRule = `A JSON object with exactly two fields: "temperament", which is one of ` +
		`Phlegmatic, Sanguine, Melancholic, Choleric; and "profession", a non-empty job title or occupation.`

	saveMentalFunctionName = "save_mental_profile"
)

var saveMentalFunction = openai.FunctionDefinition{
	Name:        saveMentalFunctionName,
	Description: "Save the temperament and profession learned from the interview.",
	Parameters: jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"temperament": {
				Type:        jsonschema.String,
				Description: "The user's temperament.",
				Enum:        temperamentNames(),
			},
			"profession": {
				Type:        jsonschema.String,
				Description: "The user's profession.",
			},
		},
		Required: []string{"temperament", "profession"},
	},
}

func temperamentNames() []string {
	names := make([]string, len(models.Temperaments))
	for i, t := range models.Temperaments {
		names[i] = string(t)
	}
	return names
}

type mentalPayload struct {
	Temperament string `json:"temperament"`
	Profession  string `json:"profession"`
}

// parseMental decodes save_mental_profile arguments into a profile.
func parseMental(arguments string) (models.Mental, error) {
	var p mentalPayload
	if err := json.Unmarshal([]byte(arguments), &p); err != nil {
		return models.Mental{}, fmt.Errorf("decoding profile: %w", err)
	}

	temperament, err := models.ParseTemperament(p.Temperament)
	if err != nil {
		return models.Mental{}, err
	}

	profession := strings.TrimSpace(p.Profession)
	if profession == "" {
		return models.Mental{}, errors.New("profession is empty")
	}

	return models.Mental{Temperament: temperament, Profession: profession}, nil
}

func renderProfile(m models.Mental) string {
	return fmt.Sprintf("*Your profile*\n\nTemperament: %s\nProfession: %s",
		escapeMarkdown(string(m.Temperament)),
		escapeMarkdown(m.Profession))
}
