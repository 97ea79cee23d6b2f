package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoVerdict is returned when the model answer holds no usable verdict.
var ErrNoVerdict = errors.New("classifier returned no verdict")

// Confirmer decides whether text follows a format described in plain words.
type Confirmer interface {
	Confirm(ctx context.Context, text, rule string) (bool, error)
}

type verdict struct {
	Confirmed *bool `json:"confirmed"`
}

// parseVerdict reads {"confirmed": bool}, tolerating a Markdown code fence
// around the JSON.
func parseVerdict(raw string) (bool, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	if s == "" {
		return false, ErrNoVerdict
	}

	var v verdict
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return false, fmt.Errorf("%w: %v (raw: %s)", ErrNoVerdict, err, raw)
	}
	if v.Confirmed == nil {
		return false, fmt.Errorf("%w: missing \"confirmed\" (raw: %s)", ErrNoVerdict, raw)
	}
	return *v.Confirmed, nil
}
