package namegen

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Func returns a file name ending in suffix.
type Func func(suffix string) string

// Generator builds file names for audio buffers sent to OpenAI.
// It is not safe for concurrent use; create one per update.
type Generator struct {
	userID    int64
	timestamp string
	salt      string
	seq       uint64
}

func New(userID int64) *Generator {
	now := time.Now()
	return &Generator{
		userID:    userID,
		timestamp: fmt.Sprintf("%d_%06d", now.Unix(), now.Nanosecond()/1000),
		salt:      strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
	}
}

// Next returns a name that differs from every earlier result of g.
func (g *Generator) Next(suffix string) string {
	g.seq++
	return fmt.Sprintf("%d_%d_%s_%s%s", g.userID, g.seq, g.timestamp, g.salt, suffix)
}

// Func exposes Next as a Func.
func (g *Generator) Func() Func {
	return g.Next
}
