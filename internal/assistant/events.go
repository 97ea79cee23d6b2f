package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrNoResult is returned when a run finishes without the structured
	// result the caller asked for.
	ErrNoResult = errors.New("run produced no structured result")
	// ErrRunFailed is returned when a run ends in failed, expired or cancelled.
	ErrRunFailed = errors.New("run failed")
)

type Kind int

const (
	KindOther Kind = iota
	KindTextDelta
	KindActionRequired
)

func (k Kind) String() string {
	switch k {
	case KindTextDelta:
		return "text_delta"
	case KindActionRequired:
		return "action_required"
	default:
		return "other"
	}
}

// Action is a function call the assistant wants the bot to perform.
type Action struct {
	RunID      string
	ToolCallID string
	Name       string
	Arguments  string
}

type Event struct {
	Kind   Kind
	Delta  string
	Action *Action
}

// RunStream yields the events of one run. Recv returns io.EOF after the last
// event.
type RunStream interface {
	Recv(ctx context.Context) (Event, error)
}

// CancelFunc cancels the run an action was raised by.
type CancelFunc func(ctx context.Context, runID string) error

type Result struct {
	Text   string
	Action *Action
}

// Consume reads stream to the end, joining text deltas. When cancel is not
// nil the first action-required event cancels its run and ends consumption;
// otherwise actions are recorded and reading continues.
func Consume(ctx context.Context, stream RunStream, cancel CancelFunc) (Result, error) {
	var (
		text strings.Builder
		res  Result
	)

	for {
		ev, err := stream.Recv(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, err
		}

		switch ev.Kind {
		case KindTextDelta:
			text.WriteString(ev.Delta)
		case KindActionRequired:
			if ev.Action == nil {
				continue
			}
			if res.Action == nil {
				res.Action = ev.Action
			}
			if cancel != nil {
				if err := cancel(ctx, ev.Action.RunID); err != nil {
					return Result{}, fmt.Errorf("cancelling run %s: %w", ev.Action.RunID, err)
				}
				res.Text = text.String()
				return res, nil
			}
		}
	}

	res.Text = text.String()
	return res, nil
}
