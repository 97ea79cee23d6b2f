// Package assistant talks to OpenAI assistants: creating them, opening
// threads and running turns.
package assistant

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// API is the part of *openai.Client used by Client.
type API interface {
	CreateAssistant(ctx context.Context, request openai.AssistantRequest) (openai.Assistant, error)
	CreateThread(ctx context.Context, request openai.ThreadRequest) (openai.Thread, error)
	CreateMessage(ctx context.Context, threadID string, request openai.MessageRequest) (openai.Message, error)
	CreateRun(ctx context.Context, threadID string, request openai.RunRequest) (openai.Run, error)
	RetrieveRun(ctx context.Context, threadID string, runID string) (openai.Run, error)
	CancelRun(ctx context.Context, threadID string, runID string) (openai.Run, error)
	ListMessage(ctx context.Context, threadID string, limit *int, order *string, after *string, before *string, runID *string) (openai.MessagesList, error)
}

type Config struct {
	Model        string
	PollInterval time.Duration
}

type Client struct {
	api          API
	model        string
	pollInterval time.Duration
	logger       *zap.Logger
}

func NewClient(api API, cfg Config, logger *zap.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Client{
		api:          api,
		model:        cfg.Model,
		pollInterval: cfg.PollInterval,
		logger:       logger,
	}
}

// NewAssistant creates an assistant and returns its OpenAI id. Functions,
// when given, are exposed to the assistant as callable tools.
func (c *Client) NewAssistant(ctx context.Context, name, instructions string, functions ...openai.FunctionDefinition) (string, error) {
	req := openai.AssistantRequest{
		Model:        c.model,
		Name:         &name,
		Instructions: &instructions,
	}
	for i := range functions {
		req.Tools = append(req.Tools, openai.AssistantTool{
			Type:     openai.AssistantToolTypeFunction,
			Function: &functions[i],
		})
	}

	a, err := c.api.CreateAssistant(ctx, req)
	if err != nil {
		return "", fmt.Errorf("creating assistant %q: %w", name, err)
	}

	c.logger.Info("Created assistant",
		zap.String("assistant_id", a.ID),
		zap.String("name", name),
		zap.Int("tools", len(req.Tools)))
	return a.ID, nil
}

func (c *Client) NewThread(ctx context.Context) (string, error) {
	th, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("creating thread: %w", err)
	}
	return th.ID, nil
}

// Turn is one exchange on a thread. An empty Request runs the assistant
// without posting a new user message.
type Turn struct {
	ThreadID     string
	AssistantID  string
	Request      string
	Instructions string
}

// Respond posts the request, runs the assistant and returns its reply text.
func (c *Client) Respond(ctx context.Context, turn Turn) (string, error) {
	stream, err := c.start(ctx, turn)
	if err != nil {
		return "", err
	}
	res, err := Consume(ctx, stream, nil)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// RespondWithContext works like Respond but stops at the first function call:
// the run is cancelled and the call is returned in Result.Action.
func (c *Client) RespondWithContext(ctx context.Context, turn Turn) (Result, error) {
	stream, err := c.start(ctx, turn)
	if err != nil {
		return Result{}, err
	}
	return Consume(ctx, stream, func(ctx context.Context, runID string) error {
		return c.CancelRun(ctx, turn.ThreadID, runID)
	})
}

func (c *Client) CancelRun(ctx context.Context, threadID, runID string) error {
	if _, err := c.api.CancelRun(ctx, threadID, runID); err != nil {
		return err
	}
	c.logger.Debug("Cancelled run", zap.String("thread_id", threadID), zap.String("run_id", runID))
	return nil
}

func (c *Client) start(ctx context.Context, turn Turn) (RunStream, error) {
	if turn.Request != "" {
		_, err := c.api.CreateMessage(ctx, turn.ThreadID, openai.MessageRequest{
			Role:    openai.ChatMessageRoleUser,
			Content: turn.Request,
		})
		if err != nil {
			return nil, fmt.Errorf("posting message to thread %s: %w", turn.ThreadID, err)
		}
	}

	run, err := c.api.CreateRun(ctx, turn.ThreadID, openai.RunRequest{
		AssistantID:  turn.AssistantID,
		Instructions: turn.Instructions,
	})
	if err != nil {
		return nil, fmt.Errorf("starting run on thread %s: %w", turn.ThreadID, err)
	}

	return &pollStream{
		api:      c.api,
		threadID: turn.ThreadID,
		run:      run,
		interval: c.pollInterval,
	}, nil
}

// pollStream turns run status polling into a RunStream. A completed run
// yields one text delta per text block of its messages; a run waiting for
// tool outputs yields one action per tool call.
type pollStream struct {
	api      API
	threadID string
	run      openai.Run
	interval time.Duration

	polled  bool
	pending []Event
	done    bool
}

func (s *pollStream) Recv(ctx context.Context) (Event, error) {
	if len(s.pending) > 0 {
		ev := s.pending[0]
		s.pending = s.pending[1:]
		return ev, nil
	}
	if s.done {
		return Event{}, io.EOF
	}

	if s.polled {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-time.After(s.interval):
		}
		run, err := s.api.RetrieveRun(ctx, s.threadID, s.run.ID)
		if err != nil {
			return Event{}, fmt.Errorf("retrieving run %s: %w", s.run.ID, err)
		}
		s.run = run
	}
	s.polled = true

	switch s.run.Status {
	case openai.RunStatusCompleted:
		s.done = true
		if err := s.collectMessages(ctx); err != nil {
			return Event{}, err
		}
		return s.Recv(ctx)

	case openai.RunStatusRequiresAction:
		s.done = true
		if ra := s.run.RequiredAction; ra != nil && ra.SubmitToolOutputs != nil {
			for _, call := range ra.SubmitToolOutputs.ToolCalls {
				s.pending = append(s.pending, Event{
					Kind: KindActionRequired,
					Action: &Action{
						RunID:      s.run.ID,
						ToolCallID: call.ID,
						Name:       call.Function.Name,
						Arguments:  call.Function.Arguments,
					},
				})
			}
		}
		return s.Recv(ctx)

	case openai.RunStatusFailed, openai.RunStatusExpired, openai.RunStatusCancelled:
		s.done = true
		msg := string(s.run.Status)
		if s.run.LastError != nil {
			msg = fmt.Sprintf("%s: %s", s.run.LastError.Code, s.run.LastError.Message)
		}
		return Event{}, fmt.Errorf("run %s: %s: %w", s.run.ID, msg, ErrRunFailed)

	default:
		return Event{Kind: KindOther}, nil
	}
}

func (s *pollStream) collectMessages(ctx context.Context) error {
	order := "asc"
	runID := s.run.ID
	list, err := s.api.ListMessage(ctx, s.threadID, nil, &order, nil, nil, &runID)
	if err != nil {
		return fmt.Errorf("listing messages of run %s: %w", s.run.ID, err)
	}

	for _, msg := range list.Messages {
		if msg.Role != openai.ChatMessageRoleAssistant {
			continue
		}
		for _, part := range msg.Content {
			if part.Text == nil || part.Text.Value == "" {
				continue
			}
			s.pending = append(s.pending, Event{Kind: KindTextDelta, Delta: part.Text.Value})
		}
	}
	return nil
}
