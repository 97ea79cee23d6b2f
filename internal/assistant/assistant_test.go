package assistant

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap/zaptest"
)

// sliceStream replays fixed events.
type sliceStream struct {
	events []Event
	err    error
	reads  int
}

func (s *sliceStream) Recv(ctx context.Context) (Event, error) {
	if s.reads < len(s.events) {
		ev := s.events[s.reads]
		s.reads++
		return ev, nil
	}
	if s.err != nil {
		return Event{}, s.err
	}
	return Event{}, io.EOF
}

func TestConsumeJoinsDeltas(t *testing.T) {
	stream := &sliceStream{events: []Event{
		{Kind: KindOther},
		{Kind: KindTextDelta, Delta: "Hello, "},
		{Kind: KindOther},
		{Kind: KindTextDelta, Delta: "world"},
	}}

	res, err := Consume(context.Background(), stream, nil)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if res.Text != "Hello, world" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Action != nil {
		t.Errorf("Action = %+v, want nil", res.Action)
	}
}

func TestConsumeCancelsOnFirstAction(t *testing.T) {
	first := &Action{RunID: "run_1", Name: "save", Arguments: `{"a":1}`}
	stream := &sliceStream{events: []Event{
		{Kind: KindTextDelta, Delta: "Let me note that."},
		{Kind: KindActionRequired, Action: first},
		{Kind: KindActionRequired, Action: &Action{RunID: "run_1", Name: "other"}},
		{Kind: KindTextDelta, Delta: "never read"},
	}}

	var cancelled []string
	res, err := Consume(context.Background(), stream, func(ctx context.Context, runID string) error {
		cancelled = append(cancelled, runID)
		return nil
	})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if res.Action != first {
		t.Errorf("Action = %+v, want first action", res.Action)
	}
	if len(cancelled) != 1 || cancelled[0] != "run_1" {
		t.Errorf("cancelled = %v, want [run_1]", cancelled)
	}
	if stream.reads != 2 {
		t.Errorf("read %d events, want 2", stream.reads)
	}
	if res.Text != "Let me note that." {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestConsumeWithoutCancelKeepsReading(t *testing.T) {
	stream := &sliceStream{events: []Event{
		{Kind: KindActionRequired, Action: &Action{RunID: "r", Name: "f"}},
		{Kind: KindTextDelta, Delta: "after"},
	}}
	res, err := Consume(context.Background(), stream, nil)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if res.Action == nil || res.Text != "after" {
		t.Errorf("res = %+v", res)
	}
}

func TestConsumeCancelError(t *testing.T) {
	boom := errors.New("boom")
	stream := &sliceStream{events: []Event{{Kind: KindActionRequired, Action: &Action{RunID: "r"}}}}
	_, err := Consume(context.Background(), stream, func(context.Context, string) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestConsumeStreamError(t *testing.T) {
	stream := &sliceStream{err: ErrRunFailed}
	if _, err := Consume(context.Background(), stream, nil); !errors.Is(err, ErrRunFailed) {
		t.Errorf("err = %v, want ErrRunFailed", err)
	}
}

// fakeAPI simulates the Assistants API: each run goes through the listed
// statuses, one per RetrieveRun call.
type fakeAPI struct {
	statuses []openai.RunStatus
	action   *openai.RunRequiredAction
	reply    string

	created   openai.AssistantRequest
	messages  []openai.MessageRequest
	runs      []openai.RunRequest
	cancelled []string
	polls     int
}

func (f *fakeAPI) CreateAssistant(ctx context.Context, req openai.AssistantRequest) (openai.Assistant, error) {
	f.created = req
	return openai.Assistant{ID: "asst_new"}, nil
}

func (f *fakeAPI) CreateThread(ctx context.Context, req openai.ThreadRequest) (openai.Thread, error) {
	return openai.Thread{ID: "thread_new"}, nil
}

func (f *fakeAPI) CreateMessage(ctx context.Context, threadID string, req openai.MessageRequest) (openai.Message, error) {
	f.messages = append(f.messages, req)
	return openai.Message{ID: "msg"}, nil
}

func (f *fakeAPI) CreateRun(ctx context.Context, threadID string, req openai.RunRequest) (openai.Run, error) {
	f.runs = append(f.runs, req)
	return f.runAt(0), nil
}

func (f *fakeAPI) RetrieveRun(ctx context.Context, threadID, runID string) (openai.Run, error) {
	f.polls++
	return f.runAt(f.polls), nil
}

func (f *fakeAPI) runAt(i int) openai.Run {
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	run := openai.Run{ID: "run_1", Status: f.statuses[i]}
	if run.Status == openai.RunStatusRequiresAction {
		run.RequiredAction = f.action
	}
	return run
}

func (f *fakeAPI) CancelRun(ctx context.Context, threadID, runID string) (openai.Run, error) {
	f.cancelled = append(f.cancelled, runID)
	return openai.Run{ID: runID, Status: openai.RunStatusCancelling}, nil
}

func (f *fakeAPI) ListMessage(ctx context.Context, threadID string, limit *int, order *string, after *string, before *string, runID *string) (openai.MessagesList, error) {
	return openai.MessagesList{Messages: []openai.Message{
		{Role: openai.ChatMessageRoleUser, Content: []openai.MessageContent{{Type: "text", Text: &openai.MessageText{Value: "question"}}}},
		{Role: openai.ChatMessageRoleAssistant, Content: []openai.MessageContent{{Type: "text", Text: &openai.MessageText{Value: f.reply}}}},
	}}, nil
}

func newTestClient(t *testing.T, api API) *Client {
	return NewClient(api, Config{Model: "gpt-test", PollInterval: time.Millisecond}, zaptest.NewLogger(t))
}

func TestRespond(t *testing.T) {
	api := &fakeAPI{
		statuses: []openai.RunStatus{openai.RunStatusQueued, openai.RunStatusInProgress, openai.RunStatusCompleted},
		reply:    "Sure thing!",
	}
	c := newTestClient(t, api)

	got, err := c.Respond(context.Background(), Turn{ThreadID: "th", AssistantID: "asst", Request: "hi"})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got != "Sure thing!" {
		t.Errorf("Respond = %q", got)
	}
	if len(api.messages) != 1 || api.messages[0].Content != "hi" || api.messages[0].Role != openai.ChatMessageRoleUser {
		t.Errorf("messages = %+v", api.messages)
	}
	if len(api.runs) != 1 || api.runs[0].AssistantID != "asst" {
		t.Errorf("runs = %+v", api.runs)
	}
	if api.polls != 2 {
		t.Errorf("polls = %d, want 2", api.polls)
	}
}

func TestRespondEmptyRequestSkipsMessage(t *testing.T) {
	api := &fakeAPI{statuses: []openai.RunStatus{openai.RunStatusCompleted}, reply: "Hi! Tell me about you."}
	c := newTestClient(t, api)

	got, err := c.Respond(context.Background(), Turn{ThreadID: "th", AssistantID: "asst", Instructions: "interview"})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got != "Hi! Tell me about you." {
		t.Errorf("Respond = %q", got)
	}
	if len(api.messages) != 0 {
		t.Errorf("posted %d messages, want 0", len(api.messages))
	}
	if api.runs[0].Instructions != "interview" {
		t.Errorf("instructions = %q", api.runs[0].Instructions)
	}
}

func TestRespondRunFailed(t *testing.T) {
	api := &fakeAPI{statuses: []openai.RunStatus{openai.RunStatusInProgress, openai.RunStatusFailed}}
	c := newTestClient(t, api)
	if _, err := c.Respond(context.Background(), Turn{ThreadID: "th", AssistantID: "a", Request: "x"}); !errors.Is(err, ErrRunFailed) {
		t.Errorf("err = %v, want ErrRunFailed", err)
	}
}

func TestRespondWithContextCancelsRun(t *testing.T) {
	api := &fakeAPI{
		statuses: []openai.RunStatus{openai.RunStatusInProgress, openai.RunStatusRequiresAction},
		action: &openai.RunRequiredAction{
			Type: openai.RequiredActionTypeSubmitToolOutputs,
			SubmitToolOutputs: &openai.SubmitToolOutputs{ToolCalls: []openai.ToolCall{{
				ID:   "call_1",
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      "save_mental_profile",
					Arguments: `{"temperament":"Sanguine","profession":"nurse"}`,
				},
			}}},
		},
	}
	c := newTestClient(t, api)

	res, err := c.RespondWithContext(context.Background(), Turn{ThreadID: "th", AssistantID: "a", Request: "I am a nurse"})
	if err != nil {
		t.Fatalf("RespondWithContext: %v", err)
	}
	if res.Action == nil || res.Action.Name != "save_mental_profile" || res.Action.ToolCallID != "call_1" {
		t.Fatalf("Action = %+v", res.Action)
	}
	if len(api.cancelled) != 1 || api.cancelled[0] != "run_1" {
		t.Errorf("cancelled = %v, want [run_1]", api.cancelled)
	}
}

func TestRespondWithContextPlainReply(t *testing.T) {
	api := &fakeAPI{statuses: []openai.RunStatus{openai.RunStatusCompleted}, reply: "What do you do for a living?"}
	c := newTestClient(t, api)

	res, err := c.RespondWithContext(context.Background(), Turn{ThreadID: "th", AssistantID: "a", Request: "hello"})
	if err != nil {
		t.Fatalf("RespondWithContext: %v", err)
	}
	if res.Action != nil || res.Text != "What do you do for a living?" {
		t.Errorf("res = %+v", res)
	}
	if len(api.cancelled) != 0 {
		t.Errorf("cancelled = %v, want none", api.cancelled)
	}
}

func TestNewAssistantWithFunctions(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)

	id, err := c.NewAssistant(context.Background(), "Bot", "Be nice", openai.FunctionDefinition{Name: "f"})
	if err != nil {
		t.Fatalf("NewAssistant: %v", err)
	}
	if id != "asst_new" {
		t.Errorf("id = %q", id)
	}
	if api.created.Model != "gpt-test" || *api.created.Name != "Bot" || *api.created.Instructions != "Be nice" {
		t.Errorf("request = %+v", api.created)
	}
	if len(api.created.Tools) != 1 || api.created.Tools[0].Function.Name != "f" {
		t.Errorf("tools = %+v", api.created.Tools)
	}
}

func TestRespondHonoursContext(t *testing.T) {
	api := &fakeAPI{statuses: []openai.RunStatus{openai.RunStatusInProgress}}
	c := NewClient(api, Config{PollInterval: time.Hour}, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.Respond(ctx, Turn{ThreadID: "th", AssistantID: "a"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestLazyCreatesOnce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	l := NewLazy("", func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "asst_lazy", nil
	})

	var wg sync.WaitGroup
	ids := make([]string, 5)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := l.ID(context.Background())
			if err != nil {
				t.Errorf("ID: %v", err)
			}
			ids[i] = id
		}(i)
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, id := range ids {
		if id != "asst_lazy" {
			t.Errorf("ids[%d] = %q", i, id)
		}
	}
	if _, err := l.ID(context.Background()); err != nil {
		t.Fatalf("ID: %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("create called %d times, want 1", n)
	}
}

func TestLazyPreset(t *testing.T) {
	l := NewLazy("asst_cfg", func(ctx context.Context) (string, error) {
		t.Fatal("create must not be called")
		return "", nil
	})
	id, err := l.ID(context.Background())
	if err != nil || id != "asst_cfg" {
		t.Errorf("ID = %q, %v", id, err)
	}
}

func TestLazyRetriesAfterError(t *testing.T) {
	boom := errors.New("boom")
	fail := true
	l := NewLazy("", func(ctx context.Context) (string, error) {
		if fail {
			fail = false
			return "", boom
		}
		return "asst_ok", nil
	})
	if _, err := l.ID(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("first ID err = %v, want boom", err)
	}
	if id, err := l.ID(context.Background()); err != nil || id != "asst_ok" {
		t.Errorf("second ID = %q, %v", id, err)
	}
}
