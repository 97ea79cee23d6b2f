package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap/zaptest"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		raw     string
		want    bool
		wantErr bool
	}{
		{raw: `{"confirmed": true}`, want: true},
		{raw: `{"confirmed": false}`, want: false},
		{raw: "```json\n{\"confirmed\": true}\n```", want: true},
		{raw: `{"ok": true}`, wantErr: true},
		{raw: `yes`, wantErr: true},
		{raw: ``, wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseVerdict(tt.raw)
		if tt.wantErr {
			if !errors.Is(err, ErrNoVerdict) {
				t.Errorf("parseVerdict(%q) err = %v, want ErrNoVerdict", tt.raw, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseVerdict(%q): %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseVerdict(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

// chatServer answers every chat completion with content.
func chatServer(t *testing.T, content string, gotPrompt *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var req openai.ChatCompletionRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if gotPrompt != nil && len(req.Messages) > 0 {
			*gotPrompt = req.Messages[0].Content
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newConfirmer(t *testing.T, srv *httptest.Server) *GPTConfirmer {
	cfg := openai.DefaultConfig("sk-test")
	cfg.BaseURL = srv.URL + "/v1"
	return NewGPTConfirmer(openai.NewClientWithConfig(cfg), "gpt-test", 0, zaptest.NewLogger(t))
}

func TestConfirmTrue(t *testing.T) {
	var prompt string
	c := newConfirmer(t, chatServer(t, `{"confirmed": true}`, &prompt))

	ok, err := c.Confirm(context.Background(), `{"temperament":"Sanguine"}`, "temperament is one of four")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !ok {
		t.Error("Confirm = false, want true")
	}
	if !strings.Contains(prompt, "temperament is one of four") || !strings.Contains(prompt, `"Sanguine"`) {
		t.Errorf("prompt misses rule or text: %q", prompt)
	}
}

func TestConfirmFalse(t *testing.T) {
	c := newConfirmer(t, chatServer(t, `{"confirmed": false}`, nil))
	ok, err := c.Confirm(context.Background(), "garbage", "rule")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if ok {
		t.Error("Confirm = true, want false")
	}
}

func TestConfirmUnparseable(t *testing.T) {
	c := newConfirmer(t, chatServer(t, "I think so", nil))
	if _, err := c.Confirm(context.Background(), "x", "rule"); !errors.Is(err, ErrNoVerdict) {
		t.Errorf("err = %v, want ErrNoVerdict", err)
	}
}
