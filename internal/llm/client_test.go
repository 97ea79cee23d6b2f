package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
)

func TestNewClientUsesBaseURL(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   []map[string]any{{"id": "gpt-test", "object": "model"}},
		})
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models.Models) != 1 || models.Models[0].ID != "gpt-test" {
		t.Errorf("models = %+v", models.Models)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/v1/models" {
		t.Errorf("path = %q, want /v1/models", gotPath)
	}
}

func TestNewClientWithProxy(t *testing.T) {
	client, err := NewClient(ClientConfig{APIKey: "k", Proxy: "127.0.0.1:1080"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	var _ *openai.Client = client
}
