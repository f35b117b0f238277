package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spigotd/spigot/internal/model"
)

func TestCompleteForwardsRequestAndAuth(t *testing.T) {
	var gotAuth string
	var gotBody model.CompletionRequest

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q, want /v1/chat/completions", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)

		json.NewEncoder(w).Encode(model.CompletionResponse{
			ID:      "upstream-id",
			Object:  "chat.completion",
			Choices: []model.CompletionChoice{{Message: model.Message{Role: "assistant", Content: "hi"}, FinishReason: "stop"}},
			Usage:   &model.Usage{PromptTokens: 5, CompletionTokens: 1, TotalTokens: 6},
		})
	}))
	defer ts.Close()

	c := NewClient()
	m := ModelConfig{ID: "llama-3", Endpoint: ts.URL + "/v1", APIKey: "backend-key"}

	resp, err := c.Complete(context.Background(), m, &model.CompletionRequest{
		Model:    "llama-3",
		Messages: []model.Message{{Role: "user", Content: "hello"}},
		Stream:   true, // must be forced off for the non-streaming path
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if gotAuth != "Bearer backend-key" {
		t.Errorf("authorization = %q, want backend bearer", gotAuth)
	}
	if gotBody.Stream {
		t.Error("stream flag was not forced off")
	}
	if resp.Usage.TotalTokens != 6 {
		t.Errorf("usage total = %d, want 6", resp.Usage.TotalTokens)
	}
}

func TestCompleteSurfacesUpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"context length exceeded"}}`))
	}))
	defer ts.Close()

	c := NewClient()
	m := ModelConfig{ID: "llama-3", Endpoint: ts.URL + "/v1"}

	_, err := c.Complete(context.Background(), m, &model.CompletionRequest{Model: "llama-3"})
	var upErr *Error
	if !errors.As(err, &upErr) {
		t.Fatalf("Complete = %v, want *Error", err)
	}
	if upErr.Status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", upErr.Status)
	}
	if upErr.Message != "context length exceeded" {
		t.Errorf("message = %q, want the envelope message", upErr.Message)
	}
}

func TestStreamCompleteSetsStreamFlag(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body model.CompletionRequest
		json.NewDecoder(r.Body).Decode(&body)
		if !body.Stream {
			t.Error("stream flag was not forced on")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer ts.Close()

	c := NewClient()
	m := ModelConfig{ID: "llama-3", Endpoint: ts.URL + "/v1"}

	s, err := c.StreamComplete(context.Background(), m, &model.CompletionRequest{Model: "llama-3"})
	if err != nil {
		t.Fatalf("StreamComplete: %v", err)
	}
	defer s.Close()
}
