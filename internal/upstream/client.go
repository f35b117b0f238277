package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spigotd/spigot/internal/model"
)

// Error is a non-2xx response from an inference backend.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Message)
}

// Client talks to OpenAI-compatible inference backends. It carries no
// per-model state; the target backend is supplied per call. Request
// lifetimes are bounded by the caller's context, not a client-wide timeout,
// because streamed completions legitimately run for minutes.
type Client struct {
	httpClient *http.Client
}

// NewClient creates an upstream client.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 8,
			},
		},
	}
}

// Complete performs a non-streaming chat completion against the backend.
func (c *Client) Complete(ctx context.Context, m ModelConfig, req *model.CompletionRequest) (*model.CompletionResponse, error) {
	body := *req
	body.Stream = false

	resp, err := c.post(ctx, m, &body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out model.CompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode upstream response: %w", err)
	}
	return &out, nil
}

// StreamComplete opens a streaming chat completion against the backend. The
// caller must Close the returned Stream; cancelling ctx aborts the upstream
// request within the transport's bounded shutdown.
func (c *Client) StreamComplete(ctx context.Context, m ModelConfig, req *model.CompletionRequest) (*Stream, error) {
	body := *req
	body.Stream = true

	resp, err := c.post(ctx, m, &body)
	if err != nil {
		return nil, err
	}
	return newStream(resp.Body), nil
}

func (c *Client) post(ctx context.Context, m ModelConfig, body *model.CompletionRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode upstream request: %w", err)
	}

	url := strings.TrimRight(m.Endpoint, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if m.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+m.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call upstream: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg := readErrorBody(resp.Body)
		return nil, &Error{Status: resp.StatusCode, Message: msg}
	}
	return resp, nil
}

// readErrorBody extracts a short error message from a failed upstream
// response, preferring the OpenAI-style {"error":{"message":...}} shape.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return "no response body"
	}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return strings.TrimSpace(string(data))
}
