// ABOUTME: HTTP client for the Ollama /api/chat endpoint
// ABOUTME: Implements the orchestrator's Completer contract for one model

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Turn is one entry of the chat transcript sent to the model.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client calls a local Ollama server's chat endpoint. One client serves one
// model; agents with different models get their own clients.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
}

// NewClient creates a client for baseURL (e.g. http://localhost:11434) and
// model. timeout bounds the full request including generation.
func NewClient(baseURL, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model    string `json:"model"`
	Messages []Turn `json:"messages"`
	Stream   bool   `json:"stream"`
}

type chatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error,omitempty"`
}

// Complete sends the transcript and returns the model's single non-streamed
// completion.
func (c *Client) Complete(ctx context.Context, turns []Turn) (string, error) {
	body, err := json.Marshal(chatRequest{Model: c.model, Messages: turns, Stream: false})
	if err != nil {
		return "", fmt.Errorf("marshaling chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading ollama response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decoding ollama response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("ollama error: %s", parsed.Error)
	}

	return parsed.Message.Content, nil
}

// Model returns the model this client generates with.
func (c *Client) Model() string { return c.model }
