// Package llm holds the LLM oracle client and the bounded semantic
// executor that turns free-form objectives into allow-listed actions.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Oracle is the opaque text-in / text-out completion interface.
type Oracle interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// HTTPOracle talks to an OpenAI-compatible chat completions endpoint.
type HTTPOracle struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPOracle creates the oracle client.
func NewHTTPOracle(baseURL, apiKey, model string, timeout time.Duration) *HTTPOracle {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPOracle{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends one chat completion request and returns the first choice.
func (o *HTTPOracle) Complete(ctx context.Context, system, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal oracle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build oracle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("oracle request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read oracle response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oracle returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode oracle response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("oracle returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
