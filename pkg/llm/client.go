package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tributo-labs/defensor/pkg/contracts"
)

// HTTPProvider talks to any OpenAI-compatible chat-completions endpoint.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	limiter Limiter
}

// NewHTTPProvider builds a provider for the given endpoint. limiter may
// be nil when no admission control is wanted.
func NewHTTPProvider(baseURL, apiKey, model string, limiter Limiter) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{},
		limiter: limiter,
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends one prompt and returns the model's text. 5xx and 429
// map to transient failures, deadline expiry to timeout; both are
// classifiable with errors.Is by the retry layer.
func (p *HTTPProvider) Complete(ctx context.Context, prompt string, maxTokens int, timeout time.Duration) (string, error) {
	if p.limiter != nil {
		if err := p.limiter.Acquire(ctx, p.model); err != nil {
			return "", err
		}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, err := json.Marshal(chatRequest{
		Model:     p.model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", classifyTransportError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: llm status %d", contracts.ErrTransient, resp.StatusCode)
	default:
		return "", fmt.Errorf("llm: status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("llm: empty choices in response")
	}
	return parsed.Choices[0].Message.Content, nil
}

func classifyTransportError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: llm call exceeded budget", contracts.ErrTimeout)
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%w: llm call aborted", contracts.ErrCancelled)
	}
	return fmt.Errorf("%w: %w", contracts.ErrTransient, err)
}
