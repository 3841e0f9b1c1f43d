package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// HTTPClient talks to an OpenAI-compatible chat-completions endpoint.
// Requests are paced with a token-bucket limiter so a wide fan-out
// cannot burst a provider's own rate limits, and credentials come from
// an explicit TokenCache rather than any ambient global.
type HTTPClient struct {
	modelID string
	baseURL string
	tokens  *TokenCache
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient builds a provider client for one model. ratePerSec
// bounds outbound requests; zero or negative means one per second.
func NewHTTPClient(modelID, baseURL string, tokens *TokenCache, ratePerSec int) *HTTPClient {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &HTTPClient{
		modelID: modelID,
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  &http.Client{Timeout: 120 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
	}
}

func (c *HTTPClient) ModelID() string { return c.modelID }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content,omitempty"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends the prompt and returns the completion with token and
// latency accounting. Non-2xx statuses and empty completions are
// APIErrors.
func (c *HTTPClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("provider %s: credentials: %w", c.modelID, err)
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.modelID,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("provider %s: marshal request: %w", c.modelID, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("provider %s: build request: %w", c.modelID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", c.modelID, err)
	}
	defer resp.Body.Close()
	latency := time.Since(start).Milliseconds()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Expired credentials get one shot at a fresh token next call.
		if resp.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate()
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Model: c.modelID, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("provider %s: decode response: %w", c.modelID, err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return nil, &APIError{Model: c.modelID, Message: "empty completion"}
	}

	return &CompletionResult{
		Content:          parsed.Choices[0].Message.Content,
		ReasoningContent: parsed.Choices[0].Message.ReasoningContent,
		InputTokens:      parsed.Usage.PromptTokens,
		OutputTokens:     parsed.Usage.CompletionTokens,
		LatencyMs:        latency,
	}, nil
}
