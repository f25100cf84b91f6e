// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/jeranaias/taskchat/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

// Sentinel errors for upstream failure modes. Callers branch with errors.Is.
var (
	// ErrRateLimited indicates the upstream returned 429. The caller should
	// back off and inform the end user, not retry automatically.
	ErrRateLimited = errors.New("model rate limited")

	// ErrQuotaExhausted indicates the upstream returned 402. Terminal for the
	// request until the operator intervenes.
	ErrQuotaExhausted = errors.New("model quota exhausted")

	// ErrNotConfigured indicates the client has no API key.
	ErrNotConfigured = errors.New("model client not configured")
)

// APIError is a non-2xx upstream response that is not rate-limit or quota.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model api error (status %d): %s", e.Status, e.Message)
}

// =============================================================================
// CLIENT
// =============================================================================

const maxResponseBytes = 10 * 1024 * 1024

// Config carries the endpoint settings injected at construction.
// No ambient global credentials.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client talks to an OpenAI-compatible chat-completion endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a model client from explicit configuration.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// IsConfigured reports whether the client has credentials.
func (c *Client) IsConfigured() bool {
	return c.cfg.APIKey != ""
}

// =============================================================================
// COMPLETION
// =============================================================================

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Tools    []Tool    `json:"tools,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

type apiErrorResponse struct {
	Error struct {
		Code    interface{} `json:"code"`
		Message string      `json:"message"`
	} `json:"error"`
}

// Complete sends a non-streamed completion request carrying the full
// transcript and the tool catalog, and returns the assistant's message.
// The message may contain plain content, tool calls, or both.
func (c *Client) Complete(ctx context.Context, messages []Message, tools []Tool) (*Message, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(completionRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("User-Agent", "taskchat/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read completion response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp.StatusCode, respBody)
	}

	var parsed completionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, &APIError{Status: resp.StatusCode, Message: "empty choices in completion response"}
	}

	msg := parsed.Choices[0].Message
	return &msg, nil
}

// handleErrorResponse maps a non-2xx upstream response onto the error
// taxonomy. The raw body is logged for diagnosis but only the parsed message
// travels up.
func (c *Client) handleErrorResponse(status int, body []byte) error {
	var apiErr apiErrorResponse
	message := ""
	if err := json.Unmarshal(body, &apiErr); err == nil {
		message = apiErr.Error.Message
	}
	if message == "" {
		message = util.Preview(string(body), 200)
	}

	log.Printf("MODEL_ERROR | status=%d message=%q", status, util.Preview(message, 120))

	switch status {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, message)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", ErrQuotaExhausted, message)
	default:
		return &APIError{Status: status, Message: message}
	}
}
