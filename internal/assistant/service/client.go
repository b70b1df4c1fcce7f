package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	appErr "develevate/pkg/errors"

	"github.com/zeromicro/go-zero/core/breaker"
)

const maxReplyBytes = 1 << 20

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer produces an assistant reply for a conversation.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Verify(ctx context.Context) error
}

// ClientConfig configures the OpenAI-compatible chat client.
type ClientConfig struct {
	BaseURL string `yaml:"baseURL"`
	// APIKey is loaded from the environment, never from clients.
	APIKey           string        `yaml:"-"`
	Model            string        `yaml:"model"`
	MaxTokens        int           `yaml:"maxTokens"`
	Temperature      float64       `yaml:"temperature"`
	PresencePenalty  float64       `yaml:"presencePenalty"`
	FrequencyPenalty float64       `yaml:"frequencyPenalty"`
	RequestTimeout   time.Duration `yaml:"requestTimeout"`
}

// DefaultClientConfig returns the stock completion parameters.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:          "https://api.openai.com/v1",
		Model:            "gpt-3.5-turbo",
		MaxTokens:        1000,
		Temperature:      0.7,
		PresencePenalty:  0.1,
		FrequencyPenalty: 0.1,
		RequestTimeout:   30 * time.Second,
	}
}

// HTTPClient talks to a chat completions endpoint.
type HTTPClient struct {
	cfg    ClientConfig
	client *http.Client
	brk    breaker.Breaker
}

// NewHTTPClient creates a client. A nil client uses one with cfg.RequestTimeout.
func NewHTTPClient(cfg ClientConfig, client *http.Client) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("assistant base url is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("assistant api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("assistant model is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		cfg:    cfg,
		client: client,
		brk:    breaker.NewBreaker(breaker.WithName("assistant")),
	}, nil
}

type completionRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	MaxTokens        int       `json:"max_tokens,omitempty"`
	Temperature      float64   `json:"temperature"`
	PresencePenalty  float64   `json:"presence_penalty"`
	FrequencyPenalty float64   `json:"frequency_penalty"`
}

type completionResponse struct {
	Choices []struct {
		Message *Message `json:"message"`
	} `json:"choices"`
}

// Complete implements Completer.
func (c *HTTPClient) Complete(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:            c.cfg.Model,
		Messages:         messages,
		MaxTokens:        c.cfg.MaxTokens,
		Temperature:      c.cfg.Temperature,
		PresencePenalty:  c.cfg.PresencePenalty,
		FrequencyPenalty: c.cfg.FrequencyPenalty,
	})
	if err != nil {
		return "", fmt.Errorf("encode completion request failed: %w", err)
	}
	var resp completionResponse
	if err := c.do(ctx, http.MethodPost, "/chat/completions", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", appErr.New(appErr.AssistantEmptyReply)
	}
	return resp.Choices[0].Message.Content, nil
}

// Verify checks that the configured key is accepted.
func (c *HTTPClient) Verify(ctx context.Context) error {
	var resp struct {
		Data []json.RawMessage `json:"data"`
	}
	return c.do(ctx, http.MethodGet, "/models", nil, &resp)
}

type upstreamError struct {
	status int
	body   string
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("assistant upstream responded %d: %s", e.status, e.body)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	err := c.brk.DoWithAcceptable(func() error {
		return c.roundTrip(ctx, method, path, body, out)
	}, func(err error) bool {
		var upErr *upstreamError
		if errors.As(err, &upErr) {
			return upErr.status < http.StatusInternalServerError
		}
		return err == nil || errors.Is(err, context.Canceled)
	})
	return mapUpstreamError(err)
}

func mapUpstreamError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, breaker.ErrServiceUnavailable) {
		return appErr.Wrapf(err, appErr.AssistantUnavailable, "assistant circuit is open")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var upErr *upstreamError
	if errors.As(err, &upErr) {
		switch {
		case upErr.status == http.StatusUnauthorized:
			return appErr.Wrapf(err, appErr.AssistantAuthFailed, "assistant rejected the api key")
		case upErr.status == http.StatusTooManyRequests:
			return appErr.Wrapf(err, appErr.AssistantRateLimited, "%s", appErr.AssistantRateLimited.Message())
		case upErr.status >= http.StatusInternalServerError:
			return appErr.Wrapf(err, appErr.AssistantUnavailable, "%s", appErr.AssistantUnavailable.Message())
		}
	}
	if appErr.GetCode(err) != appErr.InternalServerError {
		return err
	}
	return appErr.Wrapf(err, appErr.AssistantUnavailable, "Failed to get response from AI assistant.")
}

func (c *HTTPClient) roundTrip(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(data) > 256 {
			data = data[:256]
		}
		return &upstreamError{status: resp.StatusCode, body: string(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return appErr.Wrapf(err, appErr.AssistantUnavailable, "decode assistant response failed")
	}
	return nil
}
