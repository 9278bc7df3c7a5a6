// Package llm provides a provider-agnostic LLM client with retry, a circuit
// breaker, and a concurrency cap. Workers consume it through the Generator
// interface; the concrete providers live in llm/providers.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/c360studio/hivemind/config"
)

// maxResponseSize limits the LLM response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`    // "system", "user", or "assistant"
	Content string `json:"content"` // Message content
}

// Request defines an LLM completion request.
type Request struct {
	// Messages is the chat history to send to the LLM.
	Messages []Message

	// Temperature controls randomness. nil uses endpoint default, 0 is deterministic.
	Temperature *float64

	// MaxTokens limits response length. 0 uses endpoint default.
	MaxTokens int
}

// TokenUsage represents token consumption details for an LLM call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response contains the LLM completion result.
type Response struct {
	// Content is the generated text.
	Content string

	// Model is the actual model that was used.
	Model string

	// Usage contains token consumption metrics (if the provider reports them).
	Usage TokenUsage

	// FinishReason indicates why generation stopped.
	FinishReason string
}

// GenerateOptions tunes a single Generate call.
type GenerateOptions struct {
	// System is an optional system prompt prepended to the conversation.
	System string
	// Temperature overrides the client default when non-nil.
	Temperature *float64
	// MaxTokens limits the response length.
	MaxTokens int
}

// Generator is the single surface workers depend on: generate text for a
// prompt. The Client implements it; tests substitute fakes.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// Client is a provider-agnostic LLM client.
type Client struct {
	provider    Provider
	cfg         config.LLMConfig
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger

	// sem bounds concurrent requests to the provider; excess callers queue
	// until their context deadline.
	sem *semaphore.Weighted

	// breaker opens after consecutive backend failures so LLM paths fail
	// fast while the provider is down.
	breaker *gobreaker.CircuitBreaker
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates an LLM client for the configured provider.
func NewClient(cfg config.LLMConfig, opts ...ClientOption) (*Client, error) {
	provider := GetProvider(cfg.DefaultProvider)
	if provider == nil {
		return nil, fmt.Errorf("unknown provider: %s", cfg.DefaultProvider)
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	c := &Client{
		provider:    provider,
		cfg:         cfg,
		retryConfig: DefaultRetryConfig(),
		httpClient:  &http.Client{Timeout: timeout},
		logger:      slog.Default(),
		sem:         semaphore.NewWeighted(int64(maxConcurrent)),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm-" + provider.Name(),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("LLM breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Generate implements Generator with a single-prompt request.
func (c *Client) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	messages := make([]Message, 0, 2)
	if opts.System != "" {
		messages = append(messages, Message{Role: "system", Content: opts.System})
	}
	messages = append(messages, Message{Role: "user", Content: prompt})

	temp := opts.Temperature
	if temp == nil && c.cfg.Temperature > 0 {
		t := c.cfg.Temperature
		temp = &t
	}

	resp, err := c.Complete(ctx, Request{
		Messages:    messages,
		Temperature: temp,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Complete sends a completion request with retry and breaker protection.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire llm slot: %w", err)
	}
	defer c.sem.Release(1)

	result, err := c.breaker.Execute(func() (any, error) {
		return c.tryWithRetry(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Response), nil
}

// tryWithRetry attempts a request with exponential backoff on transient errors.
func (c *Client) tryWithRetry(ctx context.Context, req Request) (*Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		resp, err := c.doRequest(ctx, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if IsFatal(err) {
			return nil, err
		}

		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("Request failed, retrying",
				"attempt", attempt,
				"max_attempts", c.retryConfig.MaxAttempts,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, lastErr
}

// calculateBackoff computes exponential backoff duration with jitter.
// Jitter prevents thundering herd when multiple clients retry simultaneously.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}

	// Add jitter: +/- 25% to prevent synchronized retries
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// doRequest executes a single HTTP request to the LLM endpoint.
func (c *Client) doRequest(ctx context.Context, req Request) (*Response, error) {
	url := c.provider.BuildURL(c.cfg.Endpoint, c.cfg.Model)

	body, err := c.provider.BuildRequestBody(c.cfg.Model, req.Messages, req.Temperature, req.MaxTokens)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	c.logger.Debug("Sending LLM request",
		"provider", c.provider.Name(),
		"model", c.cfg.Model,
		"messages", len(req.Messages))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	c.provider.SetHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network errors are transient
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	switch {
	case httpResp.StatusCode == http.StatusOK:
		return c.provider.ParseResponse(respBody, c.cfg.Model)
	case httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500:
		return nil, NewTransientError(fmt.Errorf("status %d: %s", httpResp.StatusCode, truncate(respBody, 200)))
	default:
		// Auth and bad-request errors are config issues, not endpoint health.
		return nil, NewFatalError(fmt.Errorf("status %d: %s", httpResp.StatusCode, truncate(respBody, 200)))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
