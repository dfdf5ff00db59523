// Package provider is the LLM backend client. It speaks the OpenAI chat
// completions protocol, which Groq and OpenRouter both serve.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/third-eye/thirdeye/pkg/config"
)

// healthCacheTTL bounds how often the backend is probed.
const healthCacheTTL = 30 * time.Second

// ChatClient captures the subset of the OpenAI client used here.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Client wraps the chat backend with timeouts, rate smoothing, error
// classification, and a cached health probe.
type Client struct {
	chat  ChatClient
	model string

	maxTokens      int
	temperature    float32
	requestTimeout time.Duration
	healthTimeout  time.Duration
	limiter        *rate.Limiter

	healthMu      sync.Mutex
	healthChecked time.Time
	healthErr     error
}

// New creates a client from configuration.
func New(cfg config.ProviderConfig) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return NewWithChat(openai.NewClientWithConfig(clientCfg), cfg)
}

// NewWithChat creates a client over an existing chat backend (useful for
// testing).
func NewWithChat(chat ChatClient, cfg config.ProviderConfig) *Client {
	return &Client{
		chat:           chat,
		model:          cfg.Model,
		maxTokens:      cfg.MaxTokens,
		temperature:    float32(cfg.Temperature),
		requestTimeout: cfg.RequestTimeout.AsDuration(),
		healthTimeout:  cfg.HealthTimeout.AsDuration(),
		// Smooth bursts toward the backend; actual quota enforcement is
		// per tenant at the API layer.
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Complete sends a system+user prompt pair and returns the completion
// text. Errors are always classified.
func (c *Client) Complete(ctx context.Context, system, user string) (string, Usage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", Usage{}, Classify(err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", Usage{}, Classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, &Error{Kind: ErrKindUpstream5xx, Err: fmt.Errorf("empty completion from %s", c.model)}
	}

	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	return resp.Choices[0].Message.Content, usage, nil
}

// CompleteJSON requests a JSON object completion and decodes it into out.
// Code-fenced JSON is tolerated since smaller models wrap output despite
// the response format hint.
func (c *Client) CompleteJSON(ctx context.Context, system, user string, out any) (Usage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Usage{}, Classify(err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return Usage{}, Classify(err)
	}
	if len(resp.Choices) == 0 {
		return Usage{}, &Error{Kind: ErrKindUpstream5xx, Err: fmt.Errorf("empty completion from %s", c.model)}
	}

	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	content := StripFence(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return usage, &Error{Kind: ErrKindUpstream5xx, Err: fmt.Errorf("malformed JSON completion: %w", err)}
	}
	return usage, nil
}

// Healthy probes the backend, caching the verdict for 30 seconds so
// health endpoints cannot stampede the provider.
func (c *Client) Healthy(ctx context.Context) error {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	if time.Since(c.healthChecked) < healthCacheTTL {
		return c.healthErr
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	_, err := c.chat.ListModels(probeCtx)
	if err != nil {
		err = Classify(err)
		slog.Warn("Provider health probe failed", "error", err)
	}
	c.healthChecked = time.Now()
	c.healthErr = err
	return err
}

// StripFence removes a surrounding markdown code fence, if present.
func StripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		// Drop the language tag line.
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
