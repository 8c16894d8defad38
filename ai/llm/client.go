// Package llm delegates text generation to a hosted chat-completion model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	defaultModel       = "meta-llama/llama-4-scout-17b-16e-instruct"
	defaultBaseURL     = "https://api.groq.com/openai/v1"
	defaultTemperature = 0.6
	defaultMaxRetries  = 2
	defaultTimeout     = 60 * time.Second
)

// ErrEmptyCompletion is returned when the model answers with no text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Generator produces text from a system instruction and user content.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, system, user string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

// ClientConfig holds configuration for an OpenAI-compatible chat endpoint.
type ClientConfig struct {
	APIKey      string        // Defaults to GROQ_API_KEY, then OPENAI_API_KEY
	Model       string        // Defaults to meta-llama/llama-4-scout-17b-16e-instruct
	BaseURL     string        // Defaults to the Groq OpenAI-compatible endpoint
	Temperature *float64      // Defaults to 0.6
	MaxRetries  int           // Defaults to 2; negative disables retries
	Timeout     time.Duration // Per-request timeout, defaults to 60s
	HTTPClient  *http.Client
}

// Client implements Generator with the openai-go SDK.
type Client struct {
	client      openaigo.Client
	model       string
	temperature float64
}

// NewClient creates a chat client.
func NewClient(cfg ClientConfig) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = os.Getenv("GROQ_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("GROQ_API_KEY not set")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	temp := defaultTemperature
	if cfg.Temperature != nil {
		temp = *cfg.Temperature
	}
	retries := cfg.MaxRetries
	switch {
	case retries == 0:
		retries = defaultMaxRetries
	case retries < 0:
		retries = 0
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout + 5*time.Second}
	}

	return &Client{
		client: openaigo.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey(apiKey),
			option.WithHTTPClient(httpClient),
			option.WithMaxRetries(retries),
			option.WithRequestTimeout(timeout),
		),
		model:       model,
		temperature: temp,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Generate sends one system + user exchange and returns the trimmed reply.
func (c *Client) Generate(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openaigo.ChatCompletionNewParams{
		Model: openaigo.ChatModel(c.model),
		Messages: []openaigo.ChatCompletionMessageParamUnion{
			openaigo.SystemMessage(system),
			openaigo.UserMessage(user),
		},
		Temperature: openaigo.Float(c.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyCompletion
	}
	return out, nil
}
