// Package llm wraps the chat completion backend invoked between fusion and
// answer finalization.
package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"memfuse/internal/config"
	"memfuse/internal/rfcerrors"
)

// Message is a single chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tune a single generation call. Zero values fall back to the
// client's configured defaults.
type Options struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// Client generates answer text from chat messages
type Client interface {
	Generate(ctx context.Context, messages []Message, opts Options) (string, error)
}

// OpenAIClient implements Client against the OpenAI chat API
type OpenAIClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
}

// NewOpenAIClient creates an OpenAI-backed chat client
func NewOpenAIClient(cfg *config.OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, rfcerrors.New(rfcerrors.CodeValidation, "OpenAI API key is required")
	}

	model := cfg.ChatModel
	if model == "" {
		model = openai.GPT4o
	}
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &OpenAIClient{
		client:      openai.NewClient(cfg.APIKey),
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
	}, nil
}

// Generate runs a single chat completion
func (c *OpenAIClient) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	if len(messages) == 0 {
		return "", rfcerrors.New(rfcerrors.CodeValidation, "no messages to generate from")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = c.temperature
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMessages,
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
		TopP:        float32(opts.TopP),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// MockClient is a canned-response Client for tests
type MockClient struct {
	Response string
	Err      error

	// Calls records the messages of each Generate invocation
	Calls [][]Message
}

// Generate returns the canned response
func (m *MockClient) Generate(_ context.Context, messages []Message, _ Options) (string, error) {
	m.Calls = append(m.Calls, messages)
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}
