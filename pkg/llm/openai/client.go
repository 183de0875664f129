// Package openai implements the llm.Provider interface on the OpenAI chat
// completions API. OpenRouter and other compatible gateways are reached by
// pointing BaseURL at them.
package openai

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pxl-research/tai-mcp-memory/pkg/llm"
)

// Client is an OpenAI-compatible chat completion client.
type Client struct {
	client *openai.Client
	model  string
}

// Config is the configuration for the chat client.
type Config struct {
	// APIKey is the API key (required).
	APIKey string

	// Model is the model name, e.g. "gpt-4o-mini" or an OpenRouter slug
	// like "openai/gpt-4o-mini".
	Model string

	// BaseURL overrides the API endpoint (optional). Set it to the
	// OpenRouter endpoint to route through OpenRouter.
	BaseURL string
}

// NewClient creates a new chat completion client.
func NewClient(cfg *Config) (*Client, error) {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  cfg.Model,
	}, nil
}

// Generate produces text from a single user prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return c.GenerateWithMessages(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts...)
}

// GenerateWithMessages produces text from a conversation history.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	options := llm.ApplyGenerateOptions(opts)

	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMessages,
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("llm generation failed: no choices returned")
	}

	return resp.Choices[0].Message.Content, nil
}

// Close is a no-op; the OpenAI SDK client holds no resources to release.
func (c *Client) Close() error {
	return nil
}
