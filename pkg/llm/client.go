// Package llm provides a client for OpenAI-compatible text completion endpoints.
package llm

import (
	"context"
	"fmt"
	"strings"

	"codelens-go/internal/config"

	"github.com/sashabaranov/go-openai"
)

// Message is a single role-tagged chat message.
type Message struct {
	Role    string
	Content string
}

// Client defines the interface for an LLM client.
type Client interface {
	// Complete sends the messages and returns the text of the first choice.
	Complete(ctx context.Context, messages []Message) (string, error)
}

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client *openai.Client
}

// NewClient creates a new LLM client based on the provider in the config.
func NewClient(cfg config.LLMConfig) Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return &openAICompatibleClient{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientConfig),
	}
}

// UserPrompt wraps a single prompt as a user message.
func UserPrompt(prompt string) []Message {
	return []Message{{Role: openai.ChatMessageRoleUser, Content: prompt}}
}

func (c *openAICompatibleClient) Complete(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: float32(c.cfg.Generation.Temperature),
		TopP:        float32(c.cfg.Generation.TopP),
		MaxTokens:   c.cfg.Generation.MaxTokens,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
