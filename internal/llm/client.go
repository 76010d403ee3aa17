package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"github.com/aichat/relay/internal/config"
)

type openAIClient struct {
	c *openai.Client
}

// NewClient creates an OpenAI-backed Client from the LLM configuration.
// Returns nil when no API key is configured; the generator treats a nil
// client as unavailable and falls back.
func NewClient(cfg config.LLMConfig) Client {
	if cfg.APIKey == "" {
		return nil
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &openAIClient{c: openai.NewClientWithConfig(oc)}
}

func (o *openAIClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return o.c.CreateChatCompletion(ctx, req)
}

func (o *openAIClient) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error) {
	stream, err := o.c.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
