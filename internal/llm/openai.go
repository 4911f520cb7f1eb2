// Package llm adapts OpenAI-compatible chat completion APIs to the assistant's
// Generator interfaces.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"shopchat/backend/internal/chathub"
	"shopchat/backend/internal/models"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIGenerator calls a chat completion endpoint. Any server speaking the
// OpenAI protocol works when BaseURL is set.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

var _ chathub.StreamGenerator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator creates a generator for model. An empty baseURL uses the
// public OpenAI endpoint.
func NewOpenAIGenerator(apiKey, baseURL, model string) *OpenAIGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// GenerateText returns the full completion in one call.
func (g *OpenAIGenerator) GenerateText(ctx context.Context, messages []models.PromptMessage, maxTokens int) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, g.request(messages, maxTokens, false))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", chathub.ErrEmptyCompletion
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", chathub.ErrEmptyCompletion
	}
	return text, nil
}

// StreamText forwards content deltas to onDelta as they arrive and returns
// their concatenation.
func (g *OpenAIGenerator) StreamText(ctx context.Context, messages []models.PromptMessage, maxTokens int, onDelta func(string) error) (string, error) {
	stream, err := g.client.CreateChatCompletionStream(ctx, g.request(messages, maxTokens, true))
	if err != nil {
		return "", fmt.Errorf("open completion stream: %w", err)
	}
	defer stream.Close()

	var out strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read completion stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := onDelta(delta); err != nil {
			return "", err
		}
		out.WriteString(delta)
	}

	if strings.TrimSpace(out.String()) == "" {
		return "", chathub.ErrEmptyCompletion
	}
	return out.String(), nil
}

func (g *OpenAIGenerator) request(messages []models.PromptMessage, maxTokens int, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: toOpenAIMessages(messages),
		Stream:   stream,
	}
	if maxTokens > 0 {
		req.MaxTokens = maxTokens
	}
	return req
}

func toOpenAIMessages(messages []models.PromptMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case models.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case models.RoleAssistant, models.RoleAgent:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}
