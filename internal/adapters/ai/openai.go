package ai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/eleven-am/loom/internal/ports"
)

// ChatCompleter is the slice of the go-openai client the adapter needs.
// Tests substitute a mock; production wires *openai.Client.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client adapts an OpenAI-compatible chat API to ports.AIModelClient.
type Client struct {
	api          ChatCompleter
	defaultModel string
}

func NewClient(api ChatCompleter, defaultModel string) *Client {
	if defaultModel == "" {
		defaultModel = openai.GPT4oMini
	}
	return &Client{
		api:          api,
		defaultModel: defaultModel,
	}
}

// NewClientFromToken builds a Client backed by the real OpenAI API.
func NewClientFromToken(token, defaultModel string) *Client {
	return NewClient(openai.NewClient(token), defaultModel)
}

func (c *Client) Complete(ctx context.Context, prompt string, config ports.ModelConfig) (string, error) {
	model := config.Model
	if model == "" {
		model = c.defaultModel
	}

	var messages []openai.ChatCompletionMessage
	if config.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: config.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: config.Temperature,
		MaxTokens:   config.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: provider returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
