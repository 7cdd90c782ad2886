package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"rageval/src/log"
)

// Config configures an OpenAI compatible chat completion endpoint
type Config struct {
	APIKey      string
	BaseURL     string
	Temperature float32
}

// Client is a judge completer backed by the chat completions API
type Client struct {
	client      *goopenai.Client
	temperature float32
}

func NewClient(cfg Config) *Client {
	clientConfig := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Client{
		client:      goopenai.NewClientWithConfig(clientConfig),
		temperature: cfg.Temperature,
	}
}

// Complete requests a single JSON object response
func (c *Client) Complete(ctx context.Context, model, system, prompt string) (string, error) {
	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: c.temperature,
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		var apiErr *goopenai.APIError
		if errors.As(err, &apiErr) {
			log.Debug("chat completion rejected", "model", model, "status", apiErr.HTTPStatusCode, "code", apiErr.Code)
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == goopenai.FinishReasonLength {
		return "", errors.New("chat completion was truncated")
	}
	return choice.Message.Content, nil
}
