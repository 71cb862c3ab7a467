package reply

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Fixed generation parameters
const (
	Temperature = 0.7
	MaxTokens   = 1000
)

// OpenAIConfig configures the OpenAI completer
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAICompleter implements Completer with the chat completions API
type OpenAICompleter struct {
	client openai.Client
	model  string
}

// NewOpenAICompleter creates a completer. The client never retries.
func NewOpenAICompleter(cfg OpenAIConfig) *OpenAICompleter {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = string(openai.ChatModelGPT4o)
	}

	return &OpenAICompleter{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Complete sends one system and one user message
func (c *OpenAICompleter) Complete(ctx context.Context, system, user string) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(Temperature),
		MaxTokens:   openai.Int(MaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", errors.New("no choices in completion")
	}
	return completion.Choices[0].Message.Content, nil
}
