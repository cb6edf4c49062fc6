package generation

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	defaultModel          = "gpt-4o-mini"
	defaultRequestTimeout = 120 * time.Second
)

var errMissingAPIKey = errors.New("generation: backend API key is required")

// BackendConfig configures the OpenAI-compatible text backend. BaseURL may
// point at any compatible gateway; model identity and credentials are
// deployment concerns, not pipeline ones.
type BackendConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIBackend implements TextGenerator over the chat-completion API.
// Failed calls are reported, never retried: retry is an author action.
type OpenAIBackend struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewOpenAIBackend constructs the adapter.
func NewOpenAIBackend(cfg BackendConfig, logger *zap.Logger) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, errMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIBackend{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// CompleteText issues one chat completion and returns the raw text of the
// first choice.
func (b *OpenAIBackend) CompleteText(ctx context.Context, req CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	request := openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	}

	response, err := b.client.CreateChatCompletion(ctx, request)
	if err != nil {
		b.logger.Error("chat completion failed",
			zap.String("model", b.model),
			zap.Error(err))
		return "", err
	}
	if len(response.Choices) == 0 || response.Choices[0].Message.Content == "" {
		b.logger.Warn("chat completion returned no choices", zap.String("model", b.model))
		return "", errors.New("generation: empty completion response")
	}

	return response.Choices[0].Message.Content, nil
}
