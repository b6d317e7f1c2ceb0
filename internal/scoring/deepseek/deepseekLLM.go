package deepseek

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/scoring"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/pkg/logger_i"
)

// llmClient talks to the DeepSeek chat completions endpoint. DeepSeek exposes
// an OpenAI compatible API, so the OpenAI SDK is pointed at its base URL.
type llmClient struct {
	client    openai.Client
	modelName string
	logger    *logger_i.Logger
}

func NewDeepSeekClient(baseURL string, apikey string, modelName string) scoring.Provider {
	c := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apikey),
		// The scoring client owns retries, the SDK must not add its own.
		option.WithMaxRetries(0),
	)
	return &llmClient{
		client:    c,
		modelName: modelName,
		logger:    logger_i.NewLogger("llm_deepseek"),
	}
}

func (c *llmClient) Model() string {
	return c.modelName
}

func (c *llmClient) Generate(ctx context.Context, system string, user string) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			c.logger.Warn("DeepSeek request failed", "status", apiErr.StatusCode)
			return "", &scoring.StatusError{Code: apiErr.StatusCode, Message: apiErr.Message}
		}
		return "", err
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", scoring.ErrBadResponse)
	}
	return completion.Choices[0].Message.Content, nil
}
