package gemini

import (
	"context"
	"errors"

	"google.golang.org/genai"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/scoring"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/pkg/logger_i"
)

type llmClient struct {
	client    *genai.Client
	modelName string
	logger    *logger_i.Logger
}

func NewGeminiClient(ctx context.Context, apikey string, modelName string) (scoring.Provider, error) {
	logger := logger_i.NewLogger("llm_gemini")

	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apikey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		logger.Error("Error creating Gemini client:", "error", err)
		return nil, err
	}
	logger.Info("Gemini client created", "model", modelName)

	return &llmClient{client: c, modelName: modelName, logger: logger}, nil
}

func (c *llmClient) Model() string {
	return c.modelName
}

func (c *llmClient) Generate(ctx context.Context, system string, user string) (string, error) {
	systemInstruction := &genai.Content{
		Parts: []*genai.Part{
			{Text: system},
		},
	}

	contentConfig := &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction,
		ResponseMIMEType:  "application/json",
	}

	result, err := c.client.Models.GenerateContent(
		ctx,
		c.modelName,
		genai.Text(user),
		contentConfig,
	)
	if err != nil {
		mapped := mapError(err)
		var statusErr *scoring.StatusError
		if errors.As(mapped, &statusErr) {
			c.logger.Warn("Gemini request failed", "status", statusErr.Code)
		}
		return "", mapped
	}
	return result.Text(), nil
}

// mapError converts the SDK's failure into the status form the scoring
// client classifies. genai returns APIError by value, not as a pointer.
func mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &scoring.StatusError{Code: apiErr.Code, Message: apiErr.Message}
	}
	return err
}
