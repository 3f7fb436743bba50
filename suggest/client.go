// Package suggest offers LLM-assisted emission factor suggestions for bill
// entries. The feature is optional; without an API key the wizard simply runs
// without it.
package suggest

import (
	"context"
	"errors"
	"fmt"

	"github.com/santiagomed/carbo/logger"
	tellm "github.com/santiagomed/tellm/sdk"
	"github.com/sashabaranov/go-openai"
)

// Config holds everything the OpenAI client needs.
type Config struct {
	APIKey   string
	Model    string
	BatchID  string
	TellmURL string
}

// CompletionClient abstracts the chat completion call so tests can script
// responses.
type CompletionClient interface {
	GetCompletion(ctx context.Context, prompt, responseType string) (string, error)
}

// OpenAIClient calls the OpenAI chat completion API and logs every exchange
// to tellm.
type OpenAIClient struct {
	openAIClient *openai.Client
	config       *Config
	tellmClient  *tellm.Client
	logger       logger.Logger
}

// NewOpenAIClient creates a completion client. The API key is required.
func NewOpenAIClient(cfg *Config, log logger.Logger) (CompletionClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &OpenAIClient{
		openAIClient: openai.NewClient(cfg.APIKey),
		config:       cfg,
		tellmClient:  tellm.NewClient(cfg.TellmURL),
		logger:       log,
	}, nil
}

// GetCompletion sends a request to the OpenAI API and returns the generated
// text.
func (c *OpenAIClient) GetCompletion(ctx context.Context, prompt, responseType string) (string, error) {
	resp, err := c.openAIClient.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.config.Model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: getSystemPrompt(),
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatType(responseType)},
		},
	)

	e := &openai.APIError{}
	if errors.As(err, &e) {
		switch e.HTTPStatusCode {
		case 401:
			return "", fmt.Errorf("unauthorized: invalid OpenAI API key")
		case 429:
			return "", fmt.Errorf("rate limited by OpenAI API")
		case 500:
			return "", fmt.Errorf("OpenAI server error")
		default:
			return "", fmt.Errorf("OpenAI API error: %v", e)
		}
	}
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from OpenAI")
	}
	res := resp.Choices[0].Message.Content
	err = c.tellmClient.Log(c.config.BatchID, prompt, res)
	if err != nil {
		c.logger.WithField("warning", err).Warn("failed to log to tellm")
	}

	return res, nil
}
