package classifier

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ChatAPI is the part of *openai.Client used by GPTConfirmer.
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type GPTConfirmer struct {
	client    ChatAPI
	model     string
	maxTokens int
	logger    *zap.Logger
}

func NewGPTConfirmer(client ChatAPI, model string, maxTokens int, logger *zap.Logger) *GPTConfirmer {
	if model == "" {
		model = openai.GPT4oMini
	}
	if maxTokens <= 0 {
		maxTokens = 50
	}
	return &GPTConfirmer{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

const confirmPrompt = `You check whether a piece of text matches a required format.

Format rule:
%s

Text:
%s

Answer with a JSON object and nothing else:
{"confirmed": true} if the text matches the rule, {"confirmed": false} otherwise.`

func (c *GPTConfirmer) Confirm(ctx context.Context, text, rule string) (bool, error) {
	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: fmt.Sprintf(confirmPrompt, rule, text),
				},
			},
			MaxTokens:   c.maxTokens,
			Temperature: 0,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		},
	)
	if err != nil {
		return false, fmt.Errorf("confirming format: %w", err)
	}

	if len(resp.Choices) == 0 {
		return false, fmt.Errorf("%w: no choices in response", ErrNoVerdict)
	}

	confirmed, err := parseVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		c.logger.Error("Failed to parse GPT verdict",
			zap.Error(err),
			zap.String("response", resp.Choices[0].Message.Content))
		return false, err
	}

	c.logger.Debug("Format verdict", zap.Bool("confirmed", confirmed))
	return confirmed, nil
}
