// Package llmservice wraps the external language-model inference call
// behind a single-method interface with an explicit timeout.
package llmservice

import (
	"context"
	"errors"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"filesearch/internal/config"
)

// Inferencer runs one bounded prompt against a language model.
type Inferencer interface {
	Infer(ctx context.Context, prompt string, timeout time.Duration) (string, error)
}

// Client holds an OpenAI-compatible model constructed once at startup.
type Client struct {
	llm llms.Model
}

func NewClient(cfg *config.LLMConfig) (*Client, error) {
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.Key),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, err
	}
	return &Client{llm: llm}, nil
}

// Infer sends prompt and returns the first choice's text.
func (c *Client) Infer(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: prompt}},
		},
	}
	res, err := c.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", errors.New("empty model response")
	}
	return res.Choices[0].Content, nil
}
