// Package embedding wraps the external embedding capability behind a
// single-method interface. The vector computation itself is a black box;
// this package only owns client construction and timeouts.
package embedding

import (
	"context"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"filesearch/internal/config"
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Client adapts a langchaingo embedder and applies a call timeout. The
// client is constructed once at process start and passed by reference;
// nothing here is lazily initialized.
type Client struct {
	impl    *embeddings.EmbedderImpl
	timeout time.Duration
}

// NewOpenAIClient builds a client against an OpenAI-compatible endpoint.
func NewOpenAIClient(cfg *config.LLMConfig, timeout time.Duration) (*Client, error) {
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.Key),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, err
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, err
	}
	return &Client{impl: embedder, timeout: timeout}, nil
}

// NewOllamaClient builds a client against a local Ollama server.
func NewOllamaClient(cfg *config.LLMConfig, timeout time.Duration) (*Client, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, err
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, err
	}
	return &Client{impl: embedder, timeout: timeout}, nil
}

// Embed computes the vector for text, bounded by the configured timeout.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.impl.EmbedQuery(ctx, text)
}
