// Package llm wraps the generation and embedding models behind langchaingo.
package llm

import (
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/zulandar/switchyard/internal/config"
)

const defaultOllamaURL = "http://localhost:11434"

// NewModel builds the chat model for the configured provider.
func NewModel(cfg config.LLMConfig) (llms.Model, error) {
	switch cfg.Provider {
	case "openai", "":
		opts := []openai.Option{
			openai.WithModel(cfg.Model),
			openai.WithToken(cfg.APIKey),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		m, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("llm: openai: %w", err)
		}
		return m, nil
	case "ollama":
		m, err := ollama.New(ollama.WithServerURL(ollamaURL(cfg)), ollama.WithModel(cfg.Model))
		if err != nil {
			return nil, fmt.Errorf("llm: ollama: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
}

// NewEmbedder builds the embedder used for indexing and retrieval.
func NewEmbedder(cfg config.LLMConfig) (embeddings.Embedder, error) {
	var client embeddings.EmbedderClient
	switch cfg.Provider {
	case "openai", "":
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithEmbeddingModel(cfg.EmbeddingModel),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		c, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("llm: openai embedder: %w", err)
		}
		client = c
	case "ollama":
		model := cfg.EmbeddingModel
		if model == "" {
			model = cfg.Model
		}
		c, err := ollama.New(ollama.WithServerURL(ollamaURL(cfg)), ollama.WithModel(model))
		if err != nil {
			return nil, fmt.Errorf("llm: ollama embedder: %w", err)
		}
		client = c
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
	e, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(32))
	if err != nil {
		return nil, fmt.Errorf("llm: embedder: %w", err)
	}
	return e, nil
}

func ollamaURL(cfg config.LLMConfig) string {
	if cfg.BaseURL != "" {
		return cfg.BaseURL
	}
	return defaultOllamaURL
}
