package openai

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/poiesic/cellar/ai"
	"github.com/poiesic/cellar/core"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// requestBatchSize is how many texts go into one request to the server.
const requestBatchSize = 64

// Embedder implements ai.Embedder against an OpenAI-compatible /embeddings
// endpoint. Vectors are returned as the server sends them; the gateway
// normalizes them.
type Embedder struct {
	embedder embeddings.Embedder
	model    string
	logger   *slog.Logger
}

func newEmbedder(config *ai.Config) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(config.Token),
		openai.WithEmbeddingModel(config.EmbeddingModel),
		openai.WithHTTPClient(&http.Client{Timeout: config.Timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrEmbeddingUnavailable, err)
	}

	// Wine notes are multi-line in some datasets; the model sees them flat.
	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(requestBatchSize),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrEmbeddingUnavailable, err)
	}

	return &Embedder{
		embedder: embedder,
		model:    config.EmbeddingModel,
		logger: slog.Default().With("component", "openai-embedder",
			"model", config.EmbeddingModel, "host", config.EmbeddingHost),
	}, nil
}

// NewEmbedder connects an embedder using the provided configuration.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config)
}

// Factory returns an ai.EmbedderFactory that builds an embedder from config
// when first asked. Pair it with ai.Gateway for lazy initialization.
func Factory(config *ai.Config) ai.EmbedderFactory {
	return func(ctx context.Context) (ai.Embedder, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return newEmbedder(config)
	}
}

// Model returns the model identifier sent with each request.
func (e *Embedder) Model() string {
	return e.model
}

// EmbedText embeds a single query or document.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: server returned no embedding", core.ErrEmbeddingUnavailable)
	}
	return vectors[0], nil
}

// EmbedTexts embeds texts in order. Large inputs are split into several
// requests.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debug("requesting embeddings", "count", len(texts))

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Error("embedding request failed", "count", len(texts), "err", err)
		return nil, fmt.Errorf("%w: %w", core.ErrEmbeddingUnavailable, err)
	}
	return vectors, nil
}
