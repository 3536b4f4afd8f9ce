package reembed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/cellar/ai"
	"github.com/poiesic/cellar/core"
	"github.com/poiesic/cellar/vector"
)

// BatchProcessor embeds batches of catalog records.
type BatchProcessor struct {
	embedder ai.Embedder
	backoff  Backoff
	logger   *slog.Logger
}

// NewBatchProcessor creates a batch processor that retries each embedding
// call on the given schedule. A nil logger uses slog.Default().
func NewBatchProcessor(embedder ai.Embedder, backoff Backoff, logger *slog.Logger) *BatchProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchProcessor{
		embedder: embedder,
		backoff:  backoff,
		logger:   logger,
	}
}

// Process returns one unit-length vector per record, in record order.
func (bp *BatchProcessor) Process(ctx context.Context, records []*core.Record) ([]core.Vector, error) {
	if len(records) == 0 {
		return nil, nil
	}

	texts := make([]string, len(records))
	for i, record := range records {
		texts[i] = DocumentText(record)
	}

	embeddings, err := Retry(ctx, bp.backoff, bp.logger, func(ctx context.Context) ([][]float32, error) {
		out, err := bp.embedder.EmbedTexts(ctx, texts)
		if err == nil && len(out) != len(texts) {
			err = fmt.Errorf("%w: expected %d, got %d", ErrEmbeddingCount, len(texts), len(out))
		}
		return out, err
	})
	if err != nil {
		return nil, fmt.Errorf("embedding %d records: %w", len(records), err)
	}

	vectors := make([]core.Vector, len(embeddings))
	for i, e := range embeddings {
		vectors[i] = vector.Normalize(e)
	}
	return vectors, nil
}
