// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/cellar/ai"
	"github.com/poiesic/cellar/catalog"
	"github.com/poiesic/cellar/core"
)

// Config holds configuration for generating embeddings.
type Config struct {
	// BatchSize is the number of records sent in each embedding request
	BatchSize int `yaml:"batch_size"`

	// ReportInterval is how often to report progress (number of records)
	ReportInterval int `yaml:"report_interval"`

	// MaxRetries is the maximum number of attempts for each batch
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration `yaml:"retry_delay"`

	// Workers is the number of batches embedded concurrently
	Workers int `yaml:"workers"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
		Workers:        max(runtime.NumCPU()/2, 1),
	}
}

// Reembedder generates embeddings for every record of a catalog CSV.
type Reembedder struct {
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	logger    *slog.Logger
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr), may be nil
func NewReembedder(embedder ai.Embedder, config *Config, progress io.Writer) (*Reembedder, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}

	logger := slog.Default().With("component", "reembedder")
	backoff := Backoff{Attempts: config.MaxRetries, Base: config.RetryDelay}
	return &Reembedder{
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(embedder, backoff, logger),
		logger:    logger,
	}, nil
}

// Run embeds records and returns vectors aligned with them by position.
// Batches run concurrently on a worker pool; the first failure cancels the
// rest.
func (r *Reembedder) Run(ctx context.Context, records []*core.Record) ([]core.Vector, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	pool, err := ants.NewPool(max(r.config.Workers, 1))
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	iter := NewRecordIterator(records, r.config.BatchSize)
	fmt.Fprintf(r.progress, "Embedding %d wines in %d batches (batch size: %d)\n",
		len(records), iter.Batches(), r.config.BatchSize)

	tracker := NewProgressTracker(r.progress, len(records), r.config.ReportInterval)
	tracker.Start()

	vectors := make([]core.Vector, len(records))
	var wg sync.WaitGroup
	err = iter.ForEach(ctx, func(offset int, batch []*core.Record) error {
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			out, err := r.processor.Process(ctx, batch)
			if err != nil {
				cancel(fmt.Errorf("batch at %d: %w", offset, err))
				return
			}
			copy(vectors[offset:], out)
			tracker.Increment(len(batch))
		})
		if submitErr != nil {
			wg.Done()
			return submitErr
		}
		return nil
	})
	wg.Wait()

	if cause := context.Cause(ctx); cause != nil {
		return nil, cause
	}
	if err != nil {
		return nil, err
	}

	stats := tracker.Finish()
	r.logger.Info("embeddings generated", "records", len(records),
		"elapsed", stats.Elapsed.Round(time.Millisecond), "per_second", stats.Rate)
	return vectors, nil
}

// Generate reads a catalog CSV, embeds every record and writes the
// embeddings file. It returns the number of vectors written.
func (r *Reembedder) Generate(ctx context.Context, csv io.Reader, out io.Writer) (int, error) {
	records, err := catalog.ReadRecords(csv)
	if err != nil {
		return 0, err
	}

	vectors, err := r.Run(ctx, records)
	if err != nil {
		return 0, err
	}

	dimension := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dimension {
			return 0, fmt.Errorf("%w: vector %d has %d elements, expected %d",
				core.ErrDimensionMismatch, i, len(v), dimension)
		}
	}

	if err := catalog.WriteEmbeddings(out, vectors, dimension); err != nil {
		return 0, err
	}
	return len(vectors), nil
}
