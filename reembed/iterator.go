package reembed

import (
	"context"

	"github.com/poiesic/cellar/core"
)

const (
	// DefaultBatchSize is the default number of records embedded per request
	DefaultBatchSize = 100
)

// RecordIterator walks a slice of catalog records in fixed-size batches.
type RecordIterator struct {
	records   []*core.Record
	batchSize int
}

// NewRecordIterator creates a new record iterator.
// batchSize: number of records in each batch (<= 0 uses DefaultBatchSize)
func NewRecordIterator(records []*core.Record, batchSize int) *RecordIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &RecordIterator{
		records:   records,
		batchSize: batchSize,
	}
}

// Batches returns the number of batches ForEach will produce.
func (it *RecordIterator) Batches() int {
	return (len(it.records) + it.batchSize - 1) / it.batchSize
}

// ForEach calls fn for each batch along with the offset of its first record.
// Iteration stops on first error from fn or when all records are processed.
// Context cancellation is checked between batches.
func (it *RecordIterator) ForEach(ctx context.Context, fn func(offset int, batch []*core.Record) error) error {
	for i := 0; i < len(it.records); i += it.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(i+it.batchSize, len(it.records))
		if err := fn(i, it.records[i:end]); err != nil {
			return err
		}
	}
	return nil
}
