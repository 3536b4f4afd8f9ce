package search

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/cellar/catalog"
	"github.com/poiesic/cellar/core"
	"github.com/poiesic/cellar/vector"
)

// DefaultShardSize is the number of catalog entries scored per pool task.
const DefaultShardSize = 4096

// Ranker scores every eligible catalog entry against a query vector and
// returns the best k. The scan is exact; there is no approximate index.
//
// Catalogs larger than the shard size are scored in parallel on a worker
// pool. Each shard keeps its own top k and the shards are merged with the
// same ordering, so the result never depends on how work was split.
type Ranker struct {
	pool      *ants.Pool
	shardSize int
	logger    *slog.Logger
}

// RankerOption configures a Ranker.
type RankerOption func(*Ranker) error

// WithPoolSize sets the worker pool size for parallel scoring.
// Default is runtime.NumCPU(). A size of 1 scores sequentially.
func WithPoolSize(size int) RankerOption {
	return func(r *Ranker) error {
		if size < 1 {
			size = 1
		}
		if r.pool != nil {
			r.pool.Release()
			r.pool = nil
		}
		if size == 1 {
			return nil
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		r.pool = pool
		return nil
	}
}

// WithShardSize sets how many entries each pool task scores.
// Default is DefaultShardSize.
func WithShardSize(size int) RankerOption {
	return func(r *Ranker) error {
		if size < 1 {
			return fmt.Errorf("shard size must be positive, got %d", size)
		}
		r.shardSize = size
		return nil
	}
}

// WithRankerLogger sets a custom logger.
// Default is slog.Default().
func WithRankerLogger(logger *slog.Logger) RankerOption {
	return func(r *Ranker) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewRanker creates a ranker. Call Close to release its worker pool.
func NewRanker(opts ...RankerOption) (*Ranker, error) {
	r := &Ranker{
		shardSize: DefaultShardSize,
		logger:    slog.Default(),
	}
	if err := WithPoolSize(runtime.NumCPU())(r); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			r.Close()
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "ranker")
	return r, nil
}

// Close releases the worker pool.
func (r *Ranker) Close() {
	if r.pool != nil {
		r.pool.Release()
		r.pool = nil
	}
}

// TopK returns up to k entries of cat most similar to query, best first.
//
// An entry is eligible when it is not excluded, has a record, and passes the
// country, variety and price filters. Country and variety filters only
// reject records that have a different value; records without the attribute
// pass. The price filter only rejects records with a numeric price above the
// bound. Ties are broken by ascending index. A k of zero or less returns an
// empty result.
func (r *Ranker) TopK(ctx context.Context, cat *catalog.Catalog, query core.Vector, k int, spec core.FilterSpec) ([]core.ScoredResult, error) {
	if cat == nil {
		return nil, ErrCatalogRequired
	}
	if len(query) != cat.Dimension() {
		return nil, fmt.Errorf("%w: query has %d values, catalog uses %d",
			core.ErrDimensionMismatch, len(query), cat.Dimension())
	}
	if k <= 0 {
		return []core.ScoredResult{}, nil
	}

	n := cat.Len()
	var (
		hits []hit
		err  error
	)
	if r.pool == nil || n <= r.shardSize {
		hits, err = scoreRange(ctx, cat, query, spec, 0, n, k)
	} else {
		hits, err = r.scoreSharded(ctx, cat, query, spec, k)
	}
	if err != nil {
		return nil, err
	}

	results := make([]core.ScoredResult, len(hits))
	for i, h := range hits {
		results[i] = core.ScoredResult{Record: cat.Record(h.index), Score: h.score}
	}
	return results, nil
}

type hit struct {
	index int
	score float64
}

// compareHits orders by score descending, NaN last, then index ascending.
func compareHits(a, b hit) int {
	aNaN, bNaN := math.IsNaN(a.score), math.IsNaN(b.score)
	switch {
	case aNaN && !bNaN:
		return 1
	case bNaN && !aNaN:
		return -1
	case !aNaN && a.score != b.score:
		return cmp.Compare(b.score, a.score)
	}
	return cmp.Compare(a.index, b.index)
}

func topHits(hits []hit, k int) []hit {
	slices.SortFunc(hits, compareHits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func (r *Ranker) scoreSharded(ctx context.Context, cat *catalog.Catalog, query core.Vector, spec core.FilterSpec, k int) ([]hit, error) {
	n := cat.Len()
	shards := (n + r.shardSize - 1) / r.shardSize
	partial := make([][]hit, shards)
	errs := make([]error, shards)

	var wg sync.WaitGroup
	for s := 0; s < shards; s++ {
		start := s * r.shardSize
		end := min(start+r.shardSize, n)
		wg.Add(1)
		err := r.pool.Submit(func() {
			defer wg.Done()
			partial[s], errs[s] = scoreRange(ctx, cat, query, spec, start, end, k)
		})
		if err != nil {
			wg.Done()
			r.logger.Warn("pool rejected shard, scoring inline", "shard", s, "err", err)
			partial[s], errs[s] = scoreRange(ctx, cat, query, spec, start, end, k)
		}
	}
	wg.Wait()

	merged := make([]hit, 0, shards*k)
	for s := range partial {
		if errs[s] != nil {
			return nil, errs[s]
		}
		merged = append(merged, partial[s]...)
	}
	r.logger.Debug("merged shards", "shards", shards, "candidates", len(merged))
	return topHits(merged, k), nil
}

// scoreRange scores entries in [start, end) and keeps the best k.
func scoreRange(ctx context.Context, cat *catalog.Catalog, query core.Vector, spec core.FilterSpec, start, end, k int) ([]hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hits := make([]hit, 0, min(end-start, 256))
	for i := start; i < end; i++ {
		if spec.Excluded(i) {
			continue
		}
		rec := cat.Record(i)
		if rec == nil || !matches(rec, spec) {
			continue
		}
		score, err := vector.CosineSimilarity(query, cat.Vector(i))
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit{index: i, score: score})
	}
	return topHits(hits, k), nil
}

func matches(rec *core.Record, spec core.FilterSpec) bool {
	if spec.Country != "" {
		if c := rec.Country(); c != "" && !strings.EqualFold(c, spec.Country) {
			return false
		}
	}
	if spec.Variety != "" {
		if v := rec.Variety(); v != "" && !strings.EqualFold(v, spec.Variety) {
			return false
		}
	}
	if spec.MaxPrice != nil {
		if p, ok := rec.Price(); ok && p > *spec.MaxPrice {
			return false
		}
	}
	return true
}
