package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/cellar/ai"
	"github.com/poiesic/cellar/catalog"
	"github.com/poiesic/cellar/core"
)

// DefaultTopK is the number of results returned when no other limit is set.
const DefaultTopK = 10

// CatalogSource provides the catalog a query runs against.
// *catalog.Store satisfies it.
type CatalogSource interface {
	Current() (*catalog.Catalog, error)
}

// Filters are the user-facing restrictions for a filtered description search.
// Empty strings and a nil MaxPrice mean "no restriction".
type Filters struct {
	Country  string
	Variety  string
	MaxPrice *float64
}

// IsZero reports whether f restricts nothing.
func (f Filters) IsZero() bool {
	spec := f.spec()
	return spec.Country == "" && spec.Variety == "" && spec.MaxPrice == nil
}

func (f Filters) spec() core.FilterSpec {
	return core.FilterSpec{
		Country:  strings.TrimSpace(f.Country),
		Variety:  strings.TrimSpace(f.Variety),
		MaxPrice: f.MaxPrice,
	}
}

// Searcher answers description, filtered and favorites queries.
type Searcher struct {
	catalogs CatalogSource
	embedder ai.Embedder
	ranker   *Ranker
	ownRank  bool
	topK     int
	monitor  SearchMonitor
	logger   *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithTopK sets the number of results per query.
// Default is DefaultTopK.
func WithTopK(k int) Option {
	return func(s *Searcher) error {
		s.topK = k
		return nil
	}
}

// WithRanker supplies a shared ranker. The Searcher does not close it.
func WithRanker(r *Ranker) Option {
	return func(s *Searcher) error {
		if r == nil {
			return errors.New("ranker cannot be nil")
		}
		if s.ownRank && s.ranker != nil {
			s.ranker.Close()
		}
		s.ranker = r
		s.ownRank = false
		return nil
	}
}

// WithMonitor observes every query run by the Searcher.
func WithMonitor(m SearchMonitor) Option {
	return func(s *Searcher) error {
		if m == nil {
			m = &noopMonitor{}
		}
		s.monitor = m
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(catalogs CatalogSource, embedder ai.Embedder, opts ...Option) (*Searcher, error) {
	if catalogs == nil {
		return nil, ErrCatalogRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	s := &Searcher{
		catalogs: catalogs,
		embedder: embedder,
		topK:     DefaultTopK,
		monitor:  &noopMonitor{},
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			s.Close()
			return nil, err
		}
	}
	if s.ranker == nil {
		r, err := NewRanker(WithRankerLogger(s.logger))
		if err != nil {
			return nil, err
		}
		s.ranker = r
		s.ownRank = true
	}
	s.logger = s.logger.With("component", "searcher")
	return s, nil
}

// Close releases the ranker if the Searcher created it.
func (s *Searcher) Close() {
	if s.ownRank && s.ranker != nil {
		s.ranker.Close()
		s.ranker = nil
	}
}

// TopK returns the configured result count.
func (s *Searcher) TopK() int {
	return s.topK
}

// ByDescription ranks the catalog against free text.
func (s *Searcher) ByDescription(ctx context.Context, query string) ([]core.ScoredResult, error) {
	return s.describe(ctx, KindDescription, query, core.FilterSpec{})
}

// ByDescriptionWithFilters ranks the catalog against free text, keeping
// only entries that pass the filters.
func (s *Searcher) ByDescriptionWithFilters(ctx context.Context, query string, filters Filters) ([]core.ScoredResult, error) {
	return s.describe(ctx, KindFiltered, query, filters.spec())
}

// ByFavorites ranks the catalog against the average vector of the selected
// entries. The selected entries never appear in the result.
func (s *Searcher) ByFavorites(ctx context.Context, indices []int) ([]core.ScoredResult, error) {
	s.monitor.Start(KindFavorites, fmt.Sprint(indices))

	if len(indices) == 0 {
		return nil, s.fail(core.ErrNoSelection)
	}
	cat, err := s.catalogs.Current()
	if err != nil {
		return nil, s.fail(err)
	}

	avg := cat.Average(indices)
	if avg == nil {
		return nil, s.fail(core.ErrNoAverage)
	}
	s.monitor.AfterQueryVector(avg)

	spec := core.FilterSpec{Exclude: core.ExcludeIndices(indices...)}
	return s.rank(ctx, cat, avg, spec)
}

func (s *Searcher) describe(ctx context.Context, kind QueryKind, query string, spec core.FilterSpec) ([]core.ScoredResult, error) {
	s.monitor.Start(kind, query)

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, s.fail(core.ErrEmptyQuery)
	}
	if err := core.ValidateFilterSpec(spec); err != nil {
		return nil, s.fail(err)
	}

	// Pin the catalog before the potentially slow embedding call.
	cat, err := s.catalogs.Current()
	if err != nil {
		return nil, s.fail(err)
	}

	vec, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		s.logger.Error("error generating embedding for query", "query", query, "err", err)
		if !errors.Is(err, core.ErrEmbeddingUnavailable) && !errors.Is(err, core.ErrDimensionMismatch) {
			err = fmt.Errorf("%w: %w", core.ErrEmbeddingUnavailable, err)
		}
		return nil, s.fail(err)
	}
	s.monitor.AfterQueryVector(vec)

	return s.rank(ctx, cat, vec, spec)
}

func (s *Searcher) rank(ctx context.Context, cat *catalog.Catalog, vec core.Vector, spec core.FilterSpec) ([]core.ScoredResult, error) {
	s.monitor.BeforeRanking(spec, s.topK)

	results, err := s.ranker.TopK(ctx, cat, vec, s.topK, spec)
	if err != nil {
		s.logger.Error("error ranking catalog", "err", err)
		return nil, s.fail(err)
	}

	s.logger.Debug("search complete", "results", len(results))
	s.monitor.Finish(results)
	return results, nil
}

func (s *Searcher) fail(err error) error {
	s.monitor.Failed(err)
	return err
}
