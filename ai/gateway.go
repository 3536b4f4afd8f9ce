package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/poiesic/cellar/core"
	"github.com/poiesic/cellar/vector"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Gateway turns text into unit-length query vectors.
//
// The underlying Embedder is built on first use. Concurrent first callers
// share a single construction. A successful construction is kept for the
// life of the Gateway; a failed one is not, so the next call tries again.
//
// Every failure to produce a vector is reported as
// core.ErrEmbeddingUnavailable, except a vector of the wrong length, which
// is core.ErrDimensionMismatch.
type Gateway struct {
	factory   EmbedderFactory
	group     singleflight.Group
	mu        sync.RWMutex
	embedder  Embedder
	limiter   *rate.Limiter
	dimension int
	dimOf     func() int
	logger    *slog.Logger
}

var _ Embedder = (*Gateway)(nil)

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway) error

// WithGatewayLogger sets a custom logger.
// Default is slog.Default().
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) error {
		if logger == nil {
			logger = slog.Default()
		}
		g.logger = logger
		return nil
	}
}

// WithGatewayRateLimit waits for a token before each model invocation.
// A limit of zero or less disables limiting.
func WithGatewayRateLimit(perSecond float64, burst int) GatewayOption {
	return func(g *Gateway) error {
		if perSecond <= 0 {
			g.limiter = nil
			return nil
		}
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		return nil
	}
}

// WithExpectedDimension rejects vectors whose length is not dim.
// Zero disables the check.
func WithExpectedDimension(dim int) GatewayOption {
	return func(g *Gateway) error {
		if dim < 0 {
			return fmt.Errorf("expected dimension cannot be negative: %d", dim)
		}
		g.dimension = dim
		return nil
	}
}

// WithDimensionSource reads the expected dimension from fn on every call,
// so it follows a catalog that is swapped at runtime. It takes precedence
// over WithExpectedDimension; fn returning zero disables the check.
func WithDimensionSource(fn func() int) GatewayOption {
	return func(g *Gateway) error {
		g.dimOf = fn
		return nil
	}
}

// NewGateway creates a gateway that builds its embedder with factory.
func NewGateway(factory EmbedderFactory, opts ...GatewayOption) (*Gateway, error) {
	if factory == nil {
		return nil, ErrFactoryRequired
	}
	g := &Gateway{
		factory: factory,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	g.logger = g.logger.With("component", "embedding-gateway")
	return g, nil
}

// NewGatewayFromConfig creates a gateway using the dimension and rate limit
// settings in config.
func NewGatewayFromConfig(factory EmbedderFactory, config *Config, opts ...GatewayOption) (*Gateway, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	base := []GatewayOption{
		WithExpectedDimension(config.Dimension),
		WithGatewayRateLimit(config.RequestsPerSecond, config.Burst),
	}
	return NewGateway(factory, append(base, opts...)...)
}

// Ready reports whether the embedder has been built.
func (g *Gateway) Ready() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.embedder != nil
}

// Warm builds the embedder now instead of on the first query.
func (g *Gateway) Warm(ctx context.Context) error {
	_, err := g.load(ctx)
	return err
}

// EmbedText returns the unit-length embedding of text.
func (g *Gateway) EmbedText(ctx context.Context, text string) ([]float32, error) {
	e, err := g.load(ctx)
	if err != nil {
		return nil, err
	}
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	raw, err := e.EmbedText(ctx, text)
	if err != nil {
		g.logger.Error("error generating embedding", "err", err)
		return nil, unavailable(err)
	}
	return g.finish(raw)
}

// EmbedTexts returns unit-length embeddings for texts, in order.
func (g *Gateway) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e, err := g.load(ctx)
	if err != nil {
		return nil, err
	}
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	raw, err := e.EmbedTexts(ctx, texts)
	if err != nil {
		g.logger.Error("error generating embeddings", "count", len(texts), "err", err)
		return nil, unavailable(err)
	}
	if len(raw) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts",
			core.ErrEmbeddingUnavailable, len(raw), len(texts))
	}

	out := make([][]float32, len(raw))
	for i, v := range raw {
		if out[i], err = g.finish(v); err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
	}
	return out, nil
}

func (g *Gateway) load(ctx context.Context) (Embedder, error) {
	g.mu.RLock()
	e := g.embedder
	g.mu.RUnlock()
	if e != nil {
		return e, nil
	}

	v, err, shared := g.group.Do("embedder", func() (any, error) {
		g.mu.RLock()
		existing := g.embedder
		g.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		// Callers waiting on this construction must not inherit the first
		// caller's cancellation.
		g.logger.Info("initializing embedder")
		built, err := g.factory(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if built == nil {
			return nil, ErrNilEmbedder
		}

		g.mu.Lock()
		g.embedder = built
		g.mu.Unlock()
		g.logger.Info("embedder ready")
		return built, nil
	})
	if err != nil {
		g.logger.Error("embedder initialization failed", "shared", shared, "err", err)
		return nil, unavailable(err)
	}
	return v.(Embedder), nil
}

func (g *Gateway) wait(ctx context.Context) error {
	if g.limiter == nil {
		if err := ctx.Err(); err != nil {
			return unavailable(err)
		}
		return nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func (g *Gateway) finish(raw []float32) ([]float32, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %w", core.ErrEmbeddingUnavailable, ErrEmptyEmbedding)
	}
	dim := g.dimension
	if g.dimOf != nil {
		dim = g.dimOf()
	}
	if dim > 0 && len(raw) != dim {
		return nil, fmt.Errorf("%w: model produced %d values, catalog uses %d",
			core.ErrDimensionMismatch, len(raw), dim)
	}
	return vector.Normalize(raw), nil
}

// unavailable marks err as an embedding failure unless it already is one.
func unavailable(err error) error {
	if errors.Is(err, core.ErrEmbeddingUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrEmbeddingUnavailable, err)
}
