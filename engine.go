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

package cellar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/poiesic/cellar/ai"
	"github.com/poiesic/cellar/ai/openai"
	"github.com/poiesic/cellar/catalog"
	"github.com/poiesic/cellar/search"
	"github.com/poiesic/cellar/storage"
	"github.com/poiesic/cellar/storage/badger"
)

// Engine wires a catalog, the embedding gateway and a searcher together.
// The catalog can be swapped at runtime; queries in flight keep the
// catalog they started with.
type Engine struct {
	source   catalog.Source
	store    *catalog.Store
	gateway  *ai.Gateway
	ranker   *search.Ranker
	searcher *search.Searcher
	repo     storage.SnapshotRepository
	ownsRepo bool
	loadOpts []catalog.Option
	logger   *slog.Logger

	// stored is the metadata of the last snapshot written or restored.
	storedMu sync.Mutex
	stored   *storage.SnapshotMeta

	closeOnce sync.Once
	closeErr  error
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions) error

type engineOptions struct {
	aiConfig     *ai.Config
	factory      ai.EmbedderFactory
	snapshotPath string
	repo         storage.SnapshotRepository
	searchOpts   []search.Option
	rankerOpts   []search.RankerOption
	loadOpts     []catalog.Option
	logger       *slog.Logger
}

// WithAIConfig sets the embedding service configuration.
// Default is ai.DefaultConfig().
func WithAIConfig(config *ai.Config) EngineOption {
	return func(o *engineOptions) error {
		if config == nil {
			return errors.New("ai config cannot be nil")
		}
		o.aiConfig = config
		return nil
	}
}

// WithEmbedderFactory replaces the OpenAI-compatible embedder.
func WithEmbedderFactory(factory ai.EmbedderFactory) EngineOption {
	return func(o *engineOptions) error {
		if factory == nil {
			return ai.ErrFactoryRequired
		}
		o.factory = factory
		return nil
	}
}

// WithSnapshotPath keeps parsed catalogs in a badger database at path.
// The Engine owns the database and closes it.
func WithSnapshotPath(path string) EngineOption {
	return func(o *engineOptions) error {
		o.snapshotPath = path
		return nil
	}
}

// WithSnapshotRepository keeps parsed catalogs in repo. The caller owns repo.
func WithSnapshotRepository(repo storage.SnapshotRepository) EngineOption {
	return func(o *engineOptions) error {
		o.repo = repo
		return nil
	}
}

// WithSearchOptions passes options through to the Searcher.
func WithSearchOptions(opts ...search.Option) EngineOption {
	return func(o *engineOptions) error {
		o.searchOpts = append(o.searchOpts, opts...)
		return nil
	}
}

// WithRankerOptions passes options through to the Ranker.
func WithRankerOptions(opts ...search.RankerOption) EngineOption {
	return func(o *engineOptions) error {
		o.rankerOpts = append(o.rankerOpts, opts...)
		return nil
	}
}

// WithLoadOptions passes options through to every catalog load.
func WithLoadOptions(opts ...catalog.Option) EngineOption {
	return func(o *engineOptions) error {
		o.loadOpts = append(o.loadOpts, opts...)
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// NewEngine loads a catalog and prepares it for queries.
//
// With a snapshot repository the catalog is taken from the stored snapshot
// when its fingerprint matches the sources, when src is empty, or when the
// sources cannot be read. Otherwise the sources are parsed and the result is
// saved as the new snapshot.
//
// The embedding model is not contacted until the first description query.
func NewEngine(ctx context.Context, src catalog.Source, opts ...EngineOption) (*Engine, error) {
	o := &engineOptions{
		aiConfig: ai.DefaultConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.factory == nil {
		o.factory = openai.Factory(o.aiConfig)
	}

	e := &Engine{
		source:   src,
		repo:     o.repo,
		loadOpts: append([]catalog.Option{catalog.WithLogger(o.logger)}, o.loadOpts...),
		logger:   o.logger.With("component", "engine"),
	}

	if e.repo == nil && o.snapshotPath != "" {
		repo, err := badger.NewSnapshotRepository(o.snapshotPath)
		if err != nil {
			return nil, fmt.Errorf("opening snapshot database: %w", err)
		}
		e.repo = repo
		e.ownsRepo = true
	}

	cat, err := e.openCatalog(ctx)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.store = catalog.NewStore(cat)

	if o.aiConfig.Dimension != 0 && o.aiConfig.Dimension != cat.Dimension() {
		e.logger.Warn("configured embedding dimension differs from catalog, using catalog",
			"configured", o.aiConfig.Dimension, "catalog", cat.Dimension())
	}
	e.gateway, err = ai.NewGatewayFromConfig(o.factory, o.aiConfig,
		ai.WithGatewayLogger(o.logger),
		ai.WithDimensionSource(e.catalogDimension),
	)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.ranker, err = search.NewRanker(append([]search.RankerOption{search.WithRankerLogger(o.logger)}, o.rankerOpts...)...)
	if err != nil {
		e.Close()
		return nil, err
	}

	searchOpts := append([]search.Option{search.WithLogger(o.logger), search.WithRanker(e.ranker)}, o.searchOpts...)
	e.searcher, err = search.NewSearcher(e.store, e.gateway, searchOpts...)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.logger.Info("engine ready", "records", cat.RecordCount(), "embeddings", cat.Len(),
		"dimension", cat.Dimension(), "fingerprint", cat.Fingerprint())
	return e, nil
}

// catalogDimension is the dimension of the catalog queries currently run
// against, or zero before one is loaded.
func (e *Engine) catalogDimension() int {
	cat, err := e.store.Current()
	if err != nil {
		return 0
	}
	return cat.Dimension()
}

func (e *Engine) hasSource() bool {
	return e.source.CSV != "" && e.source.Embeddings != ""
}

func (e *Engine) openCatalog(ctx context.Context) (*catalog.Catalog, error) {
	if e.repo != nil {
		cat, err := e.fromSnapshot(ctx)
		if err != nil || cat != nil {
			return cat, err
		}
	} else if !e.hasSource() {
		return nil, fmt.Errorf("%w: %w", ErrNoCatalog, catalog.ErrSourceRequired)
	}

	cat, err := catalog.Load(ctx, e.source, e.loadOpts...)
	if err != nil {
		return nil, err
	}
	e.saveSnapshot(ctx, cat)
	return cat, nil
}

// fromSnapshot returns the stored catalog if it can be used, nil if the
// sources should be parsed instead.
func (e *Engine) fromSnapshot(ctx context.Context) (*catalog.Catalog, error) {
	meta, err := e.repo.CurrentMeta(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		if !e.hasSource() {
			return nil, fmt.Errorf("%w: no sources and no stored snapshot", ErrNoCatalog)
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if e.hasSource() {
		fp, err := catalog.Fingerprint(ctx, e.source, e.loadOpts...)
		switch {
		case err != nil:
			e.logger.Warn("catalog sources unavailable, using stored snapshot", "err", err)
		case fp != meta.Fingerprint:
			e.logger.Info("sources changed since last snapshot", "stored", meta.Fingerprint, "current", fp)
			return nil, nil
		}
	}

	snap, err := e.repo.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.FromSnapshot(snap, e.loadOpts...)
	if err != nil {
		return nil, err
	}
	e.setStored(meta)
	e.logger.Debug("catalog restored from snapshot", "fingerprint", meta.Fingerprint, "created", meta.CreatedAt)
	return cat, nil
}

// saveSnapshot stores cat if a repository is configured. Failures are
// logged; the catalog is still usable.
func (e *Engine) saveSnapshot(ctx context.Context, cat *catalog.Catalog) {
	if e.repo == nil {
		return
	}
	meta, err := e.repo.SaveSnapshot(ctx, cat.Snapshot())
	if err != nil {
		e.logger.Warn("failed to save catalog snapshot", "err", err)
		return
	}
	e.setStored(meta)
}

func (e *Engine) setStored(meta storage.SnapshotMeta) {
	e.storedMu.Lock()
	defer e.storedMu.Unlock()
	e.stored = &meta
}

// StoredSnapshot returns the metadata of the stored snapshot when it holds
// the catalog currently being served. ok is false when nothing is stored
// or the stored snapshot is stale.
func (e *Engine) StoredSnapshot() (storage.SnapshotMeta, bool) {
	e.storedMu.Lock()
	stored := e.stored
	e.storedMu.Unlock()
	if stored == nil {
		return storage.SnapshotMeta{}, false
	}
	cat, err := e.store.Current()
	if err != nil || cat.Fingerprint() != stored.Fingerprint {
		return storage.SnapshotMeta{}, false
	}
	return *stored, true
}

// Searcher returns the query adapters.
func (e *Engine) Searcher() *search.Searcher {
	return e.searcher
}

// Gateway returns the embedding gateway.
func (e *Engine) Gateway() *ai.Gateway {
	return e.gateway
}

// Store returns the store holding the current catalog.
func (e *Engine) Store() *catalog.Store {
	return e.store
}

// Catalog returns the current catalog.
func (e *Engine) Catalog() (*catalog.Catalog, error) {
	return e.store.Current()
}

// Facets returns the countries and varieties of the current catalog.
func (e *Engine) Facets() (catalog.Facets, error) {
	cat, err := e.store.Current()
	if err != nil {
		return catalog.Facets{}, err
	}
	return cat.Facets(), nil
}

// Reload parses the sources again and swaps the result in. On failure the
// current catalog stays in place.
func (e *Engine) Reload(ctx context.Context) (*catalog.Catalog, error) {
	if !e.hasSource() {
		return nil, catalog.ErrSourceRequired
	}
	cat, err := catalog.Load(ctx, e.source, e.loadOpts...)
	if err != nil {
		return nil, err
	}
	e.store.Replace(cat)
	e.saveSnapshot(ctx, cat)
	e.logger.Info("catalog reloaded", "records", cat.RecordCount(), "fingerprint", cat.Fingerprint())
	return cat, nil
}

// Save stores the current catalog as the snapshot.
func (e *Engine) Save(ctx context.Context) (storage.SnapshotMeta, error) {
	if e.repo == nil {
		return storage.SnapshotMeta{}, ErrNoSnapshotStore
	}
	cat, err := e.store.Current()
	if err != nil {
		return storage.SnapshotMeta{}, err
	}
	meta, err := e.repo.SaveSnapshot(ctx, cat.Snapshot())
	if err != nil {
		return storage.SnapshotMeta{}, err
	}
	e.setStored(meta)
	return meta, nil
}

// Watch reloads the catalog whenever a local source file changes, until
// ctx is cancelled. hook, if not nil, sees every reload attempt.
func (e *Engine) Watch(ctx context.Context, hook func(*catalog.Catalog, error), opts ...catalog.WatchOption) error {
	if !e.hasSource() {
		return catalog.ErrSourceRequired
	}

	base := []catalog.WatchOption{
		catalog.WatchLogger(e.logger),
		catalog.WatchLoadOptions(e.loadOpts...),
	}
	opts = append(base, opts...)
	opts = append(opts, catalog.WatchHook(func(c *catalog.Catalog, err error) {
		if c != nil {
			e.saveSnapshot(ctx, c)
		}
		if hook != nil {
			hook(c, err)
		}
	}))

	w, err := catalog.NewWatcher(e.store, e.source, opts...)
	if err != nil {
		return err
	}
	defer w.Close()

	err = w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the searcher, the ranker and an owned snapshot database.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.searcher != nil {
			e.searcher.Close()
		}
		if e.ranker != nil {
			e.ranker.Close()
		}
		if e.repo != nil && e.ownsRepo {
			if err := e.repo.Close(); err != nil {
				e.logger.Error("error closing snapshot database", "err", err)
				e.closeErr = err
			}
		}
	})
	return e.closeErr
}
