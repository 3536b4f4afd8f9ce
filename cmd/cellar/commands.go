package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/poiesic/cellar"
	"github.com/poiesic/cellar/catalog"
	"github.com/poiesic/cellar/config"
	"github.com/poiesic/cellar/core"
	"github.com/poiesic/cellar/reembed"
	"github.com/poiesic/cellar/search"
	"github.com/urfave/cli/v2"
)

// openEngine builds an Engine from the configuration and command flags.
func openEngine(c *cli.Context, cfg *config.Config) (*cellar.Engine, error) {
	rankerOpts := []search.RankerOption{search.WithShardSize(cfg.Search.ShardSize)}
	if cfg.Search.Workers > 0 {
		rankerOpts = append(rankerOpts, search.WithPoolSize(cfg.Search.Workers))
	}

	opts := []cellar.EngineOption{
		cellar.WithAIConfig(&cfg.AI),
		cellar.WithEmbedderFactory(newEmbedderFactory(&cfg.AI)),
		cellar.WithRankerOptions(rankerOpts...),
		cellar.WithSearchOptions(search.WithTopK(intOr(c, "top-k", cfg.Search.TopK))),
	}
	if cfg.Storage.Path != "" {
		opts = append(opts, cellar.WithSnapshotPath(cfg.Storage.Path))
	}
	return cellar.NewEngine(c.Context, cfg.Source, opts...)
}

func importCommand(c *cli.Context) error {
	cfg := appConfig(c)
	if cfg.Storage.Path == "" {
		return errors.New("a snapshot database path is required (--db or storage.path)")
	}

	engine, err := openEngine(c, cfg)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	defer engine.Close()

	// Opening the engine already stores a snapshot of freshly parsed sources.
	meta, ok := engine.StoredSnapshot()
	if !ok {
		meta, err = engine.Save(c.Context)
		if err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
	}

	cat, err := engine.Catalog()
	if err != nil {
		return err
	}
	for _, w := range cat.Warnings() {
		fmt.Fprintf(c.App.ErrWriter, "warning: %v\n", w)
	}
	fmt.Fprintf(c.App.Writer, "Imported %d wines, %d embeddings (dimension %d) into %s\n",
		meta.RecordCount, meta.VectorCount, meta.Dimension, cfg.Storage.Path)
	fmt.Fprintf(c.App.Writer, "Fingerprint: %016x\n", uint64(meta.Fingerprint))
	return nil
}

func searchCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return errors.New("a description is required")
	}

	engine, err := openEngine(c, appConfig(c))
	if err != nil {
		return err
	}
	defer engine.Close()

	filters := search.Filters{
		Country: c.String("country"),
		Variety: c.String("variety"),
	}
	if c.IsSet("max-price") {
		filters.MaxPrice = core.Price(c.Float64("max-price"))
	}

	results, err := searchText(c.Context, engine.Searcher(), query, filters)
	if err != nil {
		return err
	}
	return printResults(c.App.Writer, results, c.Bool("json"))
}

// searchText runs a description query, applying filters only when set.
func searchText(ctx context.Context, s *search.Searcher, query string, filters search.Filters) ([]core.ScoredResult, error) {
	if filters.IsZero() {
		return s.ByDescription(ctx, query)
	}
	return s.ByDescriptionWithFilters(ctx, query, filters)
}

func favoritesCommand(c *cli.Context) error {
	indices, err := parseIndices(c.Args().Slice())
	if err != nil {
		return err
	}

	engine, err := openEngine(c, appConfig(c))
	if err != nil {
		return err
	}
	defer engine.Close()

	results, err := engine.Searcher().ByFavorites(c.Context, indices)
	if err != nil {
		return err
	}
	return printResults(c.App.Writer, results, c.Bool("json"))
}

func facetsCommand(c *cli.Context) error {
	engine, err := openEngine(c, appConfig(c))
	if err != nil {
		return err
	}
	defer engine.Close()

	facets, err := engine.Facets()
	if err != nil {
		return err
	}

	if c.Bool("json") {
		return json.NewEncoder(c.App.Writer).Encode(facets)
	}
	fmt.Fprintf(c.App.Writer, "Countries (%d):\n", len(facets.Countries))
	for _, country := range facets.Countries {
		fmt.Fprintf(c.App.Writer, "  %s\n", country)
	}
	fmt.Fprintf(c.App.Writer, "Varieties (%d):\n", len(facets.Varieties))
	for _, variety := range facets.Varieties {
		fmt.Fprintf(c.App.Writer, "  %s\n", variety)
	}
	return nil
}

func embedCommand(c *cli.Context) error {
	cfg := appConfig(c)
	if catalog.IsRemote(cfg.Source.CSV) {
		return errors.New("embed reads a local CSV file")
	}

	out := c.String("out")
	if out == "" {
		out = cfg.Source.Embeddings
	}
	if catalog.IsRemote(out) {
		return errors.New("embed writes a local file")
	}

	embedConfig := &reembed.Config{
		BatchSize:      intOr(c, "batch-size", cfg.Embed.BatchSize),
		ReportInterval: intOr(c, "report-interval", cfg.Embed.ReportInterval),
		MaxRetries:     intOr(c, "max-retries", cfg.Embed.MaxRetries),
		RetryDelay:     durationOr(c, "retry-delay", cfg.Embed.RetryDelay),
		Workers:        intOr(c, "workers", cfg.Embed.Workers),
	}
	if embedConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if embedConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if embedConfig.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	embedder, err := newEmbedderFactory(&cfg.AI)(c.Context)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	reembedder, err := reembed.NewReembedder(embedder, embedConfig, c.App.ErrWriter)
	if err != nil {
		return err
	}

	in, err := os.Open(cfg.Source.CSV)
	if err != nil {
		return err
	}
	defer in.Close()

	fmt.Fprintf(c.App.ErrWriter, "Catalog: %s\n", cfg.Source.CSV)
	fmt.Fprintf(c.App.ErrWriter, "Embedding host: %s\n", cfg.AI.EmbeddingHost)
	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", cfg.AI.EmbeddingModel)
	fmt.Fprintln(c.App.ErrWriter)

	// Write next to the target and rename so a watcher never sees a partial file
	tmp, err := os.CreateTemp(filepath.Dir(out), ".embeddings-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := reembedder.Generate(c.Context, in, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "Wrote %d embeddings to %s\n", n, out)
	return nil
}

func parseIndices(args []string) ([]int, error) {
	var indices []int
	for _, arg := range args {
		for _, field := range strings.FieldsFunc(arg, func(r rune) bool { return r == ',' || r == ' ' }) {
			i, err := strconv.Atoi(field)
			if err != nil {
				return nil, fmt.Errorf("invalid wine index %q", field)
			}
			indices = append(indices, i)
		}
	}
	return indices, nil
}

func printResults(w io.Writer, results []core.ScoredResult, asJSON bool) error {
	if asJSON {
		if results == nil {
			results = []core.ScoredResult{}
		}
		return json.NewEncoder(w).Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintln(w, "No matching wines")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(w, "%2d. [%.3f] #%d %s\n", i+1, r.Score, r.Record.Index, describe(r.Record))
	}
	return nil
}

func describe(rec *core.Record) string {
	title := rec.Title()
	if title == "" {
		title = "(untitled)"
	}
	var details []string
	for _, v := range []string{rec.Variety(), rec.Country()} {
		if v != "" {
			details = append(details, v)
		}
	}
	if price, ok := rec.Price(); ok {
		details = append(details, "$"+strconv.FormatFloat(price, 'f', -1, 64))
	}
	if len(details) == 0 {
		return title
	}
	return title + " (" + strings.Join(details, ", ") + ")"
}

func replCommand(c *cli.Context) error {
	cfg := appConfig(c)
	engine, err := openEngine(c, cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, cancel := context.WithCancel(c.Context)

	var wg sync.WaitGroup
	if c.Bool("watch") || cfg.Watch.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := engine.Watch(ctx, nil, catalog.WatchDebounce(cfg.Watch.Debounce))
			if err != nil {
				fmt.Fprintf(c.App.ErrWriter, "watch stopped: %v\n", err)
			}
		}()
	}
	defer wg.Wait()
	defer cancel()

	r := &repl{
		engine: engine,
		out:    c.App.Writer,
		json:   c.Bool("json"),
	}
	return r.run(ctx, c.App.Reader)
}
