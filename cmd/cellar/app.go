package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/poiesic/cellar/ai/openai"
	"github.com/poiesic/cellar/config"
	"github.com/urfave/cli/v2"
)

// newEmbedderFactory builds the embedding client. Tests replace it.
var newEmbedderFactory = openai.Factory

const configKey = "config"

func newApp() *cli.App {
	return &cli.App{
		Name:  "cellar",
		Usage: "Semantic search over a wine catalog",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   config.FileName,
			},
			&cli.StringFlag{
				Name:  "csv",
				Usage: "Catalog CSV path or URL",
			},
			&cli.StringFlag{
				Name:  "embeddings",
				Usage: "Catalog embeddings path or URL",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB snapshot directory",
			},
			&cli.StringFlag{
				Name:  "embedding-host",
				Usage: "Embedding service host URL",
			},
			&cli.StringFlag{
				Name:  "embedding-model",
				Usage: "Embedding model name",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:   "import",
				Usage:  "Parse the catalog sources and store them as a snapshot",
				Action: importCommand,
			},
			{
				Name:      "search",
				Usage:     "Find wines matching a description",
				ArgsUsage: "<description>",
				Action:    searchCommand,
				Flags:     append(filterFlags(), resultFlags()...),
			},
			{
				Name:      "favorites",
				Usage:     "Find wines similar to a set of favorites",
				ArgsUsage: "<index> [index...]",
				Action:    favoritesCommand,
				Flags:     resultFlags(),
			},
			{
				Name:   "facets",
				Usage:  "List the countries and varieties in the catalog",
				Action: facetsCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print JSON"},
				},
			},
			{
				Name:   "embed",
				Usage:  "Generate the embeddings file for the catalog CSV",
				Action: embedCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Output path (defaults to the configured embeddings path)",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of records to embed in each request",
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N records",
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed requests",
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of batches embedded concurrently",
					},
				},
			},
			{
				Name:   "repl",
				Usage:  "Answer queries read from standard input",
				Action: replCommand,
				Flags: append(resultFlags(),
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "Reload the catalog when local source files change",
					},
				),
			},
		},
	}
}

func filterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "country", Usage: "Only wines from this country"},
		&cli.StringFlag{Name: "variety", Usage: "Only wines of this variety"},
		&cli.Float64Flag{Name: "max-price", Usage: "Only wines at or below this price"},
	}
}

func resultFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "top-k", Aliases: []string{"k"}, Usage: "Number of results"},
		&cli.BoolFlag{Name: "json", Usage: "Print JSON"},
	}
}

// setup loads the configuration, applies global flag overrides and
// configures logging.
func setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	if c.IsSet("csv") {
		cfg.Source.CSV = c.String("csv")
	}
	if c.IsSet("embeddings") {
		cfg.Source.Embeddings = c.String("embeddings")
	}
	if c.IsSet("db") {
		cfg.Storage.Path = c.String("db")
	}
	if c.IsSet("embedding-host") {
		cfg.AI.EmbeddingHost = c.String("embedding-host")
	}
	if c.IsSet("embedding-model") {
		cfg.AI.EmbeddingModel = c.String("embedding-model")
	}
	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if c.App.Metadata == nil {
		c.App.Metadata = map[string]any{}
	}
	c.App.Metadata[configKey] = cfg

	return setupLogger(cfg.Logging.Level)
}

func appConfig(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[configKey].(*config.Config); ok {
		return cfg
	}
	return config.DefaultConfig()
}

func setupLogger(levelStr string) error {
	var level slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

// durationOr returns the flag value if set, otherwise def.
func durationOr(c *cli.Context, name string, def time.Duration) time.Duration {
	if c.IsSet(name) {
		return c.Duration(name)
	}
	return def
}

// intOr returns the flag value if set, otherwise def.
func intOr(c *cli.Context, name string, def int) int {
	if c.IsSet(name) {
		return c.Int(name)
	}
	return def
}
