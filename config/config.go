// Package config loads cellar's YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/cellar/ai"
	"github.com/poiesic/cellar/catalog"
	"github.com/poiesic/cellar/reembed"
	"github.com/poiesic/cellar/search"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up by LoadFromDir.
const FileName = "cellar.yaml"

// ErrInvalidConfig indicates a configuration value is out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for the cellar CLI.
type Config struct {
	Source  catalog.Source  `yaml:"source"`
	AI      ai.Config       `yaml:"ai"`
	Search  SearchConfig    `yaml:"search"`
	Storage StorageConfig   `yaml:"storage"`
	Watch   WatchConfig     `yaml:"watch"`
	Embed   *reembed.Config `yaml:"embed"`
	Logging LoggingConfig   `yaml:"logging"`
}

// SearchConfig holds ranking configuration.
type SearchConfig struct {
	TopK      int `yaml:"top_k"`
	Workers   int `yaml:"workers"` // 0 uses one per CPU, 1 ranks sequentially
	ShardSize int `yaml:"shard_size"`
}

// StorageConfig holds snapshot database configuration.
type StorageConfig struct {
	// Path is the badger directory. Empty disables snapshots.
	Path string `yaml:"path"`
}

// WatchConfig holds source watching configuration.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Source: catalog.Source{
			CSV:        "wine_data.csv",
			Embeddings: "wine_embeddings.json",
		},
		AI: *ai.DefaultConfig(),
		Search: SearchConfig{
			TopK:      search.DefaultTopK,
			ShardSize: search.DefaultShardSize,
		},
		Watch: WatchConfig{
			Debounce: 250 * time.Millisecond,
		},
		Embed: reembed.DefaultConfig(),
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; keys absent from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.Embed == nil {
		cfg.Embed = reembed.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromDir loads cellar.yaml from dir, falling back to defaults.
func LoadFromDir(dir string) (*Config, error) {
	return Load(filepath.Join(dir, FileName))
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks that values are usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Source.CSV) == "" || strings.TrimSpace(c.Source.Embeddings) == "" {
		return fmt.Errorf("%w: source csv and embeddings are required", ErrInvalidConfig)
	}
	if c.Search.TopK < 0 {
		return fmt.Errorf("%w: search.top_k must not be negative", ErrInvalidConfig)
	}
	if c.Search.Workers < 0 || c.Search.ShardSize < 0 {
		return fmt.Errorf("%w: search workers and shard_size must not be negative", ErrInvalidConfig)
	}
	if c.Watch.Enabled && c.Watch.Debounce <= 0 {
		return fmt.Errorf("%w: watch.debounce must be positive", ErrInvalidConfig)
	}
	if err := c.AI.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
