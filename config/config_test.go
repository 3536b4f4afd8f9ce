package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/cellar/ai"
	"github.com/poiesic/cellar/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "wine_data.csv", cfg.Source.CSV)
	assert.Equal(t, "wine_embeddings.json", cfg.Source.Embeddings)
	assert.Equal(t, ai.DefaultEmbeddingModel, cfg.AI.EmbeddingModel)
	assert.Equal(t, search.DefaultTopK, cfg.Search.TopK)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Watch.Enabled)
	require.NotNil(t, cfg.Embed)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	content := `
source:
  csv: https://example.com/wines.csv
  embeddings: https://example.com/wines.json
ai:
  embedding_host: http://gpu-box:8080
  requests_per_second: 5
search:
  top_k: 25
watch:
  enabled: true
  debounce: 1s
embed:
  batch_size: 32
  retry_delay: 500ms
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/wines.csv", cfg.Source.CSV)
	assert.Equal(t, "http://gpu-box:8080/v1", cfg.AI.EmbeddingHost, "host is normalized")
	assert.Equal(t, ai.DefaultEmbeddingModel, cfg.AI.EmbeddingModel, "unset keys keep defaults")
	assert.Equal(t, float64(5), cfg.AI.RequestsPerSecond)
	assert.Equal(t, 25, cfg.Search.TopK)
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, time.Second, cfg.Watch.Debounce)
	assert.Equal(t, 32, cfg.Embed.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Embed.RetryDelay)
	assert.Equal(t, 3, cfg.Embed.MaxRetries, "unset embed keys keep defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "source: [unterminated"},
		{"negative top k", "search:\n  top_k: -1\n"},
		{"empty source", "source:\n  csv: \"\"\n"},
		{"zero debounce", "watch:\n  enabled: true\n  debounce: 0s\n"},
		{"negative dimension", "ai:\n  dimension: -3\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadFromDir(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, search.DefaultTopK, cfg.Search.TopK)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("search:\n  top_k: 3\n"), 0644))
	cfg, err = LoadFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Search.TopK)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	cfg := DefaultConfig()
	cfg.Storage.Path = "/var/lib/cellar"
	cfg.Search.TopK = 7
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/cellar", loaded.Storage.Path)
	assert.Equal(t, 7, loaded.Search.TopK)
	assert.Equal(t, cfg.Embed.RetryDelay, loaded.Embed.RetryDelay)
}
