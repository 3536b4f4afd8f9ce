package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
	assert.Equal(t, "paraphrase-multilingual-MiniLM-L12-v2", cfg.EmbeddingModel)
	assert.Equal(t, "none", cfg.Token)
	assert.Equal(t, 384, cfg.Dimension)
	assert.Zero(t, cfg.RequestsPerSecond)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestNewConfig(t *testing.T) {
	t.Run("with no options", func(t *testing.T) {
		cfg := NewConfig()
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("with custom host and model", func(t *testing.T) {
		cfg := NewConfig(
			WithEmbeddingHost("http://embed:8080/v1"),
			WithEmbeddingModel("text-embedding-3-small"),
			WithDimension(1536),
			WithToken("secret"),
		)

		assert.Equal(t, "http://embed:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
		assert.Equal(t, 1536, cfg.Dimension)
		assert.Equal(t, "secret", cfg.Token)
	})

	t.Run("with rate limit", func(t *testing.T) {
		cfg := NewConfig(WithRateLimit(5, 2))
		assert.Equal(t, 5.0, cfg.RequestsPerSecond)
		assert.Equal(t, 2, cfg.Burst)
	})
}

func TestConfigNormalize(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		expected string
	}{
		{name: "already has /v1", host: "http://localhost:11434/v1", expected: "http://localhost:11434/v1"},
		{name: "missing /v1", host: "http://localhost:11434", expected: "http://localhost:11434/v1"},
		{name: "has trailing slash", host: "http://localhost:11434/", expected: "http://localhost:11434/v1"},
		{name: "empty host", host: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{EmbeddingHost: tt.host}
			cfg.Normalize()
			assert.Equal(t, tt.expected, cfg.EmbeddingHost)
		})
	}

	t.Run("fills token, burst and timeout", func(t *testing.T) {
		cfg := &Config{}
		cfg.Normalize()
		assert.Equal(t, "none", cfg.Token)
		assert.Equal(t, 1, cfg.Burst)
		assert.Equal(t, DefaultTimeout, cfg.Timeout)
	})
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			EmbeddingHost:  "http://localhost:11434",
			EmbeddingModel: "paraphrase-multilingual-MiniLM-L12-v2",
			Dimension:      384,
		}
	}

	t.Run("valid config", func(t *testing.T) {
		cfg := valid()
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
	})

	t.Run("missing embedding host", func(t *testing.T) {
		cfg := valid()
		cfg.EmbeddingHost = ""
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "EmbeddingHost")
	})

	t.Run("missing embedding model", func(t *testing.T) {
		cfg := valid()
		cfg.EmbeddingModel = ""
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "EmbeddingModel")
	})

	t.Run("negative dimension", func(t *testing.T) {
		cfg := valid()
		cfg.Dimension = -1
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "Dimension")
	})

	t.Run("zero dimension disables check", func(t *testing.T) {
		cfg := valid()
		cfg.Dimension = 0
		assert.NoError(t, cfg.Validate())
	})

	t.Run("negative rate", func(t *testing.T) {
		cfg := valid()
		cfg.RequestsPerSecond = -1
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "RequestsPerSecond")
	})

	t.Run("negative timeout", func(t *testing.T) {
		cfg := valid()
		cfg.Timeout = -time.Second
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "Timeout")
	})
}

func TestConfigValidate_Integration(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())

	cfg = DefaultConfig()
	require.NoError(t, cfg.Validate())
}
