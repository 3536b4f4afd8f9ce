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


package ai

import (
	"errors"
	"strings"
	"time"
)

// Default embedding settings. The model is multilingual so queries and
// catalog text need not share a language.
const (
	DefaultEmbeddingHost  = "http://localhost:11434/v1"
	DefaultEmbeddingModel = "paraphrase-multilingual-MiniLM-L12-v2"
	DefaultDimension      = 384
	DefaultTimeout        = 30 * time.Second
)

// Config holds configuration for AI service providers.
type Config struct {
	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	EmbeddingHost string `yaml:"embedding_host"`

	// EmbeddingModel is the model identifier to use for text embeddings.
	// It must be the model the catalog embeddings were produced with.
	EmbeddingModel string `yaml:"embedding_model"`

	// Token is the API token. Local servers accept any value.
	// Default: "none"
	Token string `yaml:"token"`

	// Dimension is the expected embedding length. Zero disables the check.
	// Default: 384
	Dimension int `yaml:"dimension"`

	// RequestsPerSecond limits calls to the embedding service.
	// Zero means unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the number of calls allowed at once when rate limited.
	// Default: 1
	Burst int `yaml:"burst"`

	// Timeout bounds each request to the embedding service.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithToken sets the API token.
func WithToken(token string) ConfigOption {
	return func(c *Config) {
		c.Token = token
	}
}

// WithDimension sets the expected embedding length.
func WithDimension(dim int) ConfigOption {
	return func(c *Config) {
		c.Dimension = dim
	}
}

// WithRateLimit limits calls to the embedding service.
func WithRateLimit(perSecond float64, burst int) ConfigOption {
	return func(c *Config) {
		c.RequestsPerSecond = perSecond
		c.Burst = burst
	}
}

// DefaultConfig returns a Config with sensible defaults for a local
// OpenAI-compatible embedding server.
func DefaultConfig() *Config {
	return &Config{
		EmbeddingHost:  DefaultEmbeddingHost,
		EmbeddingModel: DefaultEmbeddingModel,
		Token:          "none",
		Dimension:      DefaultDimension,
		Burst:          1,
		Timeout:        DefaultTimeout,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
// This is the recommended way to create a Config with custom settings.
//
// Example:
//
//	cfg := NewConfig(
//	    WithEmbeddingHost("http://localhost:8080/v1"),
//	    WithEmbeddingModel("text-embedding-3-small"),
//	    WithDimension(1536),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// It automatically adds the /v1 suffix to the host if missing, which is required
// by most OpenAI-compatible APIs (Ollama, LocalAI, vLLM, etc).
func (c *Config) Normalize() {
	if c.EmbeddingHost != "" && !strings.HasSuffix(c.EmbeddingHost, "/v1") {
		c.EmbeddingHost = strings.TrimSuffix(c.EmbeddingHost, "/")
		c.EmbeddingHost = c.EmbeddingHost + "/v1"
	}
	if c.Token == "" {
		c.Token = "none"
	}
	if c.Burst < 1 {
		c.Burst = 1
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	if c.Dimension < 0 {
		return errors.New("ai config: Dimension cannot be negative")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("ai config: RequestsPerSecond cannot be negative")
	}
	if c.Timeout < 0 {
		return errors.New("ai config: Timeout cannot be negative")
	}
	return nil
}
