// Copyright 2026 The deep-search-agent Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the YAML configuration for the
// cache engine and its embedding provider.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wisdom-pan/deep-search-agent/internal/cache"
	"github.com/wisdom-pan/deep-search-agent/internal/embedding"
)

// Config is the full application configuration file.
type Config struct {
	Cache     CacheConfig     `yaml:"cache"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// CacheConfig mirrors the cache engine's recognized options.
type CacheConfig struct {
	// KeyStrategy is one of simple, global, context_aware,
	// context_and_keyword_aware.
	KeyStrategy string `yaml:"key_strategy"`

	// ContextWindow is the number of conversation turns folded into
	// context-aware fingerprints.
	ContextWindow int `yaml:"context_window"`

	// MemoryOnly disables the disk tier.
	MemoryOnly bool `yaml:"memory_only"`

	MaxMemorySize int    `yaml:"max_memory_size"`
	MaxDiskSize   int    `yaml:"max_disk_size"`
	DiskPath      string `yaml:"disk_path"`

	// ThreadSafe serializes cache operations. Defaults to true.
	ThreadSafe *bool `yaml:"thread_safe"`

	EnableVectorSimilarity bool    `yaml:"enable_vector_similarity"`
	SimilarityThreshold    float64 `yaml:"similarity_threshold"`
	MaxVectors             int     `yaml:"max_vectors"`

	// BatchSize and FlushIntervalSeconds tune the disk write-behind
	// path.
	BatchSize            int `yaml:"batch_size"`
	FlushIntervalSeconds int `yaml:"flush_interval"`

	// DiscardQualityThreshold drops demoted items rated below it.
	// Unset (0) discards anything negatively rated on demotion.
	DiscardQualityThreshold int `yaml:"discard_quality_threshold"`
}

// EmbeddingConfig configures the HTTP embedding provider.
type EmbeddingConfig struct {
	// Endpoint is the OpenAI-compatible embeddings URL.
	Endpoint string `yaml:"endpoint"`

	// Model is the embedding model identifier.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the bearer
	// token. The key itself never appears in the config file.
	APIKeyEnv string `yaml:"api_key_env"`

	// TimeoutSeconds bounds each embedding request.
	TimeoutSeconds int `yaml:"timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// ToFile switches logging from stdout to rotating files.
	ToFile bool `yaml:"to_file"`

	// Dir is the log directory when ToFile is set.
	Dir string `yaml:"dir"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`
}

// Load reads, parses, and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the cache engine would refuse at
// construction, so misconfiguration fails before any backend is opened.
func (c *Config) Validate() error {
	if c.Cache.FlushIntervalSeconds < 0 {
		return fmt.Errorf("flush_interval cannot be negative, got %d", c.Cache.FlushIntervalSeconds)
	}
	if c.Embedding.TimeoutSeconds < 0 {
		return fmt.Errorf("embedding timeout cannot be negative, got %d", c.Embedding.TimeoutSeconds)
	}
	if c.Cache.EnableVectorSimilarity && c.Embedding.Endpoint == "" {
		return fmt.Errorf("enable_vector_similarity requires an embedding endpoint")
	}

	// File-level checks mirror the engine's construction rules for any
	// explicitly set value; zero values take engine defaults later.
	cc := c.Cache
	if cc.KeyStrategy != "" && cache.StrategyByName(cc.KeyStrategy, cc.ContextWindow) == nil {
		return fmt.Errorf("unknown key strategy %q", cc.KeyStrategy)
	}
	if cc.ContextWindow < 0 {
		return fmt.Errorf("context_window cannot be negative, got %d", cc.ContextWindow)
	}
	if cc.MaxMemorySize < 0 || cc.MaxDiskSize < 0 || cc.MaxVectors < 0 || cc.BatchSize < 0 {
		return fmt.Errorf("cache sizes cannot be negative")
	}
	if cc.SimilarityThreshold < 0 || cc.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in [0,1], got %v", cc.SimilarityThreshold)
	}
	return nil
}

// CacheConfig converts the file settings into the cache engine's
// configuration, attaching the embedding provider.
func (c *Config) CacheConfig(provider embedding.Provider) cache.Config {
	return cache.Config{
		KeyStrategy:             c.Cache.KeyStrategy,
		ContextWindow:           c.Cache.ContextWindow,
		MemoryOnly:              c.Cache.MemoryOnly,
		MaxMemorySize:           c.Cache.MaxMemorySize,
		MaxDiskSize:             c.Cache.MaxDiskSize,
		DiskPath:                c.Cache.DiskPath,
		ThreadSafe:              c.Cache.ThreadSafe,
		EnableVectorSimilarity:  c.Cache.EnableVectorSimilarity,
		SimilarityThreshold:     c.Cache.SimilarityThreshold,
		MaxVectors:              c.Cache.MaxVectors,
		BatchSize:               c.Cache.BatchSize,
		FlushInterval:           time.Duration(c.Cache.FlushIntervalSeconds) * time.Second,
		DiscardQualityThreshold: c.Cache.DiscardQualityThreshold,
		Provider:                provider,
	}
}

// EmbeddingProvider builds the HTTP provider from the embedding
// section, reading the API key from the configured environment
// variable. Returns nil when similarity is disabled.
func (c *Config) EmbeddingProvider() (embedding.Provider, error) {
	if !c.Cache.EnableVectorSimilarity {
		return nil, nil
	}
	apiKey := ""
	if c.Embedding.APIKeyEnv != "" {
		apiKey = os.Getenv(c.Embedding.APIKeyEnv)
	}
	return embedding.NewHTTPProvider(embedding.HTTPConfig{
		Endpoint: c.Embedding.Endpoint,
		Model:    c.Embedding.Model,
		APIKey:   apiKey,
		Timeout:  time.Duration(c.Embedding.TimeoutSeconds) * time.Second,
	})
}
