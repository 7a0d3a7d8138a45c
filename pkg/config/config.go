// Package config provides configuration loading for ragcore.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (RAGCORE_PIPELINE_CHUNK_SIZE, ...)
//  2. YAML config file
//  3. Defaults
package config

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spacechat/ragcore/pkg/embeddings"
	"github.com/spacechat/ragcore/pkg/rag"
)

// ErrInvalidConfig indicates configuration that fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root configuration.
type Config struct {
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// PipelineConfig tunes chunking and retrieval.
type PipelineConfig struct {
	ChunkSize int `koanf:"chunk_size"`

	// ChunkOverlap is a pointer so an explicit zero in the file survives
	// defaulting; absent means 100.
	ChunkOverlap *int `koanf:"chunk_overlap"`
	TopK           int     `koanf:"top_k"`
	ScoreThreshold float64 `koanf:"score_threshold"`
	QueueSize      int     `koanf:"queue_size"`
}

// Options converts the pipeline section into service options.
func (p PipelineConfig) Options() rag.Options {
	return rag.Options{
		ChunkSize:      p.ChunkSize,
		ChunkOverlap:   p.ChunkOverlap,
		TopK:           p.TopK,
		ScoreThreshold: p.ScoreThreshold,
		QueueSize:      p.QueueSize,
	}
}

// EmbeddingConfig selects the embedding endpoint and model.
type EmbeddingConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  string `koanf:"api_key"`
}

// ServiceConfig converts the embedding section into the embedding service's
// own configuration type.
func (e EmbeddingConfig) ServiceConfig() embeddings.Config {
	return embeddings.Config{
		BaseURL: e.BaseURL,
		Model:   e.Model,
		APIKey:  e.APIKey,
	}
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`
}

// Build constructs a zap logger from the section.
func (l LoggingConfig) Build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: logging.level: %v", ErrInvalidConfig, err)
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.Encoding = l.Format
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// applyDefaults fills missing values.
func applyDefaults(cfg *Config) {
	if cfg.Pipeline.ChunkSize == 0 {
		cfg.Pipeline.ChunkSize = 500
	}
	if cfg.Pipeline.ChunkOverlap == nil {
		overlap := 100
		cfg.Pipeline.ChunkOverlap = &overlap
	}
	if cfg.Pipeline.TopK == 0 {
		cfg.Pipeline.TopK = 5
	}
	if cfg.Pipeline.QueueSize == 0 {
		cfg.Pipeline.QueueSize = 16
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:8080/v1"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Pipeline.ChunkSize <= 0 {
		return fmt.Errorf("%w: pipeline.chunk_size must be positive", ErrInvalidConfig)
	}
	if c.Pipeline.ChunkOverlap != nil && *c.Pipeline.ChunkOverlap < 0 {
		return fmt.Errorf("%w: pipeline.chunk_overlap must not be negative", ErrInvalidConfig)
	}
	if c.Pipeline.TopK <= 0 {
		return fmt.Errorf("%w: pipeline.top_k must be positive", ErrInvalidConfig)
	}
	if c.Pipeline.ScoreThreshold < 0 || c.Pipeline.ScoreThreshold > 1 {
		return fmt.Errorf("%w: pipeline.score_threshold must be in [0, 1]", ErrInvalidConfig)
	}
	if err := c.Embedding.ServiceConfig().Validate(); err != nil {
		return err
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging.level: %v", ErrInvalidConfig, err)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("%w: logging.format must be json or console", ErrInvalidConfig)
	}
	return nil
}
