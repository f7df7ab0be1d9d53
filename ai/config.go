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
)

// Config holds configuration for AI service providers.
type Config struct {
	// CompletionHost is the base URL for the chat completion service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	CompletionHost string

	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	EmbeddingHost string

	// SummarizerHost is the base URL for the summarization service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	SummarizerHost string

	// CompletionModel is the model identifier to use for chat completions.
	// Example: "qwen2.5:3b", "gpt-4o-mini"
	CompletionModel string

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "embeddinggemma", "text-embedding-3-small"
	EmbeddingModel string

	// SummarizerModel is the model identifier to use for summarization.
	// Example: "qwen2.5:3b", "gpt-4o-mini"
	SummarizerModel string

	// MaxTokens caps the length of generated completions.
	// Default: 1024
	MaxTokens int

	// Temperature is the sampling temperature for completions.
	// Default: 0.7
	Temperature float64
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithCompletionHost sets the completion service host URL.
func WithCompletionHost(host string) ConfigOption {
	return func(c *Config) {
		c.CompletionHost = host
	}
}

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithSummarizerHost sets the summarizer service host URL.
func WithSummarizerHost(host string) ConfigOption {
	return func(c *Config) {
		c.SummarizerHost = host
	}
}

// WithHost sets completion, embedding, and summarizer hosts to the same URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.CompletionHost = host
		c.EmbeddingHost = host
		c.SummarizerHost = host
	}
}

// WithCompletionModel sets the completion model identifier.
func WithCompletionModel(model string) ConfigOption {
	return func(c *Config) {
		c.CompletionModel = model
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithSummarizerModel sets the summarizer model identifier.
func WithSummarizerModel(model string) ConfigOption {
	return func(c *Config) {
		c.SummarizerModel = model
	}
}

// WithMaxTokens sets the completion token budget.
func WithMaxTokens(max int) ConfigOption {
	return func(c *Config) {
		c.MaxTokens = max
	}
}

// WithTemperature sets the completion sampling temperature.
func WithTemperature(temp float64) ConfigOption {
	return func(c *Config) {
		c.Temperature = temp
	}
}

// DefaultConfig returns a Config with sensible defaults for local OpenAI-compatible services.
// By default, all three services use the same host.
func DefaultConfig() *Config {
	defaultHost := "http://localhost:11434/v1"
	return &Config{
		CompletionHost:  defaultHost,
		EmbeddingHost:   defaultHost,
		SummarizerHost:  defaultHost,
		CompletionModel: "qwen2.5:3b",
		EmbeddingModel:  "embeddinggemma",
		SummarizerModel: "qwen2.5:3b",
		MaxTokens:       1024,
		Temperature:     0.7,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
// This is the recommended way to create a Config with custom settings.
//
// Example:
//   cfg := NewConfig(
//       WithHost("http://localhost:11434/v1"),
//       WithCompletionModel("gpt-4o-mini"),
//   )
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// It automatically adds the /v1 suffix to hosts if missing, which is required
// by most OpenAI-compatible APIs (Ollama, LocalAI, vLLM, etc).
func (c *Config) Normalize() {
	c.CompletionHost = normalizeHost(c.CompletionHost)
	c.EmbeddingHost = normalizeHost(c.EmbeddingHost)
	c.SummarizerHost = normalizeHost(c.SummarizerHost)
}

func normalizeHost(host string) string {
	if host == "" || strings.HasSuffix(host, "/v1") {
		return host
	}
	return strings.TrimSuffix(host, "/") + "/v1"
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.CompletionHost == "" {
		return errors.New("ai config: CompletionHost is required")
	}
	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.SummarizerHost == "" {
		return errors.New("ai config: SummarizerHost is required")
	}
	if c.CompletionModel == "" {
		return errors.New("ai config: CompletionModel is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	if c.SummarizerModel == "" {
		return errors.New("ai config: SummarizerModel is required")
	}
	if c.MaxTokens < 1 {
		return errors.New("ai config: MaxTokens must be positive")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return errors.New("ai config: Temperature must be between 0 and 2")
	}
	return nil
}
