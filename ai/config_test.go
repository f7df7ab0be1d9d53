package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "http://localhost:11434/v1", cfg.CompletionHost)
	assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
	assert.Equal(t, "http://localhost:11434/v1", cfg.SummarizerHost)
	assert.NotEmpty(t, cfg.CompletionModel)
	assert.NotEmpty(t, cfg.EmbeddingModel)
	assert.NotEmpty(t, cfg.SummarizerModel)
	assert.Equal(t, 1024, cfg.MaxTokens)
	assert.InDelta(t, 0.7, cfg.Temperature, 0.001)

	require.NoError(t, cfg.Validate())
}

func TestNewConfigOptions(t *testing.T) {
	t.Run("individual hosts", func(t *testing.T) {
		cfg := NewConfig(
			WithCompletionHost("http://completion:8080/v1"),
			WithEmbeddingHost("http://embedding:8080/v1"),
			WithSummarizerHost("http://summarizer:8080/v1"),
		)
		assert.Equal(t, "http://completion:8080/v1", cfg.CompletionHost)
		assert.Equal(t, "http://embedding:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://summarizer:8080/v1", cfg.SummarizerHost)
	})

	t.Run("shared host", func(t *testing.T) {
		cfg := NewConfig(WithHost("http://shared:9100/v1"))
		assert.Equal(t, "http://shared:9100/v1", cfg.CompletionHost)
		assert.Equal(t, "http://shared:9100/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://shared:9100/v1", cfg.SummarizerHost)
	})

	t.Run("models", func(t *testing.T) {
		cfg := NewConfig(
			WithCompletionModel("gpt-4o-mini"),
			WithEmbeddingModel("text-embedding-3-small"),
			WithSummarizerModel("gpt-4o-mini"),
		)
		assert.Equal(t, "gpt-4o-mini", cfg.CompletionModel)
		assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
		assert.Equal(t, "gpt-4o-mini", cfg.SummarizerModel)
	})

	t.Run("generation settings", func(t *testing.T) {
		cfg := NewConfig(WithMaxTokens(2048), WithTemperature(0.2))
		assert.Equal(t, 2048, cfg.MaxTokens)
		assert.InDelta(t, 0.2, cfg.Temperature, 0.001)
	})
}

func TestConfigNormalize(t *testing.T) {
	t.Run("adds v1 suffix", func(t *testing.T) {
		cfg := NewConfig(WithHost("http://localhost:11434"))
		cfg.Normalize()
		assert.Equal(t, "http://localhost:11434/v1", cfg.CompletionHost)
		assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://localhost:11434/v1", cfg.SummarizerHost)
	})

	t.Run("strips trailing slash before adding v1", func(t *testing.T) {
		cfg := NewConfig(WithHost("http://localhost:11434/"))
		cfg.Normalize()
		assert.Equal(t, "http://localhost:11434/v1", cfg.CompletionHost)
	})

	t.Run("leaves v1 suffix alone", func(t *testing.T) {
		cfg := NewConfig(WithHost("http://localhost:11434/v1"))
		cfg.Normalize()
		assert.Equal(t, "http://localhost:11434/v1", cfg.CompletionHost)
	})

	t.Run("leaves empty hosts alone", func(t *testing.T) {
		cfg := &Config{}
		cfg.Normalize()
		assert.Empty(t, cfg.CompletionHost)
	})
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config { return DefaultConfig() }

	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("normalizes during validation", func(t *testing.T) {
		cfg := NewConfig(WithHost("http://localhost:11434"))
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "http://localhost:11434/v1", cfg.CompletionHost)
	})

	t.Run("missing completion host", func(t *testing.T) {
		cfg := valid()
		cfg.CompletionHost = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing embedding host", func(t *testing.T) {
		cfg := valid()
		cfg.EmbeddingHost = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing summarizer host", func(t *testing.T) {
		cfg := valid()
		cfg.SummarizerHost = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing completion model", func(t *testing.T) {
		cfg := valid()
		cfg.CompletionModel = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing embedding model", func(t *testing.T) {
		cfg := valid()
		cfg.EmbeddingModel = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing summarizer model", func(t *testing.T) {
		cfg := valid()
		cfg.SummarizerModel = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-positive max tokens", func(t *testing.T) {
		cfg := valid()
		cfg.MaxTokens = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("temperature out of range", func(t *testing.T) {
		cfg := valid()
		cfg.Temperature = 2.5
		assert.Error(t, cfg.Validate())
	})
}
