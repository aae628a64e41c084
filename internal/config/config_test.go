package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 0.65, cfg.Search.VectorWeight)
	assert.Equal(t, 0.35, cfg.Search.KeywordWeight)
	assert.Equal(t, "sqlite", cfg.Search.LexicalBackend)
	assert.Equal(t, 500, cfg.Search.ChunkSize)
	assert.Equal(t, 50, cfg.Search.ChunkOverlap)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, "production", cfg.Worker.Environment)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	assert.Equal(t, 5, cfg.Cleanup.MaxAttempts)
	require.NoError(t, cfg.Validate())
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docforge.yaml")
	yaml := `
search:
  vector_weight: 0.8
  keyword_weight: 0.2
  lexical_backend: bleve
  chunk_size: 1000
worker:
  environment: staging
  max_concurrency: 8
  job_timeout: 5m
cleanup:
  max_attempts: 7
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.8, cfg.Search.VectorWeight)
	assert.Equal(t, 0.2, cfg.Search.KeywordWeight)
	assert.Equal(t, "bleve", cfg.Search.LexicalBackend)
	assert.Equal(t, 1000, cfg.Search.ChunkSize)
	assert.Equal(t, "staging", cfg.Worker.Environment)
	assert.Equal(t, 8, cfg.Worker.MaxConcurrency)
	assert.Equal(t, 5*time.Minute, cfg.Worker.JobTimeout)
	assert.Equal(t, 7, cfg.Cleanup.MaxAttempts)

	// Untouched fields keep defaults.
	assert.Equal(t, 50, cfg.Search.ChunkOverlap)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker:\n  environment: staging\n"), 0o644))

	t.Setenv("DOCFORGE_ENVIRONMENT", "development")
	t.Setenv("DOCFORGE_VECTOR_WEIGHT", "0")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Worker.Environment)
	assert.Equal(t, 0.0, cfg.Search.VectorWeight, "env vars support explicit zero weights")
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative vector weight", func(c *Config) { c.Search.VectorWeight = -1 }},
		{"zero chunk size", func(c *Config) { c.Search.ChunkSize = 0 }},
		{"overlap >= size", func(c *Config) { c.Search.ChunkOverlap = c.Search.ChunkSize }},
		{"unknown lexical backend", func(c *Config) { c.Search.LexicalBackend = "elastic" }},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "openai" }},
		{"zero concurrency", func(c *Config) { c.Worker.MaxConcurrency = 0 }},
		{"zero attempts", func(c *Config) { c.Worker.MaxAttempts = 0 }},
		{"zero cleanup attempts", func(c *Config) { c.Cleanup.MaxAttempts = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")

	cfg := NewConfig()
	cfg.Worker.Environment = "staging"
	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", loaded.Worker.Environment)
}
