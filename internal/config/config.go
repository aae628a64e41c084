// Package config loads and validates DocForge configuration.
//
// Configuration is an explicit struct passed into constructors at startup;
// there is no ambient global state. Precedence (lowest to highest):
//  1. Built-in defaults
//  2. Config file (docforge.yaml in the data directory or --config path)
//  3. Environment variables (DOCFORGE_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete DocForge configuration.
type Config struct {
	Paths      PathsConfig      `yaml:"paths"`
	Search     SearchConfig     `yaml:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Worker     WorkerConfig     `yaml:"worker"`
	Cleanup    CleanupConfig    `yaml:"cleanup"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// PathsConfig configures filesystem locations.
type PathsConfig struct {
	// DataDir holds the SQLite database, index files, and lock file.
	DataDir string `yaml:"data_dir"`
	// InboxDir, when set, is watched for new files to ingest.
	InboxDir string `yaml:"inbox_dir"`
}

// SearchConfig configures hybrid retrieval.
type SearchConfig struct {
	// VectorWeight is the fusion weight for semantic similarity.
	// Weights are used as-is; they are not re-normalized to sum to 1.
	VectorWeight float64 `yaml:"vector_weight"`

	// KeywordWeight is the fusion weight for lexical relevance.
	KeywordWeight float64 `yaml:"keyword_weight"`

	// CandidateK is how many candidates each adapter contributes to fusion.
	CandidateK int `yaml:"candidate_k"`

	// LexicalBackend selects the lexical index backend.
	// Options: "sqlite" (default, FTS5 with WAL) or "bleve".
	LexicalBackend string `yaml:"lexical_backend"`

	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	MaxResults   int `yaml:"max_results"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "ollama" (default) or "static"
	// (deterministic offline embeddings).
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
	OllamaHost string `yaml:"ollama_host"`
	CacheSize  int    `yaml:"cache_size"`
}

// WorkerConfig configures the task worker pool.
type WorkerConfig struct {
	// Environment is the isolation tag for this pool's queue.
	// Tasks from other environments are never picked up.
	Environment string `yaml:"environment"`

	// MaxConcurrency caps simultaneously running tasks.
	MaxConcurrency int `yaml:"max_concurrency"`

	// MaxAttempts bounds retries per task before dead-lettering.
	MaxAttempts int `yaml:"max_attempts"`

	// JobTimeout bounds a single task execution.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// RetryInitialDelay is the backoff delay before the first retry.
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`

	// RetryMaxDelay caps the exponential backoff delay.
	RetryMaxDelay time.Duration `yaml:"retry_max_delay"`
}

// CleanupConfig configures the pending-cleanup reconciler.
type CleanupConfig struct {
	// MaxAttempts bounds deletion retries before a record is abandoned
	// (retained for operator inspection, never silently dropped).
	MaxAttempts int `yaml:"max_attempts"`

	// SweepInterval is the period between reconciler sweeps.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// SweepLimit caps records attempted per sweep.
	SweepLimit int `yaml:"sweep_limit"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DataDir: defaultDataDir(),
		},
		Search: SearchConfig{
			VectorWeight:   0.65,
			KeywordWeight:  0.35,
			CandidateK:     50,
			LexicalBackend: "sqlite",
			ChunkSize:      500,
			ChunkOverlap:   50,
			MaxResults:     10,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			BatchSize:  32,
			OllamaHost: "http://localhost:11434",
			CacheSize:  1000,
		},
		Worker: WorkerConfig{
			Environment:       "production",
			MaxConcurrency:    4,
			MaxAttempts:       3,
			JobTimeout:        10 * time.Minute,
			RetryInitialDelay: 1 * time.Second,
			RetryMaxDelay:     30 * time.Second,
		},
		Cleanup: CleanupConfig{
			MaxAttempts:   5,
			SweepInterval: 1 * time.Minute,
			SweepLimit:    50,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".docforge")
	}
	return filepath.Join(home, ".docforge")
}

// Load builds the effective configuration from defaults, an optional YAML
// file, and environment overrides, then validates it.
// path may be empty, in which case docforge.yaml in the working directory
// is tried.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		path = "docforge.yaml"
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}

	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Paths.DataDir != "" {
		c.Paths.DataDir = other.Paths.DataDir
	}
	if other.Paths.InboxDir != "" {
		c.Paths.InboxDir = other.Paths.InboxDir
	}

	if other.Search.VectorWeight != 0 {
		c.Search.VectorWeight = other.Search.VectorWeight
	}
	if other.Search.KeywordWeight != 0 {
		c.Search.KeywordWeight = other.Search.KeywordWeight
	}
	if other.Search.CandidateK != 0 {
		c.Search.CandidateK = other.Search.CandidateK
	}
	if other.Search.LexicalBackend != "" {
		c.Search.LexicalBackend = other.Search.LexicalBackend
	}
	if other.Search.ChunkSize != 0 {
		c.Search.ChunkSize = other.Search.ChunkSize
	}
	if other.Search.ChunkOverlap != 0 {
		c.Search.ChunkOverlap = other.Search.ChunkOverlap
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	if other.Worker.Environment != "" {
		c.Worker.Environment = other.Worker.Environment
	}
	if other.Worker.MaxConcurrency != 0 {
		c.Worker.MaxConcurrency = other.Worker.MaxConcurrency
	}
	if other.Worker.MaxAttempts != 0 {
		c.Worker.MaxAttempts = other.Worker.MaxAttempts
	}
	if other.Worker.JobTimeout != 0 {
		c.Worker.JobTimeout = other.Worker.JobTimeout
	}
	if other.Worker.RetryInitialDelay != 0 {
		c.Worker.RetryInitialDelay = other.Worker.RetryInitialDelay
	}
	if other.Worker.RetryMaxDelay != 0 {
		c.Worker.RetryMaxDelay = other.Worker.RetryMaxDelay
	}

	if other.Cleanup.MaxAttempts != 0 {
		c.Cleanup.MaxAttempts = other.Cleanup.MaxAttempts
	}
	if other.Cleanup.SweepInterval != 0 {
		c.Cleanup.SweepInterval = other.Cleanup.SweepInterval
	}
	if other.Cleanup.SweepLimit != 0 {
		c.Cleanup.SweepLimit = other.Cleanup.SweepLimit
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.FilePath != "" {
		c.Logging.FilePath = other.Logging.FilePath
	}
}

// applyEnvOverrides applies DOCFORGE_* environment variables.
// Env vars have the highest precedence and support explicit zero weights.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCFORGE_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("DOCFORGE_INBOX_DIR"); v != "" {
		c.Paths.InboxDir = v
	}
	if v := os.Getenv("DOCFORGE_VECTOR_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && w >= 0 {
			c.Search.VectorWeight = w
		}
	}
	if v := os.Getenv("DOCFORGE_KEYWORD_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && w >= 0 {
			c.Search.KeywordWeight = w
		}
	}
	if v := os.Getenv("DOCFORGE_LEXICAL_BACKEND"); v != "" {
		c.Search.LexicalBackend = v
	}
	if v := os.Getenv("DOCFORGE_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("DOCFORGE_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("DOCFORGE_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("DOCFORGE_ENVIRONMENT"); v != "" {
		c.Worker.Environment = v
	}
	if v := os.Getenv("DOCFORGE_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Worker.MaxConcurrency = n
		}
	}
	if v := os.Getenv("DOCFORGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Search.VectorWeight < 0 || c.Search.KeywordWeight < 0 {
		return fmt.Errorf("search weights must be non-negative (vector=%v keyword=%v)",
			c.Search.VectorWeight, c.Search.KeywordWeight)
	}
	if c.Search.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.Search.ChunkSize)
	}
	if c.Search.ChunkOverlap < 0 || c.Search.ChunkOverlap >= c.Search.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", c.Search.ChunkOverlap)
	}
	switch c.Search.LexicalBackend {
	case "sqlite", "bleve":
	default:
		return fmt.Errorf("unknown lexical_backend %q (use: sqlite, bleve)", c.Search.LexicalBackend)
	}
	switch c.Embeddings.Provider {
	case "ollama", "static":
	default:
		return fmt.Errorf("unknown embeddings provider %q (use: ollama, static)", c.Embeddings.Provider)
	}
	if c.Worker.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be positive, got %d", c.Worker.MaxConcurrency)
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive, got %d", c.Worker.MaxAttempts)
	}
	if c.Cleanup.MaxAttempts <= 0 {
		return fmt.Errorf("cleanup max_attempts must be positive, got %d", c.Cleanup.MaxAttempts)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
