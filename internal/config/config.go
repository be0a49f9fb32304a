// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64

	// Data files.
	CorpusPath   string // Intent catalogue JSON; required.
	SlangMapPath string // Normalisation map JSON; empty disables substitution.
	DataDir      string // Root for the memory journal and the review database.

	// Embedding provider settings.
	EmbeddingProvider   string // "auto", "ollama", or "hash"
	EmbeddingDimensions int    // Vector dimensions; must match the chosen model's output.
	OllamaURL           string
	OllamaModel         string

	// Resolution tuning.
	MemoryAlpha     float64 // Base-score boost per memory hit.
	ConfidenceFloor float64 // Below this adjusted score the resolver falls back.
	MemoryTopK      int
	Stage1TopK      int

	// Memory settings.
	MemoryCap            int    // Golden-record cap; 0 = unbounded.
	MemoryMismatchPolicy string // "reject" or "clear" on embedding-model change.

	// Feedback settings.
	PendingTTL time.Duration // How long a resolution stays eligible for feedback.
	PendingCap int           // Pending-cache entry cap; 0 = unbounded.

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                 envInt("SPHOTA_PORT", 8080),
		ReadTimeout:          envDuration("SPHOTA_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:         envDuration("SPHOTA_WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBodyBytes:  int64(envInt("SPHOTA_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
		CorpusPath:           envStr("SPHOTA_CORPUS_PATH", "corpus.json"),
		SlangMapPath:         envStr("SPHOTA_SLANG_MAP_PATH", ""),
		DataDir:              envStr("SPHOTA_DATA_DIR", "data"),
		EmbeddingProvider:    envStr("SPHOTA_EMBEDDING_PROVIDER", "auto"),
		EmbeddingDimensions:  envInt("SPHOTA_EMBEDDING_DIMENSIONS", 384),
		OllamaURL:            envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:          envStr("OLLAMA_MODEL", "all-minilm"),
		MemoryAlpha:          envFloat("SPHOTA_MEMORY_ALPHA", 0.2),
		ConfidenceFloor:      envFloat("SPHOTA_CONFIDENCE_FLOOR", 0.6),
		MemoryTopK:           envInt("SPHOTA_MEMORY_TOP_K", 5),
		Stage1TopK:           envInt("SPHOTA_STAGE1_TOP_K", 5),
		MemoryCap:            envInt("SPHOTA_MEMORY_CAP", 10000),
		MemoryMismatchPolicy: envStr("SPHOTA_MEMORY_MISMATCH_POLICY", "reject"),
		PendingTTL:           envDuration("SPHOTA_PENDING_TTL", time.Hour),
		PendingCap:           envInt("SPHOTA_PENDING_CAP", 10000),
		OTELEndpoint:         envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:          envStr("OTEL_SERVICE_NAME", "sphota"),
		LogLevel:             envStr("SPHOTA_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and in range.
func (c Config) Validate() error {
	if c.CorpusPath == "" {
		return fmt.Errorf("config: SPHOTA_CORPUS_PATH is required")
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("config: SPHOTA_EMBEDDING_DIMENSIONS must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: SPHOTA_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.MemoryAlpha < 0 || c.MemoryAlpha > 1 {
		return fmt.Errorf("config: SPHOTA_MEMORY_ALPHA must be in [0,1]")
	}
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		return fmt.Errorf("config: SPHOTA_CONFIDENCE_FLOOR must be in [0,1]")
	}
	if c.MemoryTopK <= 0 || c.Stage1TopK <= 0 {
		return fmt.Errorf("config: SPHOTA_MEMORY_TOP_K and SPHOTA_STAGE1_TOP_K must be positive")
	}
	switch c.MemoryMismatchPolicy {
	case "reject", "clear":
	default:
		return fmt.Errorf("config: SPHOTA_MEMORY_MISMATCH_POLICY must be %q or %q", "reject", "clear")
	}
	switch c.EmbeddingProvider {
	case "auto", "ollama", "hash":
	default:
		return fmt.Errorf("config: unknown SPHOTA_EMBEDDING_PROVIDER %q", c.EmbeddingProvider)
	}
	if c.PendingTTL <= 0 {
		return fmt.Errorf("config: SPHOTA_PENDING_TTL must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
