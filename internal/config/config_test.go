package config

import (
	"testing"
	"time"
)

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.MemoryAlpha != 0.2 {
		t.Fatalf("expected default memory alpha 0.2, got %v", cfg.MemoryAlpha)
	}
	if cfg.ConfidenceFloor != 0.6 {
		t.Fatalf("expected default confidence floor 0.6, got %v", cfg.ConfidenceFloor)
	}
	if cfg.MemoryMismatchPolicy != "reject" {
		t.Fatalf("expected default mismatch policy reject, got %q", cfg.MemoryMismatchPolicy)
	}
	if cfg.PendingTTL != time.Hour {
		t.Fatalf("expected default pending TTL 1h, got %s", cfg.PendingTTL)
	}
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	t.Setenv("SPHOTA_PORT", "9090")
	t.Setenv("SPHOTA_CONFIDENCE_FLOOR", "0.75")
	t.Setenv("SPHOTA_MEMORY_MISMATCH_POLICY", "clear")
	t.Setenv("SPHOTA_PENDING_TTL", "30m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.ConfidenceFloor != 0.75 {
		t.Fatalf("expected confidence floor 0.75, got %v", cfg.ConfidenceFloor)
	}
	if cfg.MemoryMismatchPolicy != "clear" {
		t.Fatalf("expected mismatch policy clear, got %q", cfg.MemoryMismatchPolicy)
	}
	if cfg.PendingTTL != 30*time.Minute {
		t.Fatalf("expected pending TTL 30m, got %s", cfg.PendingTTL)
	}
}

func TestLoadFallsBackOnUnparseableValues(t *testing.T) {
	t.Setenv("SPHOTA_PORT", "abc")
	t.Setenv("SPHOTA_MEMORY_ALPHA", "lots")
	t.Setenv("SPHOTA_READ_TIMEOUT", "five-seconds")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected fallback port 8080, got %d", cfg.Port)
	}
	if cfg.MemoryAlpha != 0.2 {
		t.Fatalf("expected fallback alpha 0.2, got %v", cfg.MemoryAlpha)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Fatalf("expected fallback read timeout 30s, got %s", cfg.ReadTimeout)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty corpus path", func(c *Config) { c.CorpusPath = "" }},
		{"zero dimensions", func(c *Config) { c.EmbeddingDimensions = 0 }},
		{"alpha above one", func(c *Config) { c.MemoryAlpha = 1.5 }},
		{"negative floor", func(c *Config) { c.ConfidenceFloor = -0.1 }},
		{"zero stage1 top k", func(c *Config) { c.Stage1TopK = 0 }},
		{"unknown mismatch policy", func(c *Config) { c.MemoryMismatchPolicy = "panic" }},
		{"unknown provider", func(c *Config) { c.EmbeddingProvider = "quantum" }},
		{"zero pending ttl", func(c *Config) { c.PendingTTL = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}
