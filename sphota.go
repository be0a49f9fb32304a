// Package sphota is the public API for embedding the intent-resolution
// service:
//
//	app, err := sphota.New(
//	    sphota.WithVersion(version),
//	    sphota.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: sphota (root) imports
// internal/*, but internal/* never imports sphota (root).
package sphota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/sphota-ai/sphota/internal/config"
	"github.com/sphota-ai/sphota/internal/corpus"
	"github.com/sphota-ai/sphota/internal/crm"
	"github.com/sphota-ai/sphota/internal/embedding"
	"github.com/sphota-ai/sphota/internal/fastmemory"
	"github.com/sphota-ai/sphota/internal/feedback"
	"github.com/sphota-ai/sphota/internal/normalize"
	"github.com/sphota-ai/sphota/internal/resolver"
	"github.com/sphota-ai/sphota/internal/reviewqueue"
	"github.com/sphota-ai/sphota/internal/server"
	"github.com/sphota-ai/sphota/internal/telemetry"
)

// checkpointInterval is how often Fast Memory compacts its journal into a
// snapshot while running. A final checkpoint also runs at shutdown.
const checkpointInterval = 5 * time.Minute

// App is the service lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	srv          *server.Server
	memory       *fastmemory.Store
	journal      *fastmemory.Journal
	reviews      *reviewqueue.Store
	pending      *resolver.PendingCache
	corpus       *corpus.Corpus
	norm         *normalize.Normalizer
	embedder     embedding.Provider
	res          *resolver.Resolver
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the service: loads the corpus and slang map, opens the
// memory journal and review database, and wires the resolver and feedback
// loop. It does NOT start goroutines, embed the corpus, or accept HTTP
// connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.corpusPath != "" {
		cfg.CorpusPath = o.corpusPath
	}
	if o.slangPath != "" {
		cfg.SlangMapPath = o.slangPath
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("sphota starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, true)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Normaliser (slang map optional).
	var norm *normalize.Normalizer
	if cfg.SlangMapPath != "" {
		slang, err := normalize.LoadSlangMap(cfg.SlangMapPath)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("slang map: %w", err)
		}
		norm = normalize.New(slang)
		logger.Info("slang map loaded", "path", cfg.SlangMapPath, "entries", len(slang))
	} else {
		norm = normalize.New(nil)
	}

	// Intent corpus. A malformed corpus is fatal; the service must not serve.
	c, err := corpus.Load(cfg.CorpusPath)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("corpus: %w", err)
	}
	logger.Info("corpus loaded", "path", cfg.CorpusPath, "intents", c.Len())

	// Embedding provider — external override takes priority over auto-detect.
	embedder := o.embedder
	if embedder == nil {
		embedder = newEmbeddingProvider(cfg, logger)
	}

	// Fast Memory journal + store. The journal refuses persisted state from a
	// different embedding model unless the policy says clear.
	journal, records, err := fastmemory.Open(
		filepath.Join(cfg.DataDir, "memory"),
		embedder.ModelID(),
		fastmemory.MismatchPolicy(cfg.MemoryMismatchPolicy),
		logger,
	)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("fast memory: %w", err)
	}
	memory := fastmemory.NewStore(logger, cfg.MemoryCap, journal)
	memory.Restore(records)
	if len(records) > 0 {
		logger.Info("fast memory replayed", "records", memory.Count())
	}

	// Review queue + learning counters.
	reviews, err := reviewqueue.Open(filepath.Join(cfg.DataDir, "review.db"), logger)
	if err != nil {
		_ = journal.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("review queue: %w", err)
	}

	pending := resolver.NewPendingCache(cfg.PendingTTL, cfg.PendingCap)

	registerGauges(logger, memory, reviews)

	res := resolver.New(logger, c, memory, crm.New(), embedder, norm, pending, resolver.Tuning{
		MemoryAlpha:     cfg.MemoryAlpha,
		ConfidenceFloor: cfg.ConfidenceFloor,
		MemoryTopK:      cfg.MemoryTopK,
		Stage1TopK:      cfg.Stage1TopK,
	})
	if o.idSource != nil {
		res.SetIDSource(o.idSource)
	}

	fb := feedback.New(logger, res, memory, reviews, c)

	srv := server.New(server.ServerConfig{
		Resolver:            res,
		Feedback:            fb,
		Reviews:             reviews,
		Corpus:              c,
		Memory:              memory,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	return &App{
		cfg:          cfg,
		srv:          srv,
		memory:       memory,
		journal:      journal,
		reviews:      reviews,
		pending:      pending,
		corpus:       c,
		norm:         norm,
		embedder:     embedder,
		res:          res,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Server exposes the HTTP server, for tests that drive the handler directly.
func (a *App) Server() *server.Server { return a.srv }

// Run embeds the corpus examples, flips the readiness gate, and serves HTTP
// until ctx is cancelled or a fatal server error occurs. On return, Shutdown
// has already run — callers should not call it separately.
func (a *App) Run(ctx context.Context) error {
	// The HTTP listener opens first so probes get 503 rather than connection
	// refused while the corpus embeds.
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	start := time.Now()
	if err := a.corpus.EmbedExamples(ctx, a.embedder, a.normalizeText); err != nil {
		_ = a.Shutdown(context.Background())
		return fmt.Errorf("embed corpus: %w", err)
	}
	a.logger.Info("corpus embedded",
		"intents", a.corpus.Len(),
		"model_id", a.embedder.ModelID(),
		"duration_ms", time.Since(start).Milliseconds())
	a.srv.Handlers().SetReady()

	go a.checkpointLoop(ctx)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = a.Shutdown(context.Background())
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown drains HTTP, checkpoints Fast Memory, and closes all stores.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("sphota shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	cancel()

	if err := a.memory.Checkpoint(); err != nil {
		a.logger.Error("memory checkpoint failed", "error", err)
	}
	if err := a.journal.Close(); err != nil {
		a.logger.Error("journal close failed", "error", err)
	}
	if err := a.reviews.Close(); err != nil {
		a.logger.Error("review store close failed", "error", err)
	}
	a.pending.Close()
	_ = a.otelShutdown(context.Background())

	a.logger.Info("sphota stopped")
	return nil
}

func (a *App) normalizeText(s string) string {
	text, _ := a.norm.Normalize(s)
	return text
}

// checkpointLoop periodically compacts the memory journal into a snapshot so
// startup replay stays fast.
func (a *App) checkpointLoop(ctx context.Context) {
	ticker := time.NewTicker(checkpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.memory.Checkpoint(); err != nil {
				a.logger.Warn("periodic memory checkpoint failed", "error", err)
			}
		}
	}
}

// registerGauges publishes the memory-record and review-queue depth gauges.
// Registration failures are logged, not fatal; the service runs fine without
// metrics.
func registerGauges(logger *slog.Logger, memory *fastmemory.Store, reviews *reviewqueue.Store) {
	meter := telemetry.Meter("sphota/app")
	memGauge, err := meter.Int64ObservableGauge("sphota.memory.records")
	if err != nil {
		logger.Warn("memory gauge registration failed", "error", err)
		return
	}
	queueGauge, err := meter.Int64ObservableGauge("sphota.review.pending")
	if err != nil {
		logger.Warn("review gauge registration failed", "error", err)
		return
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs otelmetric.Observer) error {
		obs.ObserveInt64(memGauge, int64(memory.Count()))
		if n, err := reviews.PendingCount(ctx); err == nil {
			obs.ObserveInt64(queueGauge, int64(n))
		}
		return nil
	}, memGauge, queueGauge)
	if err != nil {
		logger.Warn("gauge callback registration failed", "error", err)
	}
}

// newEmbeddingProvider selects a provider from configuration. Auto mode
// prefers Ollama when reachable; otherwise the deterministic hashing provider
// keeps the service fully functional offline.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
	case "hash":
		logger.Info("embedding provider: feature hashing", "dimensions", dims)
		return embedding.NewHashingProvider(dims)
	case "auto":
		fallthrough
	default:
		if embedding.Reachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		}
		logger.Info("embedding provider: feature hashing (ollama unreachable)", "dimensions", dims)
		return embedding.NewHashingProvider(dims)
	}
}
