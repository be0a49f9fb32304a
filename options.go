package sphota

import (
	"log/slog"

	"github.com/sphota-ai/sphota/internal/embedding"
)

// Option configures New.
type Option func(*resolvedOptions)

type resolvedOptions struct {
	logger     *slog.Logger
	port       int
	version    string
	corpusPath string
	slangPath  string
	dataDir    string
	embedder   embedding.Provider
	idSource   func() string
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithPort overrides the configured HTTP port.
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithVersion sets the reported version string. Defaults to "dev".
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithCorpusPath overrides the configured intent corpus file.
func WithCorpusPath(path string) Option {
	return func(o *resolvedOptions) { o.corpusPath = path }
}

// WithSlangMapPath overrides the configured slang map file.
func WithSlangMapPath(path string) Option {
	return func(o *resolvedOptions) { o.slangPath = path }
}

// WithDataDir overrides the configured data directory.
func WithDataDir(dir string) Option {
	return func(o *resolvedOptions) { o.dataDir = dir }
}

// WithEmbedder injects an embedding provider, replacing configured selection.
func WithEmbedder(p embedding.Provider) Option {
	return func(o *resolvedOptions) { o.embedder = p }
}

// WithIDSource replaces request-id generation, for reproducible tests.
func WithIDSource(fn func() string) Option {
	return func(o *resolvedOptions) { o.idSource = fn }
}
