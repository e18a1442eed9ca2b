// Package app assembles the pipelines from configuration. Every binary
// builds its components through Build so they share one wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/ami-rag/engine/command"
	"github.com/WessleyAI/ami-rag/engine/embed"
	"github.com/WessleyAI/ami-rag/engine/fingerprint"
	"github.com/WessleyAI/ami-rag/engine/ingest"
	"github.com/WessleyAI/ami-rag/engine/loader"
	"github.com/WessleyAI/ami-rag/engine/provenance"
	"github.com/WessleyAI/ami-rag/engine/rag"
	"github.com/WessleyAI/ami-rag/engine/semantic"
	"github.com/WessleyAI/ami-rag/pkg/cohere"
	"github.com/WessleyAI/ami-rag/pkg/config"
	"github.com/WessleyAI/ami-rag/pkg/lock"
	"github.com/WessleyAI/ami-rag/pkg/metrics"
	"github.com/WessleyAI/ami-rag/pkg/ollama"
	"github.com/WessleyAI/ami-rag/pkg/openai"
	"github.com/WessleyAI/ami-rag/pkg/resilience"
)

// App holds the wired components.
type App struct {
	Config     *config.Config
	Store      *semantic.VectorStore
	Index      *fingerprint.Index
	Loader     *loader.Loader
	Embedder   *embed.Client
	Ingest     *ingest.Pipeline
	RAG        *rag.Service
	Mailbox    *command.Mailbox
	Metrics    *metrics.Metrics
	Provenance *provenance.Graph // nil unless neo4j is configured and reachable

	logger  *slog.Logger
	closers []func(context.Context) error
}

// Build connects to the configured backends and wires the pipelines.
// Neo4j is optional: when it cannot be reached provenance is disabled.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Mailbox: command.NewMailbox(), Metrics: metrics.New(), logger: logger}

	store, err := semantic.New(cfg.Qdrant.Addr, cfg.Embed.Dims, logger)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	if a.Embedder, err = NewEmbedder(cfg.Embed, logger); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if a.Loader, err = NewLoader(cfg.Chunk, cfg.Fetch, logger); err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.Index = fingerprint.New(store, store, fingerprint.Options{
		Mode:  fingerprint.Mode(cfg.Dedup.Mode),
		Cache: cfg.Dedup.Cache,
	}, logger)

	var locker lock.Locker = lock.NewLocal()
	if cfg.Lock.RedisAddr != "" {
		rl, rdb, err := lock.Dial(ctx, cfg.Lock.RedisAddr, cfg.Lock.RedisPassword, cfg.Lock.TTL, logger)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		locker = rl
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
	}

	deps := ingest.Deps{
		Loader:   a.Loader,
		Index:    a.Index,
		Embedder: a.Embedder,
		Writer:   store,
		Locker:   locker,
		Metrics:  a.Metrics,
		Logger:   logger,
	}
	if cfg.Neo4j.URL != "" {
		g, err := provenance.Connect(ctx, cfg.Neo4j.URL, cfg.Neo4j.User, cfg.Neo4j.Pass)
		if err != nil {
			logger.Warn("app: provenance disabled", "error", err)
		} else {
			if err := g.EnsureSchema(ctx); err != nil {
				logger.Warn("app: provenance schema", "error", err)
			}
			a.Provenance = g
			deps.Recorder = g
			a.closers = append(a.closers, g.Close)
		}
	}
	a.Ingest = ingest.New(deps)
	a.RAG = rag.New(a.Embedder, store, a.Ingest, rag.DefaultOptions(), a.Metrics, logger)

	logger.Info("app: ready",
		"qdrant", cfg.Qdrant.Addr,
		"collection", cfg.Qdrant.Collection,
		"embed_provider", cfg.Embed.Provider,
		"dims", cfg.Embed.Dims,
		"dedup_mode", cfg.Dedup.Mode,
		"redis_lock", cfg.Lock.RedisAddr != "",
		"provenance", a.Provenance != nil,
	)
	return a, nil
}

// NewEmbedder builds the configured provider behind a circuit breaker.
func NewEmbedder(cfg config.EmbedConfig, logger *slog.Logger) (*embed.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var p embed.Provider
	switch cfg.Provider {
	case "cohere":
		if cfg.APIKey == "" {
			return nil, errors.New("app: cohere requires an api key")
		}
		p = cohere.NewClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout)
	case "ollama":
		p = ollama.NewEmbedClient(cfg.BaseURL, cfg.Model, cfg.Timeout)
	case "openai":
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, errors.New("app: openai requires an api key")
		}
		p = openai.NewClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dims)
	default:
		return nil, fmt.Errorf("app: unknown embed provider %q", cfg.Provider)
	}

	opts := resilience.DefaultBreakerOpts
	if cfg.BreakerFailures > 0 {
		opts.FailThreshold = cfg.BreakerFailures
	}
	if cfg.BreakerCooldown > 0 {
		opts.Timeout = cfg.BreakerCooldown
	}
	opts.OnStateChange = func(from, to resilience.State) {
		logger.Warn("embed: circuit breaker", "provider", cfg.Provider, "from", from.String(), "to", to.String())
	}
	return embed.NewClient(p, cfg.Dims,
		embed.WithBreaker(resilience.NewBreaker(opts)),
		embed.WithLogger(logger),
	), nil
}

// NewLoader builds the page loader with the configured chunk length unit.
func NewLoader(chunk config.ChunkConfig, fetch config.FetchConfig, logger *slog.Logger) (*loader.Loader, error) {
	opts := loader.Options{
		ChunkSize:          chunk.Size,
		Overlap:            chunk.Overlap,
		Timeout:            fetch.Timeout,
		RequestsPerSecond:  fetch.RequestsPerSecond,
		Burst:              fetch.Burst,
		InsecureSkipVerify: fetch.InsecureSkipVerify,
	}
	if chunk.Unit == "tokens" {
		length, err := loader.TokenLength(chunk.Encoding)
		if err != nil {
			return nil, fmt.Errorf("app: token encoding %q: %w", chunk.Encoding, err)
		}
		opts.Length = length
	}
	return loader.New(opts, logger), nil
}

// ClearCollection empties collection in the vector store and drops its
// cached hashes and provenance.
func (a *App) ClearCollection(ctx context.Context, collection string) (semantic.ClearResult, error) {
	res, err := a.Store.DropOrClear(ctx, collection)
	if err != nil {
		return res, err
	}
	a.Index.Forget(collection)
	if a.Provenance != nil {
		if err := a.Provenance.ForgetCollection(ctx, collection); err != nil {
			a.logger.Warn("app: provenance not cleared", "collection", collection, "error", err)
		}
	}
	return res, nil
}

// Close releases every backend connection in reverse order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
