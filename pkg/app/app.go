// Package app wires configuration into a ready research engine for the
// server and CLI entry points.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/mikeboe/deep-research/pkg/agents"
	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/embeddings"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/research/tools"
	"github.com/mikeboe/deep-research/pkg/store"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

// App holds the long-lived dependencies of a process.
type App struct {
	Config  *config.Config
	Store   store.Store
	Engine  *research.Engine
	Indexer *vectorstore.Indexer
	Redis   *redis.Client
}

// EngineConfig maps cfg onto the engine tunables.
func EngineConfig(cfg *config.Config) research.Config {
	ec := research.DefaultConfig()
	if cfg.SearchConcurrency > 0 {
		ec.MaxConcurrency = cfg.SearchConcurrency
	}
	ec.SearchRPS = cfg.SearchRPS
	if cfg.ReportPages > 0 {
		ec.ReportPages = cfg.ReportPages
	}
	if cfg.RetryAttempts > 0 {
		ec.Retry.MaxAttempts = uint(cfg.RetryAttempts)
	}
	return ec
}

// NewSearcher returns the configured search provider, wrapped in a Redis
// cache when rdb is not nil.
func NewSearcher(cfg *config.Config, rdb redis.UniversalClient, logger *slog.Logger) (research.Searcher, error) {
	var searcher research.Searcher
	switch cfg.SearchProvider {
	case "tavily":
		if cfg.TavilyApiKey == "" {
			return nil, errors.New("TAVILY_API_KEY is required for the tavily search provider")
		}
		searcher = tools.NewTavilySearcher(cfg.TavilyApiKey, cfg.MaxSearchResults)
	case "arxiv":
		arxiv := tools.NewArxivSearcher(cfg.MaxSearchResults)
		arxiv.OCR = tools.NewPDFScraper(cfg.MistralApiKey)
		arxiv.Logger = logger
		searcher = arxiv
	default:
		return nil, fmt.Errorf("unsupported search provider %q", cfg.SearchProvider)
	}

	if rdb == nil {
		return searcher, nil
	}
	cached := tools.NewCachedSearcher(rdb, cfg.SearchProvider, searcher)
	cached.TTL = cfg.SearchCacheTTL
	cached.Logger = logger
	return cached, nil
}

// New opens the store, builds the models and search stack, and returns an
// engine logging through logger.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	st, err := store.Open(ctx, cfg.DBProvider, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a := &App{Config: cfg, Store: st}

	if err := a.init(ctx, logger); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, logger *slog.Logger) error {
	cfg := a.Config

	models, err := clients.NewModels(ctx, cfg.AIProvider, cfg.AIApiKey, cfg.AIBaseURL, cfg.ThinkingModel, cfg.TaskModel)
	if err != nil {
		return fmt.Errorf("failed to create models: %w", err)
	}

	if cfg.RedisEnabled {
		a.Redis, err = tools.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("Redis unavailable, search cache disabled", "url", cfg.RedisURL, "error", err)
			a.Redis = nil
		}
	}

	var rdb redis.UniversalClient
	if a.Redis != nil {
		rdb = a.Redis
	}
	searcher, err := NewSearcher(cfg, rdb, logger)
	if err != nil {
		return err
	}

	researcher := agents.NewResearcher(models.Thinking, models.Task, cfg.ChunkSize, cfg.ChunkOverlap)
	researcher.Logger = logger
	if cfg.RetryAttempts > 0 {
		researcher.MaxAttempts = cfg.RetryAttempts
	}

	a.Engine, err = research.NewEngine(EngineConfig(cfg), a.Store, researcher.Collaborators(searcher))
	if err != nil {
		return err
	}
	a.Engine.SetLogger(logger)

	if cfg.IndexingEnabled() {
		a.Indexer, err = a.newIndexer(ctx, logger)
		if err != nil {
			return err
		}
		a.Engine.Cache.Indexer = a.Indexer
	}
	return nil
}

func (a *App) newIndexer(ctx context.Context, logger *slog.Logger) (*vectorstore.Indexer, error) {
	cfg := a.Config
	pg, ok := a.Store.(*store.PostgresStore)
	if !ok {
		return nil, errors.New("source indexing requires the postgres store")
	}

	embedder, err := embeddings.NewGoogleEmbedder(ctx, cfg.EmbeddingModel, cfg.GoogleApiKey)
	if err != nil {
		return nil, err
	}
	if err := pg.DB.EnsureVectorExtension(ctx); err != nil {
		return nil, fmt.Errorf("failed to enable pgvector: %w", err)
	}
	if err := pg.DB.CreateEmbeddingsTable(ctx, cfg.CollectionName, embedder.Dimension()); err != nil {
		return nil, fmt.Errorf("failed to create embeddings table: %w", err)
	}
	docs, err := vectorstore.NewPGVectorStore(pg.DB.Pool, cfg.CollectionName)
	if err != nil {
		return nil, err
	}

	ix := vectorstore.NewIndexer(docs, embedder, cfg.ChunkSize, cfg.ChunkOverlap)
	ix.Logger = logger
	logger.Info("Source indexing enabled", "collection", cfg.CollectionName, "dimension", embedder.Dimension())
	return ix, nil
}

// Close releases the store and Redis connections.
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
}
