package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"finrag/internal/agent"
	"finrag/internal/config"
	"finrag/internal/domain"
	"finrag/internal/embedding"
	"finrag/internal/index"
	"finrag/internal/knowledge"
	"finrag/internal/provider"
	"finrag/internal/rag"
	"finrag/internal/tool"
)

// newEmbedder builds the configured embedder. Query-time embedders retry
// transient failures and go through the Redis cache when it is enabled;
// ingestion uses the bare embedder so a failure stops the run.
func newEmbedder(ctx context.Context, cfg *config.Config, forQuery bool) (domain.Embedder, func(), error) {
	var emb domain.Embedder
	switch cfg.Embedding.Provider {
	case "hash":
		emb = embedding.NewHash(cfg.Embedding.Dimension)
	case "openai":
		emb = embedding.NewOpenAI(embedding.OpenAIConfig{
			APIBase:   cfg.Embedding.APIBase,
			APIKey:    cfg.Embedding.APIKey,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
			BatchSize: cfg.Embedding.BatchSize,
			Logger:    logger,
		})
	default:
		return nil, nil, fmt.Errorf("unknown embedding provider: %s", cfg.Embedding.Provider)
	}

	cleanup := func() {}
	if !forQuery {
		return emb, cleanup, nil
	}

	emb = embedding.NewRetrying(emb, embedding.RetryConfig{
		Attempts:  cfg.Embedding.RetryAttempts,
		BaseDelay: time.Duration(cfg.Embedding.RetryDelayMs) * time.Millisecond,
		Logger:    logger,
	})

	if cfg.Cache.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warn("embedding cache unreachable, continuing without it", "addr", cfg.Cache.RedisAddr, "err", err)
			client.Close()
		} else {
			emb = embedding.NewCached(emb, client, time.Duration(cfg.Cache.TTLMinutes)*time.Minute, logger)
			cleanup = func() { client.Close() }
		}
	}
	return emb, cleanup, nil
}

// openForIngest opens or creates the corpus index. With rebuild, existing
// contents are discarded; an index bound to another embedding model is
// recreated from scratch.
func openForIngest(ctx context.Context, cfg *config.Config, emb domain.Embedder, rebuild bool) (*index.Store, error) {
	opts := index.Options{Dimension: emb.Dimension(), Model: emb.Model(), Logger: logger}
	store, err := index.Create(ctx, cfg.Corpus.Dir, opts)
	if err != nil {
		if !rebuild || !(errors.Is(err, domain.ErrModelMismatch) || errors.Is(err, domain.ErrDimensionMismatch)) {
			return nil, err
		}
		logger.Warn("index bound to another embedding model, recreating", "dir", cfg.Corpus.Dir, "err", err)
		if err := removeIndexFiles(cfg.Corpus.Dir); err != nil {
			return nil, err
		}
		return index.Create(ctx, cfg.Corpus.Dir, opts)
	}
	if rebuild {
		if err := store.Clear(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}

func removeIndexFiles(dir string) error {
	base := filepath.Join(dir, index.FileName)
	for _, p := range []string{base, base + "-wal", base + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("cannot remove %s: %w", p, err)
		}
	}
	return nil
}

// queryStack holds everything a question needs. Close releases the index and
// the cache connection.
type queryStack struct {
	store    *index.Store
	composer *rag.Composer
	service  *agent.Service
	cleanup  func()
}

func (q *queryStack) Close() {
	q.cleanup()
	if err := q.store.Close(); err != nil {
		logger.Warn("close index", "err", err)
	}
}

func newQueryStack(ctx context.Context, cfg *config.Config) (*queryStack, error) {
	emb, cleanup, err := newEmbedder(ctx, cfg, true)
	if err != nil {
		return nil, err
	}
	store, err := index.Open(ctx, cfg.Corpus.Dir, index.Options{Dimension: emb.Dimension(), Model: emb.Model(), Logger: logger})
	if err != nil {
		cleanup()
		return nil, err
	}
	fail := func(err error) (*queryStack, error) {
		cleanup()
		store.Close()
		return nil, err
	}

	prov, err := provider.NewFactory(cfg, logger).Chain()
	if err != nil {
		return fail(fmt.Errorf("provider: %w", err))
	}
	model := cfg.Providers[cfg.General.DefaultProvider].DefaultModel

	retriever := knowledge.NewRetriever(knowledge.RetrieverConfig{Embedder: emb, Index: store, K: cfg.RAG.K, Logger: logger})
	composer, err := rag.NewComposer(rag.Config{
		Retriever:   retriever,
		Provider:    prov,
		Model:       model,
		Temperature: cfg.RAG.Temperature,
		Logger:      logger,
	})
	if err != nil {
		return fail(err)
	}

	tools := tool.NewRegistry(logger)
	tools.Register(tool.NewRetrieveTool(retriever))
	tools.Register(tool.NewAskTool(composer))
	tools.Register(tool.NewClockTool())

	graph, err := agent.NewGraph(agent.GraphConfig{
		Provider:        prov,
		Tools:           tools,
		Model:           model,
		MaxIterations:   cfg.Agent.MaxIterations,
		Temperature:     cfg.Agent.Temperature,
		MaxTokens:       cfg.Agent.MaxTokens,
		ToolParallelism: cfg.Agent.ToolParallelism,
		Logger:          logger,
	})
	if err != nil {
		return fail(err)
	}
	service, err := agent.NewService(agent.ServiceConfig{
		Graph:        graph,
		Prompt:       agent.NewPromptBuilder(agent.PromptConfig{SystemPromptExtra: cfg.Agent.SystemPromptExtra}),
		StreamBuffer: cfg.Agent.StreamBuffer,
		Logger:       logger,
	})
	if err != nil {
		return fail(err)
	}

	return &queryStack{store: store, composer: composer, service: service, cleanup: cleanup}, nil
}
