package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docqa/internal/ai"
	"github.com/xxxsen/docqa/internal/chunker"
	"github.com/xxxsen/docqa/internal/config"
	"github.com/xxxsen/docqa/internal/db"
	"github.com/xxxsen/docqa/internal/embedcache"
	"github.com/xxxsen/docqa/internal/filestore"
	"github.com/xxxsen/docqa/internal/index"
	"github.com/xxxsen/docqa/internal/moderation"
	"github.com/xxxsen/docqa/internal/service"
	"github.com/xxxsen/docqa/internal/synth"
)

type app struct {
	cfg     *config.Config
	rag     *service.RAGService
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logutil.GetLogger(context.Background()).Warn("close resource failed", zap.Error(err))
		}
	}
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	providers, err := buildProviders(cfg.AI)
	if err != nil {
		return nil, err
	}
	embedder, err := a.buildEmbedder(ctx, cfg, providers)
	if err != nil {
		return nil, err
	}
	generator, err := buildGenerator(cfg.AI, providers)
	if err != nil {
		return nil, err
	}
	idx, err := a.buildIndex(ctx, cfg.Index)
	if err != nil {
		return nil, err
	}
	store, err := filestore.New(cfg.FileStore)
	if err != nil {
		return nil, fmt.Errorf("init file store: %w", err)
	}
	ck, err := chunker.New(cfg.Chunk.Size, cfg.Chunk.Overlap)
	if err != nil {
		return nil, err
	}
	synthesizer := synth.New(generator, synth.Options{
		Timeout:     time.Duration(cfg.AI.GenerateTimeout) * time.Second,
		ContextMode: cfg.Retrieval.ContextMode,
		Labeler:     store.Path,
	})
	a.rag = service.NewRAGService(service.Deps{
		Chunker:     ck,
		Embedder:    embedder,
		Index:       idx,
		Synthesizer: synthesizer,
		Store:       store,
		Moderator:   moderation.NewProfanityChecker(),
	}, service.Options{
		TopK:          cfg.Retrieval.TopK,
		Threshold:     *cfg.Retrieval.Threshold,
		MaxQueryChars: cfg.Retrieval.MaxQueryChars,
		MaxDocBytes:   cfg.MaxUploadBytes,
		SyncRetries:   3,
		RetryInterval: time.Second,
	})
	ok = true
	return a, nil
}

func buildProviders(cfg config.AIConfig) (map[string]ai.IProvider, error) {
	out := make(map[string]ai.IProvider, len(cfg.Providers))
	for _, p := range cfg.Providers {
		args := p.Data
		if args == nil {
			args = map[string]interface{}{}
		}
		provider, err := ai.NewProvider(p.Type, args)
		if err != nil {
			return nil, fmt.Errorf("init ai provider %s: %w", p.Name, err)
		}
		out[p.Name] = provider
	}
	return out, nil
}

func (a *app) buildEmbedder(ctx context.Context, cfg *config.Config, providers map[string]ai.IProvider) (ai.IEmbedder, error) {
	embedder := ai.NewEmbedder(
		providers[cfg.AI.Embedder.Provider],
		cfg.AI.Embedder.Model,
		cfg.AI.BatchSize,
		time.Duration(cfg.AI.EmbedTimeout)*time.Second,
	)
	if r := cfg.Cache.Redis; r.Addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{r.Addr},
			Password: r.Password,
			DB:       r.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logutil.GetLogger(ctx).Warn("redis unreachable, embedding cache will miss until it recovers",
				zap.String("addr", r.Addr), zap.Error(err))
		}
		a.closers = append(a.closers, client.Close)
		embedder = embedcache.WrapRedisCacheToEmbedder(embedder, client, time.Duration(r.TTL)*time.Second)
	}
	if cfg.Cache.LRUSize > 0 {
		embedder = embedcache.WrapLruCacheToEmbedder(embedder, cfg.Cache.LRUSize, time.Duration(cfg.Cache.LRUTTL)*time.Second)
	}
	return embedder, nil
}

func buildGenerator(cfg config.AIConfig, providers map[string]ai.IProvider) (ai.IGenerator, error) {
	items := make([]ai.GeneratorEntry, 0, len(cfg.Generators))
	for _, g := range cfg.Generators {
		name := g.Provider + "/" + g.Model
		gen := ai.WrapBreaker(name, ai.NewGenerator(providers[g.Provider], g.Model),
			cfg.BreakerFailures, time.Duration(cfg.BreakerCooldown)*time.Second)
		items = append(items, ai.GeneratorEntry{Name: name, Generator: gen})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no generator configured")
	}
	return ai.NewGroupGenerator(items), nil
}

func (a *app) buildIndex(ctx context.Context, cfg config.IndexConfig) (index.Index, error) {
	metric, err := index.ParseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case config.IndexTypePGVector:
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		a.closers = append(a.closers, conn.Close)
		if err := db.ApplyMigrations(ctx, conn); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return index.NewPG(conn, metric), nil
	default:
		idx, err := index.Open(ctx, cfg.Path, metric)
		if err != nil {
			return nil, fmt.Errorf("open index: %w", err)
		}
		return idx, nil
	}
}
