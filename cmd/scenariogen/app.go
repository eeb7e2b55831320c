package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/scenariogen/internal/cache"
	"github.com/dshills/scenariogen/internal/embedder"
	"github.com/dshills/scenariogen/internal/pipeline"
	"github.com/dshills/scenariogen/internal/searcher"
	"github.com/dshills/scenariogen/internal/storage"
	"github.com/dshills/scenariogen/internal/synth"
	"github.com/dshills/scenariogen/internal/toolchain"
	"github.com/dshills/scenariogen/pkg/types"
)

// app holds the collaborators of the whole-pipeline commands.
type app struct {
	storage  *storage.SQLiteStorage
	store    *cache.FileStore
	embedder embedder.Embedder
	pipeline *pipeline.Pipeline
}

// openApp validates the configuration and wires storage, the artifact cache,
// the embedder, the planner and the toolchain into a pipeline.
func openApp(ctx context.Context, dryRun bool) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dbPath := cfg.Path(cfg.StateDB)
	db, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a := &app{storage: db}

	a.store, err = cache.NewFileStore(cfg.Path(cfg.CacheDir))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.embedder, err = newEmbedder(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	planner, err := newPlanner(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.pipeline, err = pipeline.New(pipeline.Options{
		Storage:     db,
		Store:       a.store,
		Embedder:    a.embedder,
		Planner:     planner,
		Compiler:    toolchain.NewExecCompiler(cfg.Compiler, logger),
		Runner:      toolchain.ExecRunner{},
		OutputDir:   cfg.Path(cfg.OutputDir),
		Parallelism: cfg.Parallelism,
		Verbose:     verbose || cfg.Synthesis.Verbose,
		DryRun:      dryRun,
		Logger:      logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	logger.Debug("pipeline ready",
		zap.String("root", cfg.Root()),
		zap.String("db", dbPath),
		zap.String("cache", a.store.Dir()),
		zap.String("embedder", a.embedder.Provider()),
		zap.String("planner", planner.Name()),
		zap.Int("parallelism", cfg.Parallelism))
	return a, nil
}

// searcher builds a symbol searcher over the stored target heads.
func (a *app) searcher() *searcher.Searcher {
	loader := searcher.NewStoreLoader(a.storage, a.store, 8)
	return searcher.NewSearcher(loader, a.embedder, cfg.Search.CacheSize)
}

// Close releases the embedder and the database.
func (a *app) Close() {
	if a.embedder != nil {
		if err := a.embedder.Close(); err != nil {
			logger.Warn("failed to close embedder", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			logger.Warn("failed to close storage", zap.Error(err))
		}
	}
}

// newEmbedder creates the configured embedding provider.
func newEmbedder(ctx context.Context) (embedder.Embedder, error) {
	emb, err := embedder.New(ctx, embedder.Config{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		Dimension: cfg.Embedding.Dimension,
		CacheSize: cfg.Embedding.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embedder: %v", types.ErrConfiguration, err)
	}
	return emb, nil
}

// newPlanner creates the configured scenario planner.
func newPlanner(ctx context.Context) (synth.Planner, error) {
	switch cfg.Synthesis.Planner {
	case synth.PlannerGenAI:
		p, err := synth.NewGenAIPlanner(ctx, cfg.Synthesis.APIKey, cfg.Synthesis.Model)
		if err != nil {
			return nil, fmt.Errorf("%w: planner: %v", types.ErrConfiguration, err)
		}
		return p, nil
	case synth.PlannerHeuristic, "":
		return synth.NewHeuristicPlanner(), nil
	default:
		return nil, fmt.Errorf("%w: unknown planner %q", types.ErrConfiguration, cfg.Synthesis.Planner)
	}
}
