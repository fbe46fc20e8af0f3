package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"github.com/aster0/aster/internal/artifact"
	"github.com/aster0/aster/internal/config"
	"github.com/aster0/aster/internal/database"
	"github.com/aster0/aster/internal/dispatch"
	"github.com/aster0/aster/internal/invoke"
	"github.com/aster0/aster/internal/log"
	"github.com/aster0/aster/internal/memory"
	"github.com/aster0/aster/internal/observability"
	"github.com/aster0/aster/internal/research"
	"github.com/aster0/aster/internal/session"
)

// Setup builds the application container. On failure everything already
// initialized is released; on success the caller owns Close.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = log.NewNop()
	}

	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing first: Genkit registers its flows and model calls on the
	// TracerProvider at Init time.
	otelShutdown, err := observability.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.otelShutdown = otelShutdown

	if err := database.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.NewPool(ctx, cfg.PostgresConnectionString(), database.PoolConfig{})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	a.Pool = pool

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}
	a.Genkit = g

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}
	a.Embedder = embedder

	if err := a.buildStores(); err != nil {
		return nil, err
	}

	invokers, err := a.buildInvokers()
	if err != nil {
		return nil, err
	}

	a.bgCtx, a.bgCancel = context.WithCancel(context.WithoutCancel(ctx))

	router, err := dispatch.NewRouter(dispatch.Config{
		Invokers:      invokers,
		Sessions:      a.Sessions,
		Logger:        logger,
		Memories:      a.Memories,
		Extractor:     a.Extractor,
		MaxHops:       cfg.MaxHops,
		BackgroundCtx: a.bgCtx,
		WG:            &a.wg,
	})
	if err != nil {
		return nil, fmt.Errorf("building router: %w", err)
	}
	a.Router = router
	a.Flow = dispatch.NewFlow(g, router)

	logger.Info("application ready",
		"modes", len(invokers),
		"max_hops", cfg.MaxHops,
		"tracing", cfg.Tracing.Enabled,
	)
	return a, nil
}

// buildStores wires the persistence layer.
func (a *App) buildStores() error {
	sessions, err := session.NewStore(a.Pool, a.Logger)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}
	a.Sessions = sessions

	artifacts, err := artifact.NewStore(a.Pool, a.Logger)
	if err != nil {
		return fmt.Errorf("creating artifact store: %w", err)
	}
	a.Artifacts = artifacts

	memories, err := memory.NewStore(a.Pool, a.Embedder, a.Logger)
	if err != nil {
		return fmt.Errorf("creating memory store: %w", err)
	}
	a.Memories = memories

	extractor, err := memory.NewExtractor(a.Genkit, a.Config.Models.ModelFor("chat"), memories, a.Logger)
	if err != nil {
		return fmt.Errorf("creating memory extractor: %w", err)
	}
	a.Extractor = extractor

	return nil
}

// buildInvokers constructs one invoker per dispatch mode.
func (a *App) buildInvokers() (map[dispatch.Mode]dispatch.Invoker, error) {
	cfg := a.Config
	g := a.Genkit
	logger := a.Logger

	opts := invoke.Options{
		Temperature: cfg.Temperature,
		MaxTokens:   int32(cfg.MaxTokens),
		Language:    cfg.Language,
	}
	modelFor := cfg.Models.ModelFor

	searcher, err := research.NewClient(cfg.SearXNG.BaseURL, cfg.SearXNG.MaxResults, logger)
	if err != nil {
		return nil, fmt.Errorf("creating search client: %w", err)
	}
	fetcher := research.NewFetcher(research.FetcherConfig{
		Parallelism: cfg.Fetcher.Parallelism,
		Delay:       time.Duration(cfg.Fetcher.DelayMs) * time.Millisecond,
		Timeout:     time.Duration(cfg.Fetcher.TimeoutMs) * time.Millisecond,
	}, logger)
	pipeline, err := research.NewPipeline(searcher, fetcher, cfg.Fetcher.MaxPages, logger)
	if err != nil {
		return nil, fmt.Errorf("creating research pipeline: %w", err)
	}

	chat, err := invoke.NewChat(g, modelFor("chat"), opts, logger)
	if err != nil {
		return nil, fmt.Errorf("creating chat invoker: %w", err)
	}
	search, err := invoke.NewSearch(g, modelFor("search"), opts, searcher, cfg.SearXNG.MaxResults, logger)
	if err != nil {
		return nil, fmt.Errorf("creating search invoker: %w", err)
	}
	deep, err := invoke.NewResearch(g, modelFor("research"), modelFor("chat"), opts, pipeline, logger)
	if err != nil {
		return nil, fmt.Errorf("creating research invoker: %w", err)
	}
	think, err := invoke.NewThink(g, modelFor("think"), opts, invoke.DefaultThinkingBudget, logger)
	if err != nil {
		return nil, fmt.Errorf("creating think invoker: %w", err)
	}
	image, err := invoke.NewImage(g, modelFor("image"), opts, a.Artifacts, logger)
	if err != nil {
		return nil, fmt.Errorf("creating image invoker: %w", err)
	}
	canvas, err := invoke.NewCanvas(g, modelFor("canvas"), opts, a.Artifacts, logger)
	if err != nil {
		return nil, fmt.Errorf("creating canvas invoker: %w", err)
	}
	project, err := invoke.NewProject(g, modelFor("project"), opts, logger)
	if err != nil {
		return nil, fmt.Errorf("creating project invoker: %w", err)
	}
	study, err := invoke.NewStudy(g, modelFor("study"), opts, logger)
	if err != nil {
		return nil, fmt.Errorf("creating study invoker: %w", err)
	}

	return map[dispatch.Mode]dispatch.Invoker{
		dispatch.ModeChat:     chat,
		dispatch.ModeSearch:   search,
		dispatch.ModeResearch: deep,
		dispatch.ModeThink:    think,
		dispatch.ModeImage:    image,
		dispatch.ModeCanvas:   canvas,
		dispatch.ModeProject:  project,
		dispatch.ModeStudy:    study,
	}, nil
}

// TitleFunc returns a best-effort session title generator for the API server.
func (a *App) TitleFunc() func(ctx context.Context, userMessage string) string {
	g := a.Genkit
	model := a.Config.Models.ModelFor("chat")
	logger := a.Logger
	return func(ctx context.Context, userMessage string) string {
		return invoke.GenerateTitle(ctx, g, model, userMessage, logger)
	}
}
