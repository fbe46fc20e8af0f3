// Package app assembles the application: configuration, database, Genkit,
// stores, invokers, and the dispatch router. Setup builds the container;
// Close releases everything in reverse order.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aster0/aster/internal/artifact"
	"github.com/aster0/aster/internal/config"
	"github.com/aster0/aster/internal/dispatch"
	"github.com/aster0/aster/internal/log"
	"github.com/aster0/aster/internal/memory"
	"github.com/aster0/aster/internal/session"
)

// shutdownGrace bounds how long Close waits for in-flight background work
// (memory extraction) before giving up.
const shutdownGrace = 10 * time.Second

// App is the application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Pool     *pgxpool.Pool

	Sessions  *session.Store
	Artifacts *artifact.Store
	Memories  *memory.Store
	Extractor *memory.Extractor

	Router *dispatch.Router
	Flow   *dispatch.Flow

	// Background work lifecycle: extraction goroutines run on bgCtx and
	// register on wg so Close can drain them.
	bgCtx    context.Context //nolint:containedctx // app lifecycle, not a request context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup

	otelShutdown func(context.Context) error
}

// Close drains background work and releases resources.
// Safe to call after a partially failed Setup.
func (a *App) Close() error {
	logger := a.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	logger.Info("shutting down")

	// Give in-flight extraction a bounded window before cancellation.
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		logger.Warn("background work did not finish before shutdown grace expired")
	}

	if a.bgCancel != nil {
		a.bgCancel()
	}

	if a.Pool != nil {
		a.Pool.Close()
		logger.Debug("database pool closed")
	}

	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}

	return nil
}
