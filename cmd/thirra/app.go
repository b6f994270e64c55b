package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opestro/Thirra-ai-sub000/thirra/config"
	"github.com/opestro/Thirra-ai-sub000/thirra/db"
	"github.com/opestro/Thirra-ai-sub000/thirra/generation"
	"github.com/opestro/Thirra-ai-sub000/thirra/generation/harness"
	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
	"github.com/opestro/Thirra-ai-sub000/thirra/memory/service"
)

// app holds everything a command needs, wired from the loaded config.
type app struct {
	db       *sql.DB
	registry *prometheus.Registry
	memory   *service.MemorySystem
	engine   *generation.Engine
	provider ports.Provider // nil in offline mode
	embedder ports.Embedder
	metrics  *http.Server
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if strings.EqualFold(cfg.Database.Type, "libsql") {
		conn, err := db.Connect(ctx, cfg.Database.DSN, logger)
		if err != nil {
			return nil, err
		}
		a.db = conn
		if cfg.Database.AutoMigrate {
			if _, err := db.Migrate(ctx, conn, logger); err != nil {
				a.close()
				return nil, err
			}
		}
	}

	factory := harness.NewFactory(cfg, a.db, logger)
	store := factory.CreateTurnStore()

	provider, err := factory.CreateProvider()
	switch {
	case errors.Is(err, harness.ErrNoProvider):
		logger.Warn().Err(err).Msg("running without a chat provider")
	case err != nil:
		a.close()
		return nil, err
	default:
		a.provider = provider
	}

	embedder, err := factory.CreateEmbedder()
	if err != nil {
		logger.Warn().Err(err).Msg("semantic recall disabled")
	}
	a.embedder = embedder

	a.memory, err = service.NewMemorySystem(service.MemorySystemConfig{
		Config:   cfg,
		Store:    store,
		Provider: a.provider,
		Embedder: a.embedder,
		Cache:    factory.CreateCache(),
		Registry: a.registry,
		Logger:   logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	var orchestrator *harness.Orchestrator
	if a.provider != nil {
		orchestrator = factory.CreateOrchestrator(a.provider)
	}

	a.engine, err = generation.NewEngine(generation.EngineConfig{
		Memory:       a.memory,
		Store:        store,
		Orchestrator: orchestrator,
		Parser:       factory.CreateParser(),
		Budget:       factory.CreateBudgetParams(),
		Options:      factory.ProviderOptions(),
		ExpectTitle:  cfg.Parser.ExpectTitle,
		Logger:       logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

// serveMetrics exposes the registry on addr until close.
func (a *app) serveMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	a.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics listener stopped")
		}
	}()
}

func (a *app) close() {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.metrics.Shutdown(ctx)
		cancel()
	}
	if a.memory != nil {
		_ = a.memory.Close()
	}
	if c, ok := a.embedder.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn().Err(err).Msg("close embedder")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Warn().Err(err).Msg("close database")
		}
	}
}
