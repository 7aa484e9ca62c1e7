package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mathroute/internal/config"
	dbRedis "github.com/kailas-cloud/mathroute/internal/db/redis"
	"github.com/kailas-cloud/mathroute/internal/domain"
	logpkg "github.com/kailas-cloud/mathroute/internal/logger"
	"github.com/kailas-cloud/mathroute/internal/metrics"
	budgetrepo "github.com/kailas-cloud/mathroute/internal/repository/budget"
	"github.com/kailas-cloud/mathroute/internal/repository/embcache"
	kbrepo "github.com/kailas-cloud/mathroute/internal/repository/kb"
	"github.com/kailas-cloud/mathroute/internal/repository/ledger"
	"github.com/kailas-cloud/mathroute/internal/repository/respcache"
	badgerdb "github.com/kailas-cloud/mathroute/internal/storage/badger"
	chiTransport "github.com/kailas-cloud/mathroute/internal/transport/chi"
	openaiTransport "github.com/kailas-cloud/mathroute/internal/transport/openai"
	"github.com/kailas-cloud/mathroute/internal/transport/websearch"
	embeddinguc "github.com/kailas-cloud/mathroute/internal/usecase/embedding"
	feedbackuc "github.com/kailas-cloud/mathroute/internal/usecase/feedback"
	generationuc "github.com/kailas-cloud/mathroute/internal/usecase/generation"
	"github.com/kailas-cloud/mathroute/internal/usecase/guardrail"
	healthuc "github.com/kailas-cloud/mathroute/internal/usecase/health"
	kbsearchuc "github.com/kailas-cloud/mathroute/internal/usecase/kbsearch"
	routeruc "github.com/kailas-cloud/mathroute/internal/usecase/router"
	statsuc "github.com/kailas-cloud/mathroute/internal/usecase/stats"
	"github.com/kailas-cloud/mathroute/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting mathroute API server",
		zap.String("version", version.String()),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	// Valkey and Redis speak the same protocol; both go through rueidis.
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:      cfg.Database.Addrs,
		Password:   cfg.Database.Password,
		ClientName: "mathroute",
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	ledgerDB, err := badgerdb.Open(badgerdb.Config{
		Path:           cfg.Ledger.Path,
		InMemory:       cfg.Ledger.InMemory,
		SyncWrites:     cfg.Ledger.SyncWrites,
		Logger:         logger,
		GCInterval:     cfg.Ledger.GCInterval,
		GCDiscardRatio: cfg.Ledger.GCDiscardRatio,
	})
	if err != nil {
		logger.Fatal("Failed to open trace ledger", zap.Error(err))
	}
	defer func() {
		if err := ledgerDB.Close(); err != nil {
			logger.Error("Failed to close trace ledger", zap.Error(err))
		}
	}()
	logger.Info("Trace ledger opened",
		zap.String("path", cfg.Ledger.Path),
		zap.Bool("in_memory", cfg.Ledger.InMemory),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterProviderMetrics()
	metrics.RegisterRoutingMetrics()

	// Build embedder chain (composition root)
	embedder := buildEmbedder(cfg.Embedding, store, logger)
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	// Knowledge base
	kb := kbrepo.New(store, indexConfig(cfg))
	if err := kb.EnsureIndex(ctx); err != nil {
		logger.Fatal("Failed to ensure knowledge base index", zap.Error(err))
	}

	traces := ledger.New(ledgerDB, cfg.Ledger.Retention, cfg.Ledger.FeedbackRetention)

	responses := respcache.New(cfg.Cache.Capacity, cfg.Cache.TTL, logger).
		WithMetrics(metrics.ResponseCacheTotal, metrics.ResponseCacheEntries, metrics.SingleflightSharedTotal)

	guard := guardrail.New()

	router := routeruc.New(guard, responses, traces, kb, embedder, logger).
		WithPolicy(routerPolicy(cfg))

	healthSvc := healthuc.New(store, ledgerDB).
		WithEmbedding(embedder).
		WithTimeout(cfg.Health.Timeout).
		WithLogger(logger)

	statsSvc := statsuc.New(router, responses, guard, kb, traces).WithLogger(logger)

	// Web tier
	if cfg.WebSearch.Enabled {
		searcher := websearch.New(&websearch.Config{
			APIKey:      cfg.WebSearch.APIKey,
			BaseURL:     cfg.WebSearch.BaseURL,
			Provider:    cfg.WebSearch.Provider,
			SearchDepth: cfg.WebSearch.SearchDepth,
			MaxSources:  cfg.WebSearch.MaxSources,
			Scrape:      cfg.WebSearch.Scrape,
			Timeout:     cfg.WebSearch.Timeout,
			Logger:      logger,
		})
		router.WithWebSearch(searcher, cfg.WebSearch.Provider)
		healthSvc.WithWebSearch(searcher)
		logger.Info("Web search tier enabled", zap.String("provider", cfg.WebSearch.Provider))
	}

	// Generative tier
	if cfg.Generative.Enabled {
		// Pass nil interface (not typed nil pointer!) if budget is not configured.
		var budgetChecker generationuc.BudgetChecker
		if b := buildBudget(ctx, cfg.Generative, store, logger); b != nil {
			budgetChecker = b
			statsSvc.WithBudget(b)
		}

		base := openaiTransport.NewGenerator(&openaiTransport.Config{
			APIKey:      cfg.Generative.APIKey,
			BaseURL:     cfg.Generative.BaseURL,
			Model:       cfg.Generative.Model,
			Provider:    cfg.Generative.Provider,
			Timeout:     cfg.Generative.Timeout,
			Temperature: cfg.Generative.Temperature,
			MaxTokens:   cfg.Generative.MaxTokens,
			Logger:      logger,
		})
		generator := generationuc.NewInstrumentedGenerator(
			base, cfg.Generative.Provider, cfg.Generative.Model, budgetChecker, logger,
		)
		router.WithGenerator(generator, cfg.Generative.Provider)
		healthSvc.WithGenerative(generator)
		logger.Info("Generative tier enabled",
			zap.String("provider", cfg.Generative.Provider),
			zap.String("model", cfg.Generative.Model),
		)
	}

	feedbackSvc := feedbackuc.New(traces, kb, embedder, responses, logger).
		WithCanonicalKeys(cfg.Router.CanonicalKeys)

	kbSearch := kbsearchuc.New(guard, kb, embedder, logger).WithTopK(cfg.Router.TopK)

	// Background maintenance: expired response cache entries
	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	go responses.Run(bgCtx, cfg.Cache.SweepInterval)

	// Create chi server
	server := chiTransport.NewServer(router, feedbackSvc, kbSearch, statsSvc, guard, responses, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(chiTransport.JSONRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(chiTransport.WideEvent(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	stopBackground()

	logger.Info("Server stopped gracefully")
}

// embedderChain is what the router and the feedback service need from the embedder.
type embedderChain interface {
	domain.Embedder
	domain.HealthChecker
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented -> Prepared
func buildEmbedder(cfg config.EmbeddingConfig, store *dbRedis.Store, logger *zap.Logger) embedderChain {
	// Base provider (with transport metrics built-in)
	base := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		Provider:   cfg.Provider,
		Timeout:    cfg.Timeout,
		Logger:     logger,
	})

	// Cached per model
	cached := embcache.New(base, store, metrics.EmbeddingCacheTotal, logger).
		WithTTL(cfg.CacheTTL).
		WithNamespace(cfg.Model)

	instrumented := embeddinguc.NewInstrumentedEmbedder(cached, cfg.Provider, cfg.Model, logger).
		WithChunkSize(cfg.ChunkSize)

	// Instruction prefix is outermost so the cache key includes it
	return domain.NewPreparedEmbedder(instrumented, domain.WithInstruction(cfg.Instruction, nil))
}

// buildBudget returns nil when no token limit is configured.
func buildBudget(
	ctx context.Context, cfg config.GenerativeConfig, store *dbRedis.Store, logger *zap.Logger,
) *generationuc.BudgetTracker {
	if cfg.Budget.DailyTokenLimit <= 0 && cfg.Budget.MonthlyTokenLimit <= 0 {
		return nil
	}
	action := generationuc.BudgetActionWarn
	if cfg.Budget.Action == "reject" {
		action = generationuc.BudgetActionReject
	}
	// Connect persistence store; loads current counters from DB.
	return generationuc.NewBudgetTracker(
		cfg.Provider, cfg.Budget.DailyTokenLimit, cfg.Budget.MonthlyTokenLimit, action, logger,
	).WithStore(ctx, budgetrepo.New(store, budgetrepo.DefaultDailyTTL, budgetrepo.DefaultMonthlyTTL))
}

func indexConfig(cfg config.Config) kbrepo.IndexConfig {
	return kbrepo.IndexConfig{
		Dimensions:  cfg.Embedding.Dimensions,
		Algorithm:   cfg.Index.VectorAlgorithm(),
		M:           cfg.Index.HNSWM,
		EFConstruct: cfg.Index.HNSWEFConstruct,
	}
}

func routerPolicy(cfg config.Config) routeruc.Policy {
	p := routeruc.DefaultPolicy()
	rc := cfg.Router
	p.Threshold = rc.Threshold
	p.ValidatedThreshold = rc.ValidatedThreshold
	p.TopK = rc.TopK
	p.NumericExactOnly = rc.NumericExactOnly
	p.KBTimeout = rc.KBTimeout
	p.WebTimeout = rc.WebTimeout
	p.GenerativeTimeout = rc.GenerativeTimeout
	p.RetryBackoff = rc.RetryBackoff
	p.TimeoutRetries = *rc.TimeoutRetries
	if rc.GenerativeFirst != nil {
		p.GenerativeFirst = rc.GenerativeFirst
	}
	p.CacheTTL = cfg.Cache.TTL
	p.CanonicalKeys = rc.CanonicalKeys
	p.TraceOnCacheHit = routeruc.TraceOnCacheHit(rc.TraceOnCacheHit)
	return p
}
