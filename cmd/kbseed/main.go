// kbseed loads a normalized math dataset into the knowledge base.
// Questions are embedded in batches and written as seeded records; records that
// already exist are skipped, so reruns are safe. Supports resume, parallel
// workers and Prometheus metrics.
//
// Usage:
//
//	kbseed -dataset data/normalized_math.json -workers 4
//
// Database, embedding and index settings come from config/<ENV>.yaml, the same
// file the API server reads, so both embed questions identically.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mathroute/internal/config"
	dbRedis "github.com/kailas-cloud/mathroute/internal/db/redis"
	"github.com/kailas-cloud/mathroute/internal/domain"
	logpkg "github.com/kailas-cloud/mathroute/internal/logger"
	kbrepo "github.com/kailas-cloud/mathroute/internal/repository/kb"
	openaiTransport "github.com/kailas-cloud/mathroute/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/mathroute/internal/usecase/embedding"
	"github.com/kailas-cloud/mathroute/internal/version"
)

type flags struct {
	dataset        string
	dataDir        string
	maxRows        int
	workers        int
	batchSize      int
	metricsPort    string
	cursorInterval int
	reset          bool
	version        bool
}

func main() {
	f := parseFlags()
	if f.version {
		fmt.Println("kbseed", version.String())
		return
	}

	env := config.GetEnv()
	cfg, err := config.Load(env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx, f, cfg, logger); err != nil {
		cancel()
		logger.Fatal("Seeding failed", zap.Error(err))
	}
}

func parseFlags() flags {
	f := flags{}
	flag.StringVar(&f.dataset, "dataset", "", "dataset file: JSON array or JSON lines (required)")
	flag.StringVar(&f.dataDir, "data-dir", "data", "directory for the resume cursor")
	flag.IntVar(&f.maxRows, "max-rows", 0, "max rows to load in this run (0=unlimited)")
	flag.IntVar(&f.workers, "workers", 4, "number of parallel embed+insert workers")
	flag.IntVar(&f.batchSize, "batch-size", 64, "rows per batch")
	flag.StringVar(&f.metricsPort, "metrics-port", "9091", "Prometheus metrics port (empty disables)")
	flag.IntVar(&f.cursorInterval, "cursor-interval", 1000, "save cursor every N rows")
	flag.BoolVar(&f.reset, "reset", false, "reset cursor and start from the first row")
	flag.BoolVar(&f.version, "version", false, "print version and exit")
	flag.Parse()
	return f
}

func run(ctx context.Context, f flags, cfg config.Config, logger *zap.Logger) error {
	if f.dataset == "" {
		return errors.New("-dataset is required")
	}
	if f.workers <= 0 || f.batchSize <= 0 {
		return errors.New("-workers and -batch-size must be positive")
	}
	start := time.Now()

	reg := prometheus.NewRegistry()
	metrics := newSeederMetrics(reg)
	if f.metricsPort != "" {
		metricsSrv := serveMetrics(f.metricsPort, reg, logger)
		defer func() {
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutCancel()
			_ = metricsSrv.Shutdown(shutCtx)
		}()
	}

	reader, err := newDatasetReader(f.dataset)
	if err != nil {
		return err
	}

	cursor, err := newCursorTracker(f.dataDir, f.dataset, f.cursorInterval, logger)
	if err != nil {
		return fmt.Errorf("cursor: %w", err)
	}
	if f.reset {
		cursor.Reset()
		logger.Info("Cursor reset, starting from the first row")
	}
	if cursor.Get().Done {
		logger.Info("Dataset already seeded; pass -reset to load it again", zap.String("dataset", f.dataset))
		return nil
	}

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:      cfg.Database.Addrs,
		Password:   cfg.Database.Password,
		ClientName: "mathroute-kbseed",
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer store.Close()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}

	kb := kbrepo.New(store, indexConfig(cfg))
	if err := kb.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("ensure index: %w", err)
	}

	poller := &sizePoller{kb: kb, metrics: metrics, interval: 15 * time.Second, logger: logger}
	poller.Start(ctx)

	ing := &ingester{
		embedder:  buildEmbedder(cfg.Embedding, logger),
		kb:        kb,
		workers:   f.workers,
		batchSize: f.batchSize,
		metrics:   metrics,
		cursor:    cursor,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}

	logger.Info("Seeding knowledge base",
		zap.String("dataset", f.dataset),
		zap.Int("from_row", cursor.Get().RowOffset),
		zap.Int("workers", f.workers),
		zap.Int("batch_size", f.batchSize),
	)
	result, err := ing.Run(ctx, reader, f.maxRows)
	cursor.Save()
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if ctx.Err() != nil {
		logger.Warn("Seeding interrupted; rerun to resume", zap.Int("row_offset", cursor.Get().RowOffset))
		return nil
	}
	if f.maxRows == 0 {
		cursor.Finish()
	}

	report(ctx, kb, result, time.Since(start), logger)
	return nil
}

// buildEmbedder mirrors the server chain without the embedding cache:
// OpenAI -> Instrumented (chunked batches) -> Prepared.
func buildEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) batchEmbedder {
	base := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		Provider:   cfg.Provider,
		Timeout:    cfg.Timeout,
		Logger:     logger,
	})
	instrumented := embeddinguc.NewInstrumentedEmbedder(base, cfg.Provider, cfg.Model, logger).
		WithChunkSize(cfg.ChunkSize)
	return domain.NewPreparedEmbedder(instrumented, domain.WithInstruction(cfg.Instruction, nil))
}

func indexConfig(cfg config.Config) kbrepo.IndexConfig {
	return kbrepo.IndexConfig{
		Dimensions:  cfg.Embedding.Dimensions,
		Algorithm:   cfg.Index.VectorAlgorithm(),
		M:           cfg.Index.HNSWM,
		EFConstruct: cfg.Index.HNSWEFConstruct,
	}
}

func report(ctx context.Context, kb *kbrepo.Repo, result ingestResult, elapsed time.Duration, logger *zap.Logger) {
	total, err := kb.Count(ctx)
	if err != nil {
		logger.Warn("KB count failed", zap.Error(err))
	}
	processed := result.Inserted + result.Duplicate + result.Failed
	rate := 0.0
	if elapsed > 0 {
		rate = float64(processed) / elapsed.Seconds()
	}
	logger.Info("Seeding done",
		zap.Duration("elapsed", elapsed.Round(time.Second)),
		zap.Int64("inserted", result.Inserted),
		zap.Int64("duplicate", result.Duplicate),
		zap.Int64("failed", result.Failed),
		zap.Float64("rows_per_sec", rate),
		zap.Int("kb_records", total),
	)
}
