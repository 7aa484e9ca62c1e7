// Package badger opens and manages the embedded BadgerDB that backs the trace ledger
// and the feedback log.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the data directory; ignored when InMemory is true.
	Path string
	// InMemory keeps everything in RAM (tests, throwaway deployments).
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// Logger receives BadgerDB's internal log lines; nil silences them.
	Logger *zap.Logger
	// GCInterval is how often value-log GC runs; zero disables it.
	GCInterval time.Duration
	// GCDiscardRatio is the minimum garbage ratio of a value-log file before it is rewritten.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// zapAdapter bridges BadgerDB's printf-style logger to zap.
type zapAdapter struct {
	s *zap.SugaredLogger
}

func (l zapAdapter) Errorf(format string, args ...any)   { l.s.Errorf(format, args...) }
func (l zapAdapter) Warningf(format string, args ...any) { l.s.Warnf(format, args...) }
func (l zapAdapter) Infof(format string, args ...any)    { l.s.Infof(format, args...) }
func (l zapAdapter) Debugf(format string, args ...any)   { l.s.Debugf(format, args...) }

// DB wraps *badger.DB with background value-log GC.
type DB struct {
	*badger.DB
	gc       *GCRunner
	inMemory bool
	once     sync.Once
	closeErr error
}

// Open opens the database and starts GC for persistent instances.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(zapAdapter{s: cfg.Logger.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	d := &DB{DB: bdb, inMemory: cfg.InMemory}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		logger := cfg.Logger
		if logger == nil {
			logger = zap.NewNop()
		}
		d.gc = NewGCRunner(bdb, cfg.GCInterval, cfg.GCDiscardRatio, logger)
		d.gc.Start()
	}
	return d, nil
}

// OpenInMemory opens an in-memory database.
func OpenInMemory() (*DB, error) {
	return Open(InMemoryConfig())
}

// Close stops GC and closes the database. Subsequent calls return the first result.
func (d *DB) Close() error {
	d.once.Do(func() {
		if d.gc != nil {
			d.gc.Stop()
		}
		d.closeErr = d.DB.Close()
	})
	return d.closeErr
}

// InMemory reports whether the database is RAM-only.
func (d *DB) InMemory() bool { return d.inMemory }

// Update runs fn in a read-write transaction after checking ctx.
func (d *DB) Update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return d.DB.Update(fn) //nolint:wrapcheck // callers wrap with their own operation context
}

// View runs fn in a read-only transaction after checking ctx.
func (d *DB) View(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return d.DB.View(fn) //nolint:wrapcheck // callers wrap with their own operation context
}

// Ping opens and discards a read transaction; it fails once the database is closed.
func (d *DB) Ping(ctx context.Context) error {
	if d.DB.IsClosed() {
		return errors.New("badger: database closed")
	}
	return d.View(ctx, func(*badger.Txn) error { return nil })
}

// GCRunner periodically triggers value-log garbage collection.
type GCRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *zap.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	start    sync.Once
	stop     sync.Once
}

// NewGCRunner creates a runner; interval must be positive and ratio within (0,1).
// Out-of-range ratios fall back to 0.5.
func NewGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *zap.Logger) *GCRunner {
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	return &GCRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the GC loop once.
func (r *GCRunner) Start() {
	r.start.Do(func() { go r.run() })
}

// Stop halts the loop and waits for it to exit. Safe to call more than once.
func (r *GCRunner) Stop() {
	r.stop.Do(func() {
		close(r.stopCh)
		r.start.Do(func() { close(r.doneCh) }) // never started
		<-r.doneCh
	})
}

func (r *GCRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.collect()
		}
	}
}

// collect rewrites value-log files until nothing is left to reclaim.
func (r *GCRunner) collect() {
	rewrites := 0
	for {
		err := r.db.RunValueLogGC(r.ratio)
		if err == nil {
			rewrites++
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
			r.logger.Warn("Badger value log GC failed", zap.Error(err))
		}
		break
	}
	if rewrites > 0 {
		r.logger.Debug("Badger value log GC", zap.Int("rewrites", rewrites))
	}
}
