// Worker pool that seeds the knowledge base.
// reader -> channel(batch) -> N workers -> BatchEmbed -> InsertMany -> Redis.
package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/mathroute/internal/domain"
	"github.com/kailas-cloud/mathroute/internal/domain/kb"
)

var provenances = []kb.Provenance{kb.Seeded, kb.UserValidated}

// batchEmbedder embeds questions in input order.
type batchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error)
}

// recordWriter stores records, skipping ones already present.
type recordWriter interface {
	InsertMany(ctx context.Context, recs []kb.Record) (int, error)
}

// kbCounter reports the KB size.
type kbCounter interface {
	CountByProvenance(ctx context.Context, p kb.Provenance) (int, error)
}

// rowSource streams dataset rows.
type rowSource interface {
	Read(offset, maxRows int, cb readRowsCallback) (int, error)
}

// ingester is the seeding worker pool.
type ingester struct {
	embedder  batchEmbedder
	kb        recordWriter
	workers   int
	batchSize int
	metrics   *seederMetrics
	cursor    *cursorTracker
	now       func() time.Time
	logger    *zap.Logger
}

// batchItem is rows [start, start+len(rows)) of the dataset.
type batchItem struct {
	rows  []datasetRow
	start int
}

// ingestResult sums one run.
type ingestResult struct {
	Inserted  int64
	Duplicate int64
	Failed    int64
	Duration  time.Duration
}

// Run seeds from the cursor position until the dataset ends, maxRows is reached or ctx is done.
func (ing *ingester) Run(ctx context.Context, src rowSource, maxRows int) (ingestResult, error) {
	offset := ing.cursor.Get().RowOffset

	batches := make(chan batchItem, ing.workers*2)
	var wg sync.WaitGroup
	var inserted, duplicate, failed atomic.Int64

	start := time.Now()
	for i := 0; i < ing.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for b := range batches {
				ins, dup, fail := ing.processBatch(ctx, workerID, b)
				inserted.Add(int64(ins))
				duplicate.Add(int64(dup))
				failed.Add(int64(fail))
			}
		}(i)
	}

	readErr := ing.produce(ctx, src, offset, maxRows, batches)
	close(batches)
	wg.Wait()

	return ingestResult{
		Inserted:  inserted.Load(),
		Duplicate: duplicate.Load(),
		Failed:    failed.Load(),
		Duration:  time.Since(start),
	}, readErr
}

// produce reads rows and cuts them into batches.
func (ing *ingester) produce(
	ctx context.Context, src rowSource, offset, maxRows int, out chan<- batchItem,
) error {
	batch := batchItem{start: offset, rows: make([]datasetRow, 0, ing.batchSize)}
	stopped := false

	_, err := src.Read(offset, maxRows, func(row *datasetRow, seq int) bool {
		if ctx.Err() != nil {
			stopped = true
			return false
		}
		if len(batch.rows) == 0 {
			batch.start = seq
		}
		batch.rows = append(batch.rows, *row)
		if len(batch.rows) >= ing.batchSize {
			out <- batch
			batch = batchItem{rows: make([]datasetRow, 0, ing.batchSize)}
		}
		return true
	})

	if len(batch.rows) > 0 && !stopped {
		out <- batch
	}
	return err
}

// processBatch embeds and stores one batch. It returns inserted, duplicate and failed row counts.
func (ing *ingester) processBatch(ctx context.Context, workerID int, b batchItem) (int, int, int) {
	start := time.Now()
	defer func() {
		ing.metrics.batchesTotal.Inc()
		ing.metrics.batchDuration.Observe(time.Since(start).Seconds())
	}()

	log := ing.logger.With(zap.Int("worker", workerID), zap.Int("batch_start", b.start))

	valid := make([]*datasetRow, 0, len(b.rows))
	for i := range b.rows {
		if b.rows[i].valid() {
			valid = append(valid, &b.rows[i])
		}
	}
	invalid := len(b.rows) - len(valid)
	if invalid > 0 {
		ing.metrics.rowsFailed.WithLabelValues("invalid_row").Add(float64(invalid))
	}

	ins, dup, fail, err := ing.store(ctx, log, valid)
	if err != nil && ctx.Err() != nil {
		// Interrupted: leave the rows for the next run.
		log.Warn("Batch abandoned", zap.Error(err))
		return 0, 0, 0
	}
	fail += invalid

	ing.cursor.Complete(b.start, b.start+len(b.rows), ins, dup, fail)
	ing.metrics.cursorPosition.Set(float64(ing.cursor.Get().RowOffset))
	return ins, dup, fail
}

// store embeds and inserts valid rows. On error the returned counts say what was lost.
func (ing *ingester) store(ctx context.Context, log *zap.Logger, rows []*datasetRow) (int, int, int, error) {
	if len(rows) == 0 {
		return 0, 0, 0, nil
	}

	questions := make([]string, len(rows))
	for i, r := range rows {
		questions[i] = string(r.Question)
	}

	emb, err := ing.embedder.BatchEmbed(ctx, questions)
	if err == nil && len(emb.Embeddings) != len(rows) {
		err = fmt.Errorf("got %d vectors for %d questions: %w",
			len(emb.Embeddings), len(rows), domain.ErrEmbeddingProviderError)
	}
	if err != nil {
		log.Error("Batch embedding failed", zap.Int("rows", len(rows)), zap.Error(err))
		ing.metrics.rowsFailed.WithLabelValues("embed_error").Add(float64(len(rows)))
		return 0, 0, len(rows), err
	}
	ing.metrics.embedTokens.Add(float64(emb.TotalTokens))

	now := ing.now()
	recs := make([]kb.Record, 0, len(rows))
	failed := 0
	for i, r := range rows {
		rec, err := toRecord(r, emb.Embeddings[i], now)
		if err != nil {
			failed++
			continue
		}
		recs = append(recs, rec)
	}
	if failed > 0 {
		ing.metrics.rowsFailed.WithLabelValues("invalid_row").Add(float64(failed))
	}

	inserted, err := ing.kb.InsertMany(ctx, recs)
	if err != nil {
		log.Error("Batch insert failed", zap.Int("records", len(recs)), zap.Error(err))
		ing.metrics.rowsFailed.WithLabelValues("insert_error").Add(float64(len(recs)))
		return 0, 0, failed + len(recs), err
	}

	duplicate := len(recs) - inserted
	ing.metrics.rowsTotal.WithLabelValues("inserted").Add(float64(inserted))
	ing.metrics.rowsTotal.WithLabelValues("duplicate").Add(float64(duplicate))
	return inserted, duplicate, failed, nil
}
