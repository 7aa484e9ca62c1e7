// Package ledger persists trace entries and the feedback log in BadgerDB.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/kailas-cloud/mathroute/internal/domain"
	"github.com/kailas-cloud/mathroute/internal/domain/feedback"
	"github.com/kailas-cloud/mathroute/internal/domain/trace"
)

const (
	tracePrefix    = "trace:"
	feedbackPrefix = "feedback:"

	// DefaultRetention is how long trace entries stay resolvable.
	DefaultRetention = 24 * time.Hour
	// DefaultFeedbackRetention is how long feedback records are kept.
	DefaultFeedbackRetention = 30 * 24 * time.Hour
)

// store is the consumer interface over the badger wrapper.
type store interface {
	Update(ctx context.Context, fn func(txn *badger.Txn) error) error
	View(ctx context.Context, fn func(txn *badger.Txn) error) error
}

// Repo is the badger-backed trace ledger.
type Repo struct {
	store             store
	retention         time.Duration
	feedbackRetention time.Duration
	now               func() time.Time
}

// New creates a ledger. Non-positive retentions fall back to the defaults.
func New(s store, retention, feedbackRetention time.Duration) *Repo {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if feedbackRetention <= 0 {
		feedbackRetention = DefaultFeedbackRetention
	}
	return &Repo{
		store:             s,
		retention:         retention,
		feedbackRetention: feedbackRetention,
		now:               time.Now,
	}
}

// Retention returns the trace entry TTL.
func (r *Repo) Retention() time.Duration { return r.retention }

// Record writes e once. A second write of the same id yields domain.ErrTraceExists.
func (r *Repo) Record(ctx context.Context, e trace.Entry) error {
	if e.ID() == "" {
		return fmt.Errorf("ledger record: empty trace id")
	}
	val, err := json.Marshal(toEntryDTO(e))
	if err != nil {
		return fmt.Errorf("ledger record: marshal: %w", err)
	}

	key := traceKey(e.ID())
	err = r.store.Update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return domain.ErrTraceExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.SetEntry(badger.NewEntry(key, val).WithTTL(r.retention))
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrTraceExists), errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("ledger record %s: %w", e.ID(), domain.ErrTraceExists)
	default:
		return fmt.Errorf("ledger record %s: %w: %w", e.ID(), domain.ErrStoreUnavailable, err)
	}
}

// Get returns the entry for id; domain.ErrTraceNotFound when absent or expired.
func (r *Repo) Get(ctx context.Context, id string) (trace.Entry, error) {
	if id == "" {
		return trace.Entry{}, domain.ErrTraceNotFound
	}

	var dto entryDTO
	err := r.store.View(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(traceKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &dto)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return trace.Entry{}, fmt.Errorf("ledger get %s: %w", id, domain.ErrTraceNotFound)
		}
		return trace.Entry{}, fmt.Errorf("ledger get %s: %w: %w", id, domain.ErrStoreUnavailable, err)
	}
	return dto.toDomain(), nil
}

// Count returns the number of live trace entries.
func (r *Repo) Count(ctx context.Context) (int, error) {
	n := 0
	err := r.store.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(tracePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ledger count: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return n, nil
}

// AppendFeedback appends rec to the feedback log. Keys sort chronologically.
func (r *Repo) AppendFeedback(ctx context.Context, rec feedback.Record) error {
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = r.now().UTC()
	}
	val, err := json.Marshal(toFeedbackDTO(rec))
	if err != nil {
		return fmt.Errorf("ledger append feedback: marshal: %w", err)
	}

	err = r.store.Update(ctx, func(txn *badger.Txn) error {
		// Same-nanosecond submissions for one trace get the next free slot.
		nanos := rec.ReceivedAt.UnixNano()
		for {
			key := feedbackKey(nanos, rec.TraceID)
			_, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				return txn.SetEntry(badger.NewEntry(key, val).WithTTL(r.feedbackRetention))
			}
			if err != nil {
				return err
			}
			nanos++
		}
	})
	if err != nil {
		return fmt.Errorf("ledger append feedback: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// ListFeedback returns up to limit feedback records, newest first. limit <= 0 returns all.
func (r *Repo) ListFeedback(ctx context.Context, limit int) ([]feedback.Record, error) {
	var out []feedback.Record
	err := r.store.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(feedbackPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append([]byte(feedbackPrefix), 0xFF)); it.Valid(); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var dto feedbackDTO
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &dto)
			}); err != nil {
				return err
			}
			out = append(out, dto.toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger list feedback: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return out, nil
}

// FeedbackCounts aggregates the whole feedback log.
func (r *Repo) FeedbackCounts(ctx context.Context) (feedback.Counts, error) {
	var c feedback.Counts
	err := r.store.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(feedbackPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var dto feedbackDTO
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &dto)
			}); err != nil {
				return err
			}
			c.Add(dto.toDomain())
		}
		return nil
	})
	if err != nil {
		return feedback.Counts{}, fmt.Errorf("ledger feedback counts: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return c, nil
}

func traceKey(id string) []byte {
	return []byte(tracePrefix + id)
}

// feedbackKey zero-pads the timestamp so lexical order equals time order.
func feedbackKey(nanos int64, traceID string) []byte {
	return fmt.Appendf(nil, "%s%020d:%s", feedbackPrefix, nanos, traceID)
}
