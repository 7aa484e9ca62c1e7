// Package kb stores knowledge-base records as Redis hashes behind an FT vector index.
package kb

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kailas-cloud/mathroute/internal/db"
	"github.com/kailas-cloud/mathroute/internal/domain"
	"github.com/kailas-cloud/mathroute/internal/domain/kb"
	"github.com/kailas-cloud/mathroute/internal/domain/query"
)

// store is the consumer interface for the knowledge base (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Exists(ctx context.Context, key string) (bool, error)
	ExistsMulti(ctx context.Context, keys []string) ([]bool, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchTags(ctx context.Context, q *db.TagQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index string, filters []db.TagFilter) (int, error)
}

// Repo implements the knowledge-base store.
type Repo struct {
	store store
	index IndexConfig
}

// New creates a KB repository.
func New(s store, index IndexConfig) *Repo {
	return &Repo{store: s, index: index}
}

// EnsureIndex creates the FT index when it does not exist yet.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	def, err := buildIndex(r.index)
	if err != nil {
		return fmt.Errorf("build kb index: %w", err)
	}
	if err := r.store.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return fmt.Errorf("create kb index: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Insert stores rec unless a record with the same (question, answer) identity exists.
// Returns inserted=false for the no-op case.
func (r *Repo) Insert(ctx context.Context, rec *kb.Record) (bool, error) {
	if len(rec.Embedding()) != r.index.Dimensions {
		return false, fmt.Errorf("kb insert %s: embedding has %d dimensions, index expects %d",
			rec.ID(), len(rec.Embedding()), r.index.Dimensions)
	}

	key := recordKey(rec.ID())
	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("kb exists %s: %w: %w", key, domain.ErrStoreUnavailable, err)
	}
	if exists {
		return false, nil
	}
	if err := r.store.HSet(ctx, key, buildHashFields(rec)); err != nil {
		return false, fmt.Errorf("kb hset %s: %w: %w", key, domain.ErrStoreUnavailable, err)
	}
	return true, nil
}

// InsertMany inserts the records that are not yet stored in one pipelined round
// and returns how many were new.
func (r *Repo) InsertMany(ctx context.Context, recs []kb.Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	keys := make([]string, len(recs))
	for i := range recs {
		if len(recs[i].Embedding()) != r.index.Dimensions {
			return 0, fmt.Errorf("kb insert %s: embedding has %d dimensions, index expects %d",
				recs[i].ID(), len(recs[i].Embedding()), r.index.Dimensions)
		}
		keys[i] = recordKey(recs[i].ID())
	}

	exists, err := r.store.ExistsMulti(ctx, keys)
	if err != nil {
		return 0, fmt.Errorf("kb exists multi: %w: %w", domain.ErrStoreUnavailable, err)
	}

	seen := make(map[string]bool, len(recs))
	items := make([]db.HashSetItem, 0, len(recs))
	for i := range recs {
		if exists[i] || seen[keys[i]] {
			continue
		}
		seen[keys[i]] = true
		items = append(items, db.HashSetItem{Key: keys[i], Fields: buildHashFields(&recs[i])})
	}
	if len(items) == 0 {
		return 0, nil
	}
	if err := r.store.HSetMulti(ctx, items); err != nil {
		return 0, fmt.Errorf("kb hset multi: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return len(items), nil
}

// Get returns a record by id.
func (r *Repo) Get(ctx context.Context, id string) (kb.Record, error) {
	m, err := r.store.HGetAll(ctx, recordKey(id))
	if err != nil {
		return kb.Record{}, fmt.Errorf("kb hgetall %s: %w: %w", id, domain.ErrStoreUnavailable, err)
	}
	if len(m) == 0 {
		return kb.Record{}, fmt.Errorf("kb record %s: %w", id, domain.ErrNotFound)
	}
	return parseHashFields(id, m), nil
}

// Search returns the k nearest records to vector, best first.
// Equal scores are ordered by most recent creation time.
func (r *Repo) Search(ctx context.Context, vector []float32, k int) ([]kb.Candidate, error) {
	if k <= 0 {
		k = 5
	}
	res, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    indexName(),
		Vector:       vector,
		K:            k,
		ReturnFields: returnFields,
	})
	if err != nil {
		return nil, fmt.Errorf("kb search: %w: %w", domain.ErrStoreUnavailable, err)
	}
	if res == nil || len(res.Entries) == 0 {
		return nil, nil
	}

	out := make([]kb.Candidate, 0, len(res.Entries))
	for _, e := range res.Entries {
		out = append(out, kb.Candidate{
			Record: parseHashFields(recordID(e.Key), e.Fields),
			Score:  e.Score,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Record.CreatedAt().After(out[j].Record.CreatedAt())
	})
	return out, nil
}

// FindExact returns the most recent record whose normalized question equals questionNorm.
// domain.ErrNotFound when there is none.
func (r *Repo) FindExact(ctx context.Context, questionNorm string) (kb.Record, error) {
	res, err := r.store.SearchTags(ctx, &db.TagQuery{
		IndexName:    indexName(),
		Filters:      []db.TagFilter{db.Tag(fieldQuestionKey, query.Hash(questionNorm))},
		Limit:        1,
		SortBy:       fieldCreatedAt,
		SortDesc:     true,
		ReturnFields: returnFields,
	})
	if err != nil {
		return kb.Record{}, fmt.Errorf("kb find exact: %w: %w", domain.ErrStoreUnavailable, err)
	}
	if res == nil || len(res.Entries) == 0 {
		return kb.Record{}, domain.ErrNotFound
	}
	e := res.Entries[0]
	return parseHashFields(recordID(e.Key), e.Fields), nil
}

// Count returns the number of indexed records.
func (r *Repo) Count(ctx context.Context) (int, error) {
	n, err := r.store.SearchCount(ctx, indexName(), nil)
	if err != nil {
		return 0, fmt.Errorf("kb count: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return n, nil
}

// CountByProvenance returns the number of records with the given provenance.
func (r *Repo) CountByProvenance(ctx context.Context, p kb.Provenance) (int, error) {
	n, err := r.store.SearchCount(ctx, indexName(), []db.TagFilter{db.Tag(fieldProvenance, string(p))})
	if err != nil {
		return 0, fmt.Errorf("kb count %s: %w: %w", p, domain.ErrStoreUnavailable, err)
	}
	return n, nil
}
