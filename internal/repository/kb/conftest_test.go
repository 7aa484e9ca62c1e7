package kb

import (
	"context"
	"testing"
	"time"

	"github.com/kailas-cloud/mathroute/internal/db"
	"github.com/kailas-cloud/mathroute/internal/domain/kb"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	hsetFn        func(ctx context.Context, key string, fields map[string]string) error
	hsetMultiFn   func(ctx context.Context, items []db.HashSetItem) error
	hgetAllFn     func(ctx context.Context, key string) (map[string]string, error)
	existsFn      func(ctx context.Context, key string) (bool, error)
	existsMultiFn func(ctx context.Context, keys []string) ([]bool, error)
	createIndexFn func(ctx context.Context, def *db.IndexDefinition) error
	searchKNNFn   func(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	searchTagsFn  func(ctx context.Context, q *db.TagQuery) (*db.SearchResult, error)
	searchCountFn func(ctx context.Context, index string, filters []db.TagFilter) (int, error)
}

func (m *mockStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if m.hsetFn != nil {
		return m.hsetFn(ctx, key, fields)
	}
	return nil
}

func (m *mockStore) HSetMulti(ctx context.Context, items []db.HashSetItem) error {
	if m.hsetMultiFn != nil {
		return m.hsetMultiFn(ctx, items)
	}
	return nil
}

func (m *mockStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if m.hgetAllFn != nil {
		return m.hgetAllFn(ctx, key)
	}
	return map[string]string{}, nil
}

func (m *mockStore) Exists(ctx context.Context, key string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, key)
	}
	return false, nil
}

func (m *mockStore) ExistsMulti(ctx context.Context, keys []string) ([]bool, error) {
	if m.existsMultiFn != nil {
		return m.existsMultiFn(ctx, keys)
	}
	return make([]bool, len(keys)), nil
}

func (m *mockStore) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	if m.createIndexFn != nil {
		return m.createIndexFn(ctx, def)
	}
	return nil
}

func (m *mockStore) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if m.searchKNNFn != nil {
		return m.searchKNNFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func (m *mockStore) SearchTags(ctx context.Context, q *db.TagQuery) (*db.SearchResult, error) {
	if m.searchTagsFn != nil {
		return m.searchTagsFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func (m *mockStore) SearchCount(ctx context.Context, index string, filters []db.TagFilter) (int, error) {
	if m.searchCountFn != nil {
		return m.searchCountFn(ctx, index, filters)
	}
	return 0, nil
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	return New(ms, IndexConfig{Dimensions: 3, Algorithm: db.VectorHNSW, M: 16, EFConstruct: 200}), ms
}

func testRecord(t *testing.T) kb.Record {
	t.Helper()
	rec, err := kb.New(kb.Params{
		Question:   "What is the derivative of x^2?",
		Answer:     "2x",
		Steps:      "Power rule: d/dx x^n = n x^(n-1)",
		Embedding:  []float32{0.1, 0.2, 0.3},
		Topic:      "calculus",
		Subtopic:   "derivatives",
		Difficulty: "easy",
		Provenance: kb.Seeded,
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("kb.New: %v", err)
	}
	return rec
}
