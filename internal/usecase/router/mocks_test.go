package router

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/mathroute/internal/domain"
	"github.com/kailas-cloud/mathroute/internal/domain/kb"
	"github.com/kailas-cloud/mathroute/internal/domain/query"
	"github.com/kailas-cloud/mathroute/internal/domain/trace"
	"github.com/kailas-cloud/mathroute/internal/repository/respcache"
	"github.com/kailas-cloud/mathroute/internal/usecase/guardrail"
)

// --- Mocks ---

type mockKB struct {
	mu          sync.Mutex
	exact       map[string]kb.Record
	candidates  []kb.Candidate
	err         error
	searchFn    func(ctx context.Context, call int32) error
	exactCalls  atomic.Int32
	searchCalls atomic.Int32
}

func (m *mockKB) FindExact(_ context.Context, questionNorm string) (kb.Record, error) {
	m.exactCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return kb.Record{}, m.err
	}
	if rec, ok := m.exact[questionNorm]; ok {
		return rec, nil
	}
	return kb.Record{}, domain.ErrNotFound
}

func (m *mockKB) Search(ctx context.Context, _ []float32, _ int) ([]kb.Candidate, error) {
	n := m.searchCalls.Add(1)
	if m.searchFn != nil {
		if err := m.searchFn(ctx, n); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]kb.Candidate(nil), m.candidates...), nil
}

func (m *mockKB) addExact(rec kb.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exact == nil {
		m.exact = make(map[string]kb.Record)
	}
	m.exact[rec.QuestionNorm()] = rec
}

type mockEmbedder struct {
	err   error
	fn    func(ctx context.Context, call int32) error
	calls atomic.Int32
}

func (m *mockEmbedder) Embed(ctx context.Context, _ string) (domain.EmbeddingResult, error) {
	n := m.calls.Add(1)
	if m.fn != nil {
		if err := m.fn(ctx, n); err != nil {
			return domain.EmbeddingResult{}, err
		}
	}
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: []float32{0.1, 0.2, 0.3}, TotalTokens: 3}, nil
}

type mockWeb struct {
	fn    func(ctx context.Context, q string) (domain.WebResult, error)
	calls atomic.Int32
}

func (m *mockWeb) Search(ctx context.Context, q string) (domain.WebResult, error) {
	m.calls.Add(1)
	if m.fn == nil {
		return domain.WebResult{}, fmt.Errorf("no result: %w", domain.ErrProviderUnavailable)
	}
	return m.fn(ctx, q)
}

type mockGenerator struct {
	fn    func(ctx context.Context, q string) (domain.GenerationResult, error)
	calls atomic.Int32
}

func (m *mockGenerator) Generate(ctx context.Context, q string) (domain.GenerationResult, error) {
	m.calls.Add(1)
	if m.fn == nil {
		return domain.GenerationResult{}, fmt.Errorf("no result: %w", domain.ErrProviderUnavailable)
	}
	return m.fn(ctx, q)
}

type memLedger struct {
	mu       sync.Mutex
	entries  map[string]trace.Entry
	err      error
	onRecord func(e trace.Entry)
}

func (m *memLedger) Record(_ context.Context, e trace.Entry) error {
	if m.onRecord != nil {
		m.onRecord(e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.entries == nil {
		m.entries = make(map[string]trace.Entry)
	}
	if _, ok := m.entries[e.ID()]; ok {
		return domain.ErrTraceExists
	}
	m.entries[e.ID()] = e
	return nil
}

func (m *memLedger) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *memLedger) get(id string) (trace.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	return e, ok
}

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() string { return fmt.Sprintf("trace-%d", s.n.Add(1)) }

// --- Fixture ---

type fixture struct {
	svc    *Service
	cache  *respcache.Cache
	kb     *mockKB
	emb    *mockEmbedder
	web    *mockWeb
	gen    *mockGenerator
	ledger *memLedger
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.KBTimeout = 50 * time.Millisecond
	p.WebTimeout = 50 * time.Millisecond
	p.GenerativeTimeout = 50 * time.Millisecond
	p.RetryBackoff = time.Millisecond
	p.CacheTTL = time.Minute
	return p
}

func newFixture(t *testing.T, mutate ...func(*Policy)) *fixture {
	t.Helper()
	p := testPolicy()
	for _, m := range mutate {
		m(&p)
	}
	f := &fixture{
		cache:  respcache.New(100, time.Minute, zap.NewNop()),
		kb:     &mockKB{},
		emb:    &mockEmbedder{},
		web:    &mockWeb{},
		gen:    &mockGenerator{},
		ledger: &memLedger{},
	}
	f.svc = New(guardrail.New(), f.cache, f.ledger, f.kb, f.emb, zap.NewNop()).
		WithPolicy(p).
		WithWebSearch(f.web, "tavily").
		WithGenerator(f.gen, "openai").
		WithIDGenerator(&seqIDs{}).
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) })
	return f
}

func webAnswer(answer string, sources ...string) func(context.Context, string) (domain.WebResult, error) {
	return func(context.Context, string) (domain.WebResult, error) {
		return domain.WebResult{Answer: answer, Sources: sources}, nil
	}
}

func genAnswer(answer, steps string) func(context.Context, string) (domain.GenerationResult, error) {
	return func(context.Context, string) (domain.GenerationResult, error) {
		return domain.GenerationResult{Answer: answer, Steps: steps, Model: "gpt-4o-mini", TotalTokens: 10}, nil
	}
}

// blockUntilDone waits for the per-call deadline and reports it the way a plain client would.
func blockUntilDone[T any](ctx context.Context, _ string) (T, error) {
	var zero T
	<-ctx.Done()
	return zero, ctx.Err()
}

// blockFirstCall makes the first call wait out its deadline; later calls succeed.
func blockFirstCall(ctx context.Context, call int32) error {
	if call == 1 {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func seeded(t *testing.T, question, answer string) kb.Record {
	t.Helper()
	rec, err := kb.New(kb.Params{
		Question:   question,
		Answer:     answer,
		Provenance: kb.Seeded,
		CreatedAt:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("kb.New: %v", err)
	}
	return rec
}

func validated(t *testing.T, question, answer string, origin kb.Origin) kb.Record {
	t.Helper()
	rec, err := kb.New(kb.Params{
		Question:   question,
		Answer:     answer,
		Provenance: kb.UserValidated,
		Origin:     origin,
		CreatedAt:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("kb.New: %v", err)
	}
	return rec
}

func mustKey(t *testing.T, raw string) string {
	t.Helper()
	q, err := query.New(raw, "")
	if err != nil {
		t.Fatalf("query.New: %v", err)
	}
	return q.Key()
}
