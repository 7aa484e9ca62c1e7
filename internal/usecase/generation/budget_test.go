package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/mathroute/internal/domain"
)

func TestBudgetTracker_RejectWhenExceeded(t *testing.T) {
	bt := NewBudgetTracker("openai", 100, 0, BudgetActionReject, zap.NewNop())

	bt.Record(100)

	if err := bt.Check(context.Background()); !errors.Is(err, domain.ErrGenerationQuotaExceeded) {
		t.Fatalf("expected ErrGenerationQuotaExceeded, got %v", err)
	}
}

func TestBudgetTracker_WarnWhenExceeded(t *testing.T) {
	bt := NewBudgetTracker("openai", 100, 0, BudgetActionWarn, zap.NewNop())

	bt.Record(200)

	if err := bt.Check(context.Background()); err != nil {
		t.Fatalf("expected nil error for warn action, got %v", err)
	}
}

func TestBudgetTracker_MonthlyReject(t *testing.T) {
	bt := NewBudgetTracker("openai", 0, 500, BudgetActionReject, zap.NewNop())

	bt.Record(500)

	if err := bt.Check(context.Background()); !errors.Is(err, domain.ErrGenerationQuotaExceeded) {
		t.Fatalf("expected ErrGenerationQuotaExceeded for monthly limit, got %v", err)
	}
}

func TestBudgetTracker_Unlimited(t *testing.T) {
	bt := NewBudgetTracker("openai", 0, 0, BudgetActionReject, zap.NewNop())

	bt.Record(999999999)

	if err := bt.Check(context.Background()); err != nil {
		t.Fatalf("expected nil error for unlimited budget, got %v", err)
	}
	if bt.RemainingDaily() != -1 || bt.RemainingMonthly() != -1 {
		t.Errorf("unlimited remaining = %d/%d", bt.RemainingDaily(), bt.RemainingMonthly())
	}
}

func TestBudgetTracker_Snapshot(t *testing.T) {
	bt := NewBudgetTracker("openai", 1000, 10000, BudgetActionWarn, zap.NewNop())

	bt.Record(300)

	s := bt.Snapshot()
	if s.DailyRemaining != 700 || s.MonthlyRemaining != 9700 {
		t.Errorf("remaining = %d/%d", s.DailyRemaining, s.MonthlyRemaining)
	}
	if s.DailyUsed != 300 || s.Provider != "openai" || s.Action != BudgetActionWarn {
		t.Errorf("unexpected snapshot: %+v", s)
	}

	bt.Record(5000)
	if bt.RemainingDaily() != 0 {
		t.Errorf("overspent daily remaining should clamp to 0, got %d", bt.RemainingDaily())
	}
}

func TestBudgetTracker_DayRollover(t *testing.T) {
	now := time.Date(2026, 5, 31, 23, 59, 0, 0, time.UTC)
	bt := NewBudgetTracker("openai", 100, 1000, BudgetActionReject, zap.NewNop())
	bt.now = func() time.Time { return now }
	bt.resetAt(now)

	bt.Record(100)
	if err := bt.Check(context.Background()); err == nil {
		t.Fatal("expected rejection before midnight")
	}

	now = now.Add(2 * time.Minute) // June 1st: new day and new month
	if err := bt.Check(context.Background()); err != nil {
		t.Fatalf("expected reset after rollover, got %v", err)
	}
	s := bt.Snapshot()
	if s.DailyUsed != 0 || s.MonthlyUsed != 0 {
		t.Errorf("counters not reset: %+v", s)
	}
}

// --- Persistence ---

type mockBudgetStore struct {
	mu     sync.Mutex
	data   map[string]int64
	getErr error
	setErr error
}

func newMockBudgetStore() *mockBudgetStore {
	return &mockBudgetStore{data: make(map[string]int64)}
}

func (m *mockBudgetStore) IncrBy(_ context.Context, key string, val int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] += val
	return nil
}

func (m *mockBudgetStore) Get(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return 0, m.getErr
	}
	return m.data[key], nil
}

func TestBudgetTracker_WithStore_LoadsValues(t *testing.T) {
	store := newMockBudgetStore()
	bt := NewBudgetTracker("openai", 1000, 10000, BudgetActionReject, zap.NewNop())
	now := time.Now().UTC()
	store.data[bt.dailyKey(now)] = 300
	store.data[bt.monthlyKey(now)] = 5000

	bt.WithStore(context.Background(), store)

	s := bt.Snapshot()
	if s.DailyUsed != 300 || s.MonthlyUsed != 5000 {
		t.Errorf("loaded = %d/%d", s.DailyUsed, s.MonthlyUsed)
	}
}

func TestBudgetTracker_Record_WritesBehind(t *testing.T) {
	store := newMockBudgetStore()
	bt := NewBudgetTracker("openai", 10000, 100000, BudgetActionWarn, zap.NewNop())
	bt.WithStore(context.Background(), store)

	bt.Record(100)
	bt.Record(200)

	now := time.Now().UTC()
	store.mu.Lock()
	daily, monthly := store.data[bt.dailyKey(now)], store.data[bt.monthlyKey(now)]
	store.mu.Unlock()
	if daily != 300 || monthly != 300 {
		t.Errorf("stored = %d/%d, want 300/300", daily, monthly)
	}
}

func TestBudgetTracker_StoreErrorsAreNotFatal(t *testing.T) {
	store := newMockBudgetStore()
	store.getErr = errors.New("connection refused")
	store.setErr = errors.New("write timeout")

	bt := NewBudgetTracker("openai", 1000, 10000, BudgetActionReject, zap.NewNop())
	bt.WithStore(context.Background(), store)
	bt.Record(50)

	if bt.Snapshot().DailyUsed != 50 {
		t.Errorf("in-memory counter must survive store errors")
	}
}

func TestBudgetTracker_KeyFormat(t *testing.T) {
	bt := NewBudgetTracker("openai", 0, 0, BudgetActionWarn, zap.NewNop())
	at := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)

	if got := bt.dailyKey(at); got != "mathroute:budget:generation:openai:daily:2026-02-03" {
		t.Errorf("daily key = %s", got)
	}
	if got := bt.monthlyKey(at); !strings.HasSuffix(got, ":monthly:2026-02") {
		t.Errorf("monthly key = %s", got)
	}
}
