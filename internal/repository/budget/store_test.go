package budget

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/kailas-cloud/mathroute/internal/db"
)

type expireCall struct {
	key string
	ttl time.Duration
	nx  bool
}

type mockStore struct {
	values    map[string]int64
	expires   []expireCall
	incrErr   error
	expireErr error
	getErr    error
	raw       []byte
}

func (m *mockStore) Get(_ context.Context, key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.raw != nil {
		return m.raw, nil
	}
	v, ok := m.values[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return []byte(strconv.FormatInt(v, 10)), nil
}

func (m *mockStore) IncrBy(_ context.Context, key string, val int64) error {
	if m.incrErr != nil {
		return m.incrErr
	}
	m.values[key] += val
	return nil
}

func (m *mockStore) Expire(_ context.Context, key string, ttl time.Duration, nx bool) error {
	m.expires = append(m.expires, expireCall{key, ttl, nx})
	return m.expireErr
}

func TestIncrBy_SetsPeriodTTLOnce(t *testing.T) {
	ms := &mockStore{values: map[string]int64{}}
	s := New(ms, time.Hour, 2*time.Hour)
	ctx := context.Background()

	daily := "mathroute:budget:generation:openai:daily:2026-02-03"
	monthly := "mathroute:budget:generation:openai:monthly:2026-02"
	if err := s.IncrBy(ctx, daily, 5); err != nil {
		t.Fatal(err)
	}
	if err := s.IncrBy(ctx, monthly, 5); err != nil {
		t.Fatal(err)
	}

	if len(ms.expires) != 2 {
		t.Fatalf("expected 2 expire calls, got %d", len(ms.expires))
	}
	if ms.expires[0].ttl != time.Hour || !ms.expires[0].nx {
		t.Errorf("daily expire = %+v", ms.expires[0])
	}
	if ms.expires[1].ttl != 2*time.Hour {
		t.Errorf("monthly expire = %+v", ms.expires[1])
	}
}

func TestIncrBy_Errors(t *testing.T) {
	ms := &mockStore{values: map[string]int64{}, incrErr: errors.New("down")}
	s := New(ms, 0, 0)
	if err := s.IncrBy(context.Background(), "k:daily:x", 1); err == nil {
		t.Fatal("expected incr error")
	}

	ms.incrErr = nil
	ms.expireErr = errors.New("down")
	if err := s.IncrBy(context.Background(), "k:daily:x", 1); err == nil {
		t.Fatal("expected expire error")
	}
}

func TestGet(t *testing.T) {
	ms := &mockStore{values: map[string]int64{"k": 1234}}
	s := New(ms, 0, 0)
	ctx := context.Background()

	v, err := s.Get(ctx, "k")
	if err != nil || v != 1234 {
		t.Fatalf("v=%d err=%v", v, err)
	}

	v, err = s.Get(ctx, "missing")
	if err != nil || v != 0 {
		t.Fatalf("missing key: v=%d err=%v", v, err)
	}

	ms.raw = []byte("not-a-number")
	if _, err := s.Get(ctx, "k"); err == nil {
		t.Fatal("expected parse error")
	}

	ms.raw = nil
	ms.getErr = errors.New("timeout")
	if _, err := s.Get(ctx, "k"); err == nil {
		t.Fatal("expected store error")
	}
}

func TestNew_DefaultTTLs(t *testing.T) {
	s := New(&mockStore{}, 0, -1)
	if s.dailyTTL != DefaultDailyTTL || s.monthTTL != DefaultMonthlyTTL {
		t.Errorf("ttls = %v/%v", s.dailyTTL, s.monthTTL)
	}
}
