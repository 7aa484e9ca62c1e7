package redis

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/kailas-cloud/mathroute/internal/db"
)

// --- client.go ---

func TestPing_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.Result(mock.RedisString("PONG")))

	if err := NewStoreForTest(c).Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPing_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	if err := NewStoreForTest(c).Ping(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestWaitForReady_ImmediateSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.Result(mock.RedisString("PONG")))

	if err := NewStoreForTest(c).WaitForReady(context.Background(), time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWaitForReady_Timeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.ErrorResult(errors.New("connection refused"))).
		AnyTimes()

	err := NewStoreForTest(c).WaitForReady(context.Background(), 250*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

// --- hash.go ---

func TestHSet_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "HSET" && cmd[1] == "kb:1" && slices.Contains(cmd, "answer")
		})).
		Return(mock.Result(mock.RedisInt64(1)))

	err := NewStoreForTest(c).HSet(context.Background(), "kb:1", map[string]string{"answer": "42"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHSet_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), gomock.Any()).
		Return(mock.ErrorResult(errors.New("READONLY")))

	err := NewStoreForTest(c).HSet(context.Background(), "kb:1", map[string]string{"f": "v"})
	if !isDBError(err) {
		t.Errorf("expected db.Error, got %T (%v)", err, err)
	}
}

func TestHSetMulti(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		DoMulti(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]rueidis.RedisResult{
			mock.Result(mock.RedisInt64(2)),
			mock.ErrorResult(errors.New("OOM")),
		})

	err := NewStoreForTest(c).HSetMulti(context.Background(), []db.HashSetItem{
		{Key: "k1", Fields: map[string]string{"f": "v"}},
		{Key: "k2", Fields: map[string]string{"f": "v"}},
	})
	if err == nil || !strings.Contains(err.Error(), "k2") {
		t.Fatalf("expected error naming k2, got %v", err)
	}

	if err := NewStoreForTest(nil).HSetMulti(context.Background(), nil); err != nil {
		t.Fatalf("empty batch must not touch the client: %v", err)
	}
}

func TestHGetAll(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("HGETALL", "kb:1")).
		Return(mock.Result(mock.RedisMap(map[string]rueidis.RedisMessage{
			"question": mock.RedisString("2+2"),
			"answer":   mock.RedisString("4"),
		})))

	m, err := NewStoreForTest(c).HGetAll(context.Background(), "kb:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m["question"] != "2+2" || m["answer"] != "4" {
		t.Errorf("unexpected map: %v", m)
	}
}

func TestExists(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("EXISTS", "kb:1")).
		Return(mock.Result(mock.RedisInt64(1)))
	c.EXPECT().
		Do(gomock.Any(), mock.Match("EXISTS", "kb:2")).
		Return(mock.Result(mock.RedisInt64(0)))

	s := NewStoreForTest(c)
	if ok, err := s.Exists(context.Background(), "kb:1"); err != nil || !ok {
		t.Errorf("Exists(kb:1) = %v, %v", ok, err)
	}
	if ok, err := s.Exists(context.Background(), "kb:2"); err != nil || ok {
		t.Errorf("Exists(kb:2) = %v, %v", ok, err)
	}
}

func TestExistsMulti(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		DoMulti(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]rueidis.RedisResult{
			mock.Result(mock.RedisInt64(1)),
			mock.Result(mock.RedisInt64(0)),
		})

	got, err := NewStoreForTest(c).ExistsMulti(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(got, []bool{true, false}) {
		t.Errorf("ExistsMulti = %v", got)
	}
}

func TestDel(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("DEL", "kb:1")).
		Return(mock.Result(mock.RedisInt64(1)))

	if err := NewStoreForTest(c).Del(context.Background(), "kb:1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- kv.go ---

func TestGet(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "hit")).
		Return(mock.Result(mock.RedisBlobString("value")))
	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "miss")).
		Return(mock.Result(mock.RedisNil()))

	s := NewStoreForTest(c)
	data, err := s.Get(context.Background(), "hit")
	if err != nil || string(data) != "value" {
		t.Errorf("Get(hit) = %q, %v", data, err)
	}
	if _, err := s.Get(context.Background(), "miss"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Errorf("Get(miss) err = %v, want ErrKeyNotFound", err)
	}
}

func TestSetWithTTL(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("SET", "k", "v", "EX", "60")).
		Return(mock.Result(mock.RedisString("OK")))
	c.EXPECT().
		Do(gomock.Any(), mock.Match("SET", "short", "v", "EX", "1")).
		Return(mock.Result(mock.RedisString("OK")))
	c.EXPECT().
		Do(gomock.Any(), mock.Match("SET", "forever", "v")).
		Return(mock.Result(mock.RedisString("OK")))

	s := NewStoreForTest(c)
	if err := s.SetWithTTL(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SetWithTTL(context.Background(), "short", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SetWithTTL(context.Background(), "forever", []byte("v"), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIncrBy(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("INCRBY", "budget", "150")).
		Return(mock.Result(mock.RedisInt64(150)))

	if err := NewStoreForTest(c).IncrBy(context.Background(), "budget", 150); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExpire(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("EXPIRE", "k", "2", "NX")).
		Return(mock.Result(mock.RedisInt64(1)))
	c.EXPECT().
		Do(gomock.Any(), mock.Match("EXPIRE", "k", "60")).
		Return(mock.Result(mock.RedisInt64(1)))

	s := NewStoreForTest(c)
	// 1.5s rounds up to 2s
	if err := s.Expire(context.Background(), "k", 1500*time.Millisecond, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Expire(context.Background(), "k", time.Minute, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- index.go ---

func TestCreateIndex_Args(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	def := db.NewIndex("kb:idx").
		Prefix("kb:").
		Tag("question_key").
		Numeric("created_at").Sortable().
		VectorHNSW("__vector", 4, db.DistanceCosine, 16, 200).As("vector").
		MustBuild()

	want := []string{
		"FT.CREATE", "kb:idx", "ON", "HASH", "PREFIX", "1", "kb:", "SCHEMA",
		"question_key", "TAG",
		"created_at", "NUMERIC", "SORTABLE",
		"__vector", "AS", "vector", "VECTOR", "HNSW", "10",
		"TYPE", "FLOAT32", "DIM", "4", "DISTANCE_METRIC", "COSINE", "M", "16", "EF_CONSTRUCTION", "200",
	}
	c.EXPECT().
		Do(gomock.Any(), mock.Match(want...)).
		Return(mock.Result(mock.RedisString("OK")))

	if err := NewStoreForTest(c).CreateIndex(context.Background(), def); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateIndex_AlreadyExists(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), gomock.Any()).
		Return(mock.Result(mock.RedisError("Index already exists")))

	def := db.NewIndex("idx").Tag("t").MustBuild()
	if err := NewStoreForTest(c).CreateIndex(context.Background(), def); !errors.Is(err, db.ErrIndexExists) {
		t.Errorf("expected ErrIndexExists, got %v", err)
	}
}

func TestCreateIndex_InvalidDefinition(t *testing.T) {
	err := NewStoreForTest(nil).CreateIndex(context.Background(), &db.IndexDefinition{Name: "idx"})
	if err == nil {
		t.Fatal("expected validation error before any command is sent")
	}
}

func TestIndexExists(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("FT.INFO", "present")).
		Return(mock.Result(mock.RedisArray(mock.RedisString("index_name"), mock.RedisString("present"))))
	c.EXPECT().
		Do(gomock.Any(), mock.Match("FT.INFO", "absent")).
		Return(mock.Result(mock.RedisError("Unknown Index name")))

	s := NewStoreForTest(c)
	if ok, err := s.IndexExists(context.Background(), "present"); err != nil || !ok {
		t.Errorf("IndexExists(present) = %v, %v", ok, err)
	}
	if ok, err := s.IndexExists(context.Background(), "absent"); err != nil || ok {
		t.Errorf("IndexExists(absent) = %v, %v", ok, err)
	}
}

func TestDropIndex_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("FT.DROPINDEX", "idx")).
		Return(mock.Result(mock.RedisError("Unknown Index name")))

	if err := NewStoreForTest(c).DropIndex(context.Background(), "idx"); !errors.Is(err, db.ErrIndexNotFound) {
		t.Errorf("expected ErrIndexNotFound, got %v", err)
	}
}

// --- search.go ---

func TestSearchKNN_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "FT.SEARCH" && cmd[1] == "kb:idx" &&
				cmd[2] == "(@provenance:{seeded})=>[KNN 3 @vector $BLOB AS __vector_score]" &&
				slices.Contains(cmd, "DIALECT")
		})).
		Return(mock.Result(mock.RedisArray(
			mock.RedisInt64(2),
			mock.RedisString("kb:a"),
			mock.RedisArray(
				mock.RedisString("__vector_score"), mock.RedisString("0.1"),
				mock.RedisString("answer"), mock.RedisString("4"),
			),
			mock.RedisString("kb:b"),
			mock.RedisArray(
				mock.RedisString("__vector_score"), mock.RedisString("1.6"),
			),
		)))

	res, err := NewStoreForTest(c).SearchKNN(context.Background(), &db.KNNQuery{
		IndexName: "kb:idx",
		Filters:   []db.TagFilter{db.Tag("provenance", "seeded")},
		Vector:    []float32{0.1, 0.2},
		K:         3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total != 2 || len(res.Entries) != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	first := res.Entries[0]
	if first.Key != "kb:a" || first.Fields["answer"] != "4" {
		t.Errorf("first entry = %+v", first)
	}
	if first.Score < 0.89 || first.Score > 0.91 {
		t.Errorf("distance 0.1 should map to ~0.9, got %f", first.Score)
	}
	if _, ok := first.Fields["__vector_score"]; ok {
		t.Error("score field must be stripped from fields")
	}
	if res.Entries[1].Score != 0 {
		t.Errorf("distance > 1 must clamp to 0, got %f", res.Entries[1].Score)
	}
}

func TestSearchKNN_Validation(t *testing.T) {
	s := NewStoreForTest(nil)
	tests := []*db.KNNQuery{
		{Vector: []float32{1}, K: 1},
		{IndexName: "idx", K: 1},
		{IndexName: "idx", Vector: []float32{1}},
	}
	for i, q := range tests {
		if _, err := s.SearchKNN(context.Background(), q); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestSearchKNN_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), gomock.Any()).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	_, err := NewStoreForTest(c).SearchKNN(context.Background(), &db.KNNQuery{IndexName: "idx", Vector: []float32{1}, K: 1})
	if !isDBError(err) {
		t.Errorf("expected db.Error, got %v", err)
	}
}

func TestSearchTags(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match(
			"FT.SEARCH", "kb:idx", "@question_key:{abc123}",
			"SORTBY", "created_at", "DESC", "LIMIT", "0", "5", "DIALECT", "2",
		)).
		Return(mock.Result(mock.RedisArray(
			mock.RedisInt64(1),
			mock.RedisString("kb:a"),
			mock.RedisArray(mock.RedisString("answer"), mock.RedisString("4")),
		)))

	res, err := NewStoreForTest(c).SearchTags(context.Background(), &db.TagQuery{
		IndexName: "kb:idx",
		Filters:   []db.TagFilter{db.Tag("question_key", "abc123")},
		Limit:     5,
		SortBy:    "created_at",
		SortDesc:  true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Entries) != 1 || res.Entries[0].Fields["answer"] != "4" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestSearchCount(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("FT.SEARCH", "idx", "*", "LIMIT", "0", "0", "DIALECT", "2")).
		Return(mock.Result(mock.RedisArray(mock.RedisInt64(42))))
	c.EXPECT().
		Do(gomock.Any(), mock.Match("FT.SEARCH", "idx", "@origin:{web | ai}", "LIMIT", "0", "0", "DIALECT", "2")).
		Return(mock.Result(mock.RedisArray()))

	s := NewStoreForTest(c)
	if n, err := s.SearchCount(context.Background(), "idx", nil); err != nil || n != 42 {
		t.Errorf("SearchCount(*) = %d, %v", n, err)
	}
	n, err := s.SearchCount(context.Background(), "idx", []db.TagFilter{db.Tag("origin", "web", "ai")})
	if err != nil || n != 0 {
		t.Errorf("SearchCount(origin) = %d, %v", n, err)
	}
}

func TestBuildFilter(t *testing.T) {
	tests := []struct {
		name    string
		filters []db.TagFilter
		want    string
	}{
		{"none", nil, "*"},
		{"skips empty", []db.TagFilter{{Field: "a"}, {Values: []string{"x"}}}, "*"},
		{"single", []db.TagFilter{db.Tag("topic", "algebra")}, "@topic:{algebra}"},
		{"or values", []db.TagFilter{db.Tag("origin", "web", "ai")}, "@origin:{web | ai}"},
		{
			"and fields + escaping",
			[]db.TagFilter{db.Tag("provenance", "user_validated"), db.Tag("topic", "linear algebra")},
			`@provenance:{user_validated} @topic:{linear\ algebra}`,
		},
		{"escapes pipe", []db.TagFilter{db.Tag("q", "|x|")}, `@q:{\|x\|}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildFilter(tt.filters); got != tt.want {
				t.Errorf("buildFilter() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVectorToBytes(t *testing.T) {
	b := vectorToBytes([]float32{1.0, 2.0})
	if len(b) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(b))
	}
	// 1.0f little-endian
	if b[0] != 0x00 || b[3] != 0x3f {
		t.Errorf("unexpected encoding: % x", []byte(b[:4]))
	}
}

func isDBError(err error) bool {
	var dbErr *db.Error
	return errors.As(err, &dbErr)
}
