package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lodestone-search/lodestone/internal/db"
)

func TestKV_SetGet(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if err := s.Set(ctx, "k1", []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("expected v1, got %q", got)
	}
}

func TestKV_GetMissing(t *testing.T) {
	s := NewStore()

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, db.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestKV_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if err := s.SetWithTTL(ctx, "k1", []byte("v1"), -time.Second); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}

	if _, err := s.Get(ctx, "k1"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound for expired key, got %v", err)
	}
}

func TestHash_SetGetAll(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	err := s.HSet(ctx, "h1", map[string]string{"a": "1", "b": "2"})
	if err != nil {
		t.Fatalf("HSet: %v", err)
	}

	m, err := s.HGetAll(ctx, "h1")
	if err != nil {
		t.Fatalf("HGetAll: %v", err)
	}
	if m["a"] != "1" || m["b"] != "2" {
		t.Errorf("unexpected hash contents: %v", m)
	}
}

func TestHash_GetAllMissingIsEmpty(t *testing.T) {
	s := NewStore()

	m, err := s.HGetAll(context.Background(), "missing")
	if err != nil {
		t.Fatalf("HGetAll: %v", err)
	}
	if len(m) != 0 {
		t.Errorf("expected empty map, got %v", m)
	}
}

func TestHash_SetMulti(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	items := []db.HashSetItem{
		{Key: "h1", Fields: map[string]string{"id": "1"}},
		{Key: "h2", Fields: map[string]string{"id": "2"}},
	}
	if err := s.HSetMulti(ctx, items); err != nil {
		t.Fatalf("HSetMulti: %v", err)
	}

	got, err := s.HGetAllMulti(ctx, []string{"h1", "h2"})
	if err != nil {
		t.Fatalf("HGetAllMulti: %v", err)
	}
	if len(got) != 2 || got[0]["id"] != "1" || got[1]["id"] != "2" {
		t.Errorf("unexpected result: %v", got)
	}
}

func TestDel(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_ = s.Set(ctx, "k1", []byte("v"))
	_ = s.HSet(ctx, "k1", map[string]string{"f": "v"})

	if err := s.Del(ctx, "k1"); err != nil {
		t.Fatalf("Del: %v", err)
	}

	exists, err := s.Exists(ctx, "k1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("expected key to be deleted")
	}
}

func TestScan_PatternAndOrder(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_ = s.HSet(ctx, "rec:b", map[string]string{"id": "b"})
	_ = s.HSet(ctx, "rec:a", map[string]string{"id": "a"})
	_ = s.Set(ctx, "other:x", []byte("v"))

	keys, err := s.Scan(ctx, "rec:*")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(keys) != 2 || keys[0] != "rec:a" || keys[1] != "rec:b" {
		t.Errorf("expected sorted [rec:a rec:b], got %v", keys)
	}
}

func TestScan_KeysWithSlash(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_ = s.HSet(ctx, "rec:docs/2024/a1", map[string]string{"id": "a1"})
	_ = s.Set(ctx, "rec:img/b2", []byte("v"))

	keys, err := s.Scan(ctx, "rec:*")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(keys) != 2 || keys[0] != "rec:docs/2024/a1" || keys[1] != "rec:img/b2" {
		t.Errorf("expected both slash-bearing keys, got %v", keys)
	}
}

func TestMatchGlob(t *testing.T) {
	cases := []struct {
		pattern, key string
		want         bool
	}{
		{"rec:*", "rec:a", true},
		{"rec:*", "rec:docs/2024/a1", true},
		{"rec:*", "other:a", false},
		{"*", "anything/at/all", true},
		{"rec:?", "rec:a", true},
		{"rec:?", "rec:ab", false},
		{"a*b*c", "a/x/b/y/c", true},
		{"a*b*c", "a/x/c", false},
		{"exact", "exact", true},
		{"exact", "exac", false},
		{"", "", true},
		{"", "x", false},
	}
	for _, tc := range cases {
		if got := matchGlob(tc.pattern, tc.key); got != tc.want {
			t.Errorf("matchGlob(%q, %q) = %v, want %v", tc.pattern, tc.key, got, tc.want)
		}
	}
}
