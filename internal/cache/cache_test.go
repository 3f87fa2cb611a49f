package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/omar-gamzatov/content-guardian/internal/config"
)

func TestKey(t *testing.T) {
	base := Key("t1", "v1", "en", "hello", map[string]any{"a": 1.0, "b": true})

	if !strings.HasPrefix(base, KeyPrefix) || len(base) != len(KeyPrefix)+64 {
		t.Fatalf("unexpected key shape %q", base)
	}
	if again := Key("t1", "v1", "en", "hello", map[string]any{"b": true, "a": 1.0}); again != base {
		t.Fatalf("key must not depend on map order")
	}

	variants := []string{
		Key("t2", "v1", "en", "hello", map[string]any{"a": 1.0, "b": true}),
		Key("t1", "v2", "en", "hello", map[string]any{"a": 1.0, "b": true}),
		Key("t1", "v1", "ru", "hello", map[string]any{"a": 1.0, "b": true}),
		Key("t1", "v1", "en", "hello!", map[string]any{"a": 1.0, "b": true}),
		Key("t1", "v1", "en", "hello", map[string]any{"a": 2.0, "b": true}),
		Key("t1", "v1", "en", "hello", nil),
		Key("t1v1", "", "en", "hello", map[string]any{"a": 1.0, "b": true}),
	}
	for i, v := range variants {
		if v == base {
			t.Fatalf("variant %d collides with base key", i)
		}
	}

	// A NUL inside one field must not shift bytes across field boundaries.
	if Key("t1", "v1\x00en", "", "hello", nil) == Key("t1", "v1", "en\x00", "hello", nil) {
		t.Fatalf("NUL in a field collides with the next field")
	}
	if Key("t1", "v1", "en", "a\x00b", nil) == Key("t1", "v1", "en\x00a", "b", nil) {
		t.Fatalf("NUL in text collides with lang")
	}
}

func TestMemory_GetSetExpire(t *testing.T) {
	m := NewMemory(10)
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected miss, got %v", err)
	}

	val := []byte("verdict")
	if err := m.Set(ctx, "k", val, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val[0] = 'X'

	got, err := m.Get(ctx, "k")
	if err != nil || string(got) != "verdict" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	now = now.Add(time.Minute)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected expiry, got %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("expired entry not removed")
	}
}

func TestMemory_ZeroTTLNotStored(t *testing.T) {
	m := NewMemory(10)
	_ = m.Set(context.Background(), "k", []byte("v"), 0)
	if m.Len() != 0 {
		t.Fatalf("zero ttl must not store")
	}
}

func TestMemory_Eviction(t *testing.T) {
	m := NewMemory(2)
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_ = m.Set(ctx, "short", []byte("1"), time.Second)
	_ = m.Set(ctx, "long", []byte("2"), time.Hour)
	_ = m.Set(ctx, "new", []byte("3"), time.Hour)

	if m.Len() != 2 {
		t.Fatalf("len = %d", m.Len())
	}
	if _, err := m.Get(ctx, "short"); !errors.Is(err, ErrMiss) {
		t.Fatalf("entry closest to expiry should be evicted")
	}
	if _, err := m.Get(ctx, "long"); err != nil {
		t.Fatalf("long: %v", err)
	}

	// overwriting an existing key never evicts
	_ = m.Set(ctx, "long", []byte("2b"), time.Hour)
	if _, err := m.Get(ctx, "new"); err != nil {
		t.Fatalf("new: %v", err)
	}
}

func TestNew(t *testing.T) {
	cases := []struct {
		typ  string
		want string
	}{
		{"", "cache.Noop"},
		{"none", "cache.Noop"},
		{"memory", "*cache.Memory"},
		{"redis", "*cache.Redis"},
	}
	for _, tc := range cases {
		c, err := New(config.CacheConfig{Type: tc.typ, Addr: "127.0.0.1:6379"})
		if err != nil {
			t.Fatalf("New(%q): %v", tc.typ, err)
		}
		if got := typeName(c); got != tc.want {
			t.Fatalf("New(%q) = %s, want %s", tc.typ, got, tc.want)
		}
		_ = c.Close()
	}

	if _, err := New(config.CacheConfig{Type: "memcached"}); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestRedis_UnreachableIsNotMiss(t *testing.T) {
	r := NewRedis("127.0.0.1:1", "", 0)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := r.Get(ctx, "k")
	if err == nil || errors.Is(err, ErrMiss) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if err := r.Ping(ctx); err == nil {
		t.Fatalf("expected ping error")
	}
}

func typeName(c Cache) string {
	switch c.(type) {
	case Noop:
		return "cache.Noop"
	case *Memory:
		return "*cache.Memory"
	case *Redis:
		return "*cache.Redis"
	}
	return "unknown"
}
