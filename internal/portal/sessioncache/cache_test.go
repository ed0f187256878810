package sessioncache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/portaltest"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/user"
)

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestCache(fast, fallback *portaltest.KV) *Cache {
	cfg := Config{
		Now:    func() time.Time { return fixedNow },
		Logger: log.New(io.Discard, "", 0),
	}
	if fast != nil {
		cfg.Fast = fast
	}
	if fallback != nil {
		cfg.Fallback = fallback
	}
	return New(cfg)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	t.Parallel()

	cache := newTestCache(portaltest.NewKV(), portaltest.NewKV())
	ctx := context.Background()

	written := cache.Write(ctx, user.User{ID: "usr_1", Email: "jane@x.com", Role: user.RoleMentor})

	entry, ok := cache.Read(ctx)
	if !ok {
		t.Fatal("expected entry after write")
	}
	if entry.User != written.User {
		t.Fatalf("user = %+v, want %+v", entry.User, written.User)
	}
	if !entry.CachedAt.Equal(fixedNow) {
		t.Fatalf("cachedAt = %v, want %v", entry.CachedAt, fixedNow)
	}
}

func TestReadPrefersFastLayerOverFallback(t *testing.T) {
	t.Parallel()

	fast := portaltest.NewKV()
	fallback := portaltest.NewKV()
	ctx := context.Background()

	seed := func(kv *portaltest.KV, id string) {
		userPayload, _ := json.Marshal(user.User{ID: id, Role: user.RoleMember})
		stampPayload, _ := json.Marshal(sessionStamp{CachedAt: fixedNow})
		_ = kv.Save(ctx, KeyUser, userPayload)
		_ = kv.Save(ctx, KeySession, stampPayload)
	}
	seed(fast, "usr_fast")
	seed(fallback, "usr_fallback")

	cache := newTestCache(fast, fallback)
	entry, ok := cache.Read(ctx)
	if !ok {
		t.Fatal("expected entry")
	}
	if entry.User.ID != "usr_fast" {
		t.Fatalf("id = %q, want usr_fast", entry.User.ID)
	}
}

func TestReadFallsBackWhenFastLayerUnreadable(t *testing.T) {
	t.Parallel()

	fast := portaltest.NewKV()
	fast.SetErr(errors.New("connection refused"))
	fallback := portaltest.NewKV()
	ctx := context.Background()

	userPayload, _ := json.Marshal(user.User{ID: "usr_fb", Role: user.RoleAdmin})
	stampPayload, _ := json.Marshal(sessionStamp{CachedAt: fixedNow})
	_ = fallback.Save(ctx, KeyUser, userPayload)
	_ = fallback.Save(ctx, KeySession, stampPayload)

	cache := newTestCache(fast, fallback)
	entry, ok := cache.Read(ctx)
	if !ok {
		t.Fatal("expected entry from fallback")
	}
	if entry.User.ID != "usr_fb" {
		t.Fatalf("id = %q, want usr_fb", entry.User.ID)
	}
}

func TestReadSkipsCorruptedPayloadSilently(t *testing.T) {
	t.Parallel()

	fast := portaltest.NewKV()
	ctx := context.Background()
	_ = fast.Save(ctx, KeyUser, []byte("{not json"))

	cache := newTestCache(fast, nil)
	if _, ok := cache.Read(ctx); ok {
		t.Fatal("expected absent for corrupted payload")
	}
}

func TestReadMissingStampYieldsStaleEntry(t *testing.T) {
	t.Parallel()

	fast := portaltest.NewKV()
	ctx := context.Background()
	userPayload, _ := json.Marshal(user.User{ID: "usr_1", Role: user.RoleMember})
	_ = fast.Save(ctx, KeyUser, userPayload)

	cache := newTestCache(fast, nil)
	entry, ok := cache.Read(ctx)
	if !ok {
		t.Fatal("expected entry despite missing stamp")
	}
	if !entry.CachedAt.IsZero() {
		t.Fatalf("cachedAt = %v, want zero", entry.CachedAt)
	}
	if !entry.Stale(30*time.Minute, fixedNow) {
		t.Fatal("entry with zero stamp must be stale")
	}
}

func TestReadAbsentWhenEmpty(t *testing.T) {
	t.Parallel()

	cache := newTestCache(portaltest.NewKV(), portaltest.NewKV())
	if _, ok := cache.Read(context.Background()); ok {
		t.Fatal("expected absent")
	}
}

func TestClearRemovesEveryLayer(t *testing.T) {
	t.Parallel()

	fast := portaltest.NewKV()
	fallback := portaltest.NewKV()
	cache := newTestCache(fast, fallback)
	ctx := context.Background()

	cache.Write(ctx, user.User{ID: "usr_1", Role: user.RoleMember})
	cache.Clear(ctx)

	if _, ok := cache.Read(ctx); ok {
		t.Fatal("expected absent after clear")
	}
	for _, key := range []string{KeyUser, KeySession} {
		if fast.Has(key) {
			t.Fatalf("fast layer still has %s", key)
		}
		if fallback.Has(key) {
			t.Fatalf("fallback layer still has %s", key)
		}
	}
}

func TestWriteSurvivesStorageFailure(t *testing.T) {
	t.Parallel()

	fast := portaltest.NewKV()
	fast.SetErr(errors.New("redis down"))
	cache := newTestCache(fast, nil)
	ctx := context.Background()

	cache.Write(ctx, user.User{ID: "usr_1", Role: user.RoleMember})

	// Memory layer still serves the identity.
	entry, ok := cache.Read(ctx)
	if !ok {
		t.Fatal("expected in-memory entry despite storage failure")
	}
	if entry.User.ID != "usr_1" {
		t.Fatalf("id = %q, want usr_1", entry.User.ID)
	}
}

func TestForgetDropsMemoryOnly(t *testing.T) {
	t.Parallel()

	fast := portaltest.NewKV()
	cache := newTestCache(fast, nil)
	ctx := context.Background()

	cache.Write(ctx, user.User{ID: "usr_1", Role: user.RoleMember})
	cache.Forget()

	entry, ok := cache.Read(ctx)
	if !ok {
		t.Fatal("expected entry re-read from fast layer")
	}
	if entry.User.ID != "usr_1" {
		t.Fatalf("id = %q, want usr_1", entry.User.ID)
	}
}

func TestEntryStale(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		entry  Entry
		maxAge time.Duration
		want   bool
	}{
		{"fresh", Entry{CachedAt: fixedNow.Add(-time.Minute)}, 30 * time.Minute, false},
		{"at boundary", Entry{CachedAt: fixedNow.Add(-30 * time.Minute)}, 30 * time.Minute, false},
		{"past boundary", Entry{CachedAt: fixedNow.Add(-31 * time.Minute)}, 30 * time.Minute, true},
		{"zero stamp", Entry{}, 30 * time.Minute, true},
		{"non-positive max age", Entry{CachedAt: fixedNow}, 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.entry.Stale(tc.maxAge, fixedNow); got != tc.want {
				t.Fatalf("Stale = %v, want %v", got, tc.want)
			}
		})
	}
}
