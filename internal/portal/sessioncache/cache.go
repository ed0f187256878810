// Package sessioncache holds the best-known authenticated identity.
//
// The cache is a performance optimization, not a source of truth: every layer
// may be wiped at any time and the revalidation engine re-derives state from
// the backend. It therefore never performs network calls and never propagates
// storage failures; anything unreadable degrades to "absent".
package sessioncache

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/user"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/storage"
)

// Well-known storage keys. Change notifications referencing these keys are
// unambiguous session signals.
const (
	// KeyUser stores the cached identity.
	KeyUser = "registry_taylor_user"
	// KeySession stores the session-freshness timestamp.
	KeySession = "registry_taylor_session"
)

// Entry wraps a cached identity with the time it was last confirmed.
type Entry struct {
	User     user.User `json:"user"`
	CachedAt time.Time `json:"cached_at"`
}

// Stale reports whether the entry is too old to serve as proof of
// authentication. A stale entry may still be shown as an optimistic
// placeholder while a revalidation is in flight.
func (e Entry) Stale(maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return true
	}
	if e.CachedAt.IsZero() {
		return true
	}
	return now.Sub(e.CachedAt) > maxAge
}

// sessionStamp is the persisted freshness record under KeySession.
type sessionStamp struct {
	CachedAt time.Time `json:"cached_at"`
}

// Cache layers an in-memory entry over a fast store and a durable fallback.
//
// Read priority is memory, fast, fallback; writes and clears touch every
// layer. Cross-instance writes are last-writer-wins (see the concurrency
// notes in the revalidate package).
type Cache struct {
	fast     storage.KV
	fallback storage.KV
	now      func() time.Time
	logger   *log.Logger

	mu     sync.Mutex
	memory *Entry
}

// Config wires the cache's storage layers.
type Config struct {
	Fast     storage.KV // optional fast shared store
	Fallback storage.KV // optional durable fallback
	Now      func() time.Time
	Logger   *log.Logger
}

// New builds a session cache. Either storage layer may be nil; a cache with
// no layers still serves the in-memory entry for the life of the process.
func New(cfg Config) *Cache {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Cache{
		fast:     cfg.Fast,
		fallback: cfg.Fallback,
		now:      now,
		logger:   logger,
	}
}

// Read returns the freshest entry available, preferring memory, then the
// fast store, then the fallback. Corrupted or unreadable layers are skipped
// silently.
func (c *Cache) Read(ctx context.Context) (Entry, bool) {
	c.mu.Lock()
	if c.memory != nil {
		entry := *c.memory
		c.mu.Unlock()
		return entry, true
	}
	c.mu.Unlock()

	for _, layer := range []storage.KV{c.fast, c.fallback} {
		if layer == nil {
			continue
		}
		entry, ok := readLayer(ctx, layer)
		if !ok {
			continue
		}
		c.mu.Lock()
		c.memory = &entry
		c.mu.Unlock()
		return entry, true
	}
	return Entry{}, false
}

// Write replaces the cached identity in every layer and stamps it as freshly
// confirmed. Storage failures are logged and otherwise ignored.
func (c *Cache) Write(ctx context.Context, u user.User) Entry {
	entry := Entry{User: u, CachedAt: c.now().UTC()}

	c.mu.Lock()
	c.memory = &entry
	c.mu.Unlock()

	userPayload, err := json.Marshal(entry.User)
	if err != nil {
		c.logger.Printf("session cache: marshal user: %v", err)
		return entry
	}
	stampPayload, err := json.Marshal(sessionStamp{CachedAt: entry.CachedAt})
	if err != nil {
		c.logger.Printf("session cache: marshal stamp: %v", err)
		return entry
	}

	for _, layer := range []storage.KV{c.fast, c.fallback} {
		if layer == nil {
			continue
		}
		if err := layer.Save(ctx, KeyUser, userPayload); err != nil {
			c.logger.Printf("session cache: save user: %v", err)
		}
		if err := layer.Save(ctx, KeySession, stampPayload); err != nil {
			c.logger.Printf("session cache: save stamp: %v", err)
		}
	}
	return entry
}

// Clear removes every trace of the cached identity.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.memory = nil
	c.mu.Unlock()

	for _, layer := range []storage.KV{c.fast, c.fallback} {
		if layer == nil {
			continue
		}
		if err := layer.Delete(ctx, KeyUser); err != nil {
			c.logger.Printf("session cache: delete user: %v", err)
		}
		if err := layer.Delete(ctx, KeySession); err != nil {
			c.logger.Printf("session cache: delete stamp: %v", err)
		}
	}
}

// Forget drops only the in-memory entry so the next Read consults the
// persisted layers again. Used after cross-instance change notifications.
func (c *Cache) Forget() {
	c.mu.Lock()
	c.memory = nil
	c.mu.Unlock()
}

// readLayer loads an entry from one storage layer. A readable identity with a
// missing or corrupt freshness stamp yields a zero CachedAt, which callers
// treat as stale.
func readLayer(ctx context.Context, layer storage.KV) (Entry, bool) {
	userPayload, err := layer.Load(ctx, KeyUser)
	if err != nil {
		return Entry{}, false
	}

	var cached user.User
	if err := json.Unmarshal(userPayload, &cached); err != nil {
		return Entry{}, false
	}
	normalized, err := user.Normalize(cached)
	if err != nil {
		return Entry{}, false
	}

	entry := Entry{User: normalized}
	if stampPayload, err := layer.Load(ctx, KeySession); err == nil {
		var stamp sessionStamp
		if err := json.Unmarshal(stampPayload, &stamp); err == nil {
			entry.CachedAt = stamp.CachedAt
		}
	}
	return entry, true
}
