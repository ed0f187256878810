// Package revalidate confirms the cached identity against the backend and
// enforces sign-out policy.
//
// The engine is the single authority on whether the cached identity is still
// valid and the only component permitted to force a sign-out. Failures only
// ever narrow permissions: a failed check signs the user out, it never grants
// anything.
package revalidate

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/routepath"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/sessioncache"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/user"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/storage"
)

// State is the engine's lifecycle state.
type State int

const (
	// StateIdle is the initial state before the first revalidation.
	StateIdle State = iota
	// StateRevalidating indicates a confirmation request is in flight.
	StateRevalidating
	// StateAuthenticated indicates the backend confirmed the identity.
	StateAuthenticated
	// StateUnauthenticated indicates the backend rejected the identity.
	StateUnauthenticated
)

const (
	defaultCacheMaxAge   = 30 * time.Minute
	defaultIntervalFloor = 5 * time.Minute
	defaultIntervalCap   = time.Hour
)

// IdentityClient confirms a session against the backend.
type IdentityClient interface {
	// CheckSession returns the authenticated identity, ok=false for an
	// explicit not-authenticated response, or an error for transport and
	// parse failures.
	CheckSession(ctx context.Context) (u user.User, ok bool, err error)
}

// Navigator abstracts the browsing location the engine polices.
type Navigator interface {
	CurrentPath() string
	Redirect(path string)
}

// Config holds engine tuning. Zero values fall back to production defaults;
// tests compress the cadence through these fields.
type Config struct {
	// CacheMaxAge bounds how long a cache entry counts as proof of
	// authentication. Default 30m.
	CacheMaxAge time.Duration
	// IntervalFloor is the minimum revalidation cadence. Default 5m.
	IntervalFloor time.Duration
	// IntervalCap is the maximum revalidation cadence. Default 1h.
	IntervalCap time.Duration
	Logger      *log.Logger
	Now         func() time.Time
}

func (cfg Config) withDefaults() Config {
	if cfg.CacheMaxAge <= 0 {
		cfg.CacheMaxAge = defaultCacheMaxAge
	}
	if cfg.IntervalFloor <= 0 {
		cfg.IntervalFloor = defaultIntervalFloor
	}
	if cfg.IntervalCap <= 0 {
		cfg.IntervalCap = defaultIntervalCap
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

// IntervalFor derives the revalidation cadence from the cache max age: half
// the max age, clamped to [floor, cap]. The cadence self-scales with the
// configured cache lifetime without exceeding the cap or dropping below the
// floor.
func IntervalFor(maxAge, floor, cap time.Duration) time.Duration {
	interval := maxAge / 2
	if interval < floor {
		interval = floor
	}
	if interval > cap {
		interval = cap
	}
	return interval
}

// Engine runs the per-instance session revalidation state machine.
type Engine struct {
	cache    *sessioncache.Cache
	client   IdentityClient
	nav      Navigator
	notifier storage.Notifier
	cfg      Config
	tracer   trace.Tracer

	kick chan struct{}

	mu       sync.Mutex
	state    State
	inFlight bool
}

// New builds an engine. The notifier is optional; without one the engine
// relies on the interval timer and explicit kicks.
func New(cache *sessioncache.Cache, client IdentityClient, nav Navigator, notifier storage.Notifier, cfg Config) *Engine {
	return &Engine{
		cache:    cache,
		client:   client,
		nav:      nav,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		tracer:   otel.Tracer("portal/revalidate"),
		kick:     make(chan struct{}, 1),
	}
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentUser returns the cached identity, if any. A stale entry is still
// returned: it serves as an optimistic placeholder while revalidation runs,
// it just never substitutes for one.
func (e *Engine) CurrentUser(ctx context.Context) (user.User, bool) {
	entry, ok := e.cache.Read(ctx)
	if !ok {
		return user.User{}, false
	}
	return entry.User, true
}

// Kick requests a revalidation pass, e.g. after a login or invite redemption.
// Kicks arriving while a check is in flight are dropped, not queued.
func (e *Engine) Kick() {
	e.mu.Lock()
	busy := e.inFlight
	e.mu.Unlock()
	if busy {
		return
	}
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run drives the engine until ctx is cancelled. It reads the cache
// optimistically, revalidates immediately, then keeps revalidating on the
// interval timer, on change notifications for the session keys, and on
// explicit kicks. The timer and notifier subscription are released on return.
func (e *Engine) Run(ctx context.Context) error {
	e.optimisticRead(ctx)

	if e.notifier != nil {
		stop, err := e.notifier.Watch(ctx, e.onStorageChange)
		if err != nil {
			e.cfg.Logger.Printf("revalidate: watch notifications: %v", err)
		} else {
			defer stop()
		}
	}

	e.Revalidate(ctx)

	ticker := time.NewTicker(IntervalFor(e.cfg.CacheMaxAge, e.cfg.IntervalFloor, e.cfg.IntervalCap))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Revalidate(ctx)
		case <-e.kick:
			e.Revalidate(ctx)
		}
	}
}

// optimisticRead primes state from the cache so dependents see an identity
// before the first confirmation completes. A stale entry stays visible
// through CurrentUser as a placeholder but never advances the state on its
// own; only the backend confirms an aged session.
func (e *Engine) optimisticRead(ctx context.Context) {
	entry, ok := e.cache.Read(ctx)
	if !ok {
		return
	}
	if entry.Stale(e.cfg.CacheMaxAge, e.cfg.Now()) {
		e.cfg.Logger.Printf("revalidate: cached identity is stale, keeping as placeholder only")
		return
	}
	e.setState(StateAuthenticated)
}

// onStorageChange coalesces cross-instance cache changes into a kick. Only
// the two well-known session keys are meaningful; other keys are ignored.
func (e *Engine) onStorageChange(key string) {
	if key != sessioncache.KeyUser && key != sessioncache.KeySession {
		return
	}
	e.cache.Forget()
	e.Kick()
}

// Revalidate performs one confirmation pass. It reports false when another
// pass already holds the latch; overlapping triggers are no-ops rather than
// queued work, which keeps two failures from issuing duplicate redirects.
func (e *Engine) Revalidate(ctx context.Context) bool {
	e.mu.Lock()
	if e.inFlight {
		e.mu.Unlock()
		return false
	}
	e.inFlight = true
	e.state = StateRevalidating
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inFlight = false
		e.mu.Unlock()
	}()

	ctx, span := e.tracer.Start(ctx, "portal.revalidate")
	defer span.End()

	checked, ok, err := e.client.CheckSession(ctx)

	// The instance tore down while the request was in flight; the result no
	// longer matters.
	if ctx.Err() != nil {
		return true
	}

	if err != nil {
		// Fail closed: an unreachable or unparseable backend is treated as
		// not authenticated. No eager retry; the normal cadence covers it.
		e.cfg.Logger.Printf("revalidate: session check failed, signing out: %v", err)
		span.SetAttributes(attribute.String("portal.revalidate.outcome", "error"))
		e.signOut(ctx)
		return true
	}
	if !ok {
		span.SetAttributes(attribute.String("portal.revalidate.outcome", "unauthenticated"))
		e.signOut(ctx)
		return true
	}

	normalized, nerr := user.Normalize(checked)
	if nerr != nil {
		e.cfg.Logger.Printf("revalidate: backend returned unusable identity, signing out: %v", nerr)
		span.SetAttributes(attribute.String("portal.revalidate.outcome", "invalid-identity"))
		e.signOut(ctx)
		return true
	}

	e.cache.Write(ctx, normalized)
	e.setState(StateAuthenticated)
	span.SetAttributes(attribute.String("portal.revalidate.outcome", "authenticated"))

	// Reconcile a session that is valid but cached under a stale role: the
	// user may be browsing a subtree their current role no longer owns.
	if e.nav != nil && !routepath.OwnsPath(normalized.Role, e.nav.CurrentPath()) {
		e.nav.Redirect(routepath.PortalRoot(normalized.Role))
	}
	return true
}

// signOut clears the cache and redirects to sign-in when the user is inside
// a protected area. On public paths the cache is cleared without a redirect.
func (e *Engine) signOut(ctx context.Context) {
	e.cache.Clear(ctx)
	e.setState(StateUnauthenticated)
	if e.nav != nil && routepath.IsProtected(e.nav.CurrentPath()) {
		e.nav.Redirect(routepath.Login)
	}
}

func (e *Engine) setState(state State) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}
