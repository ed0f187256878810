package revalidate

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/portaltest"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/routepath"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/sessioncache"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/user"
)

type fakeClient struct {
	mu    sync.Mutex
	user  user.User
	ok    bool
	err   error
	calls int

	// release, when set, blocks CheckSession until closed.
	release chan struct{}
}

func (c *fakeClient) CheckSession(ctx context.Context) (user.User, bool, error) {
	c.mu.Lock()
	c.calls++
	release := c.release
	c.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user, c.ok, c.err
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestCache() *sessioncache.Cache {
	return sessioncache.New(sessioncache.Config{
		Fast:   portaltest.NewKV(),
		Logger: testLogger(),
	})
}

func newTestEngine(client IdentityClient, nav Navigator) *Engine {
	return New(newTestCache(), client, nav, nil, Config{Logger: testLogger()})
}

func TestIntervalFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		maxAge time.Duration
		want   time.Duration
	}{
		{"half of max age", 30 * time.Minute, 15 * time.Minute},
		{"clamped to floor", 4 * time.Minute, 5 * time.Minute},
		{"clamped to cap", 10 * time.Hour, time.Hour},
		{"exactly at floor", 10 * time.Minute, 5 * time.Minute},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := IntervalFor(tc.maxAge, 5*time.Minute, time.Hour)
			if got != tc.want {
				t.Fatalf("IntervalFor(%v) = %v, want %v", tc.maxAge, got, tc.want)
			}
		})
	}
}

func TestRevalidateSuccessWritesCacheAndAuthenticates(t *testing.T) {
	t.Parallel()

	client := &fakeClient{user: user.User{ID: "usr_1", Role: user.RoleMember}, ok: true}
	nav := portaltest.NewNavigator(routepath.MemberRoot)
	engine := newTestEngine(client, nav)

	if ran := engine.Revalidate(context.Background()); !ran {
		t.Fatal("expected revalidation to run")
	}
	if engine.State() != StateAuthenticated {
		t.Fatalf("state = %v, want StateAuthenticated", engine.State())
	}
	if u, ok := engine.CurrentUser(context.Background()); !ok || u.ID != "usr_1" {
		t.Fatalf("current user = %+v ok=%v, want usr_1", u, ok)
	}
	if len(nav.Redirects()) != 0 {
		t.Fatalf("unexpected redirects: %v", nav.Redirects())
	}
}

func TestRevalidateUnauthenticatedOnProtectedPathRedirects(t *testing.T) {
	t.Parallel()

	client := &fakeClient{ok: false}
	nav := portaltest.NewNavigator("/portal/registry")
	engine := newTestEngine(client, nav)

	engine.Revalidate(context.Background())

	if engine.State() != StateUnauthenticated {
		t.Fatalf("state = %v, want StateUnauthenticated", engine.State())
	}
	if _, ok := engine.CurrentUser(context.Background()); ok {
		t.Fatal("expected cache cleared")
	}
	redirects := nav.Redirects()
	if len(redirects) != 1 || redirects[0] != routepath.Login {
		t.Fatalf("redirects = %v, want [%s]", redirects, routepath.Login)
	}
}

func TestRevalidateUnauthenticatedOnPublicPathDoesNotRedirect(t *testing.T) {
	t.Parallel()

	client := &fakeClient{ok: false}
	nav := portaltest.NewNavigator("/blog/nursery-design")
	engine := newTestEngine(client, nav)

	engine.Revalidate(context.Background())

	if engine.State() != StateUnauthenticated {
		t.Fatalf("state = %v, want StateUnauthenticated", engine.State())
	}
	if len(nav.Redirects()) != 0 {
		t.Fatalf("unexpected redirects: %v", nav.Redirects())
	}
}

func TestRevalidateNetworkFailureFailsClosed(t *testing.T) {
	t.Parallel()

	client := &fakeClient{err: errors.New("connection refused")}
	nav := portaltest.NewNavigator("/mentor/clients")
	engine := newTestEngine(client, nav)

	engine.Revalidate(context.Background())

	if engine.State() != StateUnauthenticated {
		t.Fatalf("state = %v, want StateUnauthenticated", engine.State())
	}
	redirects := nav.Redirects()
	if len(redirects) != 1 || redirects[0] != routepath.Login {
		t.Fatalf("redirects = %v, want [%s]", redirects, routepath.Login)
	}
}

func TestRevalidateStaleRoleRedirectsToOwnedPortal(t *testing.T) {
	t.Parallel()

	client := &fakeClient{user: user.User{ID: "usr_1", Role: user.RoleMember}, ok: true}
	nav := portaltest.NewNavigator("/mentor/clients")
	engine := newTestEngine(client, nav)

	engine.Revalidate(context.Background())

	if engine.State() != StateAuthenticated {
		t.Fatalf("state = %v, want StateAuthenticated", engine.State())
	}
	redirects := nav.Redirects()
	if len(redirects) != 1 || redirects[0] != routepath.MemberRoot {
		t.Fatalf("redirects = %v, want [%s]", redirects, routepath.MemberRoot)
	}
}

func TestRevalidateSingleFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	client := &fakeClient{user: user.User{ID: "usr_1", Role: user.RoleMember}, ok: true, release: release}
	engine := newTestEngine(client, portaltest.NewNavigator(routepath.MemberRoot))

	done := make(chan bool)
	go func() {
		done <- engine.Revalidate(context.Background())
	}()

	// Wait for the first pass to hold the latch.
	for engine.State() != StateRevalidating {
		time.Sleep(time.Millisecond)
	}

	if ran := engine.Revalidate(context.Background()); ran {
		t.Fatal("expected overlapping revalidation to be a no-op")
	}
	if client.callCount() != 1 {
		t.Fatalf("calls = %d, want 1", client.callCount())
	}

	close(release)
	if ran := <-done; !ran {
		t.Fatal("expected first revalidation to run")
	}
}

func TestKickDroppedWhileInFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	client := &fakeClient{ok: true, user: user.User{ID: "usr_1", Role: user.RoleMember}, release: release}
	engine := newTestEngine(client, portaltest.NewNavigator(routepath.MemberRoot))

	done := make(chan bool)
	go func() {
		done <- engine.Revalidate(context.Background())
	}()
	for engine.State() != StateRevalidating {
		time.Sleep(time.Millisecond)
	}

	engine.Kick()
	if len(engine.kick) != 0 {
		t.Fatal("expected kick to be dropped while a check is in flight")
	}

	close(release)
	<-done

	engine.Kick()
	if len(engine.kick) != 1 {
		t.Fatal("expected kick to be queued when idle")
	}
}

func TestFreshCacheEntryNeverSkipsRevalidation(t *testing.T) {
	t.Parallel()

	client := &fakeClient{user: user.User{ID: "usr_1", Role: user.RoleMember}, ok: true}
	engine := newTestEngine(client, portaltest.NewNavigator(routepath.MemberRoot))
	ctx := context.Background()

	// Seed a fresh entry, then revalidate twice: both passes must hit the
	// backend; the cache is never proof enough to skip a pass.
	engine.Revalidate(ctx)
	engine.Revalidate(ctx)

	if client.callCount() != 2 {
		t.Fatalf("calls = %d, want 2", client.callCount())
	}
}

func TestOptimisticReadTrustsOnlyFreshEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("fresh entry authenticates", func(t *testing.T) {
		t.Parallel()

		kv := portaltest.NewKV()
		seed := sessioncache.New(sessioncache.Config{Fast: kv, Logger: testLogger()})
		seed.Write(ctx, user.User{ID: "usr_1", Role: user.RoleMember})

		engine := New(
			sessioncache.New(sessioncache.Config{Fast: kv, Logger: testLogger()}),
			&fakeClient{}, nil, nil, Config{Logger: testLogger()},
		)
		engine.optimisticRead(ctx)

		if engine.State() != StateAuthenticated {
			t.Fatalf("state = %v, want StateAuthenticated", engine.State())
		}
	})

	t.Run("stale entry is placeholder only", func(t *testing.T) {
		t.Parallel()

		// Stamp the entry two hours in the past, well beyond the default max age.
		kv := portaltest.NewKV()
		seed := sessioncache.New(sessioncache.Config{
			Fast:   kv,
			Logger: testLogger(),
			Now:    func() time.Time { return time.Now().Add(-2 * time.Hour) },
		})
		seed.Write(ctx, user.User{ID: "usr_1", Role: user.RoleMember})

		engine := New(
			sessioncache.New(sessioncache.Config{Fast: kv, Logger: testLogger()}),
			&fakeClient{}, nil, nil, Config{Logger: testLogger()},
		)
		engine.optimisticRead(ctx)

		if engine.State() == StateAuthenticated {
			t.Fatal("stale entry must not authenticate before confirmation")
		}
		if u, ok := engine.CurrentUser(ctx); !ok || u.ID != "usr_1" {
			t.Fatalf("placeholder identity = %+v ok=%v, want usr_1", u, ok)
		}
	})
}

// A successful revalidation writes the cache; that write must not feed back
// into the engine as a change notification and trigger another check. With a
// contract-honoring notifier the engine stays quiet until the interval timer
// or an external change fires.
func TestRunQuiescentAfterSuccessfulRevalidation(t *testing.T) {
	t.Parallel()

	client := &fakeClient{ok: true, user: user.User{ID: "usr_1", Role: user.RoleMember}}
	notifier := portaltest.NewNotifier()
	engine := New(newTestCache(), client, portaltest.NewNavigator(routepath.MemberRoot), notifier, Config{
		Logger: testLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error)
	go func() {
		done <- engine.Run(ctx)
	}()

	for engine.State() != StateAuthenticated {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	if got := client.callCount(); got != 1 {
		t.Fatalf("calls = %d after one settled revalidation, want 1", got)
	}

	// An external change still gets through.
	notifier.Fire(sessioncache.KeyUser)
	deadline := time.Now().Add(time.Second)
	for client.callCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("external change notification did not trigger a revalidation")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	<-done
}

func TestOnStorageChangeIgnoresUnrelatedKeys(t *testing.T) {
	t.Parallel()

	client := &fakeClient{ok: true, user: user.User{ID: "usr_1", Role: user.RoleMember}}
	engine := newTestEngine(client, portaltest.NewNavigator(routepath.MemberRoot))

	engine.onStorageChange("registry_taylor_draft:mentor:ABC123")
	if len(engine.kick) != 0 {
		t.Fatal("unrelated key must not trigger a kick")
	}

	engine.onStorageChange(sessioncache.KeyUser)
	if len(engine.kick) != 1 {
		t.Fatal("session key change must trigger a kick")
	}
}

func TestTeardownIgnoresInFlightResult(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	client := &fakeClient{user: user.User{ID: "usr_1", Role: user.RoleMember}, ok: true, release: release}
	engine := newTestEngine(client, portaltest.NewNavigator(routepath.MemberRoot))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool)
	go func() {
		done <- engine.Revalidate(ctx)
	}()
	for engine.State() != StateRevalidating {
		time.Sleep(time.Millisecond)
	}

	cancel()
	<-done

	// The result arrived after teardown: no cache write, no state change.
	if _, ok := engine.CurrentUser(context.Background()); ok {
		t.Fatal("expected no cache write after teardown")
	}
	if engine.State() == StateAuthenticated {
		t.Fatal("expected state not to advance after teardown")
	}
}

func TestRunReleasesNotifierOnCancel(t *testing.T) {
	t.Parallel()

	client := &fakeClient{ok: true, user: user.User{ID: "usr_1", Role: user.RoleMember}}
	notifier := portaltest.NewNotifier()
	engine := New(newTestCache(), client, portaltest.NewNavigator(routepath.MemberRoot), notifier, Config{
		Logger: testLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- engine.Run(ctx)
	}()

	// Wait for the initial revalidation to land.
	for engine.State() != StateAuthenticated {
		time.Sleep(time.Millisecond)
	}
	if notifier.WatcherCount() != 1 {
		t.Fatalf("watchers = %d, want 1", notifier.WatcherCount())
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	if notifier.WatcherCount() != 0 {
		t.Fatalf("watchers = %d after teardown, want 0", notifier.WatcherCount())
	}
}

// Two instances share the fast store; when the first one's check fails and
// clears storage, the notification drives the second to the same signed-out
// conclusion within one cycle.
func TestCrossInstanceSignOutConverges(t *testing.T) {
	t.Parallel()

	shared := portaltest.NewKV()
	notifier := portaltest.NewNotifier()
	ctx := context.Background()

	newEngine := func(client IdentityClient, nav Navigator) *Engine {
		cache := sessioncache.New(sessioncache.Config{Fast: shared, Logger: testLogger()})
		return New(cache, client, nav, notifier, Config{Logger: testLogger()})
	}

	okClient := &fakeClient{user: user.User{ID: "usr_1", Role: user.RoleMember}, ok: true}
	engineA := newEngine(okClient, portaltest.NewNavigator("/portal/registry"))
	engineB := newEngine(okClient, portaltest.NewNavigator("/portal/checklist"))

	engineA.Revalidate(ctx)
	engineB.Revalidate(ctx)
	if engineA.State() != StateAuthenticated || engineB.State() != StateAuthenticated {
		t.Fatal("expected both instances authenticated")
	}

	// The backend now rejects the session; instance A notices first.
	okClient.mu.Lock()
	okClient.ok = false
	okClient.mu.Unlock()

	engineA.Revalidate(ctx)
	if engineA.State() != StateUnauthenticated {
		t.Fatal("expected instance A signed out")
	}

	// Instance B reacts to the storage change notification.
	engineB.onStorageChange(sessioncache.KeyUser)
	<-engineB.kick
	engineB.Revalidate(ctx)

	if engineB.State() != StateUnauthenticated {
		t.Fatal("expected instance B to converge to signed out")
	}
}
