package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/codr1/LeagueConsole/internal/identity"
	"github.com/codr1/LeagueConsole/internal/storage"
	"github.com/codr1/LeagueConsole/internal/testutil"
)

const renewalClientID = "league-console"

// expiringTimer captures the access-token-expiring job so tests fire it.
type expiringTimer struct {
	mu   sync.Mutex
	task func()
}

func (e *expiringTimer) ScheduleOnce(name string, at time.Time, task func()) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.task = task
	return func() {}, nil
}

func (e *expiringTimer) scheduled(t *testing.T) func() {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.task == nil {
		t.Fatal("no expiring event scheduled")
	}
	return e.task
}

func (e *expiringTimer) fire(t *testing.T) {
	t.Helper()
	e.scheduled(t)()
}

type renewalFixture struct {
	provider *testutil.OIDCProvider
	client   *identity.Client
	shared   storage.Storage
	timer    *expiringTimer
}

func newRenewalFixture(t *testing.T) *renewalFixture {
	t.Helper()

	provider := testutil.NewOIDCProvider(t, renewalClientID)
	timer := &expiringTimer{}
	client, err := identity.NewClient(context.Background(), identity.Options{
		Authority:   provider.URL,
		ClientID:    renewalClientID,
		RedirectURI: "http://console.test/",
		Timer:       timer,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return &renewalFixture{provider: provider, client: client, shared: storage.NewMemory(), timer: timer}
}

// newStore builds a store over the fixture's storage, as a rebuilt browser
// context would.
func (f *renewalFixture) newStore() *Store {
	store := NewStore(f.client.UserManager(f.shared), Options{})
	store.ArmSilentRenewal()
	return store
}

func (f *renewalFixture) signIn(t *testing.T, store *Store) {
	t.Helper()
	ctx := context.Background()

	waitResolved(t, store)
	loc := newFakeLocation(t, "http://console.test/")
	store.BeginSignInRedirect(ctx, loc, "")
	if loc.assigned == "" {
		t.Fatal("expected redirect to the provider")
	}

	code, state := f.provider.Authorize(t, loc.assigned)
	store.BeginSignInRedirect(ctx, newFakeLocation(t, "http://console.test/?code="+code+"&state="+state), "")
	if sess := store.Session(); sess.State != Authenticated {
		t.Fatalf("expected authenticated after callback, got %s", sess.State)
	}
}

func TestSignOutDuringRenewalLeavesNoStoredUser(t *testing.T) {
	f := newRenewalFixture(t)
	store := f.newStore()
	f.signIn(t, store)

	entered, release := f.provider.HoldRefresh()
	t.Cleanup(release)

	expiring := f.timer.scheduled(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		expiring()
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("renewal never reached the token endpoint")
	}

	store.SignOutRedirect(context.Background(), newFakeLocation(t, "http://console.test/events"))
	release()
	<-done

	if sess := store.Session(); sess.State != Unauthenticated {
		t.Fatalf("expected unauthenticated after renewal finished, got %s", sess.State)
	}
	if sess := waitResolved(t, f.newStore()); sess.State != Unauthenticated {
		t.Fatalf("expected rebuilt context to stay signed out, got %s", sess.State)
	}
}

func TestRejectedRenewalLeavesNoStoredUser(t *testing.T) {
	f := newRenewalFixture(t)
	store := f.newStore()
	f.signIn(t, store)

	f.provider.FailRefresh("invalid_grant")
	f.timer.fire(t)

	if sess := store.Session(); sess.State != Unauthenticated {
		t.Fatalf("expected unauthenticated after rejected renewal, got %s", sess.State)
	}
	if sess := waitResolved(t, f.newStore()); sess.State != Unauthenticated {
		t.Fatalf("expected rebuilt context to stay signed out, got %s", sess.State)
	}
}

func TestTransientRenewalFailureKeepsStoredUser(t *testing.T) {
	f := newRenewalFixture(t)
	store := f.newStore()
	f.signIn(t, store)

	f.provider.FailRefresh("temporarily_unavailable")
	f.timer.fire(t)

	if sess := store.Session(); sess.State != Authenticated {
		t.Fatalf("expected session to survive a transient failure, got %s", sess.State)
	}
	if sess := waitResolved(t, f.newStore()); sess.State != Authenticated {
		t.Fatalf("expected rebuilt context to stay signed in, got %s", sess.State)
	}
}
