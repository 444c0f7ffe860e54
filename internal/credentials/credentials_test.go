package credentials

import (
	"context"
	"net/url"
	"sync"
	"testing"

	"github.com/codr1/LeagueConsole/internal/identity"
	"github.com/codr1/LeagueConsole/internal/session"
	"github.com/codr1/LeagueConsole/internal/storage"
)

type fakeSessions struct {
	mu        sync.Mutex
	current   session.Session
	listeners []func(session.Session)
}

func (f *fakeSessions) Session() session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeSessions) Subscribe(fn func(session.Session)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
	idx := len(f.listeners) - 1
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.listeners[idx] = nil
	}
}

func (f *fakeSessions) set(sess session.Session) {
	f.mu.Lock()
	f.current = sess
	listeners := append([]func(session.Session){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range listeners {
		if fn != nil {
			fn(sess)
		}
	}
}

func signedIn(token string) session.Session {
	return session.Session{
		User:            &identity.User{AccessToken: token},
		IsAuthenticated: true,
		State:           session.Authenticated,
	}
}

func TestBearerTokenFollowsSession(t *testing.T) {
	sessions := &fakeSessions{current: session.Session{State: session.Unresolved}}
	store := storage.NewMemory()
	provider := NewProvider(sessions, store, nil)
	ctx := context.Background()

	if got := provider.BearerToken(ctx); got != "" {
		t.Fatalf("expected no token before any sign-in, got %q", got)
	}

	sessions.set(signedIn("T1"))
	if got := provider.BearerToken(ctx); got != "T1" {
		t.Fatalf("expected T1, got %q", got)
	}

	sessions.set(signedIn("T2"))
	if got := provider.BearerToken(ctx); got != "T2" {
		t.Fatalf("expected renewed T2, got %q", got)
	}
	if cached, _, _ := store.GetItem(ctx, StorageKey); cached != "T2" {
		t.Fatalf("expected T2 to be cached, got %q", cached)
	}

	sessions.set(session.Session{State: session.Unauthenticated})
	if got := provider.BearerToken(ctx); got != "" {
		t.Fatalf("expected no token after sign-out, got %q", got)
	}
	if _, ok, _ := store.GetItem(ctx, StorageKey); ok {
		t.Fatal("expected cached token to be cleared")
	}
}

func TestBearerTokenUsesCacheWhileUnresolved(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()
	if err := store.SetItem(ctx, StorageKey, "stale"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sessions := &fakeSessions{current: session.Session{State: session.Unresolved}}
	provider := NewProvider(sessions, store, nil)

	if got := provider.BearerToken(ctx); got != "stale" {
		t.Fatalf("expected cached token while unresolved, got %q", got)
	}

	sessions.set(session.Session{State: session.SigningOut})
	if got := provider.BearerToken(ctx); got != "" {
		t.Fatalf("expected no token while signing out, got %q", got)
	}
}

func TestCloseStopsMirroring(t *testing.T) {
	sessions := &fakeSessions{current: session.Session{State: session.Unresolved}}
	store := storage.NewMemory()
	provider := NewProvider(sessions, store, nil)

	provider.Close()
	sessions.set(signedIn("T1"))

	if _, ok, _ := store.GetItem(context.Background(), StorageKey); ok {
		t.Fatal("expected closed provider not to cache tokens")
	}
}

func TestStripLeftoverCallback(t *testing.T) {
	u, _ := url.Parse("/events?code=abc&state=xyz&tab=teams")

	stripped, changed := StripLeftoverCallback(u)
	if !changed || stripped.String() != "/events?tab=teams" {
		t.Fatalf("expected stripped url, got %q changed=%v", stripped, changed)
	}

	again, changed := StripLeftoverCallback(stripped)
	if changed || again.String() != "/events?tab=teams" {
		t.Fatalf("expected second strip to be a no-op, got %q changed=%v", again, changed)
	}
}
