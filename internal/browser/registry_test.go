package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/codr1/LeagueConsole/internal/identity"
	"github.com/codr1/LeagueConsole/internal/leagueapi"
	"github.com/codr1/LeagueConsole/internal/roles"
	"github.com/codr1/LeagueConsole/internal/scheduler"
	"github.com/codr1/LeagueConsole/internal/session"
	"github.com/codr1/LeagueConsole/internal/storage"
	"github.com/codr1/LeagueConsole/internal/testutil"
)

const (
	testClientID    = "league-console"
	testRedirectURI = "http://console.test/callback"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(t *testing.T, base storage.Storage, opts Options) (*Registry, *testutil.OIDCProvider) {
	t.Helper()

	provider := testutil.NewOIDCProvider(t, testClientID)
	client, err := identity.NewClient(context.Background(), identity.Options{
		Authority:   provider.URL,
		ClientID:    testClientID,
		RedirectURI: testRedirectURI,
	})
	if err != nil {
		t.Fatalf("identity client: %v", err)
	}

	newAPI := func(tokens leagueapi.TokenSource) *leagueapi.Client {
		return leagueapi.NewClient("http://backend.test", tokens, nil)
	}
	registry := NewRegistry(client, base, newAPI, opts)
	t.Cleanup(registry.Close)
	return registry, provider
}

func withCookie(req *http.Request, rec *httptest.ResponseRecorder) *http.Request {
	for _, cookie := range rec.Result().Cookies() {
		req.AddCookie(cookie)
	}
	return req
}

// signIn drives a redirect round trip through the context's session store.
func signIn(t *testing.T, provider *testutil.OIDCProvider, bc *Context) {
	t.Helper()
	ctx := context.Background()

	start := session.NewRequestLocation(httptest.NewRequest(http.MethodGet, "/login", nil))
	bc.Sessions.BeginSignInRedirect(ctx, start, "/events")
	authURL, ok := start.Redirect()
	if !ok {
		t.Fatal("expected redirect to the provider")
	}
	code, state := provider.Authorize(t, authURL)

	callback := httptest.NewRequest(http.MethodGet, "/callback?code="+url.QueryEscape(code)+"&state="+url.QueryEscape(state), nil)
	bc.Sessions.BeginSignInRedirect(ctx, session.NewRequestLocation(callback), "")
	if got := bc.Sessions.Session().State; got != session.Authenticated {
		t.Fatalf("expected authenticated after callback, got %v", got)
	}
}

func TestResolveSetsCookie(t *testing.T) {
	registry, _ := newTestRegistry(t, storage.NewMemory(), Options{Secure: true})

	rec := httptest.NewRecorder()
	bc := registry.Resolve(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	cookie := cookies[0]
	if cookie.Name != DefaultCookieName || cookie.Value != bc.ID {
		t.Fatalf("unexpected cookie %+v", cookie)
	}
	if !cookie.HttpOnly || !cookie.Secure || cookie.SameSite != http.SameSiteLaxMode || cookie.Path != "/" {
		t.Fatalf("unexpected cookie attributes %+v", cookie)
	}
	if bc.API == nil || bc.Credentials == nil || bc.Roles == nil {
		t.Fatal("expected a fully built context")
	}
}

func TestResolveReusesContext(t *testing.T) {
	registry, _ := newTestRegistry(t, storage.NewMemory(), Options{})

	first := httptest.NewRecorder()
	bc := registry.Resolve(first, httptest.NewRequest(http.MethodGet, "/", nil))

	second := httptest.NewRecorder()
	again := registry.Resolve(second, withCookie(httptest.NewRequest(http.MethodGet, "/events", nil), first))

	if again != bc {
		t.Fatal("expected the same context for the same cookie")
	}
	if len(second.Result().Cookies()) != 0 {
		t.Fatal("expected no new cookie for a known browser")
	}
	if registry.Len() != 1 {
		t.Fatalf("expected one context, got %d", registry.Len())
	}
}

func TestResolveReplacesMalformedCookie(t *testing.T) {
	registry, _ := newTestRegistry(t, storage.NewMemory(), Options{CookieName: "console"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "console", Value: "../../etc"})
	rec := httptest.NewRecorder()
	bc := registry.Resolve(rec, req)

	if bc.ID == "../../etc" {
		t.Fatal("expected malformed id to be replaced")
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "console" || cookies[0].Value != bc.ID {
		t.Fatalf("expected replacement cookie, got %+v", cookies)
	}
}

func TestContextsAreIsolated(t *testing.T) {
	registry, provider := newTestRegistry(t, storage.NewMemory(), Options{})

	a := registry.Resolve(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	b := registry.Resolve(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if a == b || a.ID == b.ID {
		t.Fatal("expected distinct contexts")
	}

	signIn(t, provider, a)

	if got := b.Sessions.WaitResolved(context.Background()); got.IsAuthenticated {
		t.Fatal("sign-in leaked into another browser context")
	}
	if token := b.Credentials.BearerToken(context.Background()); token != "" {
		t.Fatalf("expected no token for the other context, got %q", token)
	}
	if token := a.Credentials.BearerToken(context.Background()); token != provider.LastAccessToken() {
		t.Fatalf("expected %q, got %q", provider.LastAccessToken(), token)
	}
}

func TestPruneKeepsStorage(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	registry, provider := newTestRegistry(t, storage.NewMemory(), Options{IdleTimeout: time.Hour, Now: clock.Now})

	// Tokens outlive the idle timeout so the rebuilt store sees a live user.
	provider.SetExpiresIn(4 * 3600)

	rec := httptest.NewRecorder()
	bc := registry.Resolve(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	signIn(t, provider, bc)
	if err := bc.Roles.Save(context.Background(), roles.NewSet(roles.RoleCaptain)); err != nil {
		t.Fatalf("save roles: %v", err)
	}

	clock.Advance(30 * time.Minute)
	if n := registry.Prune(); n != 0 {
		t.Fatalf("expected nothing pruned yet, got %d", n)
	}

	clock.Advance(31 * time.Minute)
	if n := registry.Prune(); n != 1 {
		t.Fatalf("expected one pruned context, got %d", n)
	}
	if _, ok := registry.Get(bc.ID); ok {
		t.Fatal("expected context to be dropped from memory")
	}

	rebuilt := registry.Resolve(httptest.NewRecorder(), withCookie(httptest.NewRequest(http.MethodGet, "/", nil), rec))
	if rebuilt == bc || rebuilt.ID != bc.ID {
		t.Fatal("expected a rebuilt context with the same id")
	}
	if got := rebuilt.Sessions.WaitResolved(context.Background()); !got.IsAuthenticated {
		t.Fatalf("expected stored user to survive pruning, got %v", got.State)
	}
	if caps := roles.Derive(rebuilt.Roles.Load(context.Background())); !caps.IsUser {
		t.Fatal("expected cached roles to survive pruning")
	}
}

func TestPruneDisabledWithoutTimeout(t *testing.T) {
	registry, _ := newTestRegistry(t, storage.NewMemory(), Options{})
	registry.Resolve(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if n := registry.Prune(); n != 0 {
		t.Fatalf("expected no pruning, got %d", n)
	}
}

func TestWithBrowser(t *testing.T) {
	registry, _ := newTestRegistry(t, storage.NewMemory(), Options{})

	var seen *Context
	handler := registry.WithBrowser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bc, ok := FromContext(r.Context())
		if !ok {
			t.Fatal("expected browser context in request context")
		}
		seen = bc
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == nil || len(rec.Result().Cookies()) != 1 || rec.Result().Cookies()[0].Value != seen.ID {
		t.Fatal("expected middleware to resolve and set the browser cookie")
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("expected no browser context outside the middleware")
	}
}

func TestSchedulePrune(t *testing.T) {
	registry, _ := newTestRegistry(t, storage.NewMemory(), Options{IdleTimeout: time.Minute})

	sched, err := scheduler.New()
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	t.Cleanup(func() { _ = sched.Stop() })

	if err := registry.SchedulePrune(sched, "*/5 * * * *"); err != nil {
		t.Fatalf("schedule prune: %v", err)
	}
	if err := registry.SchedulePrune(sched, "not a cron"); err == nil {
		t.Fatal("expected invalid cron to be rejected")
	}
}

func TestSessionsLookup(t *testing.T) {
	registry, _ := newTestRegistry(t, storage.NewMemory(), Options{})

	if src := Sessions(httptest.NewRequest(http.MethodGet, "/", nil)); src != nil {
		t.Fatal("expected nil lookup without a browser context")
	}

	var found bool
	registry.WithBrowser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		found = Sessions(r) != nil
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !found {
		t.Fatal("expected session store for a resolved browser")
	}
}
