package authz

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/codr1/LeagueConsole/internal/browser"
	"github.com/codr1/LeagueConsole/internal/identity"
	"github.com/codr1/LeagueConsole/internal/roles"
	"github.com/codr1/LeagueConsole/internal/session"
	"github.com/codr1/LeagueConsole/internal/storage"
	"github.com/codr1/LeagueConsole/internal/testutil"
)

func TestHas(t *testing.T) {
	caps := roles.Derive(roles.NewSet("league-official", "member"))

	tests := []struct {
		capability Capability
		want       bool
	}{
		{Official, true},
		{Organizer, true},
		{Member, true},
		{User, true},
		{Admin, false},
		{Captain, false},
		{Capability("owner"), false},
	}
	for _, tt := range tests {
		if got := Has(caps, tt.capability); got != tt.want {
			t.Errorf("Has(%s) = %v, want %v", tt.capability, got, tt.want)
		}
	}
}

func TestRequireCapabilityWithoutBrowser(t *testing.T) {
	if err := RequireCapability(context.Background(), Member); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

// signedInRegistry returns a registry and a cookie for a browser whose user
// holds names.
func signedInRegistry(t *testing.T, names ...string) (*browser.Registry, *http.Cookie) {
	t.Helper()
	ctx := context.Background()

	provider := testutil.NewOIDCProvider(t, "league-console")
	client, err := identity.NewClient(ctx, identity.Options{
		Authority:   provider.URL,
		ClientID:    "league-console",
		RedirectURI: "http://console.test/",
	})
	if err != nil {
		t.Fatalf("identity client: %v", err)
	}
	registry := browser.NewRegistry(client, storage.NewMemory(), nil, browser.Options{})
	t.Cleanup(registry.Close)

	rec := httptest.NewRecorder()
	bc := registry.Resolve(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	start := session.NewRequestLocation(httptest.NewRequest(http.MethodGet, "/login", nil))
	bc.Sessions.BeginSignInRedirect(ctx, start, "/")
	authURL, _ := start.Redirect()
	code, state := provider.Authorize(t, authURL)
	callback := httptest.NewRequest(http.MethodGet, "/?code="+url.QueryEscape(code)+"&state="+url.QueryEscape(state), nil)
	bc.Sessions.BeginSignInRedirect(ctx, session.NewRequestLocation(callback), "")

	if err := bc.Roles.Save(ctx, roles.NewSet(names...)); err != nil {
		t.Fatalf("save roles: %v", err)
	}
	return registry, rec.Result().Cookies()[0]
}

func TestRequireMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		roles  []string
		signIn bool
		want   int
	}{
		{name: "organizer allowed", roles: []string{"committee"}, signIn: true, want: http.StatusOK},
		{name: "captain forbidden", roles: []string{"team-captain"}, signIn: true, want: http.StatusForbidden},
		{name: "signed out", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
			req := httptest.NewRequest(http.MethodGet, "/api/v1/events/e1/leaderboard/export", nil)

			var handler http.Handler
			if tt.signIn {
				registry, cookie := signedInRegistry(t, tt.roles...)
				req.AddCookie(cookie)
				handler = registry.WithBrowser(Require(Organizer)(ok))
			} else {
				handler = Require(Organizer)(ok)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}
