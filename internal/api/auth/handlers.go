// internal/api/auth/handlers.go
package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/LeagueConsole/internal/api/apiutil"
	"github.com/codr1/LeagueConsole/internal/api/htmx"
	"github.com/codr1/LeagueConsole/internal/browser"
	"github.com/codr1/LeagueConsole/internal/credentials"
	"github.com/codr1/LeagueConsole/internal/roles"
	"github.com/codr1/LeagueConsole/internal/session"
	"github.com/codr1/LeagueConsole/internal/templates/layouts"
)

const (
	LoginPath     = "/login"
	SignedOutPath = "/signed-out"
	returnParam   = "return"
)

type Config struct {
	// ResolveTimeout bounds how long a handler waits for the stored user
	// lookup of a new browser context.
	ResolveTimeout  time.Duration
	RoleSyncTimeout time.Duration
}

var handlerConfig = Config{
	ResolveTimeout:  2 * time.Second,
	RoleSyncTimeout: 10 * time.Second,
}

func InitHandlers(cfg Config) {
	if cfg.ResolveTimeout > 0 {
		handlerConfig.ResolveTimeout = cfg.ResolveTimeout
	}
	if cfg.RoleSyncTimeout > 0 {
		handlerConfig.RoleSyncTimeout = cfg.RoleSyncTimeout
	}
}

func browserContext(w http.ResponseWriter, r *http.Request) (*browser.Context, bool) {
	bc, ok := browser.FromContext(r.Context())
	if !ok {
		log.Ctx(r.Context()).Error().Msg("Browser context missing from request")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
	return bc, ok
}

func waitResolved(ctx context.Context, bc *browser.Context) session.Session {
	ctx, cancel := context.WithTimeout(ctx, handlerConfig.ResolveTimeout)
	defer cancel()
	return bc.Sessions.WaitResolved(ctx)
}

// HandleLogin sends the browser to the provider. ?return= is where it lands
// after the callback.
func HandleLogin(w http.ResponseWriter, r *http.Request) {
	bc, ok := browserContext(w, r)
	if !ok {
		return
	}
	returnTo := SafeReturn(r.URL.Query().Get(returnParam))

	if sess := waitResolved(r.Context(), bc); sess.IsAuthenticated {
		http.Redirect(w, r, returnTo, http.StatusFound)
		return
	}

	loc := session.NewRequestLocation(r)
	bc.Sessions.BeginSignInRedirect(r.Context(), loc, returnTo)
	if loc.Apply(w, r) {
		return
	}
	if bc.Sessions.Session().IsAuthenticated {
		http.Redirect(w, r, returnTo, http.StatusFound)
		return
	}
	http.Error(w, "Sign-in is unavailable", http.StatusServiceUnavailable)
}

// HandleHome serves the console root, which is also the redirect URI.
func HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	bc, ok := browserContext(w, r)
	if !ok {
		return
	}
	if _, isCallback := session.CallbackParams(r.URL); isCallback {
		completeSignIn(w, r, bc)
		return
	}

	logger := log.Ctx(r.Context())
	sess := waitResolved(r.Context(), bc)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	component := layouts.SignIn(LoginPath)
	if sess.IsAuthenticated {
		caps := roles.Derive(bc.Roles.Load(r.Context()))
		component = layouts.Welcome(displayName(sess), capabilityNames(caps))
	}
	if err := component.Render(r.Context(), w); err != nil {
		logger.Error().Err(err).Msg("Failed to render home page")
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}

// HandleCallback completes sign-in on a dedicated redirect URI.
func HandleCallback(w http.ResponseWriter, r *http.Request) {
	bc, ok := browserContext(w, r)
	if !ok {
		return
	}
	if _, isCallback := session.CallbackParams(r.URL); !isCallback {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	completeSignIn(w, r, bc)
}

func completeSignIn(w http.ResponseWriter, r *http.Request, bc *browser.Context) {
	loc := session.NewRequestLocation(r)
	bc.Sessions.BeginSignInRedirect(r.Context(), loc, "")

	sess := bc.Sessions.Session()
	if !sess.IsAuthenticated {
		if !loc.Apply(w, r) {
			http.Redirect(w, r, "/", http.StatusFound)
		}
		return
	}

	syncRoles(r.Context(), bc)
	http.Redirect(w, r, SafeReturn(sess.User.State), http.StatusFound)
}

// syncRoles refreshes the role cache. A failure keeps the previous roles.
func syncRoles(ctx context.Context, bc *browser.Context) {
	if bc.API == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, handlerConfig.RoleSyncTimeout)
	defer cancel()

	if _, err := bc.Roles.Sync(ctx, bc.API); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Failed to refresh roles after sign-in")
	}
}

// HandleLogout ends the session with the provider.
func HandleLogout(w http.ResponseWriter, r *http.Request) {
	bc, ok := browserContext(w, r)
	if !ok {
		return
	}

	loc := session.NewRequestLocation(r)
	bc.Sessions.SignOutRedirect(r.Context(), loc)
	if err := bc.Roles.Invalidate(r.Context()); err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("Failed to clear cached roles")
	}

	target, ok := loc.Redirect()
	if !ok {
		target = SignedOutPath
	}
	htmx.Redirect(w, r, target, http.StatusSeeOther)
}

// HandleForget drops the local user without contacting the provider.
func HandleForget(w http.ResponseWriter, r *http.Request) {
	bc, ok := browserContext(w, r)
	if !ok {
		return
	}

	bc.Sessions.RemoveUserLocally(r.Context())
	if err := bc.Roles.Invalidate(r.Context()); err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("Failed to clear cached roles")
	}
	htmx.Redirect(w, r, "/", http.StatusSeeOther)
}

func HandleSignedOut(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := layouts.SignedOut(LoginPath).Render(r.Context(), w); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to render signed-out page")
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}

type profileResponse struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phoneNumber,omitempty"`
}

type sessionResponse struct {
	State           string             `json:"state"`
	IsAuthenticated bool               `json:"isAuthenticated"`
	ActiveNavigator string             `json:"activeNavigator,omitempty"`
	ExpiresAt       *time.Time         `json:"expiresAt,omitempty"`
	Profile         *profileResponse   `json:"profile,omitempty"`
	Roles           []string           `json:"roles"`
	Capabilities    roles.Capabilities `json:"capabilities"`
}

// HandleSession reports the session snapshot. ?wait=true waits for the
// stored user lookup before answering.
func HandleSession(w http.ResponseWriter, r *http.Request) {
	bc, ok := browserContext(w, r)
	if !ok {
		return
	}

	sess := bc.Sessions.Session()
	if r.URL.Query().Get("wait") == "true" {
		sess = waitResolved(r.Context(), bc)
	}

	resp := sessionResponse{
		State:           sess.State.String(),
		IsAuthenticated: sess.IsAuthenticated,
		ActiveNavigator: string(sess.ActiveNavigator),
		Roles:           []string{},
	}
	if sess.IsAuthenticated && sess.User != nil {
		set := bc.Roles.Load(r.Context())
		resp.Roles = set.Names()
		resp.Capabilities = roles.Derive(set)
		resp.Profile = &profileResponse{
			Subject: sess.User.Profile.Subject,
			Email:   sess.User.Profile.Email,
			Name:    sess.User.Profile.Name,
			Phone:   sess.User.Profile.PhoneNumber,
		}
		if !sess.User.ExpiresAt.IsZero() {
			expiresAt := sess.User.ExpiresAt
			resp.ExpiresAt = &expiresAt
		}
	}

	w.Header().Set("Cache-Control", "no-store")
	if err := apiutil.WriteJSON(w, http.StatusOK, resp); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to write session response")
	}
}

// SafeReturn keeps return targets on this site and free of callback params.
func SafeReturn(raw string) string {
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return "/"
	}
	target, err := url.Parse(raw)
	if err != nil || target.Scheme != "" || target.Host != "" {
		return "/"
	}
	target.Fragment = ""
	target.RawFragment = ""
	stripped, _ := credentials.StripLeftoverCallback(target)
	return stripped.RequestURI()
}

func displayName(sess session.Session) string {
	profile := sess.User.Profile
	switch {
	case profile.Name != "":
		return profile.Name
	case profile.Email != "":
		return profile.Email
	default:
		return profile.Subject
	}
}

func capabilityNames(caps roles.Capabilities) []string {
	var names []string
	if caps.IsAdmin {
		names = append(names, "admin")
	}
	if caps.IsOrganizer {
		names = append(names, "organizer")
	}
	if caps.IsOfficial {
		names = append(names, "official")
	}
	if caps.IsCaptain {
		names = append(names, "captain")
	}
	if caps.IsMember {
		names = append(names, "member")
	}
	return names
}
