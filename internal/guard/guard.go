// Package guard keeps protected routes from rendering for a browser context
// without a signed-in user.
package guard

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/LeagueConsole/internal/config"
	"github.com/codr1/LeagueConsole/internal/credentials"
	"github.com/codr1/LeagueConsole/internal/session"
	"github.com/codr1/LeagueConsole/internal/templates/layouts"
)

// RootPath is where unauthenticated requests are sent.
const RootPath = "/"

type Outcome int

const (
	Render Outcome = iota
	Redirect
	Loading
)

func (o Outcome) String() string {
	switch o {
	case Render:
		return "render"
	case Redirect:
		return "redirect"
	case Loading:
		return "loading"
	default:
		return "unknown"
	}
}

type Decision struct {
	Outcome  Outcome
	Location string
}

// Check decides what a protected route does for sess. In redirect mode an
// unresolved session is treated as signed out; in hold mode it is loading.
func Check(sess session.Session, mode string) Decision {
	if sess.IsAuthenticated {
		return Decision{Outcome: Render}
	}
	if mode == config.GuardModeHold && !sess.Resolved() {
		return Decision{Outcome: Loading}
	}
	return Decision{Outcome: Redirect, Location: RootPath}
}

// SessionSource is the part of *session.Store the guard reads.
type SessionSource interface {
	Session() session.Session
	WaitResolved(ctx context.Context) session.Session
}

// SessionLookup finds the session of the browser context behind r.
type SessionLookup func(r *http.Request) SessionSource

type Guard struct {
	mode        string
	holdTimeout time.Duration
}

func New(mode string, holdTimeout time.Duration) *Guard {
	if mode == "" {
		mode = config.GuardModeRedirect
	}
	return &Guard{mode: mode, holdTimeout: holdTimeout}
}

func NewFromConfig(cfg *config.Config) *Guard {
	return New(cfg.Session.GuardMode, cfg.HoldTimeout())
}

// Protect wraps next so it only runs for signed-in browser contexts.
func (g *Guard) Protect(lookup SessionLookup, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := log.Ctx(r.Context())

		var sess session.Session
		if store := lookup(r); store != nil {
			sess = store.Session()
			if g.mode == config.GuardModeHold && !sess.Resolved() && g.holdTimeout > 0 {
				ctx, cancel := context.WithTimeout(r.Context(), g.holdTimeout)
				sess = store.WaitResolved(ctx)
				cancel()
			}
		} else {
			sess = session.Session{State: session.Unauthenticated}
		}

		decision := Check(sess, g.mode)
		logger.Debug().
			Str("path", r.URL.Path).
			Str("session_state", sess.State.String()).
			Str("decision", decision.Outcome.String()).
			Msg("Route guard decision")

		switch decision.Outcome {
		case Render:
			if stripped, changed := credentials.StripLeftoverCallback(r.URL); changed {
				http.Redirect(w, r, stripped.RequestURI(), http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		case Loading:
			renderLoading(w, r)
		default:
			http.Redirect(w, r, decision.Location, http.StatusFound)
		}
	})
}

func renderLoading(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Retry-After", "1")

	if wantsJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"state":"unresolved"}`))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := layouts.Loading(r.URL.RequestURI(), 1).Render(r.Context(), w); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to render loading shell")
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/") || strings.Contains(r.Header.Get("Accept"), "application/json")
}
