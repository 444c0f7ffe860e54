// Package authz gates console actions on the capability flags derived from
// the cached roles of the signed-in user.
package authz

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/codr1/LeagueConsole/internal/api/apiutil"
	"github.com/codr1/LeagueConsole/internal/browser"
	"github.com/codr1/LeagueConsole/internal/roles"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// Capability names one derived flag.
type Capability string

const (
	Admin     Capability = "admin"
	Captain   Capability = "captain"
	Member    Capability = "member"
	Official  Capability = "official"
	Organizer Capability = "organizer"
	User      Capability = "user"
)

// Has reports whether caps grants c. Unknown capabilities are never granted.
func Has(caps roles.Capabilities, c Capability) bool {
	switch c {
	case Admin:
		return caps.IsAdmin
	case Captain:
		return caps.IsCaptain
	case Member:
		return caps.IsMember
	case Official:
		return caps.IsOfficial
	case Organizer:
		return caps.IsOrganizer
	case User:
		return caps.IsUser
	default:
		return false
	}
}

// CapabilitiesFromContext derives the capabilities of the browser context in
// ctx. ok is false when no user is signed in.
func CapabilitiesFromContext(ctx context.Context) (caps roles.Capabilities, ok bool) {
	bc, found := browser.FromContext(ctx)
	if !found || !bc.Sessions.Session().IsAuthenticated {
		return roles.Capabilities{}, false
	}
	return roles.Derive(bc.Roles.Load(ctx)), true
}

func RequireCapability(ctx context.Context, c Capability) error {
	caps, ok := CapabilitiesFromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if !Has(caps, c) {
		return ErrForbidden
	}
	return nil
}

// Require rejects requests whose user lacks c. The backend still enforces its
// own rules; this keeps the console from offering actions it would refuse.
func Require(c Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := log.Ctx(r.Context())
			if err := RequireCapability(r.Context(), c); err != nil {
				switch {
				case errors.Is(err, ErrUnauthenticated):
					logger.Warn().Str("capability", string(c)).Msg("Capability check failed: unauthenticated")
					apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusUnauthorized, Message: "sign-in required"})
				default:
					logger.Warn().Str("capability", string(c)).Msg("Capability check failed: forbidden")
					apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusForbidden, Message: "missing capability " + string(c)})
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
