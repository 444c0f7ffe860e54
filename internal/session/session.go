// Package session tracks whether a browser context has a signed-in user and
// runs the redirect, silent renewal and sign-out choreography around an OIDC
// user manager.
package session

import (
	"context"
	"net/url"

	"github.com/codr1/LeagueConsole/internal/identity"
)

// State is the position of a session in its lifecycle.
type State int

const (
	Unresolved State = iota
	Authenticated
	Unauthenticated
	RenewingSilently
	SigningOut
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	case RenewingSilently:
		return "renewing_silently"
	case SigningOut:
		return "signing_out"
	default:
		return "unknown"
	}
}

// Navigator names the provider navigation in flight, if any.
type Navigator string

const (
	NavigatorNone            Navigator = ""
	NavigatorSigninRedirect  Navigator = "signinRedirect"
	NavigatorSigninSilent    Navigator = "signinSilent"
	NavigatorSignoutRedirect Navigator = "signoutRedirect"
)

// Session is a snapshot of the authentication state of one browser context.
// IsAuthenticated is true only while User came from a completed sign-in or
// silent renewal.
type Session struct {
	User            *identity.User
	IsAuthenticated bool
	ActiveNavigator Navigator
	State           State
}

// Resolved reports whether the initial user lookup has finished.
func (s Session) Resolved() bool {
	return s.State != Unresolved
}

// AccessToken returns the bearer token of an authenticated session.
func (s Session) AccessToken() string {
	if !s.IsAuthenticated || s.User == nil {
		return ""
	}
	return s.User.AccessToken
}

func authenticated(user *identity.User) Session {
	return Session{User: user, IsAuthenticated: true, State: Authenticated}
}

func unauthenticated() Session {
	return Session{State: Unauthenticated}
}

// UserManager is the identity provider collaborator. *identity.UserManager
// satisfies it.
type UserManager interface {
	GetUser(ctx context.Context) (*identity.User, error)
	SigninRedirect(ctx context.Context, returnState string) (string, error)
	SigninRedirectCallback(ctx context.Context, callbackURL *url.URL) (*identity.User, error)
	SigninSilent(ctx context.Context) (*identity.User, error)
	SignoutRedirect(ctx context.Context) (string, error)
	RemoveUser(ctx context.Context) error
	AddAccessTokenExpiring(fn func()) (remove func())
}

var _ UserManager = (*identity.UserManager)(nil)
