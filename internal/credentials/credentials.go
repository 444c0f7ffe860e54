// Package credentials exposes the bearer token request code should send,
// pulled from the session at call time.
package credentials

import (
	"context"
	"net/url"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codr1/LeagueConsole/internal/session"
	"github.com/codr1/LeagueConsole/internal/storage"
)

// StorageKey holds the last acquired access token so requests made before the
// session resolves can still carry it.
const StorageKey = "access_token"

// SessionSource is the part of *session.Store the provider reads.
type SessionSource interface {
	Session() session.Session
	Subscribe(fn func(session.Session)) (unsubscribe func())
}

type Provider struct {
	sessions    SessionSource
	store       storage.Storage
	logger      zerolog.Logger
	unsubscribe func()
}

// NewProvider mirrors every token the session acquires into store and clears
// it when the session ends.
func NewProvider(sessions SessionSource, store storage.Storage, logger *zerolog.Logger) *Provider {
	p := &Provider{
		sessions: sessions,
		store:    store,
		logger:   log.Logger,
	}
	if logger != nil {
		p.logger = *logger
	}
	p.unsubscribe = sessions.Subscribe(p.onSessionChange)
	return p
}

// BearerToken returns the token for the next request. While the session is
// still unresolved the cached token is used, which may be stale.
func (p *Provider) BearerToken(ctx context.Context) string {
	sess := p.sessions.Session()
	if sess.IsAuthenticated {
		return sess.AccessToken()
	}
	if sess.State != session.Unresolved {
		return ""
	}

	token, ok, err := p.store.GetItem(ctx, StorageKey)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to read cached access token")
		return ""
	}
	if !ok {
		return ""
	}
	return token
}

func (p *Provider) Close() {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
}

func (p *Provider) onSessionChange(sess session.Session) {
	ctx := context.Background()

	switch {
	case sess.IsAuthenticated && sess.AccessToken() != "":
		if err := p.store.SetItem(ctx, StorageKey, sess.AccessToken()); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to cache access token")
		}
	case sess.State == session.Unauthenticated:
		if err := p.store.RemoveItem(ctx, StorageKey); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to clear cached access token")
		}
	}
}

// StripLeftoverCallback removes authorization code parameters that are still
// on u after a token was acquired. It reports whether anything was removed.
func StripLeftoverCallback(u *url.URL) (*url.URL, bool) {
	if _, ok := session.CallbackParams(u); !ok {
		return u, false
	}
	return session.StripCallbackParams(u), true
}
