package session

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/codr1/LeagueConsole/internal/identity"
)

type Options struct {
	// Logger receives every failure the store swallows. Defaults to the
	// global logger.
	Logger *zerolog.Logger
	Now    func() time.Time
}

// Store is the session source of truth for one browser context. Create one
// per context; none of its operations return errors.
type Store struct {
	manager UserManager
	logger  zerolog.Logger
	now     func() time.Time

	mu             sync.Mutex
	session        Session
	resolveStarted bool
	resolved       chan struct{}
	resolvedClosed bool
	renewalArmed   bool
	removeExpiring func()
	listeners      map[int]func(Session)
	nextListener   int
	consumed       map[string]struct{}

	callbacks singleflight.Group
}

func NewStore(manager UserManager, opts Options) *Store {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		manager:   manager,
		logger:    logger,
		now:       now,
		session:   Session{State: Unresolved},
		resolved:  make(chan struct{}),
		listeners: make(map[int]func(Session)),
		consumed:  make(map[string]struct{}),
	}
}

// Session returns the current snapshot. The first call on an unresolved store
// starts the user lookup in the background and returns the unresolved state.
func (s *Store) Session() Session {
	s.mu.Lock()
	snapshot := s.session
	start := s.session.State == Unresolved && !s.resolveStarted
	if start {
		s.resolveStarted = true
	}
	s.mu.Unlock()

	if start {
		go s.resolve(context.Background())
	}
	return snapshot
}

// WaitResolved starts resolution if needed and blocks until the session
// leaves Unresolved or ctx is done, then returns the snapshot.
func (s *Store) WaitResolved(ctx context.Context) Session {
	s.Session()

	select {
	case <-s.resolved:
	case <-ctx.Done():
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Subscribe calls fn with the new snapshot after every state change.
func (s *Store) Subscribe(fn func(Session)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// BeginSignInRedirect completes the provider callback when loc carries one,
// and otherwise sends loc to the authorization endpoint with returnState.
// A signed-in context with a clean URL is left alone.
func (s *Store) BeginSignInRedirect(ctx context.Context, loc Location, returnState string) {
	current := loc.URL()
	if cb, ok := CallbackParams(current); ok {
		s.completeCallback(ctx, loc, current, cb)
		return
	}

	if s.Session().State == Authenticated {
		return
	}

	s.setNavigator(NavigatorSigninRedirect)
	target, err := s.manager.SigninRedirect(ctx, returnState)
	s.setNavigator(NavigatorNone)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to start sign-in redirect")
		return
	}
	loc.Assign(target)
}

// completeCallback exchanges the callback at most once per state value, even
// when several requests carry the same URL at the same time.
func (s *Store) completeCallback(ctx context.Context, loc Location, current *url.URL, cb Callback) {
	defer loc.ReplaceState(StripCallbackParams(current))

	exchangeCtx := context.WithoutCancel(ctx)
	_, _, _ = s.callbacks.Do(cb.State, func() (any, error) {
		s.mu.Lock()
		if _, done := s.consumed[cb.State]; done {
			s.mu.Unlock()
			return nil, nil
		}
		s.consumed[cb.State] = struct{}{}
		s.mu.Unlock()

		s.setNavigator(NavigatorSigninRedirect)
		user, err := s.manager.SigninRedirectCallback(exchangeCtx, current)
		if err != nil {
			var providerErr *identity.ProviderError
			if errors.As(err, &providerErr) {
				s.logger.Warn().
					Str("error", providerErr.Code).
					Str("error_description", providerErr.Description).
					Msg("Identity provider returned an error to the callback")
			} else {
				s.logger.Error().Err(err).Msg("Failed to complete sign-in callback")
			}
			s.transition(func(*Session) (Session, bool) { return unauthenticated(), true })
			return nil, nil
		}

		s.transition(func(*Session) (Session, bool) { return authenticated(user), true })
		return nil, nil
	})
}

// SignOutRedirect ends the session with the provider. The session lands in
// Unauthenticated whether or not the provider call succeeds.
func (s *Store) SignOutRedirect(ctx context.Context, loc Location) {
	s.transition(func(cur *Session) (Session, bool) {
		next := *cur
		next.State = SigningOut
		next.IsAuthenticated = false
		next.ActiveNavigator = NavigatorSignoutRedirect
		return next, true
	})

	target, err := s.manager.SignoutRedirect(ctx)
	s.transition(func(*Session) (Session, bool) { return unauthenticated(), true })

	if err != nil {
		s.logger.Warn().Err(err).Msg("Provider sign-out failed")
		return
	}
	if target != "" {
		loc.Assign(target)
	}
}

// RemoveUserLocally forgets the user without contacting the provider.
func (s *Store) RemoveUserLocally(ctx context.Context) {
	if err := s.manager.RemoveUser(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to remove local user")
	}
	s.transition(func(*Session) (Session, bool) { return unauthenticated(), true })
}

// ArmSilentRenewal renews the access token without a redirect each time the
// provider signals it is about to expire. Arming twice has no extra effect.
func (s *Store) ArmSilentRenewal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.renewalArmed {
		return
	}
	s.renewalArmed = true
	s.removeExpiring = s.manager.AddAccessTokenExpiring(s.onAccessTokenExpiring)
}

// Close detaches the store from the user manager.
func (s *Store) Close() {
	s.mu.Lock()
	remove := s.removeExpiring
	s.removeExpiring = nil
	s.renewalArmed = false
	s.listeners = make(map[int]func(Session))
	s.mu.Unlock()

	if remove != nil {
		remove()
	}
}

func (s *Store) onAccessTokenExpiring() {
	started := s.transition(func(cur *Session) (Session, bool) {
		if cur.State != Authenticated {
			return *cur, false
		}
		next := *cur
		next.State = RenewingSilently
		next.ActiveNavigator = NavigatorSigninSilent
		return next, true
	})
	if !started {
		return
	}

	user, err := s.manager.SigninSilent(context.Background())
	if err != nil {
		if isHardRenewalFailure(err) {
			s.logger.Warn().Err(err).Msg("Silent renewal rejected, signing out locally")
			s.transition(func(cur *Session) (Session, bool) {
				if cur.State != RenewingSilently {
					return *cur, false
				}
				return unauthenticated(), true
			})
			return
		}
		s.logger.Error().Err(err).Msg("Silent renewal failed")
		s.transition(func(cur *Session) (Session, bool) {
			if cur.State != RenewingSilently {
				return *cur, false
			}
			return authenticated(cur.User), true
		})
		return
	}

	s.transition(func(cur *Session) (Session, bool) {
		if cur.State != RenewingSilently {
			return *cur, false
		}
		return authenticated(user), true
	})
}

// resolve loads the stored user. An expired user is renewed once when silent
// renewal is armed.
func (s *Store) resolve(ctx context.Context) {
	settle := func(next Session) {
		s.transition(func(cur *Session) (Session, bool) {
			if cur.State != Unresolved {
				return *cur, false
			}
			return next, true
		})
	}

	user, err := s.manager.GetUser(ctx)
	switch {
	case err != nil:
		s.logger.Error().Err(err).Msg("Failed to load stored user")
		settle(unauthenticated())
	case user == nil:
		settle(unauthenticated())
	case user.Expired(s.now()):
		s.mu.Lock()
		armed := s.renewalArmed
		s.mu.Unlock()
		if !armed {
			settle(unauthenticated())
			return
		}

		s.setNavigator(NavigatorSigninSilent)
		renewed, err := s.manager.SigninSilent(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Stored user expired and could not be renewed")
			settle(unauthenticated())
			return
		}
		settle(authenticated(renewed))
	default:
		settle(authenticated(user))
	}
}

// transition applies fn under the lock and notifies listeners when it
// reports a change.
func (s *Store) transition(fn func(cur *Session) (Session, bool)) bool {
	s.mu.Lock()
	next, changed := fn(&s.session)
	if changed {
		s.session = next
		if next.State != Unresolved && !s.resolvedClosed {
			s.resolvedClosed = true
			close(s.resolved)
		}
	}
	snapshot := s.session
	listeners := make([]func(Session), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	if changed {
		for _, listener := range listeners {
			listener(snapshot)
		}
	}
	return changed
}

func (s *Store) setNavigator(nav Navigator) {
	s.transition(func(cur *Session) (Session, bool) {
		if cur.ActiveNavigator == nav {
			return *cur, false
		}
		next := *cur
		next.ActiveNavigator = nav
		return next, true
	})
}

func isHardRenewalFailure(err error) bool {
	return errors.Is(err, identity.ErrLoginRequired) ||
		errors.Is(err, identity.ErrNoUser) ||
		errors.Is(err, identity.ErrNoRefreshToken) ||
		errors.Is(err, identity.ErrUserChanged)
}
