package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/codr1/LeagueConsole/internal/storage"
)

const (
	pendingSigninPrefix = "oidc.signin:"
	// pendingIndexKey lists outstanding sign-in states so abandoned ones
	// can be dropped; storage has no way to enumerate keys.
	pendingIndexKey = "oidc.signin.index"
)

type pendingSignin struct {
	State        string    `json:"state"`
	Nonce        string    `json:"nonce"`
	CodeVerifier string    `json:"code_verifier"`
	ReturnState  string    `json:"return_state,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserManager performs the redirect, callback, renewal and sign-out flows for
// a single browser context and persists the resulting user in its storage.
type UserManager struct {
	client  *Client
	store   storage.Storage
	userKey string

	mu          sync.Mutex
	listeners   map[int]func()
	nextID      int
	cancelTimer func()

	// writeMu orders user writes against removals. generation moves on
	// every removal and every new sign-in, so a renewal started before
	// either one cannot write its user back.
	writeMu    sync.Mutex
	generation uint64

	pendingMu sync.Mutex
}

// GetUser returns the persisted user, or nil when nobody is signed in.
// An unreadable record is discarded.
func (m *UserManager) GetUser(ctx context.Context) (*User, error) {
	raw, ok, err := m.store.GetItem(ctx, m.userKey)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var user User
	if err := json.Unmarshal([]byte(raw), &user); err != nil || user.AccessToken == "" {
		log.Ctx(ctx).Warn().Err(err).Msg("Discarding unreadable stored user")
		_ = m.store.RemoveItem(ctx, m.userKey)
		return nil, nil
	}

	m.scheduleExpiring(&user)
	return &user, nil
}

// SigninRedirect records a pending sign-in and returns the authorization URL.
func (m *UserManager) SigninRedirect(ctx context.Context, returnState string) (string, error) {
	pending := pendingSignin{
		State:        uuid.NewString(),
		Nonce:        oauth2.GenerateVerifier(),
		CodeVerifier: oauth2.GenerateVerifier(),
		ReturnState:  returnState,
		CreatedAt:    m.client.opts.Now(),
	}

	payload, err := json.Marshal(pending)
	if err != nil {
		return "", err
	}
	if err := m.store.SetItem(ctx, pendingSigninPrefix+pending.State, string(payload)); err != nil {
		return "", fmt.Errorf("store pending sign-in: %w", err)
	}
	if err := m.trackPending(ctx, pending.State, pending.CreatedAt); err != nil {
		return "", err
	}

	return m.client.oauth.AuthCodeURL(
		pending.State,
		oidc.Nonce(pending.Nonce),
		oauth2.S256ChallengeOption(pending.CodeVerifier),
	), nil
}

// SigninRedirectCallback completes the authorization code flow from the URL
// the provider redirected back to. The pending sign-in is consumed whether or
// not the exchange succeeds.
func (m *UserManager) SigninRedirectCallback(ctx context.Context, callbackURL *url.URL) (*User, error) {
	params := parseCallback(callbackURL)
	if params.state != "" {
		defer m.forgetPending(ctx, params.state)
	}

	if params.errCode != "" {
		return nil, &ProviderError{Code: params.errCode, Description: params.errDescription, State: params.state}
	}
	if params.code == "" || params.state == "" {
		return nil, ErrInvalidCallback
	}

	pending, err := m.loadPending(ctx, params.state)
	if err != nil {
		return nil, err
	}
	if m.client.opts.Now().Sub(pending.CreatedAt) > pendingSigninMaxAge {
		return nil, ErrStaleSignin
	}

	httpCtx := m.client.httpContext(ctx)
	token, err := m.client.oauth.Exchange(httpCtx, params.code, oauth2.VerifierOption(pending.CodeVerifier))
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", mapTokenError(err))
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, ErrMissingIDToken
	}
	profile, nonce, err := m.verifyIDToken(httpCtx, rawIDToken)
	if err != nil {
		return nil, err
	}
	if nonce != pending.Nonce {
		return nil, ErrNonceMismatch
	}

	user := newUser(token, rawIDToken, profile, pending.ReturnState)
	if err := m.storeUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SigninSilent renews the access token with the refresh token grant, without
// any browser redirect. The previous profile is kept when the provider does
// not return a new ID token.
func (m *UserManager) SigninSilent(ctx context.Context) (*User, error) {
	generation := m.currentGeneration()

	current, err := m.GetUser(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNoUser
	}
	if current.RefreshToken == "" {
		m.discardUser(ctx, generation)
		return nil, ErrNoRefreshToken
	}

	httpCtx := m.client.httpContext(ctx)
	source := m.client.oauth.TokenSource(httpCtx, &oauth2.Token{RefreshToken: current.RefreshToken})
	token, err := source.Token()
	if err != nil {
		err = mapTokenError(err)
		if errors.Is(err, ErrLoginRequired) {
			m.discardUser(ctx, generation)
		}
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	profile := current.Profile
	if rawIDToken != "" {
		profile, _, err = m.verifyIDToken(httpCtx, rawIDToken)
		if err != nil {
			return nil, err
		}
	} else {
		rawIDToken = current.IDToken
	}

	user := newUser(token, rawIDToken, profile, current.State)
	if user.RefreshToken == "" {
		user.RefreshToken = current.RefreshToken
	}
	if user.Scope == "" {
		user.Scope = current.Scope
	}
	if err := m.storeRenewedUser(ctx, user, generation); err != nil {
		return nil, err
	}
	return user, nil
}

// SignoutRedirect removes the local user and returns the provider URL that
// ends the provider session. The user is removed even when no URL can be built.
func (m *UserManager) SignoutRedirect(ctx context.Context) (string, error) {
	user, _ := m.GetUser(ctx)
	if err := m.RemoveUser(ctx); err != nil {
		return "", err
	}

	if hook := m.client.opts.Signout; hook != nil {
		return hook.Signout(ctx, user, m.client.opts.PostLogoutRedirectURI)
	}

	if m.client.endSessionURL == "" {
		return "", ErrNoEndSessionURL
	}
	target, err := url.Parse(m.client.endSessionURL)
	if err != nil {
		return "", fmt.Errorf("parse end session endpoint: %w", err)
	}

	query := target.Query()
	query.Set("client_id", m.client.opts.ClientID)
	if user != nil && user.IDToken != "" {
		query.Set("id_token_hint", user.IDToken)
	}
	if m.client.opts.PostLogoutRedirectURI != "" {
		query.Set("post_logout_redirect_uri", m.client.opts.PostLogoutRedirectURI)
	}
	target.RawQuery = query.Encode()
	return target.String(), nil
}

// RemoveUser forgets the user locally without contacting the provider.
func (m *UserManager) RemoveUser(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.generation++
	return m.removeUserLocked(ctx)
}

func (m *UserManager) removeUserLocked(ctx context.Context) error {
	m.stopExpiringTimer()
	if err := m.store.RemoveItem(ctx, m.userKey); err != nil {
		return fmt.Errorf("remove user: %w", err)
	}
	return nil
}

// discardUser removes a user whose refresh the provider will not honour,
// unless the user was already removed or replaced since generation.
func (m *UserManager) discardUser(ctx context.Context, generation uint64) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if m.generation != generation {
		return
	}
	m.generation++
	if err := m.removeUserLocked(ctx); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Failed to discard user after rejected renewal")
	}
}

func (m *UserManager) currentGeneration() uint64 {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.generation
}

// AddAccessTokenExpiring registers fn to run shortly before the access token
// expires. The returned func unregisters it.
func (m *UserManager) AddAccessTokenExpiring(fn func()) (remove func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// trackPending records state in the pending index and removes every sign-in
// that has been outstanding longer than pendingSigninMaxAge.
func (m *UserManager) trackPending(ctx context.Context, state string, at time.Time) error {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	index := m.loadPendingIndex(ctx)
	for stale, createdAt := range index {
		if at.Sub(createdAt) <= pendingSigninMaxAge {
			continue
		}
		if err := m.store.RemoveItem(ctx, pendingSigninPrefix+stale); err != nil {
			return fmt.Errorf("remove stale pending sign-in: %w", err)
		}
		delete(index, stale)
	}
	index[state] = at
	return m.savePendingIndex(ctx, index)
}

func (m *UserManager) forgetPending(ctx context.Context, state string) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	logger := log.Ctx(ctx)
	if err := m.store.RemoveItem(ctx, pendingSigninPrefix+state); err != nil {
		logger.Warn().Err(err).Msg("Failed to remove pending sign-in")
	}

	index := m.loadPendingIndex(ctx)
	if _, ok := index[state]; !ok {
		return
	}
	delete(index, state)
	if err := m.savePendingIndex(ctx, index); err != nil {
		logger.Warn().Err(err).Msg("Failed to update pending sign-in index")
	}
}

// loadPendingIndex never fails; an unreadable index starts over empty.
func (m *UserManager) loadPendingIndex(ctx context.Context) map[string]time.Time {
	index := map[string]time.Time{}
	raw, ok, err := m.store.GetItem(ctx, pendingIndexKey)
	if err != nil || !ok {
		return index
	}
	if err := json.Unmarshal([]byte(raw), &index); err != nil {
		return map[string]time.Time{}
	}
	return index
}

func (m *UserManager) savePendingIndex(ctx context.Context, index map[string]time.Time) error {
	if len(index) == 0 {
		if err := m.store.RemoveItem(ctx, pendingIndexKey); err != nil {
			return fmt.Errorf("clear pending sign-in index: %w", err)
		}
		return nil
	}

	payload, err := json.Marshal(index)
	if err != nil {
		return err
	}
	if err := m.store.SetItem(ctx, pendingIndexKey, string(payload)); err != nil {
		return fmt.Errorf("store pending sign-in index: %w", err)
	}
	return nil
}

func (m *UserManager) loadPending(ctx context.Context, state string) (*pendingSignin, error) {
	raw, ok, err := m.store.GetItem(ctx, pendingSigninPrefix+state)
	if err != nil {
		return nil, fmt.Errorf("load pending sign-in: %w", err)
	}
	if !ok {
		return nil, ErrNoPendingSignin
	}

	var pending pendingSignin
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		return nil, ErrNoPendingSignin
	}
	if pending.State != state {
		return nil, ErrNoPendingSignin
	}
	return &pending, nil
}

func (m *UserManager) verifyIDToken(ctx context.Context, rawIDToken string) (Profile, string, error) {
	idToken, err := m.client.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Profile{}, "", fmt.Errorf("verify id token: %w", err)
	}

	claims := map[string]any{}
	if err := idToken.Claims(&claims); err != nil {
		return Profile{}, "", fmt.Errorf("decode id token claims: %w", err)
	}
	return profileFromClaims(claims), idToken.Nonce, nil
}

// storeUser persists a freshly signed-in user, superseding any renewal
// still in flight.
func (m *UserManager) storeUser(ctx context.Context, user *User) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.generation++
	return m.writeUserLocked(ctx, user)
}

// storeRenewedUser persists user only if nothing removed or replaced the
// user since generation was read.
func (m *UserManager) storeRenewedUser(ctx context.Context, user *User, generation uint64) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if m.generation != generation {
		return ErrUserChanged
	}
	return m.writeUserLocked(ctx, user)
}

func (m *UserManager) writeUserLocked(ctx context.Context, user *User) error {
	payload, err := json.Marshal(user)
	if err != nil {
		return err
	}
	if err := m.store.SetItem(ctx, m.userKey, string(payload)); err != nil {
		return fmt.Errorf("store user: %w", err)
	}
	m.scheduleExpiring(user)
	return nil
}

func (m *UserManager) scheduleExpiring(user *User) {
	m.stopExpiringTimer()

	timer := m.client.opts.Timer
	if timer == nil || user == nil || user.ExpiresAt.IsZero() {
		return
	}

	at := user.ExpiresAt.Add(-m.client.opts.ExpiringNotification)
	cancel, err := timer.ScheduleOnce("access-token-expiring:"+m.userKey, at, m.raiseExpiring)
	if err != nil {
		log.Error().Err(err).Msg("Failed to schedule access token expiring event")
		return
	}

	m.mu.Lock()
	m.cancelTimer = cancel
	m.mu.Unlock()
}

func (m *UserManager) stopExpiringTimer() {
	m.mu.Lock()
	cancel := m.cancelTimer
	m.cancelTimer = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (m *UserManager) raiseExpiring() {
	m.mu.Lock()
	m.cancelTimer = nil
	listeners := make([]func(), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

type callbackParams struct {
	code           string
	state          string
	errCode        string
	errDescription string
}

// parseCallback reads code/state (or error/state) from the query string,
// falling back to the fragment.
func parseCallback(u *url.URL) callbackParams {
	if u == nil {
		return callbackParams{}
	}

	read := func(values url.Values) callbackParams {
		return callbackParams{
			code:           values.Get("code"),
			state:          values.Get("state"),
			errCode:        values.Get("error"),
			errDescription: values.Get("error_description"),
		}
	}

	params := read(u.Query())
	if params.state != "" {
		return params
	}

	fragment, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return params
	}
	return read(fragment)
}
