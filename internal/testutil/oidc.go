package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const signingKeyID = "test-signing-key"

// OIDCProvider is an in-process OpenID provider serving discovery, JWKS and
// the token endpoint. ID tokens are RS256 signed.
type OIDCProvider struct {
	URL      string
	ClientID string

	server *httptest.Server
	key    *rsa.PrivateKey

	mu             sync.Mutex
	pending        map[string]authorization
	refreshTokens  map[string]bool
	claims         map[string]any
	forcedNonce    string
	refreshError   string
	refreshIDToken bool
	noEndSession   bool
	expiresIn      int
	lastAccess     string
	seq            int
	exchanges      int
	refreshes      int

	refreshEntered chan struct{}
	refreshRelease chan struct{}
}

type authorization struct {
	nonce     string
	challenge string
}

// NewOIDCProvider starts a provider for clientID. It is closed on test cleanup.
func NewOIDCProvider(t *testing.T, clientID string) *OIDCProvider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}

	p := &OIDCProvider{
		ClientID:      clientID,
		key:           key,
		pending:       make(map[string]authorization),
		refreshTokens: make(map[string]bool),
		claims: map[string]any{
			"sub":            "user-123",
			"email":          "captain@example.com",
			"email_verified": true,
			"name":           "Casey Captain",
		},
		expiresIn: 3600,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("GET /jwks", p.handleJWKS)
	mux.HandleFunc("POST /token", p.handleToken)
	mux.HandleFunc("GET /logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	p.server = httptest.NewServer(mux)
	p.URL = p.server.URL
	t.Cleanup(p.server.Close)
	return p
}

// Authorize plays the user signing in at authURL and returns the code and
// state the provider appends to the redirect URI.
func (p *OIDCProvider) Authorize(t *testing.T, authURL string) (code, state string) {
	t.Helper()

	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse authorization url: %v", err)
	}
	query := parsed.Query()
	if query.Get("client_id") != p.ClientID {
		t.Fatalf("unexpected client_id %q", query.Get("client_id"))
	}
	if query.Get("code_challenge_method") != "S256" {
		t.Fatalf("expected S256 code challenge, got %q", query.Get("code_challenge_method"))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	code = fmt.Sprintf("code-%d", p.seq)
	p.pending[code] = authorization{
		nonce:     query.Get("nonce"),
		challenge: query.Get("code_challenge"),
	}
	return code, query.Get("state")
}

// SetClaim overrides an ID token claim for subsequent tokens.
func (p *OIDCProvider) SetClaim(name string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.claims[name] = value
}

// ForceNonce makes the next ID tokens carry nonce instead of the requested one.
func (p *OIDCProvider) ForceNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forcedNonce = nonce
}

// FailRefresh makes refresh token grants fail with the OAuth error code.
// An empty code restores normal behaviour.
func (p *OIDCProvider) FailRefresh(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshError = code
}

// HoldRefresh parks the next refresh token grant until release is called.
// entered is closed once that grant has reached the token endpoint.
func (p *OIDCProvider) HoldRefresh() (entered <-chan struct{}, release func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.refreshEntered = make(chan struct{})
	p.refreshRelease = make(chan struct{})
	releaseC := p.refreshRelease
	var once sync.Once
	return p.refreshEntered, func() { once.Do(func() { close(releaseC) }) }
}

// IssueIDTokenOnRefresh controls whether refresh responses carry an ID token.
func (p *OIDCProvider) IssueIDTokenOnRefresh(issue bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshIDToken = issue
}

// DisableEndSession drops end_session_endpoint from discovery.
func (p *OIDCProvider) DisableEndSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.noEndSession = true
}

// SetExpiresIn sets expires_in on token responses. Zero omits it.
func (p *OIDCProvider) SetExpiresIn(seconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiresIn = seconds
}

func (p *OIDCProvider) Exchanges() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exchanges
}

func (p *OIDCProvider) Refreshes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes
}

// LastAccessToken returns the most recently issued access token.
func (p *OIDCProvider) LastAccessToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAccess
}

// IDToken mints a signed ID token with the current claims.
func (p *OIDCProvider) IDToken(nonce string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idTokenLocked(nonce)
}

func (p *OIDCProvider) idTokenLocked(nonce string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": p.URL,
		"aud": p.ClientID,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	for name, value := range p.claims {
		claims[name] = value
	}
	if p.forcedNonce != "" {
		nonce = p.forcedNonce
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = signingKeyID
	return token.SignedString(p.key)
}

func (p *OIDCProvider) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	noEndSession := p.noEndSession
	p.mu.Unlock()

	doc := map[string]any{
		"issuer":                                p.URL,
		"authorization_endpoint":                p.URL + "/authorize",
		"token_endpoint":                        p.URL + "/token",
		"jwks_uri":                              p.URL + "/jwks",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"code_challenge_methods_supported":      []string{"S256"},
	}
	if !noEndSession {
		doc["end_session_endpoint"] = p.URL + "/logout"
	}
	writeJSON(w, http.StatusOK, doc)
}

func (p *OIDCProvider) handleJWKS(w http.ResponseWriter, r *http.Request) {
	pub := p.key.PublicKey
	writeJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": signingKeyID,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (p *OIDCProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, "invalid_request")
		return
	}

	if r.PostForm.Get("grant_type") == "refresh_token" {
		p.mu.Lock()
		entered, release := p.refreshEntered, p.refreshRelease
		p.refreshEntered, p.refreshRelease = nil, nil
		p.mu.Unlock()
		if entered != nil {
			close(entered)
			<-release
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		code := r.PostForm.Get("code")
		auth, ok := p.pending[code]
		if !ok {
			writeOAuthError(w, "invalid_grant")
			return
		}
		delete(p.pending, code)

		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != auth.challenge {
			writeOAuthError(w, "invalid_grant")
			return
		}
		p.exchanges++
		p.writeTokens(w, auth.nonce, true)

	case "refresh_token":
		if p.refreshError != "" {
			writeOAuthError(w, p.refreshError)
			return
		}
		if !p.refreshTokens[r.PostForm.Get("refresh_token")] {
			writeOAuthError(w, "invalid_grant")
			return
		}
		p.refreshes++
		p.writeTokens(w, "", p.refreshIDToken)

	default:
		writeOAuthError(w, "unsupported_grant_type")
	}
}

func (p *OIDCProvider) writeTokens(w http.ResponseWriter, nonce string, withIDToken bool) {
	p.seq++
	refreshToken := fmt.Sprintf("refresh-%d", p.seq)
	p.refreshTokens[refreshToken] = true

	p.lastAccess = fmt.Sprintf("access-%d", p.seq)

	body := map[string]any{
		"access_token":  p.lastAccess,
		"token_type":    "Bearer",
		"refresh_token": refreshToken,
		"scope":         "openid profile email",
	}
	if p.expiresIn > 0 {
		body["expires_in"] = p.expiresIn
	}
	if withIDToken {
		idToken, err := p.idTokenLocked(nonce)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		body["id_token"] = idToken
	}
	writeJSON(w, http.StatusOK, body)
}

func writeOAuthError(w http.ResponseWriter, code string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": code})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
