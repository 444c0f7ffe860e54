package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/codr1/LeagueConsole/internal/config"
	"github.com/codr1/LeagueConsole/internal/scheduler"
	"github.com/codr1/LeagueConsole/internal/storage"
)

const (
	defaultExpiringNotification = 60 * time.Second
	pendingSigninMaxAge         = 15 * time.Minute
)

// SignoutHook replaces the discovery end_session_endpoint for providers that
// do not publish one.
type SignoutHook interface {
	Signout(ctx context.Context, user *User, postLogoutRedirectURI string) (string, error)
}

type Options struct {
	Authority             string
	ClientID              string
	ClientSecret          string
	RedirectURI           string
	PostLogoutRedirectURI string
	Scopes                []string
	ExpiringNotification  time.Duration

	HTTPClient *http.Client
	Timer      scheduler.Timer
	Signout    SignoutHook
	Now        func() time.Time
}

// OptionsFromConfig maps the identity section of the config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Authority:             cfg.Identity.Authority,
		ClientID:              cfg.Identity.ClientID,
		ClientSecret:          cfg.Identity.ClientSecret,
		RedirectURI:           cfg.Identity.RedirectURI,
		PostLogoutRedirectURI: cfg.Identity.PostLogoutRedirectURI,
		Scopes:                strings.Fields(cfg.Identity.Scope),
		ExpiringNotification:  cfg.ExpiringNotification(),
	}
}

// Client holds the discovered provider metadata. It is shared by every
// browser context; per-context state lives in a UserManager.
type Client struct {
	opts          Options
	provider      *oidc.Provider
	verifier      *oidc.IDTokenVerifier
	oauth         *oauth2.Config
	endSessionURL string
}

// NewClient runs OIDC discovery against the authority.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.Authority == "" || opts.ClientID == "" || opts.RedirectURI == "" {
		return nil, errors.New("identity authority, client id and redirect uri are required")
	}
	if len(opts.Scopes) == 0 {
		opts.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	if opts.ExpiringNotification <= 0 {
		opts.ExpiringNotification = defaultExpiringNotification
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, opts.HTTPClient), opts.Authority)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}

	var metadata struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&metadata); err != nil {
		return nil, fmt.Errorf("decode provider metadata: %w", err)
	}

	return &Client{
		opts:     opts,
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: opts.ClientID, Now: opts.Now}),
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  opts.RedirectURI,
			Scopes:       opts.Scopes,
		},
		endSessionURL: metadata.EndSessionEndpoint,
	}, nil
}

// UserManager returns the manager for one browser context.
func (c *Client) UserManager(store storage.Storage) *UserManager {
	return &UserManager{
		client:    c,
		store:     store,
		userKey:   fmt.Sprintf("oidc.user:%s:%s", c.opts.Authority, c.opts.ClientID),
		listeners: make(map[int]func()),
	}
}

// httpContext threads the configured HTTP client into oauth2 and go-oidc calls.
func (c *Client) httpContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.opts.HTTPClient)
	return oidc.ClientContext(ctx, c.opts.HTTPClient)
}
