// Package browser holds the per-browser state of the console. A browser
// context is identified by a cookie and owns its session store, role cache,
// credentials provider and league API client.
package browser

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codr1/LeagueConsole/internal/config"
	"github.com/codr1/LeagueConsole/internal/credentials"
	"github.com/codr1/LeagueConsole/internal/guard"
	"github.com/codr1/LeagueConsole/internal/identity"
	"github.com/codr1/LeagueConsole/internal/leagueapi"
	"github.com/codr1/LeagueConsole/internal/roles"
	"github.com/codr1/LeagueConsole/internal/scheduler"
	"github.com/codr1/LeagueConsole/internal/session"
	"github.com/codr1/LeagueConsole/internal/storage"
)

const DefaultCookieName = "leagueconsole_browser"

// Context is everything one browser owns. All tabs of the browser share it.
type Context struct {
	ID          string
	Sessions    *session.Store
	Roles       *roles.Cache
	Credentials *credentials.Provider
	API         *leagueapi.Client
	Logger      zerolog.Logger

	lastSeen time.Time
}

func (c *Context) close() {
	c.Credentials.Close()
	c.Sessions.Close()
}

// APIFactory builds the league API client for a context.
type APIFactory func(tokens leagueapi.TokenSource) *leagueapi.Client

type Options struct {
	CookieName  string
	Secure      bool
	IdleTimeout time.Duration
	SilentRenew bool
	Now         func() time.Time
}

// OptionsFromConfig maps the session section of the config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		CookieName:  cfg.Session.CookieName,
		Secure:      !cfg.IsDevelopment(),
		IdleTimeout: cfg.IdleTimeout(),
		SilentRenew: cfg.Identity.AutomaticSilentRenew,
	}
}

// Registry creates browser contexts on first sight and keeps one per cookie.
type Registry struct {
	client *identity.Client
	base   storage.Storage
	newAPI APIFactory
	opts   Options

	mu       sync.Mutex
	contexts map[string]*Context
}

func NewRegistry(client *identity.Client, base storage.Storage, newAPI APIFactory, opts Options) *Registry {
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		client:   client,
		base:     base,
		newAPI:   newAPI,
		opts:     opts,
		contexts: make(map[string]*Context),
	}
}

// Resolve returns the context named by the request cookie, creating it and
// setting the cookie when the request has none. A well-formed id that is not
// in memory is rebuilt from storage, so contexts survive a restart when the
// storage driver is persistent.
func (r *Registry) Resolve(w http.ResponseWriter, req *http.Request) *Context {
	id := ""
	if cookie, err := req.Cookie(r.opts.CookieName); err == nil {
		if parsed, err := uuid.Parse(cookie.Value); err == nil {
			id = parsed.String()
		}
	}
	if id == "" {
		id = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     r.opts.CookieName,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			Secure:   r.opts.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return r.get(id)
}

// Get returns the context with id if it is in memory.
func (r *Registry) Get(id string) (*Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bc, ok := r.contexts[id]
	return bc, ok
}

func (r *Registry) get(id string) *Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	if bc, ok := r.contexts[id]; ok {
		bc.lastSeen = r.opts.Now()
		return bc
	}
	bc := r.build(id)
	bc.lastSeen = r.opts.Now()
	r.contexts[id] = bc
	return bc
}

func (r *Registry) build(id string) *Context {
	logger := log.With().Str("browser_id", id).Logger()
	store := storage.Scoped(r.base, "browser:"+id)

	sessions := session.NewStore(r.client.UserManager(store), session.Options{Logger: &logger, Now: r.opts.Now})
	if r.opts.SilentRenew {
		sessions.ArmSilentRenewal()
	}
	creds := credentials.NewProvider(sessions, store, &logger)

	bc := &Context{
		ID:          id,
		Sessions:    sessions,
		Roles:       roles.NewCache(store),
		Credentials: creds,
		Logger:      logger,
	}
	if r.newAPI != nil {
		bc.API = r.newAPI(creds)
	}
	logger.Debug().Msg("Browser context created")
	return bc
}

// Len reports how many contexts are in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}

// Prune drops contexts idle longer than the idle timeout. Their storage is
// left alone; a returning browser is rebuilt from it.
func (r *Registry) Prune() int {
	if r.opts.IdleTimeout <= 0 {
		return 0
	}
	cutoff := r.opts.Now().Add(-r.opts.IdleTimeout)

	r.mu.Lock()
	var idle []*Context
	for id, bc := range r.contexts {
		if bc.lastSeen.Before(cutoff) {
			idle = append(idle, bc)
			delete(r.contexts, id)
		}
	}
	r.mu.Unlock()

	for _, bc := range idle {
		bc.close()
		bc.Logger.Debug().Msg("Browser context pruned")
	}
	return len(idle)
}

// SchedulePrune registers Prune as a cron job.
func (r *Registry) SchedulePrune(sched *scheduler.Service, cronExpr string) error {
	_, err := sched.AddJob("browser-context-prune", cronExpr, func() {
		if n := r.Prune(); n > 0 {
			log.Info().Int("pruned", n).Msg("Pruned idle browser contexts")
		}
	})
	return err
}

// Close releases every context.
func (r *Registry) Close() {
	r.mu.Lock()
	all := make([]*Context, 0, len(r.contexts))
	for id, bc := range r.contexts {
		all = append(all, bc)
		delete(r.contexts, id)
	}
	r.mu.Unlock()

	for _, bc := range all {
		bc.close()
	}
}

type contextKey struct{}

// WithBrowser resolves the browser context and adds it and its logger to the
// request context.
func (r *Registry) WithBrowser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		bc := r.Resolve(w, req)

		logger := bc.Logger
		if reqLogger := log.Ctx(req.Context()); reqLogger.GetLevel() != zerolog.Disabled {
			logger = reqLogger.With().Str("browser_id", bc.ID).Logger()
		}
		ctx := context.WithValue(req.Context(), contextKey{}, bc)
		ctx = logger.WithContext(ctx)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// FromContext returns the browser context set by WithBrowser.
func FromContext(ctx context.Context) (*Context, bool) {
	bc, ok := ctx.Value(contextKey{}).(*Context)
	return bc, ok && bc != nil
}

// Sessions is the guard lookup for requests that went through WithBrowser.
func Sessions(r *http.Request) guard.SessionSource {
	bc, ok := FromContext(r.Context())
	if !ok {
		return nil
	}
	return bc.Sessions
}
