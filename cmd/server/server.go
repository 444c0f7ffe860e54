// cmd/server/server.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/LeagueConsole/internal/api"
	"github.com/codr1/LeagueConsole/internal/api/auth"
	"github.com/codr1/LeagueConsole/internal/api/authz"
	"github.com/codr1/LeagueConsole/internal/api/events"
	"github.com/codr1/LeagueConsole/internal/browser"
	"github.com/codr1/LeagueConsole/internal/cognito"
	"github.com/codr1/LeagueConsole/internal/config"
	"github.com/codr1/LeagueConsole/internal/guard"
	"github.com/codr1/LeagueConsole/internal/identity"
	"github.com/codr1/LeagueConsole/internal/leagueapi"
	"github.com/codr1/LeagueConsole/internal/ratelimit"
	"github.com/codr1/LeagueConsole/internal/scheduler"
	"github.com/codr1/LeagueConsole/internal/session"
	"github.com/codr1/LeagueConsole/internal/storage"
)

// app holds the long-lived services shared by every browser context.
type app struct {
	scheduler *scheduler.Service
	storage   storage.Storage
	closer    storage.Closer
	registry  *browser.Registry
	limiter   *ratelimit.Limiter
	guard     *guard.Guard
	closeOnce sync.Once
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	sched, err := scheduler.New()
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	openCtx, cancelOpen := context.WithTimeout(ctx, 5*time.Second)
	base, err := storage.Open(openCtx, cfg)
	cancelOpen()
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	closer, _ := base.(storage.Closer)

	var store storage.Storage = base
	if cfg.App.SecretKey != "" {
		sealed, err := storage.Sealed(base, cfg.App.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("seal storage: %w", err)
		}
		store = sealed
	} else {
		log.Warn().Str("driver", cfg.Storage.Driver).Msg("APP_SECRET_KEY not set, browser storage is not encrypted")
	}

	opts := identity.OptionsFromConfig(cfg)
	opts.Timer = sched
	if cfg.Identity.Provider == config.ProviderCognito {
		hook, err := cognito.NewSignoutHook(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init cognito sign-out: %w", err)
		}
		opts.Signout = hook
	}

	discoveryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	client, err := identity.NewClient(discoveryCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("init identity client: %w", err)
	}
	log.Info().Str("authority", cfg.Identity.Authority).Str("provider", cfg.Identity.Provider).Msg("Identity provider discovered")

	registry := browser.NewRegistry(client, store, func(tokens leagueapi.TokenSource) *leagueapi.Client {
		return leagueapi.NewClientFromConfig(cfg, tokens)
	}, browser.OptionsFromConfig(cfg))
	if err := registry.SchedulePrune(sched, cfg.Session.PruneCron); err != nil {
		return nil, fmt.Errorf("schedule browser pruning: %w", err)
	}

	auth.InitHandlers(auth.Config{ResolveTimeout: cfg.HoldTimeout()})
	events.InitHandlers(cfg.BackendTimeout())

	sched.Start()
	return &app{
		scheduler: sched,
		storage:   store,
		closer:    closer,
		registry:  registry,
		limiter:   ratelimit.New(ratelimit.ConfigFrom(cfg)),
		guard:     guard.NewFromConfig(cfg),
	}, nil
}

func (a *app) Close() {
	a.closeOnce.Do(func() {
		if err := a.scheduler.Stop(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop scheduler")
		}
		a.registry.Close()
		a.limiter.Close()
		if a.closer != nil {
			if err := a.closer.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close storage")
			}
		}
	})
}

func newServer(cfg *config.Config, a *app) *http.Server {
	return &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.App.Port),
		Handler:      newHandler(cfg, a),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func newHandler(cfg *config.Config, a *app) http.Handler {
	router := http.NewServeMux()
	registerRoutes(router, cfg, a)

	root := http.NewServeMux()
	// Health check
	root.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	root.Handle("/", a.registry.WithBrowser(router))

	// Setup middleware chain
	return api.ChainMiddleware(
		root,
		api.WithLogging,
		api.WithRecovery,
		api.WithRequestID,
		api.WithContentType,
	)
}

func registerRoutes(mux *http.ServeMux, cfg *config.Config, a *app) {
	trustProxy := cfg.RateLimit.TrustProxy
	limited := func(route string, h http.HandlerFunc) http.Handler {
		return api.ChainMiddleware(h, api.WithRateLimit(a.limiter, route, trustProxy))
	}

	// Session routes
	mux.Handle("GET /", callbackLimited(a.limiter, trustProxy, http.HandlerFunc(auth.HandleHome)))
	mux.Handle("GET /login", limited("login", auth.HandleLogin))
	mux.Handle("GET /callback", limited("callback", auth.HandleCallback))
	mux.Handle("POST /logout", limited("logout", auth.HandleLogout))
	mux.HandleFunc("POST /forget", auth.HandleForget)
	mux.HandleFunc("GET /signed-out", auth.HandleSignedOut)
	mux.HandleFunc("GET /api/v1/session", auth.HandleSession)

	// Console routes
	protect := func(h http.Handler) http.Handler {
		return a.guard.Protect(browser.Sessions, h)
	}
	mux.Handle("GET /api/v1/events", protect(http.HandlerFunc(events.HandleListEvents)))
	mux.Handle("GET /api/v1/events/{eventId}/leaderboard", protect(http.HandlerFunc(events.HandleLeaderboard)))
	mux.Handle("GET /api/v1/events/{eventId}/leaderboard/export",
		protect(authz.Require(authz.Organizer)(http.HandlerFunc(events.HandleExportLeaderboard))))
}

// callbackLimited rate limits the root only when it carries a sign-in callback.
func callbackLimited(limiter *ratelimit.Limiter, trustProxy bool, next http.Handler) http.Handler {
	limited := limiter.Middleware("callback", trustProxy)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := session.CallbackParams(r.URL); ok {
			limited.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
