// Package server exposes the profile lookup API over HTTP.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/lowc1012/github-profile-proxy/internal/github"
	"github.com/lowc1012/github-profile-proxy/internal/metrics"
	"github.com/lowc1012/github-profile-proxy/internal/stats"
)

// ProfileFetcher is the upstream collaborator the handlers call.
type ProfileFetcher interface {
	FetchUser(ctx context.Context, username string) (github.Profile, error)
	FetchUsers(ctx context.Context, usernames []string) []github.Result
}

// Pinger reports whether the counter store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Fetcher ProfileFetcher
	// RateLimit wraps every profile route. Nil disables rate limiting.
	RateLimit func(http.Handler) http.Handler
	Store     Pinger
	Metrics   *metrics.Metrics
	// Stats serves GET /stats when set.
	Stats          stats.Reader
	AllowedOrigins []string
	StaticDir      string
}

// NewRouter builds the HTTP handler of the service.
func NewRouter(opts Options) http.Handler {
	h := &handlers{fetcher: opts.Fetcher, store: opts.Store, statsReader: opts.Stats}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		ExposedHeaders: []string{"Retry-After", "X-Ratelimit-Max-Requests", "X-Ratelimit-State", "X-Ratelimit-Retry-After", "X-Request-Id"},
		MaxAge:         600,
	}))

	r.Get("/", h.root)
	r.Get("/healthz", h.health)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}
	if opts.Stats != nil {
		r.Get("/stats", h.statsSnapshot)
	}

	r.Group(func(r chi.Router) {
		if opts.RateLimit != nil {
			r.Use(opts.RateLimit)
		}
		r.Get("/api/github", h.batch)
		r.Get("/api/github/{username}", h.profile)
		r.Get("/user/{username}", h.profile)
	})

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/app", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/app", http.RedirectHandler("/app/", http.StatusMovedPermanently).ServeHTTP)
		r.Get("/app/*", fs.ServeHTTP)
	}
	return r
}
