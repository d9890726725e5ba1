// Command server runs the GitHub profile proxy.
//
// Usage:
//
//	server serve --env-file .env
//	server check-store
//
// Everything else is read from the environment, see internal/config.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lowc1012/github-profile-proxy/internal/config"
	"github.com/lowc1012/github-profile-proxy/internal/github"
	"github.com/lowc1012/github-profile-proxy/internal/log"
	"github.com/lowc1012/github-profile-proxy/internal/metrics"
	"github.com/lowc1012/github-profile-proxy/internal/ratelimiter"
	"github.com/lowc1012/github-profile-proxy/internal/server"
	"github.com/lowc1012/github-profile-proxy/internal/stats"
	"github.com/lowc1012/github-profile-proxy/internal/store"
	"github.com/lowc1012/github-profile-proxy/internal/utils"
	httplimiter "github.com/lowc1012/github-profile-proxy/pkg/ratelimiter"
	"go.uber.org/zap"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve      ServeCmd      `cmd:"" default:"withargs" help:"Start the HTTP server."`
	CheckStore CheckStoreCmd `cmd:"" help:"Ping the rate limit counter store and exit."`

	EnvFile []string `name:"env-file" help:"Env files to load before reading the environment." default:".env.local,.env"`
}

type ServeCmd struct{}

type CheckStoreCmd struct{}

func loadConfig(cli *CLI) (config.Config, error) {
	if err := config.LoadEnvFiles(cli.EnvFile...); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newCounterStore(cfg config.Config) (*store.RedisCounterStore, func() error, error) {
	client, err := store.NewRedisClient(store.Options{
		Address:  cfg.StoreAddress,
		Password: cfg.StorePassword,
		DB:       cfg.StoreDB,
		Timeout:  cfg.StoreTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	counters, err := store.NewRedisCounterStore(client, cfg.StoreTimeout)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return counters, client.Close, nil
}

type statsBackend interface {
	stats.Store
	stats.Reader
}

// newStatsStore returns a nil store when stats are disabled.
func newStatsStore(cfg config.Config) (statsBackend, func() error, error) {
	noop := func() error { return nil }
	if !cfg.StatsEnabled {
		return nil, noop, nil
	}
	if cfg.StatsBackend == "memory" {
		return stats.NewMemoryStore(), noop, nil
	}
	client, err := store.NewRedisClient(store.Options{
		Address:  cfg.StoreAddress,
		Password: cfg.StorePassword,
		DB:       cfg.StoreDB,
		Timeout:  cfg.StoreTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return stats.NewRedisStore(client), client.Close, nil
}

func (c *CheckStoreCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	counters, closeFn, err := newCounterStore(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := counters.Ping(context.Background()); err != nil {
		return fmt.Errorf("%w: %v", ratelimiter.ErrStoreUnavailable, err)
	}
	fmt.Printf("counter store at %s is reachable\n", cfg.StoreAddress)
	return nil
}

func (s *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	log.SetLevel(cfg.LogLevel)
	defer log.Sync()
	policy := cfg.FailurePolicy

	counters, closeStore, err := newCounterStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	// the service still starts when the store is down; the failure policy decides what callers see
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := counters.Ping(pingCtx); err != nil {
		log.Logger().Warn("Counter store unreachable at startup",
			zap.String("address", cfg.StoreAddress), zap.String("policy", policy.String()), zap.Error(err))
	}
	cancel()

	limiter, err := ratelimiter.NewFixedWindowLimiter(counters, ratelimiter.Config{
		MaxRequests: cfg.MaxRequests,
		Window:      cfg.Window(),
	})
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	recorder, closeStats, err := newStatsStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStats() }()

	fetcher, err := github.NewClient(cfg.GitHubAPIURL,
		github.WithToken(cfg.GitHubToken),
		github.WithTimeout(cfg.UpstreamTimeout),
		github.WithRateLimit(cfg.UpstreamRPS, cfg.UpstreamBurst),
		github.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	handler := server.NewRouter(server.Options{
		Fetcher: fetcher,
		RateLimit: httplimiter.Middleware(&httplimiter.Config{
			Extractor:     utils.NewCallerExtractor(cfg.KeyHeader, cfg.TrustXFF),
			Limiter:       limiter,
			FailurePolicy: policy,
			Stats:         recorder,
			Metrics:       m,
		}),
		Store:          counters,
		Metrics:        m,
		Stats:          recorder,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		StaticDir:      cfg.StaticDir,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Logger().Info("Run a server listening to "+cfg.ListenAddr,
			zap.Int("maxRequests", cfg.MaxRequests),
			zap.Int("windowSeconds", cfg.WindowSeconds),
			zap.String("failurePolicy", policy.String()),
			zap.Bool("githubToken", cfg.GitHubToken != ""))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Logger().Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("server"),
		kong.Description("GitHub profile proxy with a shared fixed-window rate limiter."),
		kong.UsageOnError(),
	)
	if err := kctx.Run(&cli); err != nil {
		log.Logger().Error("Command failed", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}
