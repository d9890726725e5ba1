// Package config loads service configuration from .env files and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/lowc1012/github-profile-proxy/internal/ratelimiter"
)

// Config is the full runtime configuration of the service.
type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8000"`

	// GitHubToken is optional; when set it is sent with every upstream request.
	GitHubToken     string        `envconfig:"GITHUB_TOKEN"`
	GitHubAPIURL    string        `envconfig:"GITHUB_API_URL" default:"https://api.github.com"`
	UpstreamTimeout time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"10s"`
	UpstreamRPS     float64       `envconfig:"UPSTREAM_RPS" default:"0"`
	UpstreamBurst   int           `envconfig:"UPSTREAM_BURST" default:"1"`

	MaxRequests   int                       `envconfig:"RATE_LIMIT_MAX_REQUESTS" default:"2"`
	WindowSeconds int                       `envconfig:"RATE_LIMIT_WINDOW_SECONDS" default:"60"`
	FailurePolicy ratelimiter.FailurePolicy `envconfig:"RATE_LIMIT_FAILURE_POLICY" default:"closed"`
	KeyHeader     string                    `envconfig:"RATE_LIMIT_KEY_HEADER"`
	TrustXFF      bool                      `envconfig:"TRUST_X_FORWARDED_FOR" default:"false"`

	StoreAddress  string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	StorePassword string        `envconfig:"REDIS_PASSWORD"`
	StoreDB       int           `envconfig:"REDIS_DB" default:"0"`
	StoreTimeout  time.Duration `envconfig:"STORE_TIMEOUT" default:"500ms"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	StaticDir          string   `envconfig:"STATIC_DIR"`

	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	StatsEnabled   bool   `envconfig:"STATS_ENABLED" default:"false"`
	// StatsBackend is "redis" (shared across instances) or "memory" (this instance only).
	StatsBackend string `envconfig:"STATS_BACKEND" default:"redis"`
}

func (c Config) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// LoadEnvFiles loads .env.local then .env into the process environment.
// Variables already set are not overridden and missing files are ignored.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env.local", ".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// Load builds a Config from the environment, applying tag defaults for unset variables.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return c, err
	}
	return c, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.MaxRequests <= 0 {
		errs = append(errs, fmt.Errorf("max requests must be positive, got %d", c.MaxRequests))
	}
	if c.WindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("window seconds must be positive, got %d", c.WindowSeconds))
	}
	if c.StoreAddress == "" {
		errs = append(errs, errors.New("store address is required"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, fmt.Errorf("store timeout must be positive, got %s", c.StoreTimeout))
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, fmt.Errorf("upstream timeout must be positive, got %s", c.UpstreamTimeout))
	}
	if c.UpstreamRPS < 0 {
		errs = append(errs, fmt.Errorf("upstream rps must not be negative, got %g", c.UpstreamRPS))
	}
	if c.StatsBackend != "redis" && c.StatsBackend != "memory" {
		errs = append(errs, fmt.Errorf("stats backend must be redis or memory, got %q", c.StatsBackend))
	}
	return errors.Join(errs...)
}
