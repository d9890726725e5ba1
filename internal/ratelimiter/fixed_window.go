package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/lowc1012/github-profile-proxy/internal/log"
	"go.uber.org/zap"
)

const (
	DefaultMaxRequests = 2
	DefaultWindow      = 60 * time.Second
	DefaultKeyPrefix   = "rate_limit:"
)

// Config holds the tunables of a FixedWindowLimiter.
type Config struct {
	MaxRequests int
	Window      time.Duration
	KeyPrefix   string
}

func DefaultConfig() Config {
	return Config{
		MaxRequests: DefaultMaxRequests,
		Window:      DefaultWindow,
		KeyPrefix:   DefaultKeyPrefix,
	}
}

func (c Config) Validate() error {
	if c.MaxRequests <= 0 {
		return fmt.Errorf("%w: max requests must be positive, got %d", ErrInvalidConfig, c.MaxRequests)
	}
	if c.Window < time.Second {
		return fmt.Errorf("%w: window must be at least one second, got %s", ErrInvalidConfig, c.Window)
	}
	return nil
}

// ensure that FixedWindowLimiter satisfies an interface RateLimiter
var _ RateLimiter = &FixedWindowLimiter{}

// FixedWindowLimiter counts requests per caller identity in a window that starts
// with the first request and ends when the counter key expires. A burst of up to
// 2*MaxRequests can straddle two adjacent windows.
type FixedWindowLimiter struct {
	store  CounterStore
	config Config
}

// NewFixedWindowLimiter creates a limiter counting against store. Zero config
// fields take their defaults.
func NewFixedWindowLimiter(store CounterStore, cfg Config) (*FixedWindowLimiter, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil counter store", ErrInvalidConfig)
	}
	def := DefaultConfig()
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Window == 0 {
		cfg.Window = def.Window
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &FixedWindowLimiter{store: store, config: cfg}, nil
}

func (l *FixedWindowLimiter) Config() Config {
	return l.config
}

// Key returns the counter key used for identity.
func (l *FixedWindowLimiter) Key(identity string) string {
	return l.config.KeyPrefix + identity
}

func (l *FixedWindowLimiter) Run(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || req.Key == "" {
		return nil, ErrEmptyIdentity
	}

	key := l.Key(req.Key)
	count, err := l.store.Increment(ctx, key)
	if err != nil {
		log.Logger().Error("Failed to increase rate limit counter", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// the first hit of a window owns the expiry; later hits never touch it
	if count == 1 {
		// TODO: a failed EXPIRE leaves the key without a TTL; reclaim such keys by checking the TTL on the next hit.
		if err := l.store.Expire(ctx, key, l.config.Window); err != nil {
			log.Logger().Error("Failed to set an expiration to key", zap.String("key", key), zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	if count > int64(l.config.MaxRequests) {
		return &Result{
			State:         Deny,
			TotalRequests: count,
			RequestLimit:  l.config.MaxRequests,
			RetryAfter:    l.config.Window,
		}, nil
	}
	return &Result{
		State:         Allow,
		TotalRequests: count,
		RequestLimit:  l.config.MaxRequests,
	}, nil
}

// Check admits or rejects a request from identity. The result is returned
// whenever the store answered; the error is an *ExceededError when the caller is
// over its limit and wraps ErrStoreUnavailable when the store cannot be reached.
func (l *FixedWindowLimiter) Check(ctx context.Context, identity string) (*Result, error) {
	res, err := l.Run(ctx, &Request{Key: identity})
	if err != nil {
		return nil, err
	}
	if res.State == Deny {
		return res, &ExceededError{
			Identity:   identity,
			Requests:   res.TotalRequests,
			Limit:      res.RequestLimit,
			RetryAfter: res.RetryAfter,
		}
	}
	return res, nil
}
