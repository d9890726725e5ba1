// Package store provides the shared counter store backing the rate limiter.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lowc1012/github-profile-proxy/internal/ratelimiter"
	"github.com/redis/go-redis/v9"
)

const DefaultOperationTimeout = 500 * time.Millisecond

var ErrNilClient = errors.New("nil redis client")

// ensure that RedisCounterStore satisfies an interface ratelimiter.CounterStore
var _ ratelimiter.CounterStore = &RedisCounterStore{}

// RedisCounterStore implements ratelimiter.CounterStore with INCR and EXPIRE.
// Every call runs under a context deadline of the operation timeout. go-redis
// only honours that deadline on the socket when the client has
// ContextTimeoutEnabled set, so clients not built by NewRedisClient must set it.
type RedisCounterStore struct {
	client  redis.UniversalClient
	timeout time.Duration
}

func NewRedisCounterStore(client redis.UniversalClient, timeout time.Duration) (*RedisCounterStore, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	return &RedisCounterStore{client: client, timeout: timeout}, nil
}

func (s *RedisCounterStore) Increment(ctx context.Context, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisCounterStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

// Ping reports whether the backing server answers within the operation timeout.
func (s *RedisCounterStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Options configures the redis client shared by the counter and stats stores.
type Options struct {
	// Address is either host:port or a redis:// URL.
	Address  string
	Password string
	DB       int
	Timeout  time.Duration
}

// NewRedisClient builds a client with dial, read and write timeouts bounded by
// opts.Timeout. Context deadlines are enabled and retries are off.
func NewRedisClient(opts Options) (*redis.Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}

	var ro *redis.Options
	if strings.HasPrefix(opts.Address, "redis://") || strings.HasPrefix(opts.Address, "rediss://") {
		parsed, err := redis.ParseURL(opts.Address)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		ro = parsed
	} else {
		ro = &redis.Options{Addr: opts.Address, DB: opts.DB}
	}
	if opts.Password != "" {
		ro.Password = opts.Password
	}
	if ro.Addr == "" {
		ro.Addr = "localhost:6379"
	}
	ro.DialTimeout = timeout
	ro.ReadTimeout = timeout
	ro.WriteTimeout = timeout
	ro.MaxRetries = -1
	ro.ContextTimeoutEnabled = true

	return redis.NewClient(ro), nil
}
