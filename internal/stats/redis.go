package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	rdb redis.UniversalClient

	prefix string
	// ttl applies to the per-minute buckets only; totals are cumulative.
	ttl time.Duration
}

type RedisOption func(*RedisStore)

func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "rate_limit:stats",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func field(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

// Record bumps the total, per-minute and per-route hashes in one pipeline.
// Identities are not tracked to keep the keyspace bounded.
func (s *RedisStore) Record(ctx context.Context, ev Event) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	f := field(ev.Allowed)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", f, 1)

	bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, bucketKey, f, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}

	if route := strings.TrimSpace(ev.Method + " " + ev.Path); route != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", route+":"+f, 1)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Snapshot reads the cumulative total and per-route counters.
func (s *RedisStore) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Routes: make(map[string]Counters)}

	pipe := s.rdb.Pipeline()
	totalCmd := pipe.HGetAll(ctx, s.prefix+":total")
	routeCmd := pipe.HGetAll(ctx, s.prefix+":route")
	if _, err := pipe.Exec(ctx); err != nil {
		return snap, err
	}

	for f, v := range totalCmd.Val() {
		if err := add(&snap.Total, f, v); err != nil {
			return snap, err
		}
	}
	for f, v := range routeCmd.Val() {
		idx := strings.LastIndex(f, ":")
		if idx < 0 {
			continue
		}
		c := snap.Routes[f[:idx]]
		if err := add(&c, f[idx+1:], v); err != nil {
			return snap, err
		}
		snap.Routes[f[:idx]] = c
	}
	return snap, nil
}

func add(c *Counters, f, v string) error {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("stats field %s: %w", f, err)
	}
	switch f {
	case "allowed":
		c.Allowed += n
	case "denied":
		c.Denied += n
	}
	return nil
}
