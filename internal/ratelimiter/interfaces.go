package ratelimiter

import (
	"context"
	"time"
)

type Request struct {
	Key string
}

type State uint32

const (
	Deny State = iota
	Allow
)

func (s State) String() string {
	if s == Allow {
		return "Allow"
	}
	return "Deny"
}

type Result struct {
	State         State
	TotalRequests int64
	RequestLimit  int
	// RetryAfter is a fixed hint equal to the window length. It is not derived
	// from the key's remaining TTL.
	RetryAfter time.Duration
}

// CounterStore is the shared backend the limiter counts against. Implementations
// must be shared by every instance of the service; Increment must be atomic.
type CounterStore interface {
	// Increment adds one to key, creating it at 1 when absent, and returns the new value.
	Increment(ctx context.Context, key string) (int64, error)
	// Expire sets a time-to-live after which key is removed.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// RateLimiter defines the interface for a rate limiter.
type RateLimiter interface {
	Run(ctx context.Context, req *Request) (*Result, error)
	Check(ctx context.Context, identity string) (*Result, error)
}
