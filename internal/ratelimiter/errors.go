package ratelimiter

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrStoreUnavailable  = errors.New("rate limit store unavailable")
	ErrEmptyIdentity     = errors.New("empty caller identity")
	ErrInvalidConfig     = errors.New("invalid rate limiter config")
)

// ExceededError is returned by Check when a caller is over its limit.
type ExceededError struct {
	Identity   string
	Requests   int64
	Limit      int
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: %d requests (limit %d), retry after %s",
		e.Identity, e.Requests, e.Limit, e.RetryAfter)
}

func (e *ExceededError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}
