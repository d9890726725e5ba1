package ratelimiter

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/lowc1012/github-profile-proxy/internal/log"
	"github.com/lowc1012/github-profile-proxy/internal/metrics"
	"github.com/lowc1012/github-profile-proxy/internal/ratelimiter"
	"github.com/lowc1012/github-profile-proxy/internal/stats"
	"github.com/lowc1012/github-profile-proxy/internal/utils"
	"go.uber.org/zap"
)

// FailurePolicy decides what happens to a request whose rate limit check could
// not reach the counter store.
type FailurePolicy = ratelimiter.FailurePolicy

const (
	FailClosed = ratelimiter.FailClosed
	FailOpen   = ratelimiter.FailOpen
)

const (
	rateLimitMaxRequests = "X-Ratelimit-Max-Requests"
	rateLimitState       = "X-Ratelimit-State"
	rateLimitRetryAfter  = "X-Ratelimit-Retry-After"
	retryAfter           = "Retry-After"

	storeUnavailableRetrySeconds = 1
)

// Config defines the configuration for the rate limiter handler.
type Config struct {
	Extractor     utils.Extractor
	Limiter       ratelimiter.RateLimiter
	FailurePolicy FailurePolicy
	// Stats and Metrics are optional.
	Stats   stats.Store
	Metrics *metrics.Metrics
}

type httpRateLimiterHandler struct {
	handler http.Handler
	config  *Config
}

// NewHTTPRateLimiterHandler wraps originalHandler with a rate limit check.
// Denied requests get a 429 and never reach originalHandler.
func NewHTTPRateLimiterHandler(originalHandler http.Handler, config *Config) http.Handler {
	return &httpRateLimiterHandler{
		handler: originalHandler,
		config:  config,
	}
}

// Middleware returns NewHTTPRateLimiterHandler in the func(http.Handler) http.Handler shape routers expect.
func Middleware(config *Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return NewHTTPRateLimiterHandler(next, config)
	}
}

type errorBody struct {
	Detail string `json:"detail"`
}

func (h *httpRateLimiterHandler) writeResponse(writer http.ResponseWriter, status int, msg string, args ...interface{}) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(errorBody{Detail: fmt.Sprintf(msg, args...)}); err != nil {
		log.Logger().Warn("Failed to write body to HTTP response", zap.Error(err))
	}
}

func retrySeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

// ServeHTTP sets the X-Ratelimit headers and calls the wrapped handler when the
// request is allowed. A store failure under FailOpen also reaches the wrapped
// handler, without headers.
func (h *httpRateLimiterHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	key, err := h.config.Extractor.Extract(request)
	if err != nil {
		h.writeResponse(writer, http.StatusBadRequest, "failed to collect rate limiting key from request: %v", err)
		return
	}

	result, err := h.config.Limiter.Check(request.Context(), key)

	var exceeded *ratelimiter.ExceededError
	if err != nil && !errors.As(err, &exceeded) {
		h.handleFailure(writer, request, key, err)
		return
	}

	h.record(request, key, exceeded == nil)

	writer.Header().Set(rateLimitMaxRequests, strconv.Itoa(result.RequestLimit))
	writer.Header().Set(rateLimitState, result.State.String())
	writer.Header().Set(rateLimitRetryAfter, strconv.Itoa(retrySeconds(result.RetryAfter)))

	if exceeded != nil {
		secs := retrySeconds(exceeded.RetryAfter)
		writer.Header().Set(retryAfter, strconv.Itoa(secs))
		h.writeResponse(writer, http.StatusTooManyRequests, "Too many requests. Wait %d seconds before retrying.", secs)
		return
	}

	// headers are already set, so they go out when the wrapped handler flushes.
	h.handler.ServeHTTP(writer, request)
}

func (h *httpRateLimiterHandler) handleFailure(writer http.ResponseWriter, request *http.Request, key string, err error) {
	if !errors.Is(err, ratelimiter.ErrStoreUnavailable) {
		log.Logger().Error("Failed to run rate limiting for request", zap.String("identity", key), zap.Error(err))
		h.writeResponse(writer, http.StatusInternalServerError, "failed to run rate limiting for request")
		return
	}

	policy := h.config.FailurePolicy
	h.config.Metrics.ObserveStoreUnavailable(policy.String())

	if policy == FailOpen {
		log.Logger().Warn("Rate limit store unavailable, admitting request",
			zap.String("identity", key), zap.String("policy", policy.String()), zap.Error(err))
		h.handler.ServeHTTP(writer, request)
		return
	}

	log.Logger().Error("Rate limit store unavailable, rejecting request",
		zap.String("identity", key), zap.String("policy", policy.String()), zap.Error(err))
	writer.Header().Set(retryAfter, strconv.Itoa(storeUnavailableRetrySeconds))
	h.writeResponse(writer, http.StatusServiceUnavailable, "rate limiting is temporarily unavailable, try again later")
}

func (h *httpRateLimiterHandler) record(request *http.Request, key string, allowed bool) {
	h.config.Metrics.ObserveDecision(allowed)
	if h.config.Stats == nil {
		return
	}
	err := h.config.Stats.Record(request.Context(), stats.Event{
		Identity: key,
		Allowed:  allowed,
		Method:   request.Method,
		Path:     request.URL.Path,
		At:       time.Now(),
	})
	if err != nil {
		log.Logger().Warn("Failed to record rate limit decision", zap.Error(err))
	}
}
