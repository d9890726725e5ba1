// Package github looks up user profiles on the GitHub REST API.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/lowc1012/github-profile-proxy/internal/log"
	"github.com/lowc1012/github-profile-proxy/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.github.com"
	DefaultTimeout = 10 * time.Second

	userAgent     = "github-profile-proxy"
	maxErrorBody  = 512
	maxProfileLen = 1 << 20
)

var (
	ErrUserNotFound    = errors.New("github user not found")
	ErrInvalidUsername = errors.New("invalid github username")

	// GitHub logins: alphanumerics and single hyphens, no leading or trailing hyphen.
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9]|-[A-Za-z0-9])*$`)
)

// UpstreamError is returned when GitHub answers with an unexpected status or
// cannot be reached. StatusCode is 0 for transport failures.
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("github request failed: %v", e.Err)
	}
	return fmt.Sprintf("github returned status %d", e.StatusCode)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Profile is a user profile as returned by GitHub. Raw holds the untouched JSON
// object so that callers can pass it through unchanged.
type Profile struct {
	Login string
	Raw   json.RawMessage
}

func (p Profile) MarshalJSON() ([]byte, error) {
	if len(p.Raw) == 0 {
		return []byte("null"), nil
	}
	return p.Raw, nil
}

// ValidateUsername checks name against GitHub's login rules.
func ValidateUsername(name string) error {
	if len(name) == 0 || len(name) > 39 || !usernamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, name)
	}
	return nil
}

type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
}

type Option func(*Client)

// WithToken attaches an access token to every request for a higher quota.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit caps outbound requests of this instance to rps with the given burst.
// Callers wait for a slot; the wait is bounded by the request context.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse github base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("github base url %q must be absolute", baseURL)
	}

	hc := cleanhttp.DefaultPooledClient()
	hc.Timeout = DefaultTimeout

	c := &Client{baseURL: u, httpClient: hc}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchUser returns the profile of username. It returns ErrInvalidUsername,
// ErrUserNotFound or an *UpstreamError on failure.
func (c *Client) FetchUser(ctx context.Context, username string) (Profile, error) {
	if err := ValidateUsername(username); err != nil {
		return Profile{}, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Profile{}, &UpstreamError{Err: fmt.Errorf("waiting for outbound quota: %w", err)}
		}
	}

	endpoint := c.baseURL.JoinPath("users", username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Profile{}, &UpstreamError{Err: err}
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		c.metrics.ObserveUpstream("error", 0, elapsed)
		log.Logger().Error("GitHub request failed", zap.String("username", username), zap.Error(err))
		return Profile{}, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.metrics.ObserveUpstream("not_found", resp.StatusCode, elapsed)
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return Profile{}, fmt.Errorf("%w: %s", ErrUserNotFound, username)

	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.metrics.ObserveUpstream("error", resp.StatusCode, elapsed)
		log.Logger().Error("GitHub returned unexpected status",
			zap.String("username", username),
			zap.Int("status", resp.StatusCode),
			zap.String("rateLimitRemaining", resp.Header.Get("X-RateLimit-Remaining")),
			zap.ByteString("body", body))
		return Profile{}, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileLen))
	if err != nil {
		c.metrics.ObserveUpstream("error", resp.StatusCode, elapsed)
		return Profile{}, &UpstreamError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	var head struct {
		Login string `json:"login"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		c.metrics.ObserveUpstream("error", resp.StatusCode, elapsed)
		return Profile{}, &UpstreamError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode profile: %w", err)}
	}

	c.metrics.ObserveUpstream("ok", resp.StatusCode, elapsed)
	return Profile{Login: head.Login, Raw: raw}, nil
}
