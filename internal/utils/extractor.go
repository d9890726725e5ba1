package utils

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var ErrNoIdentity = errors.New("no caller identity in request")

// Extractor returns the caller identity the rate limiter counts against.
// Implementations must not read the request body.
type Extractor interface {
	Extract(r *http.Request) (string, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(r *http.Request) (string, error)

func (f ExtractorFunc) Extract(r *http.Request) (string, error) {
	return f(r)
}

type httpHeaderExtractor struct {
	headers []string
}

// NewHTTPHeadersExtractor keys callers by the joined values of headers, all of which must be present.
func NewHTTPHeadersExtractor(headers ...string) Extractor {
	return &httpHeaderExtractor{headers: headers}
}

func (h *httpHeaderExtractor) Extract(r *http.Request) (string, error) {
	values := make([]string, 0, len(h.headers))
	for _, key := range h.headers {
		value := strings.TrimSpace(r.Header.Get(key))
		if value == "" {
			return "", fmt.Errorf("%w: header %s is empty", ErrNoIdentity, key)
		}
		values = append(values, value)
	}
	return strings.Join(values, "-"), nil
}

type remoteAddrExtractor struct{}

// NewRemoteAddrExtractor creates an extractor keyed by the host part of the connection's remote address.
func NewRemoteAddrExtractor() Extractor {
	return remoteAddrExtractor{}
}

func (remoteAddrExtractor) Extract(r *http.Request) (string, error) {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return "", ErrNoIdentity
	}
	host, _, err := net.SplitHostPort(addr)
	if err == nil && host != "" {
		return host, nil
	}
	return addr, nil
}

type forwardedForExtractor struct {
	fallback Extractor
}

// NewForwardedForExtractor uses the first address of X-Forwarded-For and falls back to the remote
// address. Only use it behind a proxy that overwrites the header, otherwise callers can pick their
// own identity.
func NewForwardedForExtractor() Extractor {
	return forwardedForExtractor{fallback: NewRemoteAddrExtractor()}
}

func (e forwardedForExtractor) Extract(r *http.Request) (string, error) {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip, nil
		}
	}
	return e.fallback.Extract(r)
}

// FirstOf tries each extractor in order and returns the first identity found.
func FirstOf(extractors ...Extractor) Extractor {
	return ExtractorFunc(func(r *http.Request) (string, error) {
		var errs []error
		for _, e := range extractors {
			id, err := e.Extract(r)
			if err == nil && id != "" {
				return id, nil
			}
			if err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) == 0 {
			return "", ErrNoIdentity
		}
		return "", fmt.Errorf("%w: %w", ErrNoIdentity, errors.Join(errs...))
	})
}

// NewCallerExtractor builds the extractor used by the service: a trusted header when keyHeader is
// set, then X-Forwarded-For when trustXFF is set, then the remote address.
func NewCallerExtractor(keyHeader string, trustXFF bool) Extractor {
	chain := make([]Extractor, 0, 2)
	if keyHeader != "" {
		chain = append(chain, NewHTTPHeadersExtractor(keyHeader))
	}
	if trustXFF {
		chain = append(chain, NewForwardedForExtractor())
	} else {
		chain = append(chain, NewRemoteAddrExtractor())
	}
	if len(chain) == 1 {
		return chain[0]
	}
	return FirstOf(chain...)
}
