package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lowc1012/github-profile-proxy/internal/github"
	"github.com/lowc1012/github-profile-proxy/internal/log"
	"github.com/lowc1012/github-profile-proxy/internal/stats"
	"go.uber.org/zap"
)

const (
	maxBatchUsernames = 10
	healthTimeout     = time.Second
)

type handlers struct {
	fetcher     ProfileFetcher
	store       Pinger
	statsReader stats.Reader
}

type errorBody struct {
	Detail string `json:"detail"`
}

type batchItem struct {
	Username string          `json:"username"`
	Profile  *github.Profile `json:"profile,omitempty"`
	Error    string          `json:"error,omitempty"`
	Status   int             `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Logger().Warn("Failed to write body to HTTP response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

// classify maps a fetch error to the status and message the caller sees.
func classify(err error) (int, string) {
	var upstreamErr *github.UpstreamError
	switch {
	case errors.Is(err, github.ErrInvalidUsername):
		return http.StatusBadRequest, "Invalid GitHub username"
	case errors.Is(err, github.ErrUserNotFound):
		return http.StatusNotFound, "User not found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "GitHub did not answer in time"
	case errors.As(err, &upstreamErr):
		return http.StatusBadGateway, "GitHub request failed"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (h *handlers) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "GitHub Profile Fetcher API",
	})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		log.Logger().Warn("Health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "store": "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "store": "ok"})
}

func (h *handlers) statsSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	snap, err := h.statsReader.Snapshot(ctx)
	if err != nil {
		log.Logger().Warn("Failed to read rate limit stats", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Stats are temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handlers) profile(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	profile, err := h.fetcher.FetchUser(r.Context(), username)
	if err != nil {
		status, detail := classify(err)
		if status >= http.StatusInternalServerError {
			log.Logger().Error("Profile lookup failed",
				zap.String("requestId", RequestID(r.Context())),
				zap.String("username", username),
				zap.Error(err))
		}
		writeError(w, status, detail)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// batch serves GET /api/github?usernames=a,b. The whole batch counts as one request
// against the caller's rate limit.
func (h *handlers) batch(w http.ResponseWriter, r *http.Request) {
	var names []string
	seen := make(map[string]struct{})
	for _, raw := range r.URL.Query()["usernames"] {
		for _, n := range strings.Split(raw, ",") {
			n = strings.TrimSpace(n)
			if n == "" {
				continue
			}
			if _, dup := seen[strings.ToLower(n)]; dup {
				continue
			}
			seen[strings.ToLower(n)] = struct{}{}
			names = append(names, n)
		}
	}

	switch {
	case len(names) == 0:
		writeError(w, http.StatusBadRequest, "Query parameter usernames is required")
		return
	case len(names) > maxBatchUsernames:
		writeError(w, http.StatusBadRequest, "Too many usernames, at most 10 per request")
		return
	}

	results := h.fetcher.FetchUsers(r.Context(), names)
	items := make([]batchItem, 0, len(results))
	for _, res := range results {
		item := batchItem{Username: res.Username, Status: http.StatusOK}
		if res.Err != nil {
			item.Status, item.Error = classify(res.Err)
			if item.Status >= http.StatusInternalServerError {
				log.Logger().Error("Profile lookup failed",
					zap.String("requestId", RequestID(r.Context())),
					zap.String("username", res.Username),
					zap.Error(res.Err))
			}
		} else {
			p := res.Profile
			item.Profile = &p
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}
