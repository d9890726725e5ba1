package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const octocat = `{"login":"octocat","name":"The Octocat","followers":42,"public_repos":8}`

func newUpstream(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_FetchUser(t *testing.T) {
	var gotAuth, gotAccept, gotPath string
	srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(octocat))
	})

	c, err := NewClient(srv.URL, WithToken(" secret "))
	require.NoError(t, err)

	p, err := c.FetchUser(context.Background(), "octocat")
	require.NoError(t, err)
	assert.Equal(t, "octocat", p.Login)
	assert.JSONEq(t, octocat, string(p.Raw))
	assert.Equal(t, "token secret", gotAuth)
	assert.Equal(t, "application/vnd.github+json", gotAccept)
	assert.Equal(t, "/users/octocat", gotPath)

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, octocat, string(out))
}

func TestClient_NoTokenNoAuthorization(t *testing.T) {
	srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(octocat))
	})

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	_, err = c.FetchUser(context.Background(), "octocat")
	assert.NoError(t, err)
}

func TestClient_NotFound(t *testing.T) {
	srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	_, err = c.FetchUser(context.Background(), "ghost-user")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestClient_UnexpectedStatus(t *testing.T) {
	srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"API rate limit exceeded"}`, http.StatusForbidden)
	})

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	_, err = c.FetchUser(context.Background(), "octocat")

	var upstreamErr *UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, http.StatusForbidden, upstreamErr.StatusCode)
	assert.Contains(t, upstreamErr.Body, "rate limit")
	assert.False(t, errors.Is(err, ErrUserNotFound))
}

func TestClient_MalformedBody(t *testing.T) {
	srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	})

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	_, err = c.FetchUser(context.Background(), "octocat")

	var upstreamErr *UpstreamError
	assert.True(t, errors.As(err, &upstreamErr))
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(url, WithTimeout(time.Second))
	require.NoError(t, err)
	_, err = c.FetchUser(context.Background(), "octocat")

	var upstreamErr *UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, 0, upstreamErr.StatusCode)
}

func TestClient_InvalidUsernameNeverLeaves(t *testing.T) {
	var hits int32
	srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	})

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	for _, name := range []string{"", "../admin", "-lead", "trail-", "dou--ble", "a b", "x123456789012345678901234567890123456789"} {
		_, err := c.FetchUser(context.Background(), name)
		assert.ErrorIs(t, err, ErrInvalidUsername, name)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestClient_OutboundRateLimitHonoursContext(t *testing.T) {
	srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(octocat))
	})

	c, err := NewClient(srv.URL, WithRateLimit(0.001, 1))
	require.NoError(t, err)

	_, err = c.FetchUser(context.Background(), "octocat")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.FetchUser(ctx, "octocat")
	var upstreamErr *UpstreamError
	assert.True(t, errors.As(err, &upstreamErr))
}

func TestClient_FetchUsers(t *testing.T) {
	srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/users/ghost" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"login":"` + r.URL.Path[len("/users/"):] + `"}`))
	})

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	results := c.FetchUsers(context.Background(), []string{"alice", "ghost", "bob"})
	require.Len(t, results, 3)
	assert.Equal(t, "alice", results[0].Profile.Login)
	assert.ErrorIs(t, results[1].Err, ErrUserNotFound)
	assert.Equal(t, "bob", results[2].Profile.Login)
	assert.NoError(t, results[2].Err)
}

func TestNewClient_BadBaseURL(t *testing.T) {
	_, err := NewClient("not a url")
	assert.Error(t, err)

	c, err := NewClient("")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.baseURL.String())
}
