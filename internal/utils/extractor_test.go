package utils

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteAddrExtractor(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		want       string
		wantErr    bool
	}{
		{name: "ipv4 with port", remoteAddr: "1.2.3.4:5678", want: "1.2.3.4"},
		{name: "ipv6 with port", remoteAddr: "[::1]:80", want: "::1"},
		{name: "no port", remoteAddr: "1.2.3.4", want: "1.2.3.4"},
		{name: "empty", remoteAddr: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr

			got, err := NewRemoteAddrExtractor().Extract(r)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoIdentity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTTPHeadersExtractor(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Api-Key", " k1 ")
	r.Header.Set("X-Tenant", "t1")

	got, err := NewHTTPHeadersExtractor("X-Api-Key", "X-Tenant").Extract(r)
	require.NoError(t, err)
	assert.Equal(t, "k1-t1", got)

	_, err = NewHTTPHeadersExtractor("X-Missing").Extract(r)
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestForwardedForExtractor(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"

	got, err := NewForwardedForExtractor().Extract(r)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", got)

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	got, err = NewForwardedForExtractor().Extract(r)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", got)
}

func TestNewCallerExtractor(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.7")

	got, err := NewCallerExtractor("", false).Extract(r)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", got, "X-Forwarded-For must be ignored unless trusted")

	got, err = NewCallerExtractor("", true).Extract(r)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", got)

	got, err = NewCallerExtractor("X-Client-Id", false).Extract(r)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", got, "falls back when the header is absent")

	r.Header.Set("X-Client-Id", "client-42")
	got, err = NewCallerExtractor("X-Client-Id", true).Extract(r)
	require.NoError(t, err)
	assert.Equal(t, "client-42", got)
}

func TestFirstOf_NoIdentity(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = ""

	_, err := FirstOf(NewHTTPHeadersExtractor("X-Client-Id"), NewRemoteAddrExtractor()).Extract(r)
	assert.ErrorIs(t, err, ErrNoIdentity)
}
