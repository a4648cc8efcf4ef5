package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discoveryServer(t *testing.T, body func(issuer string) string) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/.well-known/openid-configuration", r.URL.Path)
		_, _ = w.Write([]byte(body(srv.URL)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDiscoverProvider(t *testing.T) {
	srv := discoveryServer(t, func(issuer string) string {
		return `{"issuer":"` + issuer + `","jwks_uri":"https://issuer.example.com/oauth/v2/keys"}`
	})

	meta, err := discoverProvider(context.Background(), srv.Client(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "https://issuer.example.com/oauth/v2/keys", meta.JWKSURI)
	assert.Equal(t, srv.URL, meta.Issuer)
}

func TestDiscoverProvider_DefaultsIssuer(t *testing.T) {
	srv := discoveryServer(t, func(string) string {
		return `{"jwks_uri":"https://issuer.example.com/keys"}`
	})

	meta, err := discoverProvider(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, srv.URL, meta.Issuer)
}

func TestDiscoverProvider_MissingURI(t *testing.T) {
	srv := discoveryServer(t, func(string) string { return `{}` })

	_, err := discoverProvider(context.Background(), srv.Client(), srv.URL)
	assert.ErrorContains(t, err, "jwks_uri")
}

func TestDiscoverProvider_IssuerMismatch(t *testing.T) {
	srv := discoveryServer(t, func(string) string {
		return `{"issuer":"https://evil.example.com","jwks_uri":"https://evil.example.com/keys"}`
	})

	_, err := discoverProvider(context.Background(), srv.Client(), srv.URL)
	assert.ErrorContains(t, err, "does not match")
}

func TestDiscoverProvider_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := discoverProvider(context.Background(), srv.Client(), srv.URL)
	assert.ErrorContains(t, err, "status 404")
}
