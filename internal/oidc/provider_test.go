package oidc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIssuer serves just enough discovery metadata for NewProvider.
func fakeIssuer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/authorize",
			"token_endpoint":         srv.URL + "/token",
			"jwks_uri":               srv.URL + "/keys",
			"userinfo_endpoint":      srv.URL + "/userinfo",
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"keys":[]}`))
	})
	return srv
}

func testConfig(issuerURL string) Config {
	return Config{
		Name:         "fake",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURL:  "http://localhost:8080/v1/auth/oauth/callback",
		IssuerURL:    issuerURL,
	}
}

func TestNewProviderValidatesConfig(t *testing.T) {
	ctx := context.Background()
	for name, breakIt := range map[string]func(*Config){
		"name":     func(c *Config) { c.Name = "" },
		"client":   func(c *Config) { c.ClientID = "" },
		"secret":   func(c *Config) { c.ClientSecret = "" },
		"redirect": func(c *Config) { c.RedirectURL = "" },
		"issuer":   func(c *Config) { c.IssuerURL = "" },
	} {
		cfg := testConfig("http://unused.invalid")
		breakIt(&cfg)
		_, err := NewProvider(ctx, cfg)
		assert.Error(t, err, "missing %s must fail", name)
	}
}

func TestNewProviderAcceptsDiscoveryURL(t *testing.T) {
	srv := fakeIssuer(t)

	// Both the bare issuer and the full discovery URL work.
	for _, issuer := range []string{srv.URL, srv.URL + "/.well-known/openid-configuration"} {
		p, err := NewProvider(context.Background(), testConfig(issuer))
		require.NoError(t, err, "issuer %s", issuer)
		assert.Equal(t, "fake", p.Name())
	}
}

func TestBeginProducesDistinctStateAndNonce(t *testing.T) {
	srv := fakeIssuer(t)
	p, err := NewProvider(context.Background(), testConfig(srv.URL))
	require.NoError(t, err)

	authURL, state, nonce, err := p.Begin()
	require.NoError(t, err)
	assert.Len(t, state, 32)
	assert.Len(t, nonce, 32)
	assert.NotEqual(t, state, nonce)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, state, q.Get("state"))
	assert.Equal(t, nonce, q.Get("nonce"))
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Contains(t, q.Get("scope"), "openid")

	// Each flow start gets fresh values.
	_, state2, nonce2, err := p.Begin()
	require.NoError(t, err)
	assert.NotEqual(t, state, state2)
	assert.NotEqual(t, nonce, nonce2)
}

func TestExchangeRequiresCode(t *testing.T) {
	srv := fakeIssuer(t)
	p, err := NewProvider(context.Background(), testConfig(srv.URL))
	require.NoError(t, err)

	_, err = p.Exchange(context.Background(), "", "nonce")
	assert.Error(t, err)
}
