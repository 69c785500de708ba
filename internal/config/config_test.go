package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseEnv(t *testing.T, vars map[string]string) (Config, error) {
	t.Helper()
	for k, v := range vars {
		t.Setenv(k, v)
	}
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "OPSDESK_"}); err != nil {
		return Config{}, err
	}
	return cfg, cfg.validate()
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := parseEnv(t, map[string]string{
		"OPSDESK_TOKEN_SECRET": "0123456789abcdef0123456789abcdef",
	})
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "opsdesk", cfg.TokenIssuer)
	assert.Equal(t, 720*time.Hour, cfg.SessionTTL)
	assert.True(t, cfg.SecureCookies)
	assert.False(t, cfg.OAuth.Enabled())
}

func TestLoadRequiresSecret(t *testing.T) {
	_, err := parseEnv(t, map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPSDESK_TOKEN_SECRET")
}

func TestLoadRejectsShortSecret(t *testing.T) {
	_, err := parseEnv(t, map[string]string{
		"OPSDESK_TOKEN_SECRET": "too-short",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestLoadOAuthValidation(t *testing.T) {
	_, err := parseEnv(t, map[string]string{
		"OPSDESK_TOKEN_SECRET":    "0123456789abcdef0123456789abcdef",
		"OPSDESK_OAUTH_CLIENT_ID": "client",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPSDESK_OAUTH_CLIENT_SECRET")

	cfg, err := parseEnv(t, map[string]string{
		"OPSDESK_TOKEN_SECRET":        "0123456789abcdef0123456789abcdef",
		"OPSDESK_OAUTH_CLIENT_ID":     "client",
		"OPSDESK_OAUTH_CLIENT_SECRET": "secret",
		"OPSDESK_OAUTH_REDIRECT_URL":  "https://opsdesk.example/v1/auth/oauth/callback",
	})
	require.NoError(t, err)
	assert.True(t, cfg.OAuth.Enabled())
	assert.Equal(t, "google", cfg.OAuth.ProviderName)
}

func TestSessionTTLOverride(t *testing.T) {
	cfg, err := parseEnv(t, map[string]string{
		"OPSDESK_TOKEN_SECRET": "0123456789abcdef0123456789abcdef",
		"OPSDESK_SESSION_TTL":  "24h",
	})
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
}
