package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"JWT_SECRET": secret})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8431", cfg.HTTPAddr)
	assert.Equal(t, 24*time.Hour, cfg.JWTAccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.JWTRefreshTTL)
	assert.Equal(t, 10*time.Minute, cfg.OAuthStateTTL)
	assert.Equal(t, StorePostgres, cfg.IdentityStore)
	assert.Equal(t, []string{"/auth/", "/oauth2/", "/health"}, cfg.AnonymousPrefixes())
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins())
	assert.False(t, cfg.GoogleEnabled())
	assert.False(t, cfg.GitHubEnabled())
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"JWT_SECRET":           secret,
		"JWT_ACCESS_TTL":       "15m",
		"IDENTITY_STORE":       "memory",
		"OAUTH_DEBUG":          "true",
		"AUTH_ANONYMOUS_PATHS": "/auth/, /public/",
		"GITHUB_CLIENT_ID":     "id",
		"GITHUB_CLIENT_SECRET": "secret",
		"CORS_ALLOWED_ORIGINS": "https://shop.example.com/, http://localhost:5173,",
	})
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.JWTAccessTTL)
	assert.Equal(t, StoreMemory, cfg.IdentityStore)
	assert.Equal(t, []string{"/auth/", "/public/", "/debug/"}, cfg.AnonymousPrefixes())
	assert.True(t, cfg.GitHubEnabled())
	assert.Equal(t, []string{"https://shop.example.com", "http://localhost:5173"}, cfg.AllowedOrigins())
}

func TestLoadFrom_Invalid(t *testing.T) {
	_, err := LoadFrom(map[string]string{"JWT_SECRET": "short"})
	assert.ErrorContains(t, err, "JWT_SECRET")

	_, err = LoadFrom(map[string]string{"JWT_SECRET": secret, "IDENTITY_STORE": "mongo"})
	assert.ErrorContains(t, err, "IDENTITY_STORE")

	_, err = LoadFrom(map[string]string{"JWT_SECRET": secret, "JWT_ACCESS_TTL": "200h"})
	assert.ErrorContains(t, err, "JWT_REFRESH_TTL")

	_, err = LoadFrom(map[string]string{"JWT_SECRET": secret, "JWT_ACCESS_TTL": "soon"})
	assert.Error(t, err)
}
