package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the service configuration read from the environment.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8431"`

	JWTSecret     string        `env:"JWT_SECRET"`
	JWTIssuer     string        `env:"JWT_ISSUER" envDefault:"pitchfork-auth"`
	JWTAccessTTL  time.Duration `env:"JWT_ACCESS_TTL" envDefault:"24h"`
	JWTRefreshTTL time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`

	AnonymousPaths []string `env:"AUTH_ANONYMOUS_PATHS" envSeparator:"," envDefault:"/auth/,/oauth2/,/health"`
	IdentityStore  string   `env:"IDENTITY_STORE" envDefault:"postgres"`
	BcryptCost     int      `env:"BCRYPT_COST" envDefault:"10"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	OAuthClientRedirectURL  string        `env:"OAUTH_CLIENT_REDIRECT_URL" envDefault:"http://localhost:3000/oauth2/redirect"`
	OAuthFailureRedirectURL string        `env:"OAUTH_FAILURE_REDIRECT_URL" envDefault:"http://localhost:3000/login"`
	OAuthDebug              bool          `env:"OAUTH_DEBUG" envDefault:"false"`
	OAuthStateTTL           time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL" envDefault:"http://localhost:8431/oauth2/callback/google"`

	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	GitHubRedirectURL  string `env:"GITHUB_REDIRECT_URL" envDefault:"http://localhost:8431/oauth2/callback/github"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
}

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	minSecretLen = 32
)

// Load parses the process environment and validates the result.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadFrom parses an explicit variable map instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if len(c.JWTSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minSecretLen))
	}
	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= 0 {
		errs = append(errs, errors.New("JWT_ACCESS_TTL and JWT_REFRESH_TTL must be positive"))
	}
	if c.JWTRefreshTTL < c.JWTAccessTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must not be shorter than JWT_ACCESS_TTL"))
	}
	switch c.IdentityStore {
	case StorePostgres, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("IDENTITY_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.IdentityStore))
	}
	if c.OAuthStateTTL <= 0 {
		errs = append(errs, errors.New("OAUTH_STATE_TTL must be positive"))
	}
	return errors.Join(errs...)
}

// GoogleEnabled reports whether Google credentials are configured.
func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// GitHubEnabled reports whether GitHub credentials are configured.
func (c Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// AllowedOrigins returns the trimmed CORS origin list; "*" admits any origin.
func (c Config) AllowedOrigins() []string {
	out := make([]string, 0, len(c.CORSAllowedOrigins))
	for _, o := range c.CORSAllowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// AnonymousPrefixes returns the allow-list with the debug prefix added when debugging.
func (c Config) AnonymousPrefixes() []string {
	out := make([]string, 0, len(c.AnonymousPaths)+1)
	for _, p := range c.AnonymousPaths {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if c.OAuthDebug {
		out = append(out, "/debug/")
	}
	return out
}
