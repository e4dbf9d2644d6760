package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

var (
	ErrMalformed    = errors.New("token malformed")
	ErrBadSignature = errors.New("token signature invalid")
	ErrExpired      = errors.New("token expired")
	ErrWrongKind    = errors.New("token kind mismatch")
	ErrRevoked      = errors.New("refresh token revoked")
)

// MinSecretLen is the shortest HS256 secret accepted.
const MinSecretLen = 32

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claims is the payload of every token minted by Service.
type Claims struct {
	Role string `json:"role"`
	Kind Kind   `json:"kind"`
	jwt.RegisteredClaims
}

// Registry records issued refresh tokens so they can be revoked.
type Registry interface {
	Save(ctx context.Context, rec *repo.RefreshRecord) error
	Get(ctx context.Context, jti string) (*repo.RefreshRecord, error)
	Revoke(ctx context.Context, jti string, at time.Time) error
	RevokeSubject(ctx context.Context, subject string, at time.Time) (int64, error)
}

type Config struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Service mints and validates HS256 session tokens.
type Service struct {
	cfg      Config
	registry Registry
	now      func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source used for issuing and validating.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a token service. registry may be nil, in which case refresh
// tokens are not tracked and cannot be revoked.
func NewService(cfg Config, registry Registry, opts ...Option) (*Service, error) {
	if len(cfg.Secret) < MinSecretLen {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLen)
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 24 * time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	s := &Service{cfg: cfg, registry: registry, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// IssueAccessToken mints a short-lived token whose subject is the identity email.
func (s *Service) IssueAccessToken(id *entity.Identity) (string, error) {
	signed, _, err := s.mint(id, KindAccess, s.cfg.AccessTTL)
	return signed, err
}

// IssueRefreshToken mints a long-lived token and records it in the registry.
func (s *Service) IssueRefreshToken(ctx context.Context, id *entity.Identity) (string, error) {
	signed, claims, err := s.mint(id, KindRefresh, s.cfg.RefreshTTL)
	if err != nil {
		return "", err
	}
	if s.registry != nil {
		rec := &repo.RefreshRecord{
			JTI:        claims.ID,
			IdentityID: id.ID,
			Subject:    claims.Subject,
			ExpiresAt:  claims.ExpiresAt.Time,
			CreatedAt:  claims.IssuedAt.Time,
		}
		if err := s.registry.Save(ctx, rec); err != nil {
			return "", fmt.Errorf("record refresh token: %w", err)
		}
	}
	return signed, nil
}

func (s *Service) mint(id *entity.Identity, kind Kind, ttl time.Duration) (string, *Claims, error) {
	now := s.now()
	claims := &Claims{
		Role: string(id.Role),
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   id.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        utilities.NewKSUID(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Validate verifies signature then expiry and returns the claims.
// Failures are ErrMalformed, ErrBadSignature or ErrExpired.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	}, opts...)
	if err != nil {
		return nil, classify(err)
	}
	if claims.Subject == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// ExtractSubject returns the email a valid token was issued for.
func (s *Service) ExtractSubject(tokenString string) (string, error) {
	c, err := s.Validate(tokenString)
	if err != nil {
		return "", err
	}
	return c.Subject, nil
}

// ValidateRefresh accepts only unrevoked refresh-kind tokens.
// It does not rotate: the same token stays usable until it expires or is revoked.
func (s *Service) ValidateRefresh(ctx context.Context, tokenString string) (*Claims, error) {
	c, err := s.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	if c.Kind != KindRefresh {
		return nil, ErrWrongKind
	}
	if s.registry == nil {
		return c, nil
	}
	rec, err := s.registry.Get(ctx, c.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRevoked
		}
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}
	if rec.Revoked() {
		return nil, ErrRevoked
	}
	return c, nil
}

// Revoke invalidates one refresh token. Expired tokens are already dead and revoke as a no-op.
func (s *Service) Revoke(ctx context.Context, tokenString string) error {
	c, err := s.Validate(tokenString)
	if errors.Is(err, ErrExpired) {
		return nil
	}
	if err != nil {
		return err
	}
	if c.Kind != KindRefresh {
		return ErrWrongKind
	}
	if s.registry == nil {
		return nil
	}
	return s.registry.Revoke(ctx, c.ID, s.now())
}

// RevokeSubject invalidates every refresh token issued for an email.
func (s *Service) RevokeSubject(ctx context.Context, email string) (int64, error) {
	if s.registry == nil {
		return 0, nil
	}
	return s.registry.RevokeSubject(ctx, email, s.now())
}
