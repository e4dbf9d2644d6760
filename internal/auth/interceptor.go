package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
)

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	Validate(tokenString string) (*token.Claims, error)
}

// IdentityLookup re-reads the identity behind a token subject.
type IdentityLookup interface {
	GetByEmail(ctx context.Context, email string) (*entity.Identity, error)
}

// Interceptor turns a bearer token into a request principal. Invalid or absent
// tokens leave the request unauthenticated; the Policy decides what that means.
type Interceptor struct {
	tokens     TokenValidator
	identities IdentityLookup
	anonymous  []string
	logger     *zap.SugaredLogger
}

func NewInterceptor(tokens TokenValidator, identities IdentityLookup, anonymous []string, logger *zap.SugaredLogger) *Interceptor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Interceptor{tokens: tokens, identities: identities, anonymous: anonymous, logger: logger}
}

// Authenticate resolves the principal for a bearer token. A nil principal with a nil
// error means the request continues unauthenticated.
func (in *Interceptor) Authenticate(ctx context.Context, bearer string) (*Principal, error) {
	if bearer == "" {
		return nil, nil
	}
	claims, err := in.tokens.Validate(bearer)
	if err != nil {
		in.logger.Debugw("bearer token rejected", "err", err)
		return nil, nil
	}
	if claims.Kind != token.KindAccess {
		in.logger.Debugw("non-access token presented as bearer", "kind", claims.Kind, "sub", claims.Subject)
		return nil, nil
	}
	i, err := in.identities.GetByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrResourceNotFound
		}
		return nil, err
	}
	if !i.Active {
		return nil, ErrAccountDisabled
	}
	return principalOf(i), nil
}

// Middleware runs Authenticate for every request. On anonymous paths a failed lookup
// leaves the request unauthenticated instead of rejecting it.
func (in *Interceptor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := in.Authenticate(r.Context(), bearerToken(r))
		if err != nil && MatchAny(r.URL.Path, in.anonymous) {
			in.logger.Debugw("ignoring bearer on anonymous path", "path", r.URL.Path, "err", err)
			p, err = nil, nil
		}
		if err != nil {
			status := statusFor(err)
			switch status {
			case http.StatusInternalServerError:
				in.logger.Errorw("identity lookup failed", "path", r.URL.Path, "err", err)
				WriteAuthError(w, r, status, "Authentication service unavailable")
			default:
				in.logger.Infow("authentication failed", "path", r.URL.Path, "err", err)
				WriteAuthError(w, r, status, authMessage(err))
			}
			return
		}
		if p != nil {
			r = r.WithContext(WithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

func authMessage(err error) string {
	switch {
	case errors.Is(err, ErrAccountDisabled):
		return "Account is disabled"
	case errors.Is(err, ErrResourceNotFound):
		return "User not found"
	default:
		return err.Error()
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < len("bearer ") || !strings.EqualFold(h[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[len("bearer "):])
}

// MatchPrefix reports whether path falls under prefix. A prefix ending in "/" also
// matches the bare path without it; other prefixes match whole path segments only.
func MatchPrefix(path, prefix string) bool {
	if strings.HasSuffix(prefix, "/") {
		return path == strings.TrimSuffix(prefix, "/") || strings.HasPrefix(path, prefix)
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// MatchAny reports whether path matches any of prefixes.
func MatchAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if MatchPrefix(path, p) {
			return true
		}
	}
	return false
}
