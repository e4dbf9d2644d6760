package auth

import (
	"context"
	"slices"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/entity"
)

// Principal is the authenticated caller of one request, built from the stored identity.
type Principal struct {
	ID     int64       `json:"id"`
	Email  string      `json:"email"`
	Role   entity.Role `json:"role"`
	Active bool        `json:"active"`
}

func principalOf(i *entity.Identity) *Principal {
	return &Principal{ID: i.ID, Email: i.Email, Role: i.Role, Active: i.Active}
}

// HasAnyRole reports whether the principal holds one of roles.
func (p *Principal) HasAnyRole(roles ...entity.Role) bool {
	return p != nil && slices.Contains(roles, p.Role)
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the request principal, if the request was authenticated.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
