package auth

import (
	"net/http"
	"slices"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/entity"
)

// Rule maps a path prefix to an access requirement. With Anonymous unset and no
// Roles, any authenticated principal is allowed.
type Rule struct {
	Prefix    string
	Anonymous bool
	Roles     []entity.Role
}

// Policy is an ordered route table; the longest matching prefix wins.
type Policy struct {
	rules []Rule
}

func NewPolicy(rules ...Rule) *Policy {
	sorted := slices.Clone(rules)
	slices.SortStableFunc(sorted, func(a, b Rule) int { return len(b.Prefix) - len(a.Prefix) })
	return &Policy{rules: sorted}
}

// DefaultPolicy is the commerce route table with anonymous opening the given prefixes.
// An anonymous prefix equal to a role prefix wins over it.
func DefaultPolicy(anonymous []string) *Policy {
	rules := make([]Rule, 0, len(anonymous)+3)
	for _, p := range anonymous {
		rules = append(rules, Rule{Prefix: p, Anonymous: true})
	}
	rules = append(rules,
		Rule{Prefix: "/api/admin/", Roles: []entity.Role{entity.RoleAdmin}},
		Rule{Prefix: "/api/moderator/", Roles: []entity.Role{entity.RoleSeller, entity.RoleAdmin}},
		Rule{Prefix: "/api/user/", Roles: []entity.Role{entity.RoleUser, entity.RoleSeller, entity.RoleAdmin}},
	)
	return NewPolicy(rules...)
}

// AnonymousPrefixes lists the prefixes the table opens to everyone.
func (p *Policy) AnonymousPrefixes() []string {
	var out []string
	for _, r := range p.rules {
		if r.Anonymous {
			out = append(out, r.Prefix)
		}
	}
	return out
}

func (p *Policy) match(path string) (Rule, bool) {
	for _, r := range p.rules {
		if MatchPrefix(path, r.Prefix) {
			return r, true
		}
	}
	return Rule{}, false
}

// Evaluate returns nil when the principal may access path, ErrAuthenticationRequired when
// a principal is needed and missing, or ErrAuthorizationDenied when its role is insufficient.
func (p *Policy) Evaluate(path string, pr *Principal) error {
	rule, ok := p.match(path)
	if ok && rule.Anonymous {
		return nil
	}
	if pr == nil {
		return ErrAuthenticationRequired
	}
	if !ok || len(rule.Roles) == 0 {
		return nil
	}
	if !pr.HasAnyRole(rule.Roles...) {
		return ErrAuthorizationDenied
	}
	return nil
}

// Middleware enforces the table on every request after the Interceptor has run.
func (p *Policy) Middleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pr, _ := PrincipalFromContext(r.Context())
			if err := p.Evaluate(r.URL.Path, pr); err != nil {
				status := statusFor(err)
				logger.Debugw("request denied", "path", r.URL.Path, "status", status)
				message := "Full authentication is required to access this resource"
				if status == http.StatusForbidden {
					message = "Access is denied"
				}
				WriteAuthError(w, r, status, message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
