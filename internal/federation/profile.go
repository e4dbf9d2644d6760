package federation

import (
	"fmt"
	"strings"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/entity"
)

// NormalizedProfile is the provider-neutral view of an external login.
type NormalizedProfile struct {
	Provider          entity.Provider
	ExternalSubjectID string
	Email             string
	EmailVerified     bool
	DisplayName       string
}

// Profile is what a provider hands back after a successful exchange.
// The only implementations are OAuth2Profile and OidcProfile.
type Profile interface {
	Normalize() NormalizedProfile
	// withProvider stamps the provider the callback resolved from its registration name.
	withProvider(p entity.Provider) Profile
}

// OAuth2Profile wraps a plain OAuth2 userinfo document (GitHub style).
type OAuth2Profile struct {
	Provider   entity.Provider
	Attributes map[string]any
}

func (p OAuth2Profile) withProvider(pr entity.Provider) Profile {
	p.Provider = pr
	return p
}

// Normalize reads the email as verified only when the provider said so through an
// email_verified attribute.
func (p OAuth2Profile) Normalize() NormalizedProfile {
	verified, _ := p.Attributes["email_verified"].(bool)
	return NormalizedProfile{
		Provider:          p.Provider,
		ExternalSubjectID: firstAttr(p.Attributes, "sub", "id"),
		Email:             firstAttr(p.Attributes, "email"),
		EmailVerified:     verified,
		DisplayName:       firstAttr(p.Attributes, "name", "login"),
	}
}

// OidcProfile carries claims from a verified ID token (Google style).
type OidcProfile struct {
	Provider      entity.Provider
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

func (p OidcProfile) withProvider(pr entity.Provider) Profile {
	p.Provider = pr
	return p
}

func (p OidcProfile) Normalize() NormalizedProfile {
	return NormalizedProfile{
		Provider:          p.Provider,
		ExternalSubjectID: p.Subject,
		Email:             p.Email,
		EmailVerified:     p.EmailVerified,
		DisplayName:       p.Name,
	}
}

// firstAttr returns the first non-empty attribute among keys, stringified.
// JSON numbers (GitHub ids) decode as float64 and are printed without exponent.
func firstAttr(attrs map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := attrs[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		case int64:
			return fmt.Sprintf("%d", v)
		case int:
			return fmt.Sprintf("%d", v)
		}
	}
	return ""
}

// splitName takes the first token as first name and, when there are more, the last
// token as last name. Middle tokens are dropped.
func splitName(display string) (first, last string) {
	parts := strings.Fields(display)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], parts[len(parts)-1]
	}
}
