package federation

import (
	"context"
	"fmt"
	"sort"
)

// Provider is the contract every external login provider implements. It returns
// identity facts only and never creates or links local identities.
type Provider interface {
	// Name is the registration id used in URLs ("google", "github").
	Name() string
	// AuthCodeURL builds the authorization redirect with PKCE parameters.
	AuthCodeURL(state, codeChallenge string) string
	// Exchange trades the authorization code for a profile.
	Exchange(ctx context.Context, code, codeVerifier string) (Profile, error)
}

// Registry holds the configured providers by name.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(list ...Provider) *Registry {
	m := make(map[string]Provider, len(list))
	for _, p := range list {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.providers))
	for n := range r.providers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
