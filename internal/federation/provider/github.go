package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/federation"
)

const (
	githubName       = "github"
	GitHubAPIBaseURL = "https://api.github.com"
)

// GitHub signs users in with plain OAuth2 and reads the profile from the REST API.
type GitHub struct {
	oauthConfig *oauth2.Config
	apiBase     string
}

func NewGitHub(clientID, clientSecret, redirectURL string) (*GitHub, error) {
	if clientID == "" || clientSecret == "" || redirectURL == "" {
		return nil, errors.New("github oauth config missing required fields")
	}
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     githuboauth.Endpoint,
		Scopes:       []string{"read:user", "user:email"},
	}
	return NewGitHubWith(cfg, GitHubAPIBaseURL), nil
}

// NewGitHubWith builds the provider against an explicit config and API base URL.
func NewGitHubWith(cfg *oauth2.Config, apiBase string) *GitHub {
	return &GitHub{oauthConfig: cfg, apiBase: strings.TrimSuffix(apiBase, "/")}
}

func (g *GitHub) Name() string { return githubName }

func (g *GitHub) AuthCodeURL(state, codeChallenge string) string {
	return g.oauthConfig.AuthCodeURL(
		state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// Exchange returns the /user document as an OAuth2Profile. GitHub only publishes
// verified addresses on the profile, so a public email counts as verified. Users with
// a private email get the primary verified address from /user/emails; when there is
// none the profile carries no email and resolution fails downstream.
func (g *GitHub) Exchange(ctx context.Context, code, codeVerifier string) (federation.Profile, error) {
	tok, err := g.oauthConfig.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("github token exchange failed: %w", err)
	}
	client := g.oauthConfig.Client(ctx, tok)

	attrs := map[string]any{}
	if err := g.getJSON(ctx, client, "/user", &attrs); err != nil {
		return nil, err
	}
	if email, _ := attrs["email"].(string); email != "" {
		attrs["email_verified"] = true
	} else {
		var emails []githubEmail
		if err := g.getJSON(ctx, client, "/user/emails", &emails); err != nil {
			return nil, err
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				attrs["email"] = e.Email
				attrs["email_verified"] = true
				break
			}
		}
	}
	return federation.OAuth2Profile{Attributes: attrs}, nil
}

func (g *GitHub) getJSON(ctx context.Context, client *http.Client, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBase+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("github %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("github %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("github %s: decode: %w", path, err)
	}
	return nil
}
