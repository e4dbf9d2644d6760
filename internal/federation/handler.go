package federation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// Failure codes carried in the failure redirect's error parameter.
const (
	CodeAccessDenied         = "access_denied"
	CodeInvalidState         = "invalid_state"
	CodeExchangeFailed       = "exchange_failed"
	CodeMissingProviderEmail = "missing_provider_email"
	CodeUnverifiedEmail      = "unverified_provider_email"
	CodeProviderMismatch     = "provider_mismatch"
	CodeServerError          = "server_error"
)

// Tokens mints the session tokens handed to the client after a federated login.
type Tokens interface {
	IssueAccessToken(i *entity.Identity) (string, error)
	IssueRefreshToken(ctx context.Context, i *entity.Identity) (string, error)
	Validate(tokenString string) (*token.Claims, error)
}

type HandlerConfig struct {
	SuccessURL string
	FailureURL string
	// Debug sends successful logins to DebugURL instead of SuccessURL.
	Debug    bool
	DebugURL string
	StateTTL time.Duration
}

// Handler drives the authorization-code flow for every registered provider.
type Handler struct {
	providers *Registry
	states    StateStore
	svc       *Service
	tokens    Tokens
	cfg       HandlerConfig
	logger    *zap.SugaredLogger
}

func NewHandler(providers *Registry, states StateStore, svc *Service, tokens Tokens, cfg HandlerConfig, logger *zap.SugaredLogger) *Handler {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	if cfg.DebugURL == "" {
		cfg.DebugURL = "/debug/auth"
	}
	return &Handler{providers: providers, states: states, svc: svc, tokens: tokens, cfg: cfg, logger: logger}
}

// Authorize redirects the browser to the provider's consent page.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("provider")
	p, err := h.providers.Get(name)
	if err != nil {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"message": "Unknown provider: " + name})
		return
	}
	state := utilities.NewKSUID()
	verifier := oauth2.GenerateVerifier()
	pending := PendingAuth{Provider: name, Verifier: verifier, CreatedAt: time.Now().UTC()}
	if err := h.states.Save(r.Context(), state, pending, h.cfg.StateTTL); err != nil {
		h.logger.Errorw("save oauth state failed", "provider", name, "err", err)
		h.fail(w, r, CodeServerError, "Could not start login")
		return
	}
	http.Redirect(w, r, p.AuthCodeURL(state, oauth2.S256ChallengeFromVerifier(verifier)), http.StatusFound)
}

// Callback completes the flow: state check, code exchange, identity resolution, token minting.
// Every failure redirects to the configured failure URL.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("provider")
	q := r.URL.Query()

	if e := q.Get("error"); e != "" {
		msg := q.Get("error_description")
		if msg == "" {
			msg = e
		}
		h.logger.Infow("provider returned error", "provider", name, "error", e)
		h.fail(w, r, CodeAccessDenied, msg)
		return
	}

	pending, err := h.states.Take(ctx, q.Get("state"))
	if err != nil {
		if !errors.Is(err, ErrInvalidState) {
			h.logger.Errorw("load oauth state failed", "provider", name, "err", err)
		}
		h.fail(w, r, CodeInvalidState, "Login session expired, please try again")
		return
	}
	if pending.Provider != name {
		h.fail(w, r, CodeInvalidState, "Login session does not match provider")
		return
	}

	p, err := h.providers.Get(name)
	if err != nil {
		h.fail(w, r, CodeInvalidState, err.Error())
		return
	}
	source := entity.ProviderFromRegistration(name)
	if source == entity.ProviderLocal {
		h.logger.Errorw("registered provider has no identity source", "provider", name)
		h.fail(w, r, CodeServerError, "Could not complete login")
		return
	}
	code := q.Get("code")
	if code == "" {
		h.fail(w, r, CodeExchangeFailed, "Missing authorization code")
		return
	}
	profile, err := p.Exchange(ctx, code, pending.Verifier)
	if err != nil {
		if errors.Is(err, ErrMissingProviderEmail) {
			h.fail(w, r, CodeMissingProviderEmail, "Email not found from OAuth2 provider")
			return
		}
		h.logger.Warnw("oauth code exchange failed", "provider", name, "err", err)
		h.fail(w, r, CodeExchangeFailed, "Could not complete login with "+name)
		return
	}

	fp, err := h.svc.Resolve(ctx, profile.withProvider(source))
	switch {
	case errors.Is(err, ErrMissingProviderEmail):
		h.fail(w, r, CodeMissingProviderEmail, "Email not found from OAuth2 provider")
		return
	case errors.Is(err, ErrUnverifiedEmail):
		h.fail(w, r, CodeUnverifiedEmail, "Email is not verified with "+name)
		return
	case errors.Is(err, ErrProviderMismatch):
		h.fail(w, r, CodeProviderMismatch, "This email is registered with a different sign-in method")
		return
	case errors.Is(err, ErrSubjectMismatch):
		h.fail(w, r, CodeProviderMismatch, "This email is linked to a different "+name+" account")
		return
	case err != nil:
		h.logger.Errorw("resolve federated identity failed", "provider", name, "err", err)
		h.fail(w, r, CodeServerError, "Could not complete login")
		return
	}
	if !fp.Identity.Active {
		h.fail(w, r, CodeAccessDenied, "Account is disabled")
		return
	}

	access, err := h.tokens.IssueAccessToken(fp.Identity)
	if err != nil {
		h.logger.Errorw("issue access token failed", "id", fp.Identity.ID, "err", err)
		h.fail(w, r, CodeServerError, "Could not complete login")
		return
	}
	refresh, err := h.tokens.IssueRefreshToken(ctx, fp.Identity)
	if err != nil {
		h.logger.Errorw("issue refresh token failed", "id", fp.Identity.ID, "err", err)
		h.fail(w, r, CodeServerError, "Could not complete login")
		return
	}
	h.logger.Infow("federated login", "provider", name, "id", fp.Identity.ID, "created", fp.Created)

	target := h.cfg.SuccessURL
	if h.cfg.Debug {
		target = h.cfg.DebugURL
	}
	http.Redirect(w, r, withQuery(target, url.Values{
		"accessToken":  {access},
		"refreshToken": {refresh},
	}), http.StatusFound)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, code, message string) {
	http.Redirect(w, r, withQuery(h.cfg.FailureURL, url.Values{
		"error":   {code},
		"message": {message},
	}), http.StatusFound)
}

// DebugAuth reports the configured providers, the request principal and, when an
// accessToken query parameter is present, its decoded claims.
func (h *Handler) DebugAuth(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"providers":     h.providers.Names(),
		"authenticated": false,
	}
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		out["authenticated"] = true
		out["principal"] = p
	}
	if at := r.URL.Query().Get("accessToken"); at != "" {
		claims, err := h.tokens.Validate(at)
		if err != nil {
			out["tokenError"] = err.Error()
		} else {
			out["token"] = claims
		}
	}
	h.writeJSON(w, http.StatusOK, out)
}

func withQuery(base string, vals url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for k, vs := range vals {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
