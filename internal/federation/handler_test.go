package federation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	tokenrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/token/repo"
)

type fakeProvider struct {
	name         string
	profile      Profile
	err          error
	gotVerifier  string
	gotChallenge string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) AuthCodeURL(state, challenge string) string {
	f.gotChallenge = challenge
	return "https://idp.example.com/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeProvider) Exchange(_ context.Context, _, verifier string) (Profile, error) {
	f.gotVerifier = verifier
	return f.profile, f.err
}

type harness struct {
	h        *Handler
	mux      *http.ServeMux
	provider *fakeProvider
	store    *repo.MemoryRepo
	tokens   *token.Service
}

func newHarness(t *testing.T, debug bool) *harness {
	t.Helper()
	store := repo.NewMemoryRepo()
	tokens, err := token.NewService(token.Config{Secret: []byte("0123456789abcdef0123456789abcdef")}, tokenrepo.NewMemoryRefreshRepo())
	require.NoError(t, err)
	fp := &fakeProvider{name: "google", profile: OidcProfile{Subject: "g-1", Email: "ada@example.com", EmailVerified: true, Name: "Ada Lovelace"}}
	h := NewHandler(NewRegistry(fp), NewMemoryStateStore(), NewService(store, nil), tokens, HandlerConfig{
		SuccessURL: "http://localhost:3000/oauth2/redirect",
		FailureURL: "http://localhost:3000/login?from=oauth",
		Debug:      debug,
	}, zap.NewNop().Sugar())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth2/authorization/{provider}", h.Authorize)
	mux.HandleFunc("GET /oauth2/callback/{provider}", h.Callback)
	mux.HandleFunc("GET /debug/auth", h.DebugAuth)
	return &harness{h: h, mux: mux, provider: fp, store: store, tokens: tokens}
}

func (hs *harness) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	hs.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

// start runs the authorization redirect and returns the issued state.
func (hs *harness) start(t *testing.T) string {
	t.Helper()
	rec := hs.get(t, "/oauth2/authorization/google")
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func location(t *testing.T, rec *httptest.ResponseRecorder) *url.URL {
	t.Helper()
	require.Equal(t, http.StatusFound, rec.Code)
	u, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return u
}

func TestCallback_SuccessRedirectsWithTokens(t *testing.T) {
	hs := newHarness(t, false)
	state := hs.start(t)
	assert.NotEmpty(t, hs.provider.gotChallenge)

	u := location(t, hs.get(t, "/oauth2/callback/google?code=abc&state="+state))
	assert.Equal(t, "localhost:3000", u.Host)
	assert.Equal(t, "/oauth2/redirect", u.Path)
	access := u.Query().Get("accessToken")
	refresh := u.Query().Get("refreshToken")
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)
	assert.NotEmpty(t, hs.provider.gotVerifier)

	claims, err := hs.tokens.Validate(access)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", claims.Subject)
	assert.Equal(t, string(entity.RoleUser), claims.Role)
	_, err = hs.tokens.ValidateRefresh(context.Background(), refresh)
	assert.NoError(t, err)

	i, err := hs.store.GetByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, entity.ProviderGoogle, i.Provider)
}

func TestCallback_StateIsSingleUse(t *testing.T) {
	hs := newHarness(t, false)
	state := hs.start(t)
	location(t, hs.get(t, "/oauth2/callback/google?code=abc&state="+state))

	u := location(t, hs.get(t, "/oauth2/callback/google?code=abc&state="+state))
	assert.Equal(t, "/login", u.Path)
	assert.Equal(t, CodeInvalidState, u.Query().Get("error"))
	assert.Equal(t, "oauth", u.Query().Get("from"))
}

func TestCallback_UnknownState(t *testing.T) {
	hs := newHarness(t, false)
	u := location(t, hs.get(t, "/oauth2/callback/google?code=abc&state=forged"))
	assert.Equal(t, CodeInvalidState, u.Query().Get("error"))
}

func TestCallback_ProviderDenied(t *testing.T) {
	hs := newHarness(t, false)
	u := location(t, hs.get(t, "/oauth2/callback/google?error=access_denied&error_description=User+cancelled"))
	assert.Equal(t, CodeAccessDenied, u.Query().Get("error"))
	assert.Equal(t, "User cancelled", u.Query().Get("message"))
}

func TestCallback_FailuresNeverGoToDebugPage(t *testing.T) {
	hs := newHarness(t, true)
	hs.provider.profile = OAuth2Profile{Attributes: map[string]any{"sub": "1"}}
	state := hs.start(t)

	u := location(t, hs.get(t, "/oauth2/callback/google?code=abc&state="+state))
	assert.Equal(t, "/login", u.Path)
	assert.Equal(t, CodeMissingProviderEmail, u.Query().Get("error"))
	assert.Equal(t, 0, hs.store.Count())
}

func TestCallback_DebugSuccessGoesToDebugPage(t *testing.T) {
	hs := newHarness(t, true)
	state := hs.start(t)
	u := location(t, hs.get(t, "/oauth2/callback/google?code=abc&state="+state))
	assert.Equal(t, "/debug/auth", u.Path)

	rec := hs.get(t, u.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, []any{"google"}, out["providers"])
	assert.Contains(t, out, "token")
}

func TestCallback_ProviderMismatch(t *testing.T) {
	hs := newHarness(t, false)
	_, err := hs.store.Create(context.Background(), &entity.Identity{Email: "ada@example.com", Role: entity.RoleUser, Active: true, Provider: entity.ProviderGitHub})
	require.NoError(t, err)
	state := hs.start(t)
	u := location(t, hs.get(t, "/oauth2/callback/google?code=abc&state="+state))
	assert.Equal(t, CodeProviderMismatch, u.Query().Get("error"))
}

func TestCallback_UnverifiedEmail(t *testing.T) {
	hs := newHarness(t, false)
	hs.provider.profile = OidcProfile{Subject: "g-666", Email: "ada@example.com", EmailVerified: false, Name: "Mallory"}
	state := hs.start(t)
	u := location(t, hs.get(t, "/oauth2/callback/google?code=abc&state="+state))
	assert.Equal(t, "/login", u.Path)
	assert.Equal(t, CodeUnverifiedEmail, u.Query().Get("error"))
	assert.Empty(t, u.Query().Get("accessToken"))
	assert.Equal(t, 0, hs.store.Count())
}

func TestCallback_SubjectMismatch(t *testing.T) {
	hs := newHarness(t, false)
	sub := "g-1"
	_, err := hs.store.Create(context.Background(), &entity.Identity{Email: "ada@example.com", Role: entity.RoleAdmin, Active: true, Provider: entity.ProviderGoogle, ProviderSubjectID: &sub})
	require.NoError(t, err)

	hs.provider.profile = OidcProfile{Subject: "g-2", Email: "ada@example.com", EmailVerified: true, Name: "Mallory"}
	state := hs.start(t)
	u := location(t, hs.get(t, "/oauth2/callback/google?code=abc&state="+state))
	assert.Equal(t, CodeProviderMismatch, u.Query().Get("error"))
	assert.Empty(t, u.Query().Get("accessToken"))
}

func TestCallback_ProviderComesFromRegistration(t *testing.T) {
	hs := newHarness(t, false)
	// a profile claiming another provider is restamped with the registration it came through
	hs.provider.profile = OidcProfile{Provider: entity.ProviderGitHub, Subject: "g-1", Email: "ada@example.com", EmailVerified: true}
	state := hs.start(t)
	location(t, hs.get(t, "/oauth2/callback/google?code=abc&state="+state))

	i, err := hs.store.GetByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, entity.ProviderGoogle, i.Provider)
}

func TestCallback_ExchangeFailure(t *testing.T) {
	hs := newHarness(t, false)
	hs.provider.err = errors.New("invalid_grant")
	state := hs.start(t)
	u := location(t, hs.get(t, "/oauth2/callback/google?code=abc&state="+state))
	assert.Equal(t, CodeExchangeFailed, u.Query().Get("error"))
}

func TestCallback_DisabledAccount(t *testing.T) {
	hs := newHarness(t, false)
	i := &entity.Identity{Email: "ada@example.com", Role: entity.RoleUser, Active: true, Provider: entity.ProviderGoogle}
	_, err := hs.store.Create(context.Background(), i)
	require.NoError(t, err)
	require.NoError(t, hs.store.SetActive(context.Background(), i.ID, false))

	state := hs.start(t)
	u := location(t, hs.get(t, "/oauth2/callback/google?code=abc&state="+state))
	assert.Equal(t, CodeAccessDenied, u.Query().Get("error"))
}

func TestAuthorize_UnknownProvider(t *testing.T) {
	hs := newHarness(t, false)
	rec := hs.get(t, "/oauth2/authorization/okta")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWithQuery(t *testing.T) {
	assert.Equal(t, "http://x/cb?a=1&b=2", withQuery("http://x/cb?a=1", url.Values{"b": {"2"}}))
}
