package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	tokenrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/token/repo"
)

// flakyRegistry fails lookups while down, as an unreachable database would.
type flakyRegistry struct {
	*tokenrepo.MemoryRefreshRepo
	down bool
}

func (r *flakyRegistry) Get(ctx context.Context, jti string) (*tokenrepo.RefreshRecord, error) {
	if r.down {
		return nil, errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
	}
	return r.MemoryRefreshRepo.Get(ctx, jti)
}

type fixture struct {
	h        *Handler
	svc      *Service
	store    *repo.MemoryRepo
	tokens   *token.Service
	registry *flakyRegistry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc, store := newTestService(t)
	registry := &flakyRegistry{MemoryRefreshRepo: tokenrepo.NewMemoryRefreshRepo()}
	tokens, err := token.NewService(token.Config{Secret: []byte("0123456789abcdef0123456789abcdef")}, registry)
	require.NoError(t, err)
	return &fixture{h: NewHandler(svc, tokens, zap.NewNop().Sugar()), svc: svc, store: store, tokens: tokens, registry: registry}
}

func send(t *testing.T, fn http.HandlerFunc, method, email string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, "/", bytes.NewReader(b))
	req.SetPathValue("email", email)
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func post(t *testing.T, fn http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(b))
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (f *fixture) signup(t *testing.T) {
	t.Helper()
	rec := post(t, f.h.Signup, SignupRequest{Username: "ada", Email: "ada@example.com", Password: "secret1", FirstName: "Ada", Role: []string{"admin"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "User registered successfully!", decode[MessageResponse](t, rec).Message)
}

func (f *fixture) signin(t *testing.T) JwtResponse {
	t.Helper()
	rec := post(t, f.h.Signin, SigninRequest{Email: "ada@example.com", Password: "secret1"})
	require.Equal(t, http.StatusOK, rec.Code)
	return decode[JwtResponse](t, rec)
}

func TestHandler_SignupThenSignin(t *testing.T) {
	f := newFixture(t)
	f.signup(t)
	resp := f.signin(t)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, "ada", resp.Username)
	assert.Equal(t, []string{"ROLE_USER"}, resp.Authorities)

	sub, err := f.tokens.ExtractSubject(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", sub)

	stored, err := f.store.GetByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	claims, err := f.tokens.Validate(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, string(stored.Role), claims.Role)
}

func TestHandler_SignupDuplicate(t *testing.T) {
	f := newFixture(t)
	f.signup(t)
	rec := post(t, f.h.Signup, SignupRequest{Email: "ADA@example.com", Password: "secret1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Email is already in use!", decode[MessageResponse](t, rec).Message)
}

func TestHandler_SigninBadCredentials(t *testing.T) {
	f := newFixture(t)
	f.signup(t)
	for _, req := range []SigninRequest{
		{Email: "ada@example.com", Password: "nope"},
		{Email: "ghost@example.com", Password: "secret1"},
	} {
		rec := post(t, f.h.Signin, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid credentials", decode[MessageResponse](t, rec).Message)
	}
}

func TestHandler_RefreshEchoesToken(t *testing.T) {
	f := newFixture(t)
	f.signup(t)
	login := f.signin(t)

	first := decode[RefreshResponse](t, post(t, f.h.Refresh, RefreshRequest{RefreshToken: login.RefreshToken}))
	second := decode[RefreshResponse](t, post(t, f.h.Refresh, RefreshRequest{RefreshToken: login.RefreshToken}))
	assert.Equal(t, login.RefreshToken, first.RefreshToken)
	assert.Equal(t, login.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)

	c1, err := f.tokens.Validate(first.AccessToken)
	require.NoError(t, err)
	c2, err := f.tokens.Validate(second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, token.KindAccess, c1.Kind)
	assert.Equal(t, token.KindAccess, c2.Kind)
	assert.Equal(t, "ada@example.com", c1.Subject)
	assert.Equal(t, c1.Subject, c2.Subject)
	assert.Equal(t, c1.Role, c2.Role)
}

func TestHandler_RefreshRegistryDownIsServerError(t *testing.T) {
	f := newFixture(t)
	f.signup(t)
	login := f.signin(t)
	f.registry.down = true

	rec := post(t, f.h.Refresh, RefreshRequest{RefreshToken: login.RefreshToken})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Refresh failed", decode[MessageResponse](t, rec).Message)

	rec = post(t, f.h.Introspect, IntrospectRequest{Token: login.RefreshToken})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// a bad token is still a 400, registry or not
	rec = post(t, f.h.Refresh, RefreshRequest{RefreshToken: "garbage"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.registry.down = false
	rec = post(t, f.h.Refresh, RefreshRequest{RefreshToken: login.RefreshToken})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_RefreshRejectsAccessToken(t *testing.T) {
	f := newFixture(t)
	f.signup(t)
	login := f.signin(t)
	rec := post(t, f.h.Refresh, RefreshRequest{RefreshToken: login.AccessToken})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Refresh token is not valid", decode[MessageResponse](t, rec).Message)
}

func TestHandler_RefreshRejectsDisabledIdentity(t *testing.T) {
	f := newFixture(t)
	f.signup(t)
	login := f.signin(t)
	require.NoError(t, f.store.SetActive(context.Background(), login.ID, false))
	rec := post(t, f.h.Refresh, RefreshRequest{RefreshToken: login.RefreshToken})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_SignoutRevokes(t *testing.T) {
	f := newFixture(t)
	f.signup(t)
	login := f.signin(t)

	rec := post(t, f.h.Signout, RefreshRequest{RefreshToken: login.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "User logged out successfully!", decode[MessageResponse](t, rec).Message)

	rec = post(t, f.h.Refresh, RefreshRequest{RefreshToken: login.RefreshToken})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// idempotent
	rec = post(t, f.h.Signout, RefreshRequest{RefreshToken: login.RefreshToken})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = post(t, f.h.Signout, struct{}{})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_Introspect(t *testing.T) {
	f := newFixture(t)
	f.signup(t)
	login := f.signin(t)

	out := decode[map[string]any](t, post(t, f.h.Introspect, IntrospectRequest{Token: login.AccessToken}))
	assert.Equal(t, true, out["active"])
	assert.Equal(t, "ada@example.com", out["sub"])
	assert.Equal(t, "access", out["kind"])

	out = decode[map[string]any](t, post(t, f.h.Introspect, IntrospectRequest{Token: "garbage"}))
	assert.Equal(t, false, out["active"])

	post(t, f.h.Signout, RefreshRequest{RefreshToken: login.RefreshToken})
	out = decode[map[string]any](t, post(t, f.h.Introspect, IntrospectRequest{Token: login.RefreshToken}))
	assert.Equal(t, false, out["active"])
}

func TestHandler_AdminRevokeTokens(t *testing.T) {
	f := newFixture(t)
	f.signup(t)
	login := f.signin(t)
	f.signin(t)

	rec := send(t, f.h.RevokeTokens, http.MethodPost, "ada@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), decode[IdentityResponse](t, rec).RevokedTokens)

	rec = post(t, f.h.Refresh, RefreshRequest{RefreshToken: login.RefreshToken})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(t, f.h.RevokeTokens, http.MethodPost, "ghost@example.com", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_AdminDisableRevokesSessions(t *testing.T) {
	f := newFixture(t)
	f.signup(t)
	login := f.signin(t)

	rec := send(t, f.h.SetActive, http.MethodPut, "ada@example.com", map[string]any{"active": false})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[IdentityResponse](t, rec)
	assert.False(t, out.Active)
	assert.Equal(t, int64(1), out.RevokedTokens)

	_, err := f.tokens.ValidateRefresh(context.Background(), login.RefreshToken)
	assert.ErrorIs(t, err, token.ErrRevoked)
	rec = post(t, f.h.Signin, SigninRequest{Email: "ada@example.com", Password: "secret1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(t, f.h.SetActive, http.MethodPut, "ada@example.com", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = send(t, f.h.SetActive, http.MethodPut, "ada@example.com", map[string]any{"active": true})
	require.Equal(t, http.StatusOK, rec.Code)
	f.signin(t)
}

func TestHandler_AdminSetRole(t *testing.T) {
	f := newFixture(t)
	f.signup(t)

	rec := send(t, f.h.SetRole, http.MethodPut, "ada@example.com", RoleRequest{Role: "seller"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(entity.RoleSeller), decode[IdentityResponse](t, rec).Role)

	login := f.signin(t)
	assert.Equal(t, []string{"ROLE_SELLER"}, login.Authorities)

	rec = send(t, f.h.SetRole, http.MethodPut, "ada@example.com", RoleRequest{Role: "root"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = send(t, f.h.SetRole, http.MethodPut, "ghost@example.com", RoleRequest{Role: "admin"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
