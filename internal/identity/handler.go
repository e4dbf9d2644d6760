package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
)

// Tokens is the part of the token service the auth endpoints use.
type Tokens interface {
	IssueAccessToken(i *entity.Identity) (string, error)
	IssueRefreshToken(ctx context.Context, i *entity.Identity) (string, error)
	Validate(tokenString string) (*token.Claims, error)
	ValidateRefresh(ctx context.Context, tokenString string) (*token.Claims, error)
	Revoke(ctx context.Context, tokenString string) error
	RevokeSubject(ctx context.Context, email string) (int64, error)
}

// Handler exposes HTTP endpoints for local authentication (signin / signup / refresh / signout).
type Handler struct {
	svc    *Service
	tokens Tokens
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, tokens Tokens, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, tokens: tokens, logger: logger}
}

// MessageResponse is the body of every non-token reply.
type MessageResponse struct {
	Message string `json:"message"`
}

// SigninRequest login payload.
type SigninRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// JwtResponse is returned on successful signin.
type JwtResponse struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	TokenType    string   `json:"tokenType"`
	ID           int64    `json:"id"`
	Username     string   `json:"username"`
	Email        string   `json:"email"`
	Authorities  []string `json:"authorities"`
}

func (h *Handler) Signin(w http.ResponseWriter, r *http.Request) {
	var req SigninRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid signin payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, MessageResponse{Message: "Invalid credentials"})
		return
	}
	i, err := h.svc.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrBadCredentials) {
			h.logger.Debugw("signin rejected", "email", req.Email)
			h.writeJSON(w, http.StatusBadRequest, MessageResponse{Message: "Invalid credentials"})
			return
		}
		h.logger.Errorw("signin failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, MessageResponse{Message: "Signin failed"})
		return
	}
	access, refresh, err := h.issuePair(r.Context(), i)
	if err != nil {
		h.logger.Errorw("issue tokens failed", "id", i.ID, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, MessageResponse{Message: "Signin failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, JwtResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ID:           i.ID,
		Username:     i.Username,
		Email:        i.Email,
		Authorities:  []string{string(i.Role)},
	})
}

func (h *Handler) issuePair(ctx context.Context, i *entity.Identity) (string, string, error) {
	access, err := h.tokens.IssueAccessToken(i)
	if err != nil {
		return "", "", err
	}
	refresh, err := h.tokens.IssueRefreshToken(ctx, i)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// SignupRequest request body for signup endpoint.
type SignupRequest struct {
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Password  string   `json:"password"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Role      []string `json:"role"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid signup payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, MessageResponse{Message: "Invalid payload"})
		return
	}
	_, err := h.svc.Signup(r.Context(), SignupInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Roles:     req.Role,
	})
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, MessageResponse{Message: "User registered successfully!"})
	case errors.Is(err, ErrEmailTaken):
		h.writeJSON(w, http.StatusBadRequest, MessageResponse{Message: "Email is already in use!"})
	case errors.Is(err, ErrInvalidSignup):
		h.writeJSON(w, http.StatusBadRequest, MessageResponse{Message: err.Error()})
	default:
		h.logger.Warnw("signup failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, MessageResponse{Message: "Signup failed"})
	}
}

// RefreshRequest carries a refresh token for /refresh and /signout.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse echoes the refresh token alongside a new access token.
type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	invalid := MessageResponse{Message: "Refresh token is not valid"}
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		h.writeJSON(w, http.StatusBadRequest, invalid)
		return
	}
	claims, err := h.tokens.ValidateRefresh(r.Context(), req.RefreshToken)
	if err != nil {
		if rejected(err) {
			h.logger.Debugw("refresh rejected", "err", err)
			h.writeJSON(w, http.StatusBadRequest, invalid)
			return
		}
		h.logger.Errorw("refresh registry lookup failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, MessageResponse{Message: "Refresh failed"})
		return
	}
	i, err := h.svc.Lookup(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			h.writeJSON(w, http.StatusBadRequest, invalid)
			return
		}
		h.logger.Errorw("refresh lookup failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, MessageResponse{Message: "Refresh failed"})
		return
	}
	if !i.Active {
		h.writeJSON(w, http.StatusBadRequest, invalid)
		return
	}
	access, err := h.tokens.IssueAccessToken(i)
	if err != nil {
		h.logger.Errorw("issue access token failed", "id", i.ID, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, MessageResponse{Message: "Refresh failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, RefreshResponse{AccessToken: access, RefreshToken: req.RefreshToken})
}

// Signout revokes the presented refresh token. Signing out with no token still succeeds.
func (h *Handler) Signout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.RefreshToken != "" {
		if err := h.tokens.Revoke(r.Context(), req.RefreshToken); err != nil {
			if rejected(err) {
				h.writeJSON(w, http.StatusBadRequest, MessageResponse{Message: "Refresh token is not valid"})
				return
			}
			h.logger.Errorw("revoke failed", "err", err)
			h.writeJSON(w, http.StatusInternalServerError, MessageResponse{Message: "Signout failed"})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, MessageResponse{Message: "User logged out successfully!"})
}

// IntrospectRequest carries any token minted by this service.
type IntrospectRequest struct {
	Token string `json:"token"`
}

// Introspect reports whether a token is active, RFC 7662 style.
func (h *Handler) Introspect(w http.ResponseWriter, r *http.Request) {
	var req IntrospectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		h.writeJSON(w, http.StatusBadRequest, MessageResponse{Message: "token is required"})
		return
	}
	claims, err := h.tokens.Validate(req.Token)
	if err == nil && claims.Kind == token.KindRefresh {
		claims, err = h.tokens.ValidateRefresh(r.Context(), req.Token)
	}
	if err != nil {
		if !rejected(err) {
			h.logger.Errorw("introspect registry lookup failed", "err", err)
			h.writeJSON(w, http.StatusInternalServerError, MessageResponse{Message: "Introspection failed"})
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	out := map[string]any{
		"active": true,
		"sub":    claims.Subject,
		"role":   claims.Role,
		"kind":   claims.Kind,
		"iss":    claims.Issuer,
		"exp":    claims.ExpiresAt.Unix(),
		"jti":    claims.ID,
	}
	if claims.IssuedAt != nil {
		out["iat"] = claims.IssuedAt.Unix()
	}
	h.writeJSON(w, http.StatusOK, out)
}

// rejected reports whether err is a verdict on the token itself rather than a registry failure.
func rejected(err error) bool {
	return errors.Is(err, token.ErrMalformed) ||
		errors.Is(err, token.ErrBadSignature) ||
		errors.Is(err, token.ErrExpired) ||
		errors.Is(err, token.ErrWrongKind) ||
		errors.Is(err, token.ErrRevoked)
}

// IdentityResponse is the admin view of an identity after a change.
type IdentityResponse struct {
	ID            int64  `json:"id"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	Active        bool   `json:"active"`
	RevokedTokens int64  `json:"revokedTokens"`
}

func identityResponse(i *entity.Identity, revoked int64) IdentityResponse {
	return IdentityResponse{ID: i.ID, Email: i.Email, Role: string(i.Role), Active: i.Active, RevokedTokens: revoked}
}

// RevokeTokens revokes every refresh token held by the identity in the path.
func (h *Handler) RevokeTokens(w http.ResponseWriter, r *http.Request) {
	i, err := h.svc.Lookup(r.Context(), r.PathValue("email"))
	if err != nil {
		h.identityError(w, err)
		return
	}
	n, err := h.tokens.RevokeSubject(r.Context(), i.Email)
	if err != nil {
		h.logger.Errorw("revoke subject failed", "id", i.ID, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, MessageResponse{Message: "Revocation failed"})
		return
	}
	h.logger.Infow("refresh tokens revoked", "id", i.ID, "count", n)
	h.writeJSON(w, http.StatusOK, identityResponse(i, n))
}

// ActiveRequest enables or disables an identity.
type ActiveRequest struct {
	Active *bool `json:"active"`
}

// SetActive flips the active flag. Disabling also revokes the identity's refresh tokens.
func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req ActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		h.writeJSON(w, http.StatusBadRequest, MessageResponse{Message: "active is required"})
		return
	}
	i, err := h.svc.SetActive(r.Context(), r.PathValue("email"), *req.Active)
	if err != nil {
		h.identityError(w, err)
		return
	}
	var revoked int64
	if !i.Active {
		if revoked, err = h.tokens.RevokeSubject(r.Context(), i.Email); err != nil {
			h.logger.Errorw("revoke subject failed", "id", i.ID, "err", err)
			h.writeJSON(w, http.StatusInternalServerError, MessageResponse{Message: "Revocation failed"})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, identityResponse(i, revoked))
}

// RoleRequest names the new role.
type RoleRequest struct {
	Role string `json:"role"`
}

// SetRole replaces the identity's role. Existing access tokens pick it up on the next
// request because the interceptor re-reads the identity.
func (h *Handler) SetRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, MessageResponse{Message: "Invalid payload"})
		return
	}
	i, err := h.svc.SetRole(r.Context(), r.PathValue("email"), req.Role)
	if err != nil {
		h.identityError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, identityResponse(i, 0))
}

func (h *Handler) identityError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, MessageResponse{Message: "User not found"})
	case errors.Is(err, ErrUnknownRole):
		h.writeJSON(w, http.StatusBadRequest, MessageResponse{Message: err.Error()})
	default:
		h.logger.Errorw("identity update failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, MessageResponse{Message: "Update failed"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
