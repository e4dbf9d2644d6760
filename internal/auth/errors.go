package auth

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	ErrResourceNotFound       = errors.New("identity no longer exists")
	ErrAccountDisabled        = errors.New("account is disabled")
	ErrAuthenticationRequired = errors.New("full authentication is required to access this resource")
	ErrAuthorizationDenied    = errors.New("access is denied")
)

// ErrorBody is the structured body of every 401/403 written at the request boundary.
type ErrorBody struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Path    string `json:"path"`
}

// WriteAuthError writes {status, error, message, path} with the given status.
func WriteAuthError(w http.ResponseWriter, r *http.Request, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{
		Status:  status,
		Error:   http.StatusText(status),
		Message: message,
		Path:    r.URL.Path,
	})
}

// statusFor maps the auth error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrAuthorizationDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrResourceNotFound), errors.Is(err, ErrAccountDisabled), errors.Is(err, ErrAuthenticationRequired):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
