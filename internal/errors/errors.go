package errors

import (
	"errors"
	"net/http"
)

// Authentication failures. Recovered locally into a user-facing message.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrLockedOut          = errors.New("user is locked out")
	ErrNotAllowed         = errors.New("user is not allowed to sign in")
	ErrLoginRequired      = errors.New("login required")
)

// Authorization errors. Surfaced with their OAuth2 error code.
var (
	ErrInvalidRequest          = errors.New("invalid_request")
	ErrInvalidClient           = errors.New("invalid_client")
	ErrUnauthorizedClient      = errors.New("unauthorized_client")
	ErrInvalidRedirectURI      = errors.New("invalid_redirect_uri")
	ErrInvalidScope            = errors.New("invalid_scope")
	ErrUnsupportedGrantType    = errors.New("unsupported_grant_type")
	ErrUnsupportedResponseType = errors.New("unsupported_response_type")
)

// Grant errors. Always surfaced as invalid_grant.
var (
	ErrInvalidGrant = errors.New("invalid_grant")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Store errors.
var (
	ErrNotFound                = errors.New("not found")
	ErrAlreadyExists           = errors.New("already exists")
	ErrAlreadyConsumed         = errors.New("already consumed")
	ErrExpired                 = errors.New("expired")
	ErrTokenReplayed           = errors.New("token replayed")
	ErrRoleApplicationMismatch = errors.New("role belongs to a different application")
)

// Infrastructure errors.
var (
	ErrStorage       = errors.New("storage failure")
	ErrConfiguration = errors.New("invalid configuration")
)

// OAuthCode maps err onto the OAuth2 error code and HTTP status a client
// should see. Grant failures collapse to invalid_grant so the response
// never says why a grant was rejected.
func OAuthCode(err error) (string, int) {
	switch {
	case err == nil:
		return "", http.StatusOK
	case errors.Is(err, ErrInvalidClient):
		return "invalid_client", http.StatusUnauthorized
	case errors.Is(err, ErrUnauthorizedClient):
		return "unauthorized_client", http.StatusBadRequest
	case errors.Is(err, ErrInvalidScope):
		return "invalid_scope", http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedGrantType):
		return "unsupported_grant_type", http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedResponseType):
		return "unsupported_response_type", http.StatusBadRequest
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidRedirectURI):
		return "invalid_request", http.StatusBadRequest
	case errors.Is(err, ErrLoginRequired):
		return "login_required", http.StatusBadRequest
	case IsGrantFailure(err):
		return "invalid_grant", http.StatusBadRequest
	default:
		return "server_error", http.StatusInternalServerError
	}
}

// IsGrantFailure reports whether err means a code or token could not be
// used: absent, expired, consumed, revoked or replayed.
func IsGrantFailure(err error) bool {
	for _, target := range []error{
		ErrInvalidGrant,
		ErrInvalidToken,
		ErrNotFound,
		ErrAlreadyConsumed,
		ErrExpired,
		ErrTokenReplayed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
