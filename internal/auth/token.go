package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	apperrors "github.com/alexjbarnes/ziggio-identity/internal/errors"
)

// maxRequestBody caps form and JSON bodies on the OAuth endpoints.
const maxRequestBody = 64 << 10

type tokenRequestBody struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	CodeVerifier string `json:"code_verifier"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// HandleToken returns the /connect/token handler. Bodies may be form or
// JSON encoded. Client credentials come from HTTP Basic or the body.
func HandleToken(srv *Server, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := decodeTokenRequest(w, r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}

		req := TokenRequest(body)

		if id, secret, ok := basicAuth(r); ok {
			req.ClientID = id
			req.ClientSecret = secret
		}

		resp, err := srv.Token(r.Context(), req)
		if err != nil {
			writeOAuthError(w, logger, err)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleRevoke returns the /connect/revoke handler (RFC 7009).
func HandleRevoke(srv *Server, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

		if err := r.ParseForm(); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid form data")
			return
		}

		clientID := r.PostForm.Get("client_id")
		secret := r.PostForm.Get("client_secret")

		if id, s, ok := basicAuth(r); ok {
			clientID, secret = id, s
		}

		err := srv.Revoke(r.Context(), clientID, secret, r.PostForm.Get("token"), r.PostForm.Get("token_type_hint"))
		if err != nil {
			writeOAuthError(w, logger, err)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

func decodeTokenRequest(w http.ResponseWriter, r *http.Request) (tokenRequestBody, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var body tokenRequestBody

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		err := json.NewDecoder(r.Body).Decode(&body)
		return body, err
	}

	if err := r.ParseForm(); err != nil {
		return body, err
	}

	f := r.PostForm

	return tokenRequestBody{
		GrantType:    f.Get("grant_type"),
		ClientID:     f.Get("client_id"),
		ClientSecret: f.Get("client_secret"),
		Code:         f.Get("code"),
		RedirectURI:  f.Get("redirect_uri"),
		CodeVerifier: f.Get("code_verifier"),
		RefreshToken: f.Get("refresh_token"),
		Scope:        f.Get("scope"),
	}, nil
}

// basicAuth reads client credentials from the Authorization header. Per
// RFC 6749 section 2.3.1 both parts are form-urlencoded.
func basicAuth(r *http.Request) (string, string, bool) {
	id, secret, ok := r.BasicAuth()
	if !ok {
		return "", "", false
	}

	uid, err := url.QueryUnescape(id)
	if err != nil {
		return "", "", false
	}

	usecret, err := url.QueryUnescape(secret)
	if err != nil {
		return "", "", false
	}

	return uid, usecret, true
}

// oauthDescriptions are the only error descriptions sent to clients.
// Internal reasons stay in the logs.
var oauthDescriptions = map[string]string{
	"invalid_request":        "the request is missing a parameter or is malformed",
	"invalid_client":         "client authentication failed",
	"unauthorized_client":    "the client is not allowed to use this grant type",
	"invalid_grant":          "the grant is invalid, expired or revoked",
	"invalid_scope":          "the requested scope is not allowed",
	"unsupported_grant_type": "the grant type is not supported",
	"server_error":           "the server encountered an error",
}

// writeOAuthError maps err onto an RFC 6749 error response.
func writeOAuthError(w http.ResponseWriter, logger *slog.Logger, err error) {
	code, status := apperrors.OAuthCode(err)

	switch {
	case status == http.StatusInternalServerError:
		logger.Error("oauth request failed", slog.String("error", err.Error()))
	case errors.Is(err, apperrors.ErrInvalidClient):
		w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
		logger.Debug("oauth request rejected", slog.String("error", err.Error()))
	default:
		logger.Debug("oauth request rejected", slog.String("error", err.Error()))
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSONError(w, status, code, oauthDescriptions[code])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, errCode, description string) {
	writeJSON(w, status, map[string]string{
		"error":             errCode,
		"error_description": description,
	})
}
