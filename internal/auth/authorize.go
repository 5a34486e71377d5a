package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	apperrors "github.com/alexjbarnes/ziggio-identity/internal/errors"
	"github.com/alexjbarnes/ziggio-identity/internal/models"
)

// LoginPath is where unauthenticated authorization requests are sent.
const LoginPath = "/account/login"

// SessionReader exposes the signed-in principal of a request.
type SessionReader interface {
	Principal(r *http.Request) *models.Principal
}

// HandleAuthorize returns the /connect/authorize handler. Parameters are
// read from the query string (GET) or the form body (POST).
func HandleAuthorize(srv *Server, sessions SessionReader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if r.Method == http.MethodPost {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		}

		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form data", http.StatusBadRequest)
			return
		}

		req := AuthorizeRequest{
			ResponseType:        r.Form.Get("response_type"),
			ClientID:            r.Form.Get("client_id"),
			RedirectURI:         r.Form.Get("redirect_uri"),
			Scope:               r.Form.Get("scope"),
			State:               r.Form.Get("state"),
			Nonce:               r.Form.Get("nonce"),
			CodeChallenge:       r.Form.Get("code_challenge"),
			CodeChallengeMethod: r.Form.Get("code_challenge_method"),
		}

		result, err := srv.Authorize(r.Context(), req, sessions.Principal(r))
		if err == nil {
			http.Redirect(w, r, result.Location(), http.StatusFound)
			return
		}

		var aerr *AuthorizeError

		switch {
		case errors.Is(err, apperrors.ErrLoginRequired):
			// Replay the whole request after sign-in, POST bodies included.
			returnURL := r.URL.Path + "?" + r.Form.Encode()
			http.Redirect(w, r, LoginPath+"?"+url.Values{"returnUrl": {returnURL}}.Encode(), http.StatusFound)

		case errors.As(err, &aerr):
			logger.Info("authorization request rejected",
				slog.String("client_id", req.ClientID),
				slog.String("error", err.Error()),
			)
			http.Redirect(w, r, aerr.Location(), http.StatusFound)

		default:
			code, status := apperrors.OAuthCode(err)
			if status == http.StatusInternalServerError {
				logger.Error("authorization failed", slog.String("error", err.Error()))
				http.Error(w, "server error", http.StatusInternalServerError)

				return
			}

			// The client or redirect URI could not be trusted, so the
			// error is shown to the user instead of redirected.
			http.Error(w, code+": "+err.Error(), http.StatusBadRequest)
		}
	}
}
