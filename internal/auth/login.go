package auth

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alexjbarnes/ziggio-identity/internal/identity"
	"github.com/alexjbarnes/ziggio-identity/internal/models"
)

const (
	formLogin  = "login"
	formLogout = "logout"
)

// Sessions issues, reads and clears the authentication cookie.
type Sessions interface {
	SessionReader
	SignIn(w http.ResponseWriter, r *http.Request, p *models.Principal, persistent bool) error
	SignOut(w http.ResponseWriter, r *http.Request) error
}

// PasswordAuthenticator runs a password sign-in attempt.
type PasswordAuthenticator interface {
	PasswordSignIn(ctx context.Context, appID int64, identifier, password string, persistent bool) (identity.SignInOutcome, error)
}

// localReturnURL reports whether u is a same-origin path. Anything with a
// scheme, host or protocol-relative prefix is rejected so the login page
// cannot be used as an open redirect.
func localReturnURL(u string) bool {
	if u == "" || !strings.HasPrefix(u, "/") || strings.HasPrefix(u, "//") || strings.HasPrefix(u, "/\\") {
		return false
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}

	return parsed.Scheme == "" && parsed.Host == ""
}

// HandleLogin returns the /account/login handler.
func HandleLogin(authn PasswordAuthenticator, sessions Sessions, csrf *CSRFStore, logger *slog.Logger) http.HandlerFunc {
	limiter := newLoginRateLimiter()

	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			returnURL := r.URL.Query().Get("returnUrl")
			if !localReturnURL(returnURL) {
				returnURL = ""
			}

			appID, _ := strconv.ParseInt(r.URL.Query().Get("applicationId"), 10, 64)

			renderPage(w, logger, http.StatusOK, "login", loginData{
				CSRFToken:     csrf.Issue(formLogin),
				ReturnURL:     returnURL,
				ApplicationID: appID,
			})
		case http.MethodPost:
			handleLoginPOST(w, r, authn, sessions, csrf, limiter, logger)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func handleLoginPOST(w http.ResponseWriter, r *http.Request, authn PasswordAuthenticator, sessions Sessions, csrf *CSRFStore, limiter *loginRateLimiter, logger *slog.Logger) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form data", http.StatusBadRequest)
		return
	}

	identifier := strings.TrimSpace(r.PostForm.Get("email"))
	password := r.PostForm.Get("password")
	persistent, _ := strconv.ParseBool(r.PostForm.Get("persistent"))

	returnURL := r.PostForm.Get("returnUrl")
	if !localReturnURL(returnURL) {
		returnURL = ""
	}

	appID, err := strconv.ParseInt(r.PostForm.Get("applicationId"), 10, 64)

	rerender := func(status int, msg string) {
		renderPage(w, logger, status, "login", loginData{
			CSRFToken:     csrf.Issue(formLogin),
			ReturnURL:     returnURL,
			ApplicationID: appID,
			Identifier:    identifier,
			Error:         msg,
		})
	}

	// Check before consuming CSRF so a rate-limited request does not
	// destroy the user's CSRF token.
	ip := remoteIP(r)
	if limiter.limited(ip) {
		logger.Warn("login rate limited", slog.String("ip", ip))
		http.Error(w, "too many failed login attempts, try again later", http.StatusTooManyRequests)

		return
	}

	if !csrf.Consume(r.PostForm.Get("csrf_token"), formLogin) {
		http.Error(w, "invalid or expired CSRF token", http.StatusForbidden)
		return
	}

	if err != nil || appID < 0 {
		rerender(http.StatusBadRequest, "Invalid application")
		return
	}

	if identifier == "" || password == "" {
		rerender(http.StatusBadRequest, identity.MsgInvalidCredentials)
		return
	}

	outcome, err := authn.PasswordSignIn(r.Context(), appID, identifier, password, persistent)
	if err != nil {
		logger.Error("sign-in failed", slog.String("error", err.Error()))
		http.Error(w, "server error", http.StatusInternalServerError)

		return
	}

	if !outcome.Succeeded() {
		limiter.record(ip)
		rerender(http.StatusUnauthorized, outcome.Message)

		return
	}

	if err := sessions.SignIn(w, r, outcome.Principal, outcome.Persistent); err != nil {
		logger.Error("issuing session", slog.String("error", err.Error()))
		http.Error(w, "server error", http.StatusInternalServerError)

		return
	}

	if returnURL != "" {
		http.Redirect(w, r, returnURL, http.StatusFound)
		return
	}

	renderPage(w, logger, http.StatusOK, "signedin", signedInData{Name: outcome.Principal.Name})
}

// HandleLogout returns the /connect/logout handler. GET asks for
// confirmation; POST clears the session and redirects to a registered
// post-logout URI or back to the login page.
func HandleLogout(srv *Server, sessions Sessions, csrf *CSRFStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			q := r.URL.Query()
			renderPage(w, logger, http.StatusOK, "logout", logoutData{
				CSRFToken:   csrf.Issue(formLogout),
				ClientID:    q.Get("client_id"),
				RedirectURI: q.Get("post_logout_redirect_uri"),
				State:       q.Get("state"),
			})

		case http.MethodPost:
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

			if err := r.ParseForm(); err != nil {
				http.Error(w, "invalid form data", http.StatusBadRequest)
				return
			}

			if !csrf.Consume(r.PostForm.Get("csrf_token"), formLogout) {
				http.Error(w, "invalid or expired CSRF token", http.StatusForbidden)
				return
			}

			if err := sessions.SignOut(w, r); err != nil {
				logger.Error("clearing session", slog.String("error", err.Error()))
				http.Error(w, "server error", http.StatusInternalServerError)

				return
			}

			clientID := r.PostForm.Get("client_id")
			target := r.PostForm.Get("post_logout_redirect_uri")

			if target != "" && srv.PostLogoutRedirectAllowed(clientID, target) {
				params := url.Values{}
				if st := r.PostForm.Get("state"); st != "" {
					params.Set("state", st)
				}

				if len(params) > 0 {
					target = appendQuery(target, params)
				}

				http.Redirect(w, r, target, http.StatusFound)

				return
			}

			http.Redirect(w, r, LoginPath, http.StatusFound)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}
