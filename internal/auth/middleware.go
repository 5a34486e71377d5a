package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alexjbarnes/ziggio-identity/internal/models"
)

type contextKey int

const (
	ctxPrincipal contextKey = iota
	ctxRemoteIP
)

const bearerRealm = `Bearer realm="ziggio"`

// RequestPrincipal returns the bearer token principal from the context,
// or nil.
func RequestPrincipal(ctx context.Context) *models.Principal {
	p, _ := ctx.Value(ctxPrincipal).(*models.Principal)
	return p
}

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

// bearerToken extracts the credential from an Authorization header. The
// scheme name is matched case-insensitively.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)

	return token, token != ""
}

// challenge writes a 401 with an RFC 6750 WWW-Authenticate header. An
// empty errCode means no credentials were presented.
func challenge(w http.ResponseWriter, errCode string) {
	value := bearerRealm
	if errCode != "" {
		value += `, error="` + errCode + `"`
	}

	w.Header().Set("WWW-Authenticate", value)
	w.WriteHeader(http.StatusUnauthorized)
}

// Middleware guards a handler with access token validation. The
// validated principal and caller IP are available downstream through
// RequestPrincipal and RequestRemoteIP.
func Middleware(srv *Server, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)
			log := logger.With(slog.String("ip", ip), slog.String("path", r.URL.Path))

			raw, ok := bearerToken(r)
			if !ok {
				log.Debug("bearer: missing credentials")
				challenge(w, "")

				return
			}

			p, err := srv.ValidateAccessToken(r.Context(), raw)
			if err != nil {
				log.Debug("bearer: rejected", slog.Any("error", err))
				challenge(w, "invalid_token")

				return
			}

			log.Debug("bearer: accepted",
				slog.String("sub", p.Subject),
				slog.String("client_id", p.ClientID),
			)

			ctx := context.WithValue(r.Context(), ctxPrincipal, p)
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, ctxRemoteIP, ip)))
		})
	}
}

// HandleUserInfo returns the /connect/userinfo handler. It must sit
// behind Middleware.
func HandleUserInfo(srv *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		p := RequestPrincipal(r.Context())
		if p == nil {
			challenge(w, "")
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, srv.UserInfo(p))
	}
}
