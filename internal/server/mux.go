// Package server wires the identity endpoints into an HTTP handler.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/ziggio-identity/internal/auth"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Server        *auth.Server
	Sessions      auth.Sessions
	Authenticator auth.PasswordAuthenticator
	CSRF          *auth.CSRFStore
	Logger        *slog.Logger
}

// NewMux builds the HTTP mux with the authorize, token, revocation,
// userinfo, login and logout endpoints. Userinfo is protected by Bearer
// token middleware.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/connect/authorize", auth.HandleAuthorize(cfg.Server, cfg.Sessions, cfg.Logger))
	mux.HandleFunc("/connect/token", auth.HandleToken(cfg.Server, cfg.Logger))
	mux.HandleFunc("/connect/revoke", auth.HandleRevoke(cfg.Server, cfg.Logger))
	mux.HandleFunc("/connect/logout", auth.HandleLogout(cfg.Server, cfg.Sessions, cfg.CSRF, cfg.Logger))
	mux.HandleFunc(auth.LoginPath, auth.HandleLogin(cfg.Authenticator, cfg.Sessions, cfg.CSRF, cfg.Logger))

	authMiddleware := auth.Middleware(cfg.Server, cfg.Logger)
	mux.Handle("/connect/userinfo", authMiddleware(auth.HandleUserInfo(cfg.Server)))

	return mux
}

// NewHandler returns the mux wrapped in access logging.
func NewHandler(cfg MuxConfig) http.Handler {
	return AccessLog(cfg.Logger)(NewMux(cfg))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// AccessLog logs method, path, status and duration of every request.
// Query strings are left out since they carry codes and state.
func AccessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.Info("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
