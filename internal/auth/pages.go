package auth

import (
	"html/template"
	"log/slog"
	"net/http"
)

// pages holds the login, signed-in and logout forms. The csrf_token
// hidden field prevents cross-site form submission.
var pages = template.Must(template.New("layout").Parse(`{{define "head"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Ziggio Identity</title>
<style>
  *, *::before, *::after { box-sizing: border-box; margin: 0; padding: 0; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif;
    background: #f5f5f5;
    color: #1a1a1a;
    display: flex;
    align-items: center;
    justify-content: center;
    min-height: 100vh;
  }
  .card {
    background: #fff;
    border: 1px solid #e0e0e0;
    border-radius: 8px;
    padding: 2.5rem 2rem;
    width: 100%;
    max-width: 380px;
  }
  .card h1 { font-size: 1.25rem; font-weight: 600; margin-bottom: 1.5rem; }
  .error {
    background: #fef2f2;
    color: #991b1b;
    border: 1px solid #fecaca;
    border-radius: 6px;
    padding: 0.6rem 0.75rem;
    font-size: 0.85rem;
    margin-bottom: 1rem;
  }
  label { display: block; font-size: 0.85rem; font-weight: 500; margin-bottom: 0.35rem; }
  input[type="text"], input[type="password"], input[type="number"] {
    width: 100%;
    padding: 0.55rem 0.7rem;
    border: 1px solid #d0d0d0;
    border-radius: 6px;
    font-size: 0.9rem;
    margin-bottom: 1rem;
  }
  .check { display: flex; gap: 0.5rem; align-items: center; margin-bottom: 1rem; font-size: 0.85rem; }
  button {
    width: 100%;
    padding: 0.6rem;
    background: #1a1a1a;
    color: #fff;
    border: none;
    border-radius: 6px;
    font-size: 0.9rem;
    cursor: pointer;
  }
</style>
</head>
<body>
<div class="card">{{end}}
{{define "foot"}}</div>
</body>
</html>{{end}}
{{define "login"}}{{template "head"}}
  <h1>Sign in</h1>
  {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
  <form method="POST" action="/account/login">
    <input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
    <input type="hidden" name="returnUrl" value="{{.ReturnURL}}">
    <label for="applicationId">Application</label>
    <input type="number" id="applicationId" name="applicationId" value="{{.ApplicationID}}" min="0" required>
    <label for="email">Username or email</label>
    <input type="text" id="email" name="email" value="{{.Identifier}}" autocomplete="username" required autofocus>
    <label for="password">Password</label>
    <input type="password" id="password" name="password" autocomplete="current-password" required>
    <div class="check"><input type="checkbox" id="persistent" name="persistent" value="true"><label for="persistent">Remember me</label></div>
    <button type="submit">Sign in</button>
  </form>
{{template "foot"}}{{end}}
{{define "signedin"}}{{template "head"}}
  <h1>Signed in</h1>
  <p>You are signed in as <strong>{{.Name}}</strong>.</p>
{{template "foot"}}{{end}}
{{define "logout"}}{{template "head"}}
  <h1>Sign out</h1>
  <form method="POST" action="/connect/logout">
    <input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
    <input type="hidden" name="client_id" value="{{.ClientID}}">
    <input type="hidden" name="post_logout_redirect_uri" value="{{.RedirectURI}}">
    <input type="hidden" name="state" value="{{.State}}">
    <button type="submit">Sign out</button>
  </form>
{{template "foot"}}{{end}}`))

type loginData struct {
	CSRFToken     string
	ReturnURL     string
	ApplicationID int64
	Identifier    string
	Error         string
}

type signedInData struct {
	Name string
}

type logoutData struct {
	CSRFToken   string
	ClientID    string
	RedirectURI string
	State       string
}

// renderPage writes an HTML page that may not be framed.
func renderPage(w http.ResponseWriter, logger *slog.Logger, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		logger.Error("rendering page", slog.String("page", name), slog.String("error", err.Error()))
	}
}
