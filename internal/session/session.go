// Package session issues and reads the authentication cookie that carries
// a signed-in user's principal between the login page and the authorize
// endpoint.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alexjbarnes/ziggio-identity/internal/models"
	"github.com/gorilla/sessions"
)

const (
	keySubject  = "sub"
	keyName     = "name"
	keyEmail    = "email"
	keyApp      = "app"
	keyIssuedAt = "iat"

	// persistentMaxAge is the cookie lifetime when the user asked to be
	// remembered. Non-persistent cookies end with the browser session.
	persistentMaxAge = 14 * 24 * time.Hour
)

// Config holds the cookie settings.
type Config struct {
	CookieName string
	HashKey    []byte
	// BlockKey enables cookie encryption when set (16, 24 or 32 bytes).
	BlockKey []byte
	Secure   bool
}

// Manager reads and writes the authentication cookie.
type Manager struct {
	store  *sessions.CookieStore
	name   string
	secure bool
	now    func() time.Time
}

// NewManager returns a Manager signing cookies with cfg.HashKey.
func NewManager(cfg Config) *Manager {
	keys := [][]byte{cfg.HashKey}
	if len(cfg.BlockKey) > 0 {
		keys = append(keys, cfg.BlockKey)
	}

	store := sessions.NewCookieStore(keys...)
	// Decoding rejects cookies older than the persistent lifetime
	// regardless of what the browser keeps.
	store.MaxAge(int(persistentMaxAge.Seconds()))

	return &Manager{
		store:  store,
		name:   cfg.CookieName,
		secure: cfg.Secure,
		now:    time.Now,
	}
}

func (m *Manager) options(maxAge int) *sessions.Options {
	return &sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// SignIn writes a cookie for p. A persistent cookie survives browser
// restarts; otherwise it is a session cookie.
func (m *Manager) SignIn(w http.ResponseWriter, r *http.Request, p *models.Principal, persistent bool) error {
	if p == nil || p.Subject == "" {
		return errors.New("session: principal without subject")
	}

	sess, _ := m.store.New(r, m.name)

	maxAge := 0
	if persistent {
		maxAge = int(persistentMaxAge.Seconds())
	}

	sess.Options = m.options(maxAge)

	// make sure nothing from a previous session survives
	sess.Values = map[any]any{}
	sess.Values[keySubject] = p.Subject
	sess.Values[keyName] = p.Name
	sess.Values[keyEmail] = p.Email
	sess.Values[keyApp] = p.ApplicationID
	sess.Values[keyIssuedAt] = m.now().Unix()

	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	return nil
}

// Principal returns the signed-in principal, or nil when the request has
// no valid cookie. Tampered or expired cookies are treated as absent.
func (m *Manager) Principal(r *http.Request) *models.Principal {
	sess, err := m.store.Get(r, m.name)
	if err != nil || sess.IsNew {
		return nil
	}

	sub, _ := sess.Values[keySubject].(string)
	if sub == "" {
		return nil
	}

	name, _ := sess.Values[keyName].(string)
	email, _ := sess.Values[keyEmail].(string)
	app, _ := sess.Values[keyApp].(int64)

	return &models.Principal{
		Subject:       sub,
		ApplicationID: app,
		Name:          name,
		Email:         email,
	}
}

// SignOut clears the cookie.
func (m *Manager) SignOut(w http.ResponseWriter, r *http.Request) error {
	sess, _ := m.store.New(r, m.name)
	sess.Options = m.options(-1)
	sess.Values = map[any]any{}

	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}

	return nil
}
