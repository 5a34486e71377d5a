// Package clients holds the registered OAuth clients and scopes, loaded
// from a YAML file and swapped atomically when the file changes.
package clients

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"slices"
	"sort"
	"sync"

	apperrors "github.com/alexjbarnes/ziggio-identity/internal/errors"
	"github.com/alexjbarnes/ziggio-identity/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Standard OIDC scopes. They need no registration and resolve to no
// resources, but a client must still be allowed to request them.
const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeRoles         = "roles"
	ScopeOfflineAccess = "offline_access"
)

var standardScopes = []string{ScopeOpenID, ScopeProfile, ScopeEmail, ScopeRoles, ScopeOfflineAccess}

// File is the on-disk layout of the registry.
type File struct {
	Scopes  []models.Scope       `yaml:"scopes"`
	Clients []models.Application `yaml:"clients"`
}

type snapshot struct {
	apps   map[string]*models.Application
	scopes map[string]models.Scope
}

// Registry is a read-mostly view of the registered clients. Lookups see
// either the previous or the next snapshot during a reload, never a mix.
type Registry struct {
	mu   sync.RWMutex
	snap *snapshot
}

// New validates the given definitions and builds a Registry. Malformed
// entries fail with ErrConfiguration.
func New(apps []models.Application, scopes []models.Scope) (*Registry, error) {
	snap, err := buildSnapshot(apps, scopes)
	if err != nil {
		return nil, err
	}

	return &Registry{snap: snap}, nil
}

// LoadFile reads and validates a registry file.
func LoadFile(path string) (*Registry, error) {
	snap, err := readSnapshot(path)
	if err != nil {
		return nil, err
	}

	return &Registry{snap: snap}, nil
}

// Reload replaces the registry contents with the file at path. On error
// the current contents are kept.
func (r *Registry) Reload(path string) error {
	snap, err := readSnapshot(path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()

	return nil
}

func (r *Registry) current() *snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.snap
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	return len(r.current().apps)
}

// FindClient returns the client with the given ID.
func (r *Registry) FindClient(clientID string) (*models.Application, bool) {
	app, ok := r.current().apps[clientID]
	return app, ok
}

// Authorize checks that client may use grantType with redirectURI and
// scopes. An empty redirectURI skips the redirect check.
func (r *Registry) Authorize(client *models.Application, grantType models.GrantType, redirectURI string, scopes []string) error {
	if client == nil {
		return apperrors.ErrInvalidClient
	}

	if !client.AllowsGrant(grantType) {
		return fmt.Errorf("client %q may not use %s: %w", client.ClientID, grantType, apperrors.ErrUnauthorizedClient)
	}

	if redirectURI != "" && !slices.Contains(client.RedirectURIs, redirectURI) {
		return fmt.Errorf("redirect_uri not registered for %q: %w", client.ClientID, apperrors.ErrInvalidRedirectURI)
	}

	for _, s := range scopes {
		if !slices.Contains(client.Scopes, s) {
			return fmt.Errorf("scope %q not allowed for %q: %w", s, client.ClientID, apperrors.ErrInvalidScope)
		}
	}

	return nil
}

// Resources resolves scopes to the sorted, de-duplicated set of resource
// identifiers of the registered scopes among them.
func (r *Registry) Resources(scopes []string) []string {
	snap := r.current()
	seen := make(map[string]bool)

	var out []string

	for _, name := range scopes {
		for _, res := range snap.scopes[name].Resources {
			if !seen[res] {
				seen[res] = true
				out = append(out, res)
			}
		}
	}

	sort.Strings(out)

	return out
}

// PostLogoutRedirectAllowed reports whether uri is a registered
// post-logout redirect for the client.
func (r *Registry) PostLogoutRedirectAllowed(clientID, uri string) bool {
	app, ok := r.FindClient(clientID)
	return ok && slices.Contains(app.PostLogoutRedirectURIs, uri)
}

// Authenticate checks a client's secret. Unknown clients cost the same
// bcrypt comparison as known ones. Public clients, which have no secret
// hash, authenticate only when no secret is presented.
func (r *Registry) Authenticate(clientID, secret string) (*models.Application, error) {
	app, ok := r.FindClient(clientID)
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(secret))
		return nil, fmt.Errorf("unknown client %q: %w", clientID, apperrors.ErrInvalidClient)
	}

	if !app.Confidential() {
		if secret != "" {
			return nil, fmt.Errorf("public client %q sent a secret: %w", clientID, apperrors.ErrInvalidClient)
		}

		return app, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(app.ClientSecretHash), []byte(secret)); err != nil {
		return nil, fmt.Errorf("client %q secret mismatch: %w", clientID, apperrors.ErrInvalidClient)
	}

	return app, nil
}

// HashSecret returns the bcrypt hash to store as client_secret_hash.
func HashSecret(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing secret: %w", err)
	}

	return string(h), nil
}

var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("unknown-client"), bcrypt.DefaultCost)
	return h
})

func readSnapshot(path string) (*snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading client registry: %w", apperrors.ErrConfiguration, err)
	}

	var f File

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", apperrors.ErrConfiguration, path, err)
	}

	return buildSnapshot(f.Clients, f.Scopes)
}

func buildSnapshot(apps []models.Application, scopes []models.Scope) (*snapshot, error) {
	snap := &snapshot{
		apps:   make(map[string]*models.Application, len(apps)),
		scopes: make(map[string]models.Scope, len(scopes)),
	}

	for _, s := range scopes {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: scope with empty name", apperrors.ErrConfiguration)
		}

		if slices.Contains(standardScopes, s.Name) {
			return nil, fmt.Errorf("%w: scope %q is reserved", apperrors.ErrConfiguration, s.Name)
		}

		if _, dup := snap.scopes[s.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate scope %q", apperrors.ErrConfiguration, s.Name)
		}

		snap.scopes[s.Name] = s
	}

	for i := range apps {
		app := apps[i]
		if err := validateApp(&app, snap.scopes); err != nil {
			return nil, fmt.Errorf("%w: client %q: %w", apperrors.ErrConfiguration, app.ClientID, err)
		}

		if _, dup := snap.apps[app.ClientID]; dup {
			return nil, fmt.Errorf("%w: duplicate client %q", apperrors.ErrConfiguration, app.ClientID)
		}

		snap.apps[app.ClientID] = &app
	}

	return snap, nil
}

func validateApp(app *models.Application, scopes map[string]models.Scope) error {
	if app.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}

	if app.ApplicationID < 0 {
		return fmt.Errorf("application_id must not be negative")
	}

	if len(app.GrantTypes) == 0 {
		return fmt.Errorf("at least one grant type is required")
	}

	for _, g := range app.GrantTypes {
		if !g.Valid() {
			return fmt.Errorf("unknown grant type %q", g)
		}
	}

	if app.AllowsGrant(models.GrantAuthorizationCode) && len(app.RedirectURIs) == 0 {
		return fmt.Errorf("authorization_code requires at least one redirect URI")
	}

	if app.AllowsGrant(models.GrantRefreshToken) && !app.AllowsGrant(models.GrantAuthorizationCode) {
		return fmt.Errorf("refresh_token requires authorization_code")
	}

	if app.AllowsGrant(models.GrantClientCredentials) && !app.Confidential() {
		return fmt.Errorf("client_credentials requires a client secret hash")
	}

	if app.Confidential() {
		if _, err := bcrypt.Cost([]byte(app.ClientSecretHash)); err != nil {
			return fmt.Errorf("client_secret_hash is not a bcrypt hash: %w", err)
		}
	}

	for _, uri := range append(slices.Clone(app.RedirectURIs), app.PostLogoutRedirectURIs...) {
		u, err := url.Parse(uri)
		if err != nil || !u.IsAbs() || u.Host == "" || u.Fragment != "" {
			return fmt.Errorf("redirect URI %q must be absolute without a fragment", uri)
		}
	}

	for _, s := range app.Scopes {
		if slices.Contains(standardScopes, s) {
			continue
		}

		if _, ok := scopes[s]; !ok {
			return fmt.Errorf("scope %q is not registered", s)
		}
	}

	return nil
}
