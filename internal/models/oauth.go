// Package models defines types shared across internal packages.
package models

import (
	"slices"
	"time"
)

// GrantType is an OAuth2 grant type a client may be allowed to use.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantClientCredentials GrantType = "client_credentials"
)

// Valid reports whether g is one of the supported grant types.
func (g GrantType) Valid() bool {
	switch g {
	case GrantAuthorizationCode, GrantRefreshToken, GrantClientCredentials:
		return true
	}
	return false
}

// Application is a registered OAuth client. ApplicationID names the
// tenant whose user base may sign in through it; omitted means 0.
type Application struct {
	ClientID               string      `yaml:"client_id" json:"client_id"`
	ApplicationID          int64       `yaml:"application_id" json:"application_id"`
	ClientSecretHash       string      `yaml:"client_secret_hash" json:"-"`
	DisplayName            string      `yaml:"display_name" json:"display_name,omitempty"`
	GrantTypes             []GrantType `yaml:"grant_types" json:"grant_types"`
	RedirectURIs           []string    `yaml:"redirect_uris" json:"redirect_uris,omitempty"`
	PostLogoutRedirectURIs []string    `yaml:"post_logout_redirect_uris" json:"post_logout_redirect_uris,omitempty"`
	Scopes                 []string    `yaml:"scopes" json:"scopes"`
	RequirePKCE            bool        `yaml:"require_pkce" json:"require_pkce"`
}

// Confidential reports whether the client authenticates with a secret.
func (a *Application) Confidential() bool {
	return a.ClientSecretHash != ""
}

// AllowsGrant reports whether the client may use grant type g.
func (a *Application) AllowsGrant(g GrantType) bool {
	return slices.Contains(a.GrantTypes, g)
}

// Scope maps a requestable scope name to the resource identifiers a token
// carrying it may be presented to.
type Scope struct {
	Name        string   `yaml:"name" json:"name"`
	DisplayName string   `yaml:"display_name" json:"display_name,omitempty"`
	Resources   []string `yaml:"resources" json:"resources,omitempty"`
}

// GrantStatus is the lifecycle state of an authorization code.
type GrantStatus string

const (
	GrantIssued   GrantStatus = "issued"
	GrantRedeemed GrantStatus = "redeemed"
)

// AuthorizationGrant is a persisted authorization code. The raw code is
// never stored; CodeHash is its SHA-256 hex digest.
type AuthorizationGrant struct {
	CodeHash            string      `json:"code_hash"`
	ClientID            string      `json:"client_id"`
	ApplicationID       int64       `json:"application_id"`
	RedirectURI         string      `json:"redirect_uri"`
	Scopes              []string    `json:"scopes,omitempty"`
	Resources           []string    `json:"resources,omitempty"`
	Subject             string      `json:"subject"`
	Name                string      `json:"name,omitempty"`
	Email               string      `json:"email,omitempty"`
	Roles               []string    `json:"roles,omitempty"`
	SecurityStamp       string      `json:"security_stamp,omitempty"`
	CodeChallenge       string      `json:"code_challenge,omitempty"`
	CodeChallengeMethod string      `json:"code_challenge_method,omitempty"`
	Nonce               string      `json:"nonce,omitempty"`
	ChainID             string      `json:"chain_id"`
	Status              GrantStatus `json:"status"`
	IssuedAt            time.Time   `json:"issued_at"`
	ExpiresAt           time.Time   `json:"expires_at"`
	RedeemedAt          time.Time   `json:"redeemed_at,omitzero"`
}

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	KindAccessToken  TokenKind = "access_token"
	KindRefreshToken TokenKind = "refresh_token"
)

// TokenStatus is the stored lifecycle state of a token. Expiry is not a
// stored state; see Token.Expired.
type TokenStatus string

const (
	TokenActive   TokenStatus = "active"
	TokenRedeemed TokenStatus = "redeemed"
	TokenRevoked  TokenStatus = "revoked"
)

// Token is a persisted access or refresh token. Hash is the SHA-256 hex
// digest of the raw token value and doubles as the reference id.
type Token struct {
	Hash          string      `json:"hash"`
	Kind          TokenKind   `json:"kind"`
	Status        TokenStatus `json:"status"`
	Subject       string      `json:"subject"`
	ClientID      string      `json:"client_id"`
	ApplicationID int64       `json:"application_id"`
	Scopes        []string    `json:"scopes,omitempty"`
	Resources     []string    `json:"resources,omitempty"`
	Name          string      `json:"name,omitempty"`
	Email         string      `json:"email,omitempty"`
	Roles         []string    `json:"roles,omitempty"`
	SecurityStamp string      `json:"security_stamp,omitempty"`
	ChainID       string      `json:"chain_id,omitempty"`
	ParentHash    string      `json:"parent_hash,omitempty"`
	ReplacedBy    string      `json:"replaced_by,omitempty"`
	IssuedAt      time.Time   `json:"issued_at"`
	ExpiresAt     time.Time   `json:"expires_at"`
	RedeemedAt    time.Time   `json:"redeemed_at,omitzero"`
	RevokedAt     time.Time   `json:"revoked_at,omitzero"`
}

// Expired reports whether the token is past its expiry at now.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Usable reports whether the token is active and unexpired at now.
func (t *Token) Usable(now time.Time) bool {
	return t.Status == TokenActive && !t.Expired(now)
}

// Principal returns the claims carried by the token.
func (t *Token) Principal() Principal {
	return Principal{
		Subject:       t.Subject,
		ApplicationID: t.ApplicationID,
		Name:          t.Name,
		Email:         t.Email,
		Roles:         t.Roles,
		ClientID:      t.ClientID,
		Scopes:        t.Scopes,
		Resources:     t.Resources,
	}
}
