// Package auth implements the OAuth2/OIDC authorization server: the
// authorize endpoint, the token endpoint for the authorization_code,
// refresh_token and client_credentials grants, revocation, userinfo and
// bearer token validation. Grants and tokens are persisted through a
// TokenStore; raw code and token values are only ever stored hashed.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/alexjbarnes/ziggio-identity/internal/models"
)

const (
	// authCodeBytes is the number of random bytes in an authorization
	// code (hex-encoded to twice this length).
	authCodeBytes = 32

	// refreshTokenBytes is the number of random bytes in an opaque
	// refresh token.
	refreshTokenBytes = 32

	// signingKeyMinLen is the minimum HS256 key length accepted.
	signingKeyMinLen = 32
)

// ClientRegistry resolves and authenticates OAuth clients.
type ClientRegistry interface {
	FindClient(clientID string) (*models.Application, bool)
	Authorize(client *models.Application, grantType models.GrantType, redirectURI string, scopes []string) error
	Authenticate(clientID, secret string) (*models.Application, error)
	Resources(scopes []string) []string
	PostLogoutRedirectAllowed(clientID, uri string) bool
}

// TokenStore persists authorization codes and tokens. Every mutating
// method is a single atomic transition.
//
// RedeemGrant calls issue with the freshly redeemed grant and stores the
// returned tokens in the same transition. Replaying a redeemed code
// revokes its chain and returns the grant with ErrAlreadyConsumed.
type TokenStore interface {
	SaveGrant(ctx context.Context, g *models.AuthorizationGrant) error
	RedeemGrant(ctx context.Context, codeHash string, now time.Time, issue func(*models.AuthorizationGrant) ([]*models.Token, error)) (*models.AuthorizationGrant, error)
	SaveTokens(ctx context.Context, tokens ...*models.Token) error
	GetToken(ctx context.Context, hash string) (*models.Token, error)
	RotateRefreshToken(ctx context.Context, hash string, now time.Time, leeway time.Duration, issued ...*models.Token) error
	RevokeToken(ctx context.Context, hash string, now time.Time) error
	RevokeChain(ctx context.Context, chainID string, now time.Time) (int, error)
}

// SubjectResolver returns the current claims of a user subject, or nil
// when the subject no longer exists or is not a user.
type SubjectResolver interface {
	SubjectClaims(ctx context.Context, subject string) (*models.SubjectClaims, error)
}

// ServerConfig holds issuer identity, signing material and lifetimes.
type ServerConfig struct {
	Issuer     string
	SigningKey []byte

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	CodeTTL         time.Duration

	// RefreshReuseLeeway is how long after redemption a refresh token
	// may be presented again without being treated as a replay.
	RefreshReuseLeeway time.Duration

	// Clock overrides time.Now. Nil uses the wall clock.
	Clock func() time.Time
}

// Server is the authorization server.
type Server struct {
	cfg      ServerConfig
	clients  ClientRegistry
	store    TokenStore
	subjects SubjectResolver
	logger   *slog.Logger
	now      func() time.Time
}

// NewServer validates cfg and returns a Server.
func NewServer(cfg ServerConfig, clients ClientRegistry, store TokenStore, subjects SubjectResolver, logger *slog.Logger) (*Server, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("auth: issuer is required")
	}

	if len(cfg.SigningKey) < signingKeyMinLen {
		return nil, errors.New("auth: signing key must be at least 32 bytes")
	}

	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 || cfg.CodeTTL <= 0 {
		return nil, errors.New("auth: token lifetimes must be positive")
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Server{
		cfg:      cfg,
		clients:  clients,
		store:    store,
		subjects: subjects,
		logger:   logger,
		now:      now,
	}, nil
}

// Issuer returns the issuer identifier.
func (s *Server) Issuer() string {
	return s.cfg.Issuer
}

// PostLogoutRedirectAllowed reports whether uri is a registered
// post-logout redirect for clientID.
func (s *Server) PostLogoutRedirectAllowed(clientID, uri string) bool {
	return s.clients.PostLogoutRedirectAllowed(clientID, uri)
}

// RandomHex generates a cryptographically random hex string of the given byte length.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return hex.EncodeToString(b)
}
