package auth

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/ziggio-identity/internal/errors"
	"github.com/alexjbarnes/ziggio-identity/internal/models"
	"github.com/alexjbarnes/ziggio-identity/internal/state"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// accessClaims is the payload of an access token.
type accessClaims struct {
	jwt.RegisteredClaims
	ClientID string   `json:"client_id"`
	App      int64    `json:"app"`
	Scope    string   `json:"scope,omitempty"`
	Name     string   `json:"name,omitempty"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"role,omitempty"`
}

// idTokenClaims is the payload of an OpenID Connect id_token.
type idTokenClaims struct {
	jwt.RegisteredClaims
	Nonce string   `json:"nonce,omitempty"`
	App   int64    `json:"app"`
	Name  string   `json:"name,omitempty"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"role,omitempty"`
}

// issuance carries everything a minted token is bound to.
type issuance struct {
	subject   string
	appID     int64
	clientID  string
	scopes    []string
	resources []string
	name      string
	email     string
	roles     []string
	stamp     string
	chainID   string
	nonce     string
}

func (s *Server) sign(claims jwt.Claims) (string, error) {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SigningKey)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}

	return raw, nil
}

// issueAccessToken mints a signed access token and the record that tracks
// its status.
func (s *Server) issueAccessToken(iss issuance, now time.Time) (string, *models.Token, error) {
	exp := now.Add(s.cfg.AccessTokenTTL)

	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   iss.subject,
			Audience:  jwt.ClaimStrings(iss.resources),
			ExpiresAt: jwt.NewNumericDate(exp),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		ClientID: iss.clientID,
		App:      iss.appID,
		Scope:    strings.Join(iss.scopes, " "),
		Name:     iss.name,
		Email:    iss.email,
		Roles:    iss.roles,
	}

	raw, err := s.sign(claims)
	if err != nil {
		return "", nil, err
	}

	return raw, s.tokenRecord(models.KindAccessToken, state.TokenHash(raw), iss, now, exp), nil
}

// issueRefreshToken mints an opaque refresh token. Its expiry is fixed at
// issuance and never extended.
func (s *Server) issueRefreshToken(iss issuance, now time.Time) (string, *models.Token) {
	raw := RandomHex(refreshTokenBytes)
	exp := now.Add(s.cfg.RefreshTokenTTL)

	return raw, s.tokenRecord(models.KindRefreshToken, state.TokenHash(raw), iss, now, exp)
}

func (s *Server) tokenRecord(kind models.TokenKind, hash string, iss issuance, now, exp time.Time) *models.Token {
	return &models.Token{
		Hash:          hash,
		Kind:          kind,
		Status:        models.TokenActive,
		Subject:       iss.subject,
		ApplicationID: iss.appID,
		ClientID:      iss.clientID,
		Scopes:        iss.scopes,
		Resources:     iss.resources,
		Name:          iss.name,
		Email:         iss.email,
		Roles:         iss.roles,
		SecurityStamp: iss.stamp,
		ChainID:       iss.chainID,
		IssuedAt:      now,
		ExpiresAt:     exp,
	}
}

// issueIDToken mints an id_token for the client. It is not stored.
func (s *Server) issueIDToken(iss issuance, now time.Time) (string, error) {
	claims := idTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   iss.subject,
			Audience:  jwt.ClaimStrings{iss.clientID},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Nonce: iss.nonce,
		App:   iss.appID,
		Name:  iss.name,
		Email: iss.email,
		Roles: iss.roles,
	}

	return s.sign(claims)
}

// parseAccessToken verifies the signature, issuer and expiry of raw.
func (s *Server) parseAccessToken(raw string) (*accessClaims, error) {
	var claims accessClaims

	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.cfg.SigningKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidToken, err)
	}

	return &claims, nil
}
