package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/ziggio-identity/internal/errors"
	"github.com/alexjbarnes/ziggio-identity/internal/models"
	"github.com/alexjbarnes/ziggio-identity/internal/state"
	"github.com/google/uuid"
)

// Scopes with protocol meaning.
const (
	scopeOpenID        = "openid"
	scopeOfflineAccess = "offline_access"
)

// AuthorizeRequest holds the parameters of an authorization request.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizeResult is a successful authorization: the code to deliver to
// the client's redirect URI.
type AuthorizeResult struct {
	RedirectURI string
	Code        string
	State       string
	Issuer      string
}

// Location builds the redirect URL carrying the code. Existing query
// parameters on the redirect URI are kept.
func (r *AuthorizeResult) Location() string {
	params := url.Values{}
	params.Set("code", r.Code)

	if r.State != "" {
		params.Set("state", r.State)
	}

	if r.Issuer != "" {
		params.Set("iss", r.Issuer)
	}

	return appendQuery(r.RedirectURI, params)
}

// AuthorizeError is an authorization failure that may be reported to the
// client by redirect. It is only returned once the client and redirect
// URI have been validated.
type AuthorizeError struct {
	Err         error
	RedirectURI string
	State       string
}

func (e *AuthorizeError) Error() string {
	return e.Err.Error()
}

func (e *AuthorizeError) Unwrap() error {
	return e.Err
}

// Location builds the redirect URL carrying the error code.
func (e *AuthorizeError) Location() string {
	code, _ := apperrors.OAuthCode(e.Err)

	params := url.Values{}
	params.Set("error", code)

	if e.State != "" {
		params.Set("state", e.State)
	}

	return appendQuery(e.RedirectURI, params)
}

func appendQuery(uri string, params url.Values) string {
	sep := "?"
	if strings.Contains(uri, "?") {
		sep = "&"
	}

	return uri + sep + params.Encode()
}

// Authorize validates an authorization request for the signed-in
// principal and issues an authorization code.
//
// An unknown client or unregistered redirect URI is returned as a plain
// error that must not be redirected. Later failures are returned as
// *AuthorizeError. A nil principal yields ErrLoginRequired once the
// request itself is valid.
func (s *Server) Authorize(ctx context.Context, req AuthorizeRequest, principal *models.Principal) (*AuthorizeResult, error) {
	if req.ClientID == "" {
		return nil, fmt.Errorf("client_id is required: %w", apperrors.ErrInvalidRequest)
	}

	client, ok := s.clients.FindClient(req.ClientID)
	if !ok {
		return nil, fmt.Errorf("unknown client %q: %w", req.ClientID, apperrors.ErrInvalidClient)
	}

	redirectURI := req.RedirectURI
	if redirectURI == "" && len(client.RedirectURIs) == 1 {
		redirectURI = client.RedirectURIs[0]
	}

	if redirectURI == "" || !slices.Contains(client.RedirectURIs, redirectURI) {
		return nil, fmt.Errorf("redirect_uri not registered for %q: %w", client.ClientID, apperrors.ErrInvalidRedirectURI)
	}

	fail := func(err error) (*AuthorizeResult, error) {
		return nil, &AuthorizeError{Err: err, RedirectURI: redirectURI, State: req.State}
	}

	switch req.ResponseType {
	case "code":
	case "":
		return fail(fmt.Errorf("response_type is required: %w", apperrors.ErrInvalidRequest))
	default:
		return fail(fmt.Errorf("response_type %q: %w", req.ResponseType, apperrors.ErrUnsupportedResponseType))
	}

	scopes := strings.Fields(req.Scope)

	if err := s.clients.Authorize(client, models.GrantAuthorizationCode, redirectURI, scopes); err != nil {
		return fail(err)
	}

	if req.CodeChallenge == "" {
		if client.RequirePKCE {
			return fail(fmt.Errorf("code_challenge is required: %w", apperrors.ErrInvalidRequest))
		}
	} else {
		if req.CodeChallengeMethod != pkceMethodS256 {
			return fail(fmt.Errorf("code_challenge_method must be S256: %w", apperrors.ErrInvalidRequest))
		}

		if !validChallenge(req.CodeChallenge) {
			return fail(fmt.Errorf("malformed code_challenge: %w", apperrors.ErrInvalidRequest))
		}
	}

	if principal == nil {
		return fail(apperrors.ErrLoginRequired)
	}

	// A session belongs to one application's user base. Signing in to
	// another application's client needs a fresh login there.
	if principal.ApplicationID != client.ApplicationID {
		s.logger.Info("session application does not match client",
			slog.String("client_id", client.ClientID),
			slog.Int64("client_app", client.ApplicationID),
			slog.Int64("session_app", principal.ApplicationID),
		)

		return fail(apperrors.ErrLoginRequired)
	}

	claims, err := s.subjects.SubjectClaims(ctx, principal.Subject)
	if err != nil {
		return nil, fmt.Errorf("resolving subject: %w", err)
	}

	if claims == nil || claims.ApplicationID != client.ApplicationID {
		// The cookie outlived the account, or names a user of another
		// application.
		return fail(apperrors.ErrLoginRequired)
	}

	code := RandomHex(authCodeBytes)
	now := s.now()

	grant := &models.AuthorizationGrant{
		CodeHash:            state.TokenHash(code),
		ClientID:            client.ClientID,
		ApplicationID:       client.ApplicationID,
		RedirectURI:         redirectURI,
		Scopes:              scopes,
		Resources:           s.clients.Resources(scopes),
		Subject:             principal.Subject,
		Name:                claims.Name,
		Email:               claims.Email,
		Roles:               claims.Roles,
		SecurityStamp:       claims.SecurityStamp,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
		ChainID:             uuid.NewString(),
		Status:              models.GrantIssued,
		IssuedAt:            now,
		ExpiresAt:           now.Add(s.cfg.CodeTTL),
	}

	if err := s.store.SaveGrant(ctx, grant); err != nil {
		return nil, fmt.Errorf("saving grant: %w", err)
	}

	s.logger.Info("authorization code issued",
		slog.String("client_id", client.ClientID),
		slog.String("sub", principal.Subject),
		slog.String("scope", req.Scope),
	)

	return &AuthorizeResult{
		RedirectURI: redirectURI,
		Code:        code,
		State:       req.State,
		Issuer:      s.cfg.Issuer,
	}, nil
}

// TokenRequest holds the parameters of a token request.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
}

// TokenResponse is the token endpoint's success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// Token authenticates the client and runs the requested grant.
func (s *Server) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.GrantType == "" {
		return nil, fmt.Errorf("grant_type is required: %w", apperrors.ErrInvalidRequest)
	}

	client, err := s.clients.Authenticate(req.ClientID, req.ClientSecret)
	if err != nil {
		s.logger.Warn("token request with bad client credentials", slog.String("client_id", req.ClientID))
		return nil, err
	}

	grantType := models.GrantType(req.GrantType)
	if !grantType.Valid() {
		return nil, fmt.Errorf("grant_type %q: %w", req.GrantType, apperrors.ErrUnsupportedGrantType)
	}

	if !client.AllowsGrant(grantType) {
		return nil, fmt.Errorf("client %q may not use %s: %w", client.ClientID, grantType, apperrors.ErrUnauthorizedClient)
	}

	switch grantType {
	case models.GrantAuthorizationCode:
		return s.exchangeCode(ctx, client, req)
	case models.GrantRefreshToken:
		return s.refresh(ctx, client, req)
	default:
		return s.clientCredentials(ctx, client, req)
	}
}

// invalidGrant wraps reason so the client only ever sees invalid_grant.
func invalidGrant(reason string) error {
	return fmt.Errorf("%s: %w", reason, apperrors.ErrInvalidGrant)
}

func (s *Server) exchangeCode(ctx context.Context, client *models.Application, req TokenRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, fmt.Errorf("code is required: %w", apperrors.ErrInvalidRequest)
	}

	now := s.now()

	var resp *TokenResponse

	// The checks and token minting run inside the redemption so the
	// tokens commit together with the issued to redeemed transition. A
	// failed check still consumes the code.
	issue := func(grant *models.AuthorizationGrant) ([]*models.Token, error) {
		if err := checkRedemption(grant, client, req); err != nil {
			return nil, err
		}

		var (
			records []*models.Token
			err     error
		)

		resp, records, err = s.issueForGrant(grant, client, now)

		return records, err
	}

	grant, err := s.store.RedeemGrant(ctx, state.TokenHash(req.Code), now, issue)
	if errors.Is(err, apperrors.ErrAlreadyConsumed) && grant != nil {
		s.logger.Warn("authorization code replayed, chain revoked",
			slog.String("client_id", client.ClientID),
			slog.String("chain_id", grant.ChainID),
		)

		return nil, invalidGrant("authorization code already redeemed")
	}

	if err != nil {
		// Not found, expired and failed checks map to invalid_grant;
		// storage failures stay server errors.
		return nil, fmt.Errorf("redeeming code: %w", err)
	}

	s.logger.Info("authorization code redeemed",
		slog.String("client_id", client.ClientID),
		slog.String("sub", grant.Subject),
		slog.Bool("refresh_token", resp.RefreshToken != ""),
	)

	return resp, nil
}

// checkRedemption binds a redeemed code to the presenting client, its
// redirect URI and the PKCE verifier.
func checkRedemption(grant *models.AuthorizationGrant, client *models.Application, req TokenRequest) error {
	if grant.ClientID != client.ClientID {
		return invalidGrant("code issued to another client")
	}

	if req.RedirectURI != grant.RedirectURI {
		return invalidGrant("redirect_uri mismatch")
	}

	if grant.CodeChallenge != "" {
		if !validVerifier(req.CodeVerifier) || !verifyPKCE(req.CodeVerifier, grant.CodeChallenge) {
			return invalidGrant("PKCE verification failed")
		}
	} else if req.CodeVerifier != "" {
		return invalidGrant("code_verifier sent for a code without challenge")
	}

	return nil
}

// issueForGrant mints the response for a redeemed code and the token
// records to persist with it.
func (s *Server) issueForGrant(grant *models.AuthorizationGrant, client *models.Application, now time.Time) (*TokenResponse, []*models.Token, error) {
	iss := issuance{
		subject:   grant.Subject,
		appID:     grant.ApplicationID,
		clientID:  client.ClientID,
		scopes:    grant.Scopes,
		resources: grant.Resources,
		name:      grant.Name,
		email:     grant.Email,
		roles:     grant.Roles,
		stamp:     grant.SecurityStamp,
		chainID:   grant.ChainID,
		nonce:     grant.Nonce,
	}

	access, accessRec, err := s.issueAccessToken(iss, now)
	if err != nil {
		return nil, nil, err
	}

	resp := &TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.cfg.AccessTokenTTL.Seconds()),
		Scope:       strings.Join(grant.Scopes, " "),
	}

	records := []*models.Token{accessRec}

	if slices.Contains(grant.Scopes, scopeOfflineAccess) && client.AllowsGrant(models.GrantRefreshToken) {
		refresh, refreshRec := s.issueRefreshToken(iss, now)
		resp.RefreshToken = refresh
		records = append(records, refreshRec)
	}

	if slices.Contains(grant.Scopes, scopeOpenID) {
		idToken, err := s.issueIDToken(iss, now)
		if err != nil {
			return nil, nil, err
		}

		resp.IDToken = idToken
	}

	return resp, records, nil
}

func (s *Server) refresh(ctx context.Context, client *models.Application, req TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, fmt.Errorf("refresh_token is required: %w", apperrors.ErrInvalidRequest)
	}

	now := s.now()
	hash := state.TokenHash(req.RefreshToken)

	current, err := s.store.GetToken(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("loading refresh token: %w", err)
	}

	if current == nil || current.Kind != models.KindRefreshToken {
		return nil, invalidGrant("unknown refresh token")
	}

	if current.ClientID != client.ClientID {
		return nil, invalidGrant("refresh token issued to another client")
	}

	scopes := current.Scopes

	if req.Scope != "" {
		requested := strings.Fields(req.Scope)
		for _, sc := range requested {
			if !slices.Contains(current.Scopes, sc) {
				return nil, fmt.Errorf("scope %q exceeds the granted scopes: %w", sc, apperrors.ErrInvalidScope)
			}
		}

		scopes = requested
	}

	claims, err := s.subjects.SubjectClaims(ctx, current.Subject)
	if err != nil {
		return nil, fmt.Errorf("resolving subject: %w", err)
	}

	if claims == nil || claims.SecurityStamp != current.SecurityStamp {
		if _, err := s.store.RevokeChain(ctx, current.ChainID, now); err != nil {
			return nil, fmt.Errorf("revoking stale chain: %w", err)
		}

		s.logger.Warn("refresh rejected, subject credentials changed",
			slog.String("client_id", client.ClientID),
			slog.String("sub", current.Subject),
			slog.String("chain_id", current.ChainID),
		)

		return nil, invalidGrant("subject security stamp changed")
	}

	iss := issuance{
		subject:   current.Subject,
		appID:     current.ApplicationID,
		clientID:  client.ClientID,
		scopes:    current.Scopes,
		resources: current.Resources,
		name:      claims.Name,
		email:     claims.Email,
		roles:     claims.Roles,
		stamp:     claims.SecurityStamp,
		chainID:   current.ChainID,
	}

	refresh, refreshRec := s.issueRefreshToken(iss, now)

	accessIss := iss
	accessIss.scopes = scopes
	accessIss.resources = s.clients.Resources(scopes)

	access, accessRec, err := s.issueAccessToken(accessIss, now)
	if err != nil {
		return nil, err
	}

	err = s.store.RotateRefreshToken(ctx, hash, now, s.cfg.RefreshReuseLeeway, accessRec, refreshRec)
	if errors.Is(err, apperrors.ErrTokenReplayed) {
		s.logger.Warn("refresh token replayed, chain revoked",
			slog.String("client_id", client.ClientID),
			slog.String("chain_id", current.ChainID),
		)

		return nil, invalidGrant("refresh token reused")
	}

	if err != nil {
		return nil, fmt.Errorf("rotating refresh token: %w", err)
	}

	return &TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.cfg.AccessTokenTTL.Seconds()),
		RefreshToken: refresh,
		Scope:        strings.Join(scopes, " "),
	}, nil
}

func (s *Server) clientCredentials(ctx context.Context, client *models.Application, req TokenRequest) (*TokenResponse, error) {
	if !client.Confidential() {
		return nil, fmt.Errorf("public client %q: %w", client.ClientID, apperrors.ErrUnauthorizedClient)
	}

	scopes := strings.Fields(req.Scope)

	if err := s.clients.Authorize(client, models.GrantClientCredentials, "", scopes); err != nil {
		return nil, err
	}

	now := s.now()

	access, rec, err := s.issueAccessToken(issuance{
		subject:   client.ClientID,
		appID:     client.ApplicationID,
		clientID:  client.ClientID,
		scopes:    scopes,
		resources: s.clients.Resources(scopes),
		name:      client.DisplayName,
	}, now)
	if err != nil {
		return nil, err
	}

	if err := s.store.SaveTokens(ctx, rec); err != nil {
		return nil, fmt.Errorf("saving token: %w", err)
	}

	s.logger.Info("client credentials token issued", slog.String("client_id", client.ClientID))

	return &TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.cfg.AccessTokenTTL.Seconds()),
		Scope:       strings.Join(scopes, " "),
	}, nil
}

// Revoke revokes token on behalf of an authenticated client. Unknown
// tokens, tokens of other clients and already revoked tokens succeed
// without effect. Revoking a refresh token revokes its whole chain.
func (s *Server) Revoke(ctx context.Context, clientID, secret, token, hint string) error {
	client, err := s.clients.Authenticate(clientID, secret)
	if err != nil {
		return err
	}

	if token == "" {
		return fmt.Errorf("token is required: %w", apperrors.ErrInvalidRequest)
	}

	hash := state.TokenHash(token)

	t, err := s.store.GetToken(ctx, hash)
	if err != nil {
		return fmt.Errorf("loading token: %w", err)
	}

	if t == nil || t.ClientID != client.ClientID {
		s.logger.Debug("revocation ignored",
			slog.String("client_id", client.ClientID),
			slog.String("hint", hint),
		)

		return nil
	}

	now := s.now()

	if t.Kind == models.KindRefreshToken && t.ChainID != "" {
		if _, err := s.store.RevokeChain(ctx, t.ChainID, now); err != nil {
			return fmt.Errorf("revoking chain: %w", err)
		}
	} else if err := s.store.RevokeToken(ctx, hash, now); err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}

	s.logger.Info("token revoked",
		slog.String("client_id", client.ClientID),
		slog.String("kind", string(t.Kind)),
	)

	return nil
}

// ValidateAccessToken checks an access token's signature and stored
// status and returns its principal. A token issued to a user stops
// validating once that user is deleted or their security stamp changes.
func (s *Server) ValidateAccessToken(ctx context.Context, raw string) (*models.Principal, error) {
	if _, err := s.parseAccessToken(raw); err != nil {
		return nil, err
	}

	t, err := s.store.GetToken(ctx, state.TokenHash(raw))
	if err != nil {
		return nil, fmt.Errorf("loading access token: %w", err)
	}

	if t == nil || t.Kind != models.KindAccessToken || !t.Usable(s.now()) {
		return nil, apperrors.ErrInvalidToken
	}

	// Client credentials tokens carry no stamp.
	if t.SecurityStamp != "" {
		claims, err := s.subjects.SubjectClaims(ctx, t.Subject)
		if err != nil {
			return nil, fmt.Errorf("resolving subject: %w", err)
		}

		if claims == nil || claims.SecurityStamp != t.SecurityStamp {
			return nil, fmt.Errorf("subject credentials changed: %w", apperrors.ErrInvalidToken)
		}
	}

	p := t.Principal()

	return &p, nil
}

// UserInfo is the userinfo endpoint's response body.
type UserInfo struct {
	Subject string   `json:"sub"`
	App     int64    `json:"app"`
	Name    string   `json:"name,omitempty"`
	Email   string   `json:"email,omitempty"`
	Roles   []string `json:"role"`
}

// UserInfo projects the claims of a validated access token principal.
func (s *Server) UserInfo(p *models.Principal) UserInfo {
	roles := p.Roles
	if roles == nil {
		roles = []string{}
	}

	return UserInfo{
		Subject: p.Subject,
		App:     p.ApplicationID,
		Name:    p.Name,
		Email:   p.Email,
		Roles:   roles,
	}
}
