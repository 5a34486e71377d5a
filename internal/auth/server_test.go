package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/ziggio-identity/internal/clients"
	apperrors "github.com/alexjbarnes/ziggio-identity/internal/errors"
	"github.com/alexjbarnes/ziggio-identity/internal/identity"
	"github.com/alexjbarnes/ziggio-identity/internal/models"
	"github.com/alexjbarnes/ziggio-identity/internal/password"
	"github.com/alexjbarnes/ziggio-identity/internal/state"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testIssuer     = "https://id.zigg.io"
	webRedirect    = "https://app.example.com/callback"
	spaRedirect    = "https://spa.example.com/cb"
	tenantRedirect = "https://tenant.example.com/cb"
	testVerifier   = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	apiResource    = "https://api.example.com"
)

var testSigningKey = bytes.Repeat([]byte("k"), 32)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func pkceChallenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

func mustHash(t *testing.T, secret string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

type fixture struct {
	srv    *Server
	cfg    ServerConfig
	st     *state.State
	dir    *identity.Directory
	reg    *clients.Registry
	hasher *password.Hasher
	user   *models.User
	roles  []models.Role
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := state.LoadAt(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	hasher := password.NewHasher(password.Params{Memory: 64, Iterations: 1, Parallelism: 1, KeyLength: 32}, 4)
	dir := identity.NewDirectory(st, st, hasher)
	ctx := context.Background()

	user, err := dir.CreateUser(ctx, identity.NewUser{
		ApplicationID: 0,
		Username:      "administrator",
		Email:         "admin@zigg.io",
		Password:      "ziggio",
	})
	require.NoError(t, err)

	_, roles, err := dir.CreateRoleGroup(ctx, 0, "Application", []string{"Application Administrator", "Application User"})
	require.NoError(t, err)
	require.NoError(t, dir.AssignRole(ctx, user.ID, roles[0].ID))

	reg, err := clients.New([]models.Application{
		{
			ClientID:               "web",
			ClientSecretHash:       mustHash(t, "web-secret"),
			DisplayName:            "Web",
			GrantTypes:             []models.GrantType{models.GrantAuthorizationCode, models.GrantRefreshToken},
			RedirectURIs:           []string{webRedirect},
			PostLogoutRedirectURIs: []string{"https://app.example.com/"},
			Scopes:                 []string{"openid", "profile", "email", "roles", "offline_access", "api"},
			RequirePKCE:            true,
		},
		{
			ClientID:     "spa",
			GrantTypes:   []models.GrantType{models.GrantAuthorizationCode},
			RedirectURIs: []string{spaRedirect},
			Scopes:       []string{"openid", "offline_access"},
		},
		{
			ClientID:         "machine",
			ClientSecretHash: mustHash(t, "machine-secret"),
			DisplayName:      "Machine",
			GrantTypes:       []models.GrantType{models.GrantClientCredentials},
			Scopes:           []string{"api"},
		},
		{
			ClientID:      "tenant",
			ApplicationID: 7,
			GrantTypes:    []models.GrantType{models.GrantAuthorizationCode},
			RedirectURIs:  []string{tenantRedirect},
			Scopes:        []string{"openid", "profile"},
		},
	}, []models.Scope{{Name: "api", Resources: []string{apiResource}}})
	require.NoError(t, err)

	f := &fixture{
		st:     st,
		dir:    dir,
		reg:    reg,
		hasher: hasher,
		user:   user,
		roles:  roles,
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	f.cfg = ServerConfig{
		Issuer:             testIssuer,
		SigningKey:         testSigningKey,
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    720 * time.Hour,
		CodeTTL:            5 * time.Minute,
		RefreshReuseLeeway: 15 * time.Second,
		Clock:              func() time.Time { return f.now },
	}

	srv, err := NewServer(f.cfg, reg, st, dir, testLogger())
	require.NoError(t, err)

	f.srv = srv

	return f
}

func (f *fixture) principal() *models.Principal {
	return &models.Principal{
		Subject: strconv.FormatInt(f.user.ID, 10),
		Name:    f.user.Username,
		Email:   f.user.Email,
	}
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// authorize runs a successful authorization for the web client and
// returns the code.
func (f *fixture) authorize(t *testing.T, scope string) string {
	t.Helper()

	res, err := f.srv.Authorize(context.Background(), AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            "web",
		RedirectURI:         webRedirect,
		Scope:               scope,
		State:               "af0ifjsldkj",
		Nonce:               "n-0S6_WzA2Mj",
		CodeChallenge:       pkceChallenge(testVerifier),
		CodeChallengeMethod: "S256",
	}, f.principal())
	require.NoError(t, err)
	require.NotEmpty(t, res.Code)

	return res.Code
}

func (f *fixture) exchange(code, verifier string) (*TokenResponse, error) {
	return f.srv.Token(context.Background(), TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     "web",
		ClientSecret: "web-secret",
		Code:         code,
		RedirectURI:  webRedirect,
		CodeVerifier: verifier,
	})
}

func (f *fixture) refresh(refreshToken string) (*TokenResponse, error) {
	return f.srv.Token(context.Background(), TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     "web",
		ClientSecret: "web-secret",
		RefreshToken: refreshToken,
	})
}

func (f *fixture) tokenStatus(t *testing.T, raw string) models.TokenStatus {
	t.Helper()
	tok, err := f.st.GetToken(context.Background(), state.TokenHash(raw))
	require.NoError(t, err)
	require.NotNil(t, tok)
	return tok.Status
}

func assertOAuthCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	got, _ := apperrors.OAuthCode(err)
	assert.Equal(t, code, got, "error: %v", err)
}

// --- NewServer ---

func TestNewServer_Validation(t *testing.T) {
	base := ServerConfig{
		Issuer:          testIssuer,
		SigningKey:      testSigningKey,
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
		CodeTTL:         time.Minute,
	}

	_, err := NewServer(base, nil, nil, nil, testLogger())
	require.NoError(t, err)

	short := base
	short.SigningKey = []byte("short")
	_, err = NewServer(short, nil, nil, nil, testLogger())
	assert.Error(t, err)

	noIssuer := base
	noIssuer.Issuer = ""
	_, err = NewServer(noIssuer, nil, nil, nil, testLogger())
	assert.Error(t, err)

	zeroTTL := base
	zeroTTL.CodeTTL = 0
	_, err = NewServer(zeroTTL, nil, nil, nil, testLogger())
	assert.Error(t, err)
}

// --- Authorize ---

func TestAuthorize_Success(t *testing.T) {
	f := newFixture(t)

	res, err := f.srv.Authorize(context.Background(), AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            "web",
		RedirectURI:         webRedirect,
		Scope:               "openid api",
		State:               "has&equals=and spaces",
		CodeChallenge:       pkceChallenge(testVerifier),
		CodeChallengeMethod: "S256",
	}, f.principal())
	require.NoError(t, err)

	u, err := url.Parse(res.Location())
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", u.Host)
	assert.Equal(t, res.Code, u.Query().Get("code"))
	assert.Equal(t, "has&equals=and spaces", u.Query().Get("state"))
	assert.Equal(t, testIssuer, u.Query().Get("iss"))
}

func TestAuthorize_DefaultsToSingleRedirectURI(t *testing.T) {
	f := newFixture(t)

	res, err := f.srv.Authorize(context.Background(), AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "spa",
		Scope:        "openid",
	}, f.principal())
	require.NoError(t, err)
	assert.Equal(t, spaRedirect, res.RedirectURI)
}

func TestAuthorize_UntrustedRequestsAreNotRedirected(t *testing.T) {
	f := newFixture(t)
	var aerr *AuthorizeError

	_, err := f.srv.Authorize(context.Background(), AuthorizeRequest{ResponseType: "code", ClientID: "nobody", RedirectURI: webRedirect}, f.principal())
	assert.ErrorIs(t, err, apperrors.ErrInvalidClient)
	assert.NotErrorAs(t, err, &aerr)

	_, err = f.srv.Authorize(context.Background(), AuthorizeRequest{ResponseType: "code", ClientID: "web", RedirectURI: "https://evil.example.com/steal"}, f.principal())
	assert.ErrorIs(t, err, apperrors.ErrInvalidRedirectURI)
	assert.NotErrorAs(t, err, &aerr)
}

func TestAuthorize_RedirectedErrors(t *testing.T) {
	challenge := pkceChallenge(testVerifier)

	tests := []struct {
		name string
		req  AuthorizeRequest
		code string
	}{
		{
			name: "unsupported response type",
			req:  AuthorizeRequest{ResponseType: "token", CodeChallenge: challenge, CodeChallengeMethod: "S256"},
			code: "unsupported_response_type",
		},
		{
			name: "missing response type",
			req:  AuthorizeRequest{CodeChallenge: challenge, CodeChallengeMethod: "S256"},
			code: "invalid_request",
		},
		{
			name: "scope not allowed",
			req:  AuthorizeRequest{ResponseType: "code", Scope: "openid admin", CodeChallenge: challenge, CodeChallengeMethod: "S256"},
			code: "invalid_scope",
		},
		{
			name: "pkce required",
			req:  AuthorizeRequest{ResponseType: "code"},
			code: "invalid_request",
		},
		{
			name: "plain pkce rejected",
			req:  AuthorizeRequest{ResponseType: "code", CodeChallenge: challenge, CodeChallengeMethod: "plain"},
			code: "invalid_request",
		},
		{
			name: "missing method rejected",
			req:  AuthorizeRequest{ResponseType: "code", CodeChallenge: challenge},
			code: "invalid_request",
		},
		{
			name: "malformed challenge",
			req:  AuthorizeRequest{ResponseType: "code", CodeChallenge: "short", CodeChallengeMethod: "S256"},
			code: "invalid_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.req.ClientID = "web"
			tt.req.RedirectURI = webRedirect
			tt.req.State = "s1"

			_, err := f.srv.Authorize(context.Background(), tt.req, f.principal())

			var aerr *AuthorizeError
			require.ErrorAs(t, err, &aerr)

			u, perr := url.Parse(aerr.Location())
			require.NoError(t, perr)
			assert.Equal(t, tt.code, u.Query().Get("error"))
			assert.Equal(t, "s1", u.Query().Get("state"))
			assert.Empty(t, u.Query().Get("code"))
		})
	}
}

func TestAuthorize_LoginRequired(t *testing.T) {
	f := newFixture(t)

	_, err := f.srv.Authorize(context.Background(), AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            "web",
		RedirectURI:         webRedirect,
		CodeChallenge:       pkceChallenge(testVerifier),
		CodeChallengeMethod: "S256",
	}, nil)
	assert.ErrorIs(t, err, apperrors.ErrLoginRequired)

	// A cookie for a deleted account also needs a fresh sign-in.
	require.NoError(t, f.dir.DeleteUser(context.Background(), f.user.ID))

	_, err = f.srv.Authorize(context.Background(), AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            "web",
		RedirectURI:         webRedirect,
		CodeChallenge:       pkceChallenge(testVerifier),
		CodeChallengeMethod: "S256",
	}, f.principal())
	assert.ErrorIs(t, err, apperrors.ErrLoginRequired)
}

func TestAuthorize_ApplicationIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mallory, err := f.dir.CreateUser(ctx, identity.NewUser{
		ApplicationID: 7,
		Username:      "mallory",
		Email:         "mallory@example.com",
		Password:      "pw",
	})
	require.NoError(t, err)

	tenantUser := &models.Principal{
		Subject:       strconv.FormatInt(mallory.ID, 10),
		ApplicationID: 7,
		Name:          "mallory",
	}

	webRequest := AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            "web",
		RedirectURI:         webRedirect,
		Scope:               "openid api",
		CodeChallenge:       pkceChallenge(testVerifier),
		CodeChallengeMethod: "S256",
	}

	_, err = f.srv.Authorize(ctx, webRequest, tenantUser)
	assert.ErrorIs(t, err, apperrors.ErrLoginRequired, "an application 7 session cannot sign in to application 0")

	// The stored account decides, not the cookie's claim.
	relabeled := *tenantUser
	relabeled.ApplicationID = 0
	_, err = f.srv.Authorize(ctx, webRequest, &relabeled)
	assert.ErrorIs(t, err, apperrors.ErrLoginRequired)

	tenantRequest := AuthorizeRequest{ResponseType: "code", ClientID: "tenant", Scope: "openid profile"}

	_, err = f.srv.Authorize(ctx, tenantRequest, f.principal())
	assert.ErrorIs(t, err, apperrors.ErrLoginRequired, "administrators of application 0 are not users of application 7")

	res, err := f.srv.Authorize(ctx, tenantRequest, tenantUser)
	require.NoError(t, err)

	resp, err := f.srv.Token(ctx, TokenRequest{
		GrantType:   "authorization_code",
		ClientID:    "tenant",
		Code:        res.Code,
		RedirectURI: tenantRedirect,
	})
	require.NoError(t, err)

	p, err := f.srv.ValidateAccessToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.ApplicationID)
	assert.Equal(t, int64(7), f.srv.UserInfo(p).App)

	claims, err := f.srv.parseAccessToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.App)

	var idClaims idTokenClaims
	_, err = jwt.ParseWithClaims(resp.IDToken, &idClaims, func(*jwt.Token) (any, error) {
		return testSigningKey, nil
	}, jwt.WithTimeFunc(func() time.Time { return f.now }))
	require.NoError(t, err)
	assert.Equal(t, int64(7), idClaims.App)
}

// --- authorization_code ---

func TestExchange_IssuesTokens(t *testing.T) {
	f := newFixture(t)
	code := f.authorize(t, "openid profile roles offline_access api")

	resp, err := f.exchange(code, testVerifier)
	require.NoError(t, err)

	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, 900, resp.ExpiresIn)
	assert.Equal(t, "openid profile roles offline_access api", resp.Scope)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.NotEmpty(t, resp.IDToken)

	p, err := f.srv.ValidateAccessToken(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatInt(f.user.ID, 10), p.Subject)
	assert.Equal(t, "web", p.ClientID)
	assert.Equal(t, []string{"Application Administrator"}, p.Roles)
	assert.Equal(t, []string{apiResource}, p.Resources)

	info := f.srv.UserInfo(p)
	assert.Equal(t, "administrator", info.Name)
	assert.Equal(t, "admin@zigg.io", info.Email)
	assert.Equal(t, []string{"Application Administrator"}, info.Roles)
}

func TestExchange_IDTokenClaims(t *testing.T) {
	f := newFixture(t)
	code := f.authorize(t, "openid")

	resp, err := f.exchange(code, testVerifier)
	require.NoError(t, err)
	assert.Empty(t, resp.RefreshToken, "no refresh token without offline_access")

	var claims idTokenClaims
	_, err = jwt.ParseWithClaims(resp.IDToken, &claims, func(*jwt.Token) (any, error) {
		return testSigningKey, nil
	}, jwt.WithTimeFunc(func() time.Time { return f.now }))
	require.NoError(t, err)

	assert.Equal(t, testIssuer, claims.Issuer)
	assert.Equal(t, jwt.ClaimStrings{"web"}, claims.Audience)
	assert.Equal(t, "n-0S6_WzA2Mj", claims.Nonce)
	assert.Equal(t, "administrator", claims.Name)
}

func TestExchange_NoIDTokenWithoutOpenID(t *testing.T) {
	f := newFixture(t)
	code := f.authorize(t, "api")

	resp, err := f.exchange(code, testVerifier)
	require.NoError(t, err)
	assert.Empty(t, resp.IDToken)
	assert.Empty(t, resp.RefreshToken)
}

func TestExchange_CodeIsSingleUse(t *testing.T) {
	f := newFixture(t)
	code := f.authorize(t, "openid offline_access")

	first, err := f.exchange(code, testVerifier)
	require.NoError(t, err)

	_, err = f.exchange(code, testVerifier)
	assertOAuthCode(t, err, "invalid_grant")

	// The replay revoked everything issued from the code.
	_, err = f.srv.ValidateAccessToken(context.Background(), first.AccessToken)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)

	_, err = f.refresh(first.RefreshToken)
	assertOAuthCode(t, err, "invalid_grant")
}

// replayingStore redeems a code again right after the first redemption
// commits, before the first caller gets its response.
type replayingStore struct {
	*state.State
	once   sync.Once
	replay func()
}

func (s *replayingStore) RedeemGrant(ctx context.Context, codeHash string, now time.Time, issue func(*models.AuthorizationGrant) ([]*models.Token, error)) (*models.AuthorizationGrant, error) {
	g, err := s.State.RedeemGrant(ctx, codeHash, now, issue)
	if err == nil {
		s.once.Do(s.replay)
	}

	return g, err
}

func TestExchange_ReplayDuringRedemptionRevokesTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	store := &replayingStore{State: f.st}

	srv, err := NewServer(f.cfg, f.reg, store, f.dir, testLogger())
	require.NoError(t, err)

	code := f.authorize(t, "openid offline_access")
	req := TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     "web",
		ClientSecret: "web-secret",
		Code:         code,
		RedirectURI:  webRedirect,
		CodeVerifier: testVerifier,
	}

	var replayErr error

	store.replay = func() {
		_, replayErr = srv.Token(ctx, req)
	}

	first, err := srv.Token(ctx, req)
	require.NoError(t, err)
	assertOAuthCode(t, replayErr, "invalid_grant")

	assert.Equal(t, models.TokenRevoked, f.tokenStatus(t, first.RefreshToken))
	assert.Equal(t, models.TokenRevoked, f.tokenStatus(t, first.AccessToken))

	_, err = f.refresh(first.RefreshToken)
	assertOAuthCode(t, err, "invalid_grant")
}

func TestExchange_PKCEBinding(t *testing.T) {
	f := newFixture(t)
	code := f.authorize(t, "openid")

	_, err := f.exchange(code, "wrong-verifier-wrong-verifier-wrong-verifier-x")
	assertOAuthCode(t, err, "invalid_grant")

	// The failed attempt consumed the code.
	_, err = f.exchange(code, testVerifier)
	assertOAuthCode(t, err, "invalid_grant")
}

func TestExchange_MissingVerifier(t *testing.T) {
	f := newFixture(t)
	code := f.authorize(t, "openid")

	_, err := f.exchange(code, "")
	assertOAuthCode(t, err, "invalid_grant")
}

func TestExchange_RedirectURIMismatch(t *testing.T) {
	f := newFixture(t)
	code := f.authorize(t, "openid")

	_, err := f.srv.Token(context.Background(), TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     "web",
		ClientSecret: "web-secret",
		Code:         code,
		RedirectURI:  "https://app.example.com/other",
		CodeVerifier: testVerifier,
	})
	assertOAuthCode(t, err, "invalid_grant")
}

func TestExchange_OtherClient(t *testing.T) {
	f := newFixture(t)
	code := f.authorize(t, "openid")

	_, err := f.srv.Token(context.Background(), TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     "spa",
		Code:         code,
		RedirectURI:  webRedirect,
		CodeVerifier: testVerifier,
	})
	assertOAuthCode(t, err, "invalid_grant")
}

func TestExchange_ExpiredCode(t *testing.T) {
	f := newFixture(t)
	code := f.authorize(t, "openid")

	f.advance(5 * time.Minute)

	_, err := f.exchange(code, testVerifier)
	assertOAuthCode(t, err, "invalid_grant")
}

func TestExchange_UnknownCode(t *testing.T) {
	f := newFixture(t)

	_, err := f.exchange(RandomHex(32), testVerifier)
	assertOAuthCode(t, err, "invalid_grant")

	_, err = f.exchange("", testVerifier)
	assertOAuthCode(t, err, "invalid_request")
}

func TestExchange_ConcurrentRedemption(t *testing.T) {
	f := newFixture(t)
	code := f.authorize(t, "openid")

	const workers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	for range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if _, err := f.exchange(code, testVerifier); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestExchange_PublicClient(t *testing.T) {
	f := newFixture(t)

	res, err := f.srv.Authorize(context.Background(), AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "spa",
		Scope:        "openid offline_access",
	}, f.principal())
	require.NoError(t, err)

	resp, err := f.srv.Token(context.Background(), TokenRequest{
		GrantType:   "authorization_code",
		ClientID:    "spa",
		Code:        res.Code,
		RedirectURI: spaRedirect,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.RefreshToken, "spa may not use refresh_token")

	_, err = f.srv.Token(context.Background(), TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     "spa",
		ClientSecret: "guess",
		Code:         res.Code,
		RedirectURI:  spaRedirect,
	})
	assertOAuthCode(t, err, "invalid_client")
}

// --- refresh_token ---

func TestRefresh_Rotation(t *testing.T) {
	f := newFixture(t)

	first, err := f.exchange(f.authorize(t, "openid offline_access api"), testVerifier)
	require.NoError(t, err)

	f.advance(time.Minute)

	second, err := f.refresh(first.RefreshToken)
	require.NoError(t, err)

	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, 900, second.ExpiresIn)
	assert.Equal(t, "openid offline_access api", second.Scope)
	assert.Equal(t, models.TokenRedeemed, f.tokenStatus(t, first.RefreshToken))
	assert.Equal(t, models.TokenActive, f.tokenStatus(t, second.RefreshToken))

	_, err = f.srv.ValidateAccessToken(context.Background(), second.AccessToken)
	require.NoError(t, err)

	rec, err := f.st.GetToken(context.Background(), state.TokenHash(second.RefreshToken))
	require.NoError(t, err)
	assert.True(t, f.now.Add(720*time.Hour).Equal(rec.ExpiresAt), "expiry is fixed from the new token's issuance")
}

func TestRefresh_ReuseRevokesChain(t *testing.T) {
	f := newFixture(t)

	first, err := f.exchange(f.authorize(t, "openid offline_access"), testVerifier)
	require.NoError(t, err)

	second, err := f.refresh(first.RefreshToken)
	require.NoError(t, err)

	f.advance(time.Minute)

	_, err = f.refresh(first.RefreshToken)
	assertOAuthCode(t, err, "invalid_grant")

	_, err = f.refresh(second.RefreshToken)
	assertOAuthCode(t, err, "invalid_grant")

	_, err = f.srv.ValidateAccessToken(context.Background(), second.AccessToken)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestRefresh_ReuseWithinLeeway(t *testing.T) {
	f := newFixture(t)

	first, err := f.exchange(f.authorize(t, "openid offline_access"), testVerifier)
	require.NoError(t, err)

	second, err := f.refresh(first.RefreshToken)
	require.NoError(t, err)

	f.advance(5 * time.Second)

	third, err := f.refresh(first.RefreshToken)
	require.NoError(t, err, "a retry inside the leeway is not a replay")

	assert.Equal(t, models.TokenRevoked, f.tokenStatus(t, second.RefreshToken))
	assert.Equal(t, models.TokenActive, f.tokenStatus(t, third.RefreshToken))

	_, err = f.refresh(third.RefreshToken)
	require.NoError(t, err)
}

func TestRefresh_PasswordChangeInvalidates(t *testing.T) {
	f := newFixture(t)

	first, err := f.exchange(f.authorize(t, "openid offline_access"), testVerifier)
	require.NoError(t, err)

	require.NoError(t, f.dir.ChangePassword(context.Background(), f.user.ID, "new-password"))

	_, err = f.refresh(first.RefreshToken)
	assertOAuthCode(t, err, "invalid_grant")
	assert.Equal(t, models.TokenRevoked, f.tokenStatus(t, first.RefreshToken))
}

func TestRefresh_PicksUpRoleChanges(t *testing.T) {
	f := newFixture(t)

	first, err := f.exchange(f.authorize(t, "openid offline_access"), testVerifier)
	require.NoError(t, err)

	require.NoError(t, f.dir.AssignRole(context.Background(), f.user.ID, f.roles[1].ID))

	second, err := f.refresh(first.RefreshToken)
	require.NoError(t, err)

	p, err := f.srv.ValidateAccessToken(context.Background(), second.AccessToken)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Application Administrator", "Application User"}, p.Roles)
}

func TestRefresh_ScopeNarrowing(t *testing.T) {
	f := newFixture(t)

	first, err := f.exchange(f.authorize(t, "openid offline_access"), testVerifier)
	require.NoError(t, err)

	narrowed, err := f.srv.Token(context.Background(), TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     "web",
		ClientSecret: "web-secret",
		RefreshToken: first.RefreshToken,
		Scope:        "openid",
	})
	require.NoError(t, err)
	assert.Equal(t, "openid", narrowed.Scope)

	rec, err := f.st.GetToken(context.Background(), state.TokenHash(narrowed.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, []string{"openid", "offline_access"}, rec.Scopes, "the refresh token keeps the granted scopes")

	_, err = f.srv.Token(context.Background(), TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     "web",
		ClientSecret: "web-secret",
		RefreshToken: narrowed.RefreshToken,
		Scope:        "openid api",
	})
	assertOAuthCode(t, err, "invalid_scope")
}

func TestRefresh_Expired(t *testing.T) {
	f := newFixture(t)

	first, err := f.exchange(f.authorize(t, "openid offline_access"), testVerifier)
	require.NoError(t, err)

	f.advance(721 * time.Hour)

	_, err = f.refresh(first.RefreshToken)
	assertOAuthCode(t, err, "invalid_grant")
}

func TestRefresh_AccessTokenRejected(t *testing.T) {
	f := newFixture(t)

	first, err := f.exchange(f.authorize(t, "openid offline_access"), testVerifier)
	require.NoError(t, err)

	_, err = f.refresh(first.AccessToken)
	assertOAuthCode(t, err, "invalid_grant")

	_, err = f.refresh("")
	assertOAuthCode(t, err, "invalid_request")
}

// --- client_credentials ---

func TestClientCredentials(t *testing.T) {
	f := newFixture(t)

	_, err := f.srv.Token(context.Background(), TokenRequest{
		GrantType:    "client_credentials",
		ClientID:     "machine",
		ClientSecret: "machine-secret",
		Scope:        "openid",
	})
	assertOAuthCode(t, err, "invalid_scope")

	_, status := apperrors.OAuthCode(err)
	assert.Equal(t, http.StatusBadRequest, status)

	resp, err := f.srv.Token(context.Background(), TokenRequest{
		GrantType:    "client_credentials",
		ClientID:     "machine",
		ClientSecret: "machine-secret",
		Scope:        "api",
	})
	require.NoError(t, err)
	assert.Empty(t, resp.RefreshToken)
	assert.Empty(t, resp.IDToken)
	assert.Equal(t, "api", resp.Scope)

	p, err := f.srv.ValidateAccessToken(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "machine", p.Subject)
	assert.Equal(t, []string{apiResource}, p.Resources)
}

func TestToken_ClientAndGrantChecks(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  TokenRequest
		code string
	}{
		{"missing grant type", TokenRequest{ClientID: "machine", ClientSecret: "machine-secret"}, "invalid_request"},
		{"wrong secret", TokenRequest{GrantType: "client_credentials", ClientID: "machine", ClientSecret: "nope"}, "invalid_client"},
		{"unknown client", TokenRequest{GrantType: "client_credentials", ClientID: "ghost", ClientSecret: "x"}, "invalid_client"},
		{"unsupported grant", TokenRequest{GrantType: "password", ClientID: "machine", ClientSecret: "machine-secret"}, "unsupported_grant_type"},
		{"grant not allowed", TokenRequest{GrantType: "authorization_code", ClientID: "machine", ClientSecret: "machine-secret", Code: "x"}, "unauthorized_client"},
		{"cc not allowed for web", TokenRequest{GrantType: "client_credentials", ClientID: "web", ClientSecret: "web-secret"}, "unauthorized_client"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.srv.Token(context.Background(), tt.req)
			assertOAuthCode(t, err, tt.code)
		})
	}
}

// --- revoke ---

func TestRevoke_AccessToken(t *testing.T) {
	f := newFixture(t)

	resp, err := f.exchange(f.authorize(t, "openid offline_access"), testVerifier)
	require.NoError(t, err)

	require.NoError(t, f.srv.Revoke(context.Background(), "web", "web-secret", resp.AccessToken, "access_token"))

	_, err = f.srv.ValidateAccessToken(context.Background(), resp.AccessToken)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)

	// Idempotent.
	require.NoError(t, f.srv.Revoke(context.Background(), "web", "web-secret", resp.AccessToken, ""))

	// The refresh token is unaffected.
	_, err = f.refresh(resp.RefreshToken)
	require.NoError(t, err)
}

func TestRevoke_RefreshTokenRevokesChain(t *testing.T) {
	f := newFixture(t)

	resp, err := f.exchange(f.authorize(t, "openid offline_access"), testVerifier)
	require.NoError(t, err)

	require.NoError(t, f.srv.Revoke(context.Background(), "web", "web-secret", resp.RefreshToken, "refresh_token"))

	_, err = f.refresh(resp.RefreshToken)
	assertOAuthCode(t, err, "invalid_grant")

	_, err = f.srv.ValidateAccessToken(context.Background(), resp.AccessToken)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestRevoke_NoOps(t *testing.T) {
	f := newFixture(t)

	resp, err := f.srv.Token(context.Background(), TokenRequest{
		GrantType: "client_credentials", ClientID: "machine", ClientSecret: "machine-secret", Scope: "api",
	})
	require.NoError(t, err)

	// Unknown token.
	require.NoError(t, f.srv.Revoke(context.Background(), "web", "web-secret", "not-a-token", ""))

	// Another client's token is left alone.
	require.NoError(t, f.srv.Revoke(context.Background(), "web", "web-secret", resp.AccessToken, ""))

	_, err = f.srv.ValidateAccessToken(context.Background(), resp.AccessToken)
	require.NoError(t, err)
}

func TestRevoke_Errors(t *testing.T) {
	f := newFixture(t)

	err := f.srv.Revoke(context.Background(), "web", "wrong", "x", "")
	assertOAuthCode(t, err, "invalid_client")

	err = f.srv.Revoke(context.Background(), "web", "web-secret", "", "")
	assertOAuthCode(t, err, "invalid_request")
}

// --- ValidateAccessToken ---

func TestValidateAccessToken(t *testing.T) {
	f := newFixture(t)

	resp, err := f.srv.Token(context.Background(), TokenRequest{
		GrantType: "client_credentials", ClientID: "machine", ClientSecret: "machine-secret", Scope: "api",
	})
	require.NoError(t, err)

	t.Run("garbage", func(t *testing.T) {
		_, err := f.srv.ValidateAccessToken(context.Background(), "not.a.jwt")
		assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
	})

	t.Run("foreign key", func(t *testing.T) {
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    testIssuer,
				Subject:   "machine",
				ExpiresAt: jwt.NewNumericDate(f.now.Add(time.Hour)),
			},
		}).SignedString(bytes.Repeat([]byte("x"), 32))
		require.NoError(t, err)

		_, err = f.srv.ValidateAccessToken(context.Background(), forged)
		assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
	})

	t.Run("signed but never issued", func(t *testing.T) {
		unknown, err := f.srv.sign(accessClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    testIssuer,
				Subject:   "machine",
				ExpiresAt: jwt.NewNumericDate(f.now.Add(time.Hour)),
			},
		})
		require.NoError(t, err)

		_, err = f.srv.ValidateAccessToken(context.Background(), unknown)
		assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		f.advance(16 * time.Minute)
		defer f.advance(-16 * time.Minute)

		_, err := f.srv.ValidateAccessToken(context.Background(), resp.AccessToken)
		assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
	})

	t.Run("valid", func(t *testing.T) {
		_, err := f.srv.ValidateAccessToken(context.Background(), resp.AccessToken)
		assert.NoError(t, err)
	})
}

func TestValidateAccessToken_SubjectChanges(t *testing.T) {
	t.Run("password change", func(t *testing.T) {
		f := newFixture(t)
		resp, err := f.exchange(f.authorize(t, "openid"), testVerifier)
		require.NoError(t, err)

		_, err = f.srv.ValidateAccessToken(context.Background(), resp.AccessToken)
		require.NoError(t, err)

		require.NoError(t, f.dir.ChangePassword(context.Background(), f.user.ID, "new-password"))

		_, err = f.srv.ValidateAccessToken(context.Background(), resp.AccessToken)
		assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
	})

	t.Run("deleted user", func(t *testing.T) {
		f := newFixture(t)
		resp, err := f.exchange(f.authorize(t, "openid"), testVerifier)
		require.NoError(t, err)

		require.NoError(t, f.dir.DeleteUser(context.Background(), f.user.ID))

		_, err = f.srv.ValidateAccessToken(context.Background(), resp.AccessToken)
		assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
	})
}

func TestUserInfo_EmptyRolesIsArray(t *testing.T) {
	f := newFixture(t)
	info := f.srv.UserInfo(&models.Principal{Subject: "machine"})
	assert.NotNil(t, info.Roles)
	assert.Empty(t, info.Roles)
}

// --- PKCE helpers ---

func TestPKCE(t *testing.T) {
	challenge := pkceChallenge(testVerifier)
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGEg3nxRHw", challenge)
	assert.True(t, validChallenge(challenge))
	assert.True(t, verifyPKCE(testVerifier, challenge))
	assert.False(t, verifyPKCE(testVerifier+"x", challenge))

	assert.False(t, validChallenge("too-short"))
	assert.False(t, validChallenge(challenge[:42]+"!"))

	assert.True(t, validVerifier(testVerifier))
	assert.False(t, validVerifier("short"))
	assert.False(t, validVerifier(testVerifier+" "))
}
