package identity

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/alexjbarnes/ziggio-identity/internal/models"
	"github.com/alexjbarnes/ziggio-identity/internal/password"
)

// Verification is the outcome of checking a password.
type Verification int

const (
	NoMatch Verification = iota
	Match
	LockedOut
)

func (v Verification) String() string {
	switch v {
	case Match:
		return "match"
	case LockedOut:
		return "locked_out"
	default:
		return "no_match"
	}
}

// CredentialVerifier checks a password against the stored Argon2id hash.
// It reads lockout state but never changes it.
type CredentialVerifier struct {
	users     UserStore
	hasher    *password.Hasher
	now       func() time.Time
	dummySalt []byte
}

// NewCredentialVerifier returns a verifier backed by users and hasher.
func NewCredentialVerifier(users UserStore, hasher *password.Hasher) *CredentialVerifier {
	return &CredentialVerifier{
		users:     users,
		hasher:    hasher,
		now:       time.Now,
		dummySalt: password.GenerateSalt(),
	}
}

// Lookup finds a user by username, then by email, within an application.
// Returns nil when neither matches.
func (v *CredentialVerifier) Lookup(ctx context.Context, appID int64, identifier string) (*models.User, error) {
	u, err := v.users.FindUserByName(ctx, appID, identifier)
	if err != nil || u != nil {
		return u, err
	}

	return v.users.FindUserByEmail(ctx, appID, identifier)
}

// Verify checks password for the user identified by identifier in the
// application. An unknown user costs one hash like a known one and yields
// NoMatch with a nil user. A locked account yields LockedOut without
// hashing.
func (v *CredentialVerifier) Verify(ctx context.Context, appID int64, identifier, pw string) (Verification, *models.User, error) {
	u, err := v.Lookup(ctx, appID, identifier)
	if err != nil {
		return NoMatch, nil, fmt.Errorf("looking up user: %w", err)
	}

	if u == nil {
		if _, err := v.hasher.Hash(ctx, pw, v.dummySalt); err != nil {
			return NoMatch, nil, err
		}

		return NoMatch, nil, nil
	}

	if u.LockedOut(v.now()) {
		return LockedOut, u, nil
	}

	salt, err := base64.StdEncoding.DecodeString(u.PasswordSalt)
	if err != nil {
		return NoMatch, u, fmt.Errorf("decoding salt for user %d: %w", u.ID, err)
	}

	expected, err := base64.StdEncoding.DecodeString(u.PasswordHash)
	if err != nil {
		return NoMatch, u, fmt.Errorf("decoding hash for user %d: %w", u.ID, err)
	}

	ok, err := v.hasher.Compare(ctx, pw, salt, expected)
	if err != nil {
		return NoMatch, u, err
	}

	if !ok {
		return NoMatch, u, nil
	}

	return Match, u, nil
}
