package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alexjbarnes/ziggio-identity/internal/models"
)

// User-facing sign-in messages. Failures never say whether the account
// exists or which check rejected it; only lockout is distinguished.
const (
	MsgInvalidCredentials = "Invalid username or password"
	MsgLockedOut          = "User is locked out"
	MsgNotAllowed         = "User is not allowed to sign in"
)

// OutcomeKind enumerates the results of a sign-in attempt.
type OutcomeKind int

const (
	OutcomeFailed OutcomeKind = iota
	OutcomeSuccess
	OutcomeLockedOut
	OutcomeNotAllowed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "Success"
	case OutcomeLockedOut:
		return "LockedOut"
	case OutcomeNotAllowed:
		return "NotAllowed"
	default:
		return "Failed"
	}
}

// SignInOutcome is the result of PasswordSignIn. Principal is set only on
// success.
type SignInOutcome struct {
	Kind       OutcomeKind
	Message    string
	Principal  *models.Principal
	Persistent bool
}

// Succeeded reports whether the attempt established an identity.
func (o SignInOutcome) Succeeded() bool {
	return o.Kind == OutcomeSuccess
}

func (o SignInOutcome) String() string {
	if o.Message == "" {
		return o.Kind.String()
	}

	return o.Kind.String() + ": " + o.Message
}

func failed(msg string) SignInOutcome {
	return SignInOutcome{Kind: OutcomeFailed, Message: msg}
}

// LockoutPolicy controls failed-attempt lockout.
type LockoutPolicy struct {
	// Threshold is the number of consecutive failures that locks the
	// account. Zero disables lockout.
	Threshold int
	Duration  time.Duration
}

// SignInPolicy holds the sign-in rules applied after the password matched.
type SignInPolicy struct {
	Lockout               LockoutPolicy
	RequireConfirmedEmail bool
}

// SessionAuthenticator runs password sign-in: lockout check, credential
// check, failure bookkeeping and principal construction.
type SessionAuthenticator struct {
	verifier *CredentialVerifier
	users    UserStore
	policy   SignInPolicy
	logger   *slog.Logger
	now      func() time.Time
}

// NewSessionAuthenticator returns an authenticator using verifier for
// credential checks and users for lockout bookkeeping.
func NewSessionAuthenticator(verifier *CredentialVerifier, users UserStore, policy SignInPolicy, logger *slog.Logger) *SessionAuthenticator {
	return &SessionAuthenticator{
		verifier: verifier,
		users:    users,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
	}
}

// PasswordSignIn authenticates identifier (username or email) with
// password in the application. Storage failures are returned as errors;
// every other result is an outcome.
func (a *SessionAuthenticator) PasswordSignIn(ctx context.Context, appID int64, identifier, pw string, persistent bool) (SignInOutcome, error) {
	result, user, err := a.verifier.Verify(ctx, appID, identifier, pw)
	if err != nil {
		return failed(MsgInvalidCredentials), err
	}

	switch result {
	case LockedOut:
		a.logger.Warn("sign-in rejected, account locked",
			slog.Int64("app", appID),
			slog.Int64("user_id", user.ID),
		)

		return SignInOutcome{Kind: OutcomeLockedOut, Message: MsgLockedOut}, nil

	case NoMatch:
		if user == nil {
			a.logger.Info("sign-in failed, unknown user", slog.Int64("app", appID))
			return failed(MsgInvalidCredentials), nil
		}

		updated, err := a.users.RecordAccessFailure(ctx, user.ID, a.policy.Lockout.Threshold, a.policy.Lockout.Duration, a.now())
		if err != nil {
			return failed(MsgInvalidCredentials), fmt.Errorf("recording access failure: %w", err)
		}

		if updated.LockedOut(a.now()) {
			a.logger.Warn("account locked after repeated failures",
				slog.Int64("app", appID),
				slog.Int64("user_id", user.ID),
				slog.Time("until", updated.LockoutEnd),
			)
		} else {
			a.logger.Info("sign-in failed, bad password",
				slog.Int64("app", appID),
				slog.Int64("user_id", user.ID),
				slog.Int("failures", updated.AccessFailedCount),
			)
		}

		return failed(MsgInvalidCredentials), nil
	}

	if a.policy.RequireConfirmedEmail && !user.EmailConfirmed {
		return SignInOutcome{Kind: OutcomeNotAllowed, Message: MsgNotAllowed}, nil
	}

	if user.AccessFailedCount > 0 {
		if err := a.users.ResetAccessFailures(ctx, user.ID); err != nil {
			return failed(MsgInvalidCredentials), fmt.Errorf("resetting access failures: %w", err)
		}
	}

	a.logger.Info("sign-in succeeded", slog.Int64("app", appID), slog.Int64("user_id", user.ID))

	return SignInOutcome{
		Kind:       OutcomeSuccess,
		Principal:  sessionPrincipal(user),
		Persistent: persistent,
	}, nil
}

func sessionPrincipal(u *models.User) *models.Principal {
	return &models.Principal{
		Subject:       strconv.FormatInt(u.ID, 10),
		ApplicationID: u.ApplicationID,
		Name:          u.Username,
		Email:         u.Email,
	}
}
