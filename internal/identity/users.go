package identity

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/ziggio-identity/internal/errors"
	"github.com/alexjbarnes/ziggio-identity/internal/models"
	"github.com/alexjbarnes/ziggio-identity/internal/password"
	"github.com/google/uuid"
)

// Directory provisions users and manages their roles.
type Directory struct {
	users  UserStore
	roles  RoleStore
	hasher *password.Hasher
	now    func() time.Time
}

// NewDirectory returns a Directory over the given stores.
func NewDirectory(users UserStore, roles RoleStore, hasher *password.Hasher) *Directory {
	return &Directory{
		users:  users,
		roles:  roles,
		hasher: hasher,
		now:    time.Now,
	}
}

// NewUser describes an account to create.
type NewUser struct {
	ApplicationID  int64
	Username       string
	Email          string
	Password       string
	EmailConfirmed bool
}

// CreateUser hashes the password under a fresh salt and stores the user.
// Username and email must be unique within the application.
func (d *Directory) CreateUser(ctx context.Context, nu NewUser) (*models.User, error) {
	username := strings.TrimSpace(nu.Username)
	email := strings.TrimSpace(nu.Email)

	if username == "" || email == "" || nu.Password == "" {
		return nil, fmt.Errorf("username, email and password are required: %w", apperrors.ErrInvalidRequest)
	}

	salt := password.GenerateSalt()

	digest, err := d.hasher.Hash(ctx, nu.Password, salt)
	if err != nil {
		return nil, err
	}

	u := &models.User{
		ApplicationID:    nu.ApplicationID,
		Username:         username,
		Email:            email,
		EmailConfirmed:   nu.EmailConfirmed,
		PasswordHash:     base64.StdEncoding.EncodeToString(digest),
		PasswordSalt:     base64.StdEncoding.EncodeToString(salt),
		SecurityStamp:    uuid.NewString(),
		ConcurrencyStamp: uuid.NewString(),
		LockoutEnabled:   true,
		CreatedAt:        d.now().UTC(),
	}

	if err := d.users.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	return u, nil
}

// GetUser returns a user by ID, or nil if not found.
func (d *Directory) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return d.users.GetUser(ctx, id)
}

// FindUser returns the user whose username or email is identifier within
// the application, or nil if not found.
func (d *Directory) FindUser(ctx context.Context, appID int64, identifier string) (*models.User, error) {
	u, err := d.users.FindUserByName(ctx, appID, identifier)
	if err != nil || u != nil {
		return u, err
	}

	return d.users.FindUserByEmail(ctx, appID, identifier)
}

// DeleteUser removes a user and its role assignments.
func (d *Directory) DeleteUser(ctx context.Context, id int64) error {
	return d.users.DeleteUser(ctx, id)
}

// ChangePassword replaces a user's password. The salt and security stamp
// are regenerated and any lockout is cleared. A new security stamp makes
// refresh tokens issued under the old password unusable.
func (d *Directory) ChangePassword(ctx context.Context, id int64, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("password is required: %w", apperrors.ErrInvalidRequest)
	}

	u, err := d.users.GetUser(ctx, id)
	if err != nil {
		return err
	}

	if u == nil {
		return fmt.Errorf("user %d: %w", id, apperrors.ErrNotFound)
	}

	salt := password.GenerateSalt()

	digest, err := d.hasher.Hash(ctx, newPassword, salt)
	if err != nil {
		return err
	}

	u.PasswordHash = base64.StdEncoding.EncodeToString(digest)
	u.PasswordSalt = base64.StdEncoding.EncodeToString(salt)
	u.SecurityStamp = uuid.NewString()
	u.ConcurrencyStamp = uuid.NewString()
	u.AccessFailedCount = 0
	u.LockoutEnd = time.Time{}

	return d.users.UpdateUser(ctx, u)
}

// SubjectClaims returns the current claims for a token subject. Subjects
// that are not user IDs (client credentials) and deleted users yield nil.
func (d *Directory) SubjectClaims(ctx context.Context, subject string) (*models.SubjectClaims, error) {
	id, err := strconv.ParseInt(subject, 10, 64)
	if err != nil {
		return nil, nil
	}

	u, err := d.users.GetUser(ctx, id)
	if err != nil || u == nil {
		return nil, err
	}

	roles, err := d.RoleNames(ctx, id)
	if err != nil {
		return nil, err
	}

	return &models.SubjectClaims{
		ApplicationID: u.ApplicationID,
		Name:          u.Username,
		Email:         u.Email,
		Roles:         roles,
		SecurityStamp: u.SecurityStamp,
	}, nil
}
