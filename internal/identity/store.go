// Package identity verifies credentials, runs the password sign-in state
// machine and manages users and their roles.
package identity

import (
	"context"
	"time"

	"github.com/alexjbarnes/ziggio-identity/internal/models"
)

//go:generate mockgen -source=store.go -destination=mock_store_test.go -package=identity

// UserStore persists users. Lookups return a nil user, not an error, when
// nothing matches.
type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	FindUserByName(ctx context.Context, appID int64, username string) (*models.User, error)
	FindUserByEmail(ctx context.Context, appID int64, email string) (*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
	DeleteUser(ctx context.Context, id int64) error
	RecordAccessFailure(ctx context.Context, id int64, threshold int, lockout time.Duration, now time.Time) (*models.User, error)
	ResetAccessFailures(ctx context.Context, id int64) error
}

// RoleStore persists role groups, roles and role assignments.
type RoleStore interface {
	CreateRoleGroup(ctx context.Context, g *models.RoleGroup, roleNames []string) ([]models.Role, error)
	FindRoleGroup(ctx context.Context, appID int64, name string) (*models.RoleGroup, []models.Role, error)
	AddUserRole(ctx context.Context, ur models.UserRole) error
	RolesForUser(ctx context.Context, userID int64) ([]models.Role, error)
}
