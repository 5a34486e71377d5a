package identity

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/alexjbarnes/ziggio-identity/internal/errors"
	"github.com/alexjbarnes/ziggio-identity/internal/models"
)

// CreateRoleGroup creates a role group in the application with one role
// per name.
func (d *Directory) CreateRoleGroup(ctx context.Context, appID int64, name string, roleNames []string) (*models.RoleGroup, []models.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, fmt.Errorf("role group name is required: %w", apperrors.ErrInvalidRequest)
	}

	g := &models.RoleGroup{ApplicationID: appID, Name: name}

	roles, err := d.roles.CreateRoleGroup(ctx, g, roleNames)
	if err != nil {
		return nil, nil, fmt.Errorf("creating role group: %w", err)
	}

	return g, roles, nil
}

// FindRoleGroup returns a role group and its roles, or a nil group.
func (d *Directory) FindRoleGroup(ctx context.Context, appID int64, name string) (*models.RoleGroup, []models.Role, error) {
	return d.roles.FindRoleGroup(ctx, appID, name)
}

// AssignRole gives a user a role. The store rejects roles from another
// application's groups with ErrRoleApplicationMismatch.
func (d *Directory) AssignRole(ctx context.Context, userID, roleID int64) error {
	return d.roles.AddUserRole(ctx, models.UserRole{UserID: userID, RoleID: roleID})
}

// RoleNames returns the names of the roles assigned to a user.
func (d *Directory) RoleNames(ctx context.Context, userID int64) ([]string, error) {
	roles, err := d.roles.RolesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading roles: %w", err)
	}

	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}

	return names, nil
}
