// Package seed creates the default role groups and administrator account
// of a fresh installation. Running it again changes nothing.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/ziggio-identity/internal/identity"
	"github.com/alexjbarnes/ziggio-identity/internal/models"
)

// AdminApplicationID is the application that owns the default groups and
// the administrator.
const AdminApplicationID int64 = 0

// RoleGroups are the default groups. Each gets an Administrator, a Manager
// and a User role named after the group.
var RoleGroups = []string{"Application", "Site"}

var roleSuffixes = []string{"Administrator", "Manager", "User"}

// Admin describes the administrator account.
type Admin struct {
	Username string
	Email    string
	Password string
}

// Seed ensures the default role groups exist and, when admin is non-nil,
// that the administrator exists and holds every group's Administrator
// role. An existing administrator keeps its password.
func Seed(ctx context.Context, dir *identity.Directory, admin *Admin, logger *slog.Logger) error {
	adminRoles := make([]int64, 0, len(RoleGroups))

	for _, group := range RoleGroups {
		roles, err := ensureGroup(ctx, dir, group, logger)
		if err != nil {
			return err
		}

		for _, r := range roles {
			if r.Name == group+" Administrator" {
				adminRoles = append(adminRoles, r.ID)
			}
		}
	}

	if admin == nil {
		return nil
	}

	user, err := dir.FindUser(ctx, AdminApplicationID, admin.Username)
	if err != nil {
		return fmt.Errorf("looking up administrator: %w", err)
	}

	if user == nil {
		user, err = dir.CreateUser(ctx, identity.NewUser{
			ApplicationID:  AdminApplicationID,
			Username:       admin.Username,
			Email:          admin.Email,
			Password:       admin.Password,
			EmailConfirmed: true,
		})
		if err != nil {
			return fmt.Errorf("creating administrator: %w", err)
		}

		logger.Info("administrator created",
			slog.Int64("user_id", user.ID),
			slog.String("username", user.Username),
		)
	}

	for _, id := range adminRoles {
		if err := dir.AssignRole(ctx, user.ID, id); err != nil {
			return fmt.Errorf("assigning administrator role: %w", err)
		}
	}

	return nil
}

func ensureGroup(ctx context.Context, dir *identity.Directory, name string, logger *slog.Logger) ([]models.Role, error) {
	g, roles, err := dir.FindRoleGroup(ctx, AdminApplicationID, name)
	if err != nil {
		return nil, fmt.Errorf("looking up role group %q: %w", name, err)
	}

	if g != nil {
		return roles, nil
	}

	names := make([]string, 0, len(roleSuffixes))
	for _, suffix := range roleSuffixes {
		names = append(names, name+" "+suffix)
	}

	g, roles, err = dir.CreateRoleGroup(ctx, AdminApplicationID, name, names)
	if err != nil {
		return nil, err
	}

	logger.Info("role group created",
		slog.String("group", g.Name),
		slog.Int("roles", len(roles)),
	)

	return roles, nil
}
