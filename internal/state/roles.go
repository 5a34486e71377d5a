package state

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/alexjbarnes/ziggio-identity/internal/errors"
	"github.com/alexjbarnes/ziggio-identity/internal/models"
	bolt "go.etcd.io/bbolt"
)

// CreateRoleGroup persists a role group together with one role per name.
// Group names are unique within an application. Returns the created
// roles with their IDs assigned.
func (s *State) CreateRoleGroup(ctx context.Context, g *models.RoleGroup, roleNames []string) ([]models.Role, error) {
	var roles []models.Role

	err := s.update(ctx, func(tx *bolt.Tx) error {
		names := tx.Bucket(roleGroupNamesBucket)
		nameKey := indexKey(g.ApplicationID, g.Name)

		if names.Get(nameKey) != nil {
			return fmt.Errorf("role group %q: %w", g.Name, apperrors.ErrAlreadyExists)
		}

		groups := tx.Bucket(roleGroupsBucket)

		seq, err := groups.NextSequence()
		if err != nil {
			return err
		}

		g.ID = int64(seq)

		if err := putJSON(groups, itob(g.ID), g); err != nil {
			return err
		}

		if err := names.Put(nameKey, itob(g.ID)); err != nil {
			return err
		}

		rb := tx.Bucket(rolesBucket)
		for _, name := range roleNames {
			seq, err := rb.NextSequence()
			if err != nil {
				return err
			}

			r := models.Role{ID: int64(seq), RoleGroupID: g.ID, Name: name}
			if err := putJSON(rb, itob(r.ID), r); err != nil {
				return err
			}

			roles = append(roles, r)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return roles, nil
}

// FindRoleGroup returns the named group in the application and its roles,
// or a nil group if not found.
func (s *State) FindRoleGroup(ctx context.Context, appID int64, name string) (*models.RoleGroup, []models.Role, error) {
	var (
		group *models.RoleGroup
		roles []models.Role
	)

	err := s.view(ctx, func(tx *bolt.Tx) error {
		id := tx.Bucket(roleGroupNamesBucket).Get(indexKey(appID, name))
		if id == nil {
			return nil
		}

		var g models.RoleGroup
		if _, err := getJSON(tx.Bucket(roleGroupsBucket), id, &g); err != nil {
			return err
		}

		group = &g

		return tx.Bucket(rolesBucket).ForEach(func(_, v []byte) error {
			var r models.Role
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}

			if r.RoleGroupID == g.ID {
				roles = append(roles, r)
			}

			return nil
		})
	})

	return group, roles, err
}

// CreateRole persists a role outside any group.
func (s *State) CreateRole(ctx context.Context, name string) (*models.Role, error) {
	r := &models.Role{Name: name}

	err := s.update(ctx, func(tx *bolt.Tx) error {
		rb := tx.Bucket(rolesBucket)

		seq, err := rb.NextSequence()
		if err != nil {
			return err
		}

		r.ID = int64(seq)

		return putJSON(rb, itob(r.ID), r)
	})
	if err != nil {
		return nil, err
	}

	return r, nil
}

// GetRole returns a role by ID, or nil if not found.
func (s *State) GetRole(ctx context.Context, id int64) (*models.Role, error) {
	var r *models.Role

	err := s.view(ctx, func(tx *bolt.Tx) error {
		var role models.Role

		found, err := getJSON(tx.Bucket(rolesBucket), itob(id), &role)
		if found {
			r = &role
		}

		return err
	})

	return r, err
}

// AddUserRole assigns a role to a user. A role that belongs to a group
// may only be assigned to users of the group's application. Assigning a
// role twice is a no-op.
func (s *State) AddUserRole(ctx context.Context, ur models.UserRole) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		u, err := getUser(tx, ur.UserID)
		if err != nil {
			return err
		}

		if u == nil {
			return fmt.Errorf("user %d: %w", ur.UserID, apperrors.ErrNotFound)
		}

		var role models.Role

		found, err := getJSON(tx.Bucket(rolesBucket), itob(ur.RoleID), &role)
		if err != nil {
			return err
		}

		if !found {
			return fmt.Errorf("role %d: %w", ur.RoleID, apperrors.ErrNotFound)
		}

		if role.RoleGroupID != 0 {
			var g models.RoleGroup

			found, err := getJSON(tx.Bucket(roleGroupsBucket), itob(role.RoleGroupID), &g)
			if err != nil {
				return err
			}

			if !found {
				return fmt.Errorf("role group %d: %w", role.RoleGroupID, apperrors.ErrNotFound)
			}

			if g.ApplicationID != u.ApplicationID {
				return fmt.Errorf("role %q for user %d: %w", role.Name, u.ID, apperrors.ErrRoleApplicationMismatch)
			}
		}

		return tx.Bucket(userRolesBucket).Put(pairKey(itob(ur.UserID), itob(ur.RoleID)), present)
	})
}

// RemoveUserRole unassigns a role. Removing an absent assignment is a no-op.
func (s *State) RemoveUserRole(ctx context.Context, ur models.UserRole) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(userRolesBucket).Delete(pairKey(itob(ur.UserID), itob(ur.RoleID)))
	})
}

// RolesForUser returns the roles assigned to a user, ordered by role ID.
func (s *State) RolesForUser(ctx context.Context, userID int64) ([]models.Role, error) {
	var roles []models.Role

	err := s.view(ctx, func(tx *bolt.Tx) error {
		rb := tx.Bucket(rolesBucket)

		for _, roleID := range suffixesWithPrefix(tx.Bucket(userRolesBucket), itob(userID)) {
			var r models.Role

			found, err := getJSON(rb, roleID, &r)
			if err != nil {
				return err
			}

			if found {
				roles = append(roles, r)
			}
		}

		return nil
	})

	return roles, err
}
