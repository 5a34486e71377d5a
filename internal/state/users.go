package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/alexjbarnes/ziggio-identity/internal/errors"
	"github.com/alexjbarnes/ziggio-identity/internal/models"
	bolt "go.etcd.io/bbolt"
)

// CreateUser persists a new user and assigns its ID. Username and email
// must be unique within the user's application.
func (s *State) CreateUser(ctx context.Context, u *models.User) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		names := tx.Bucket(userNamesBucket)
		emails := tx.Bucket(userEmailsBucket)

		nameKey := indexKey(u.ApplicationID, u.Username)
		if names.Get(nameKey) != nil {
			return fmt.Errorf("username %q: %w", u.Username, apperrors.ErrAlreadyExists)
		}

		emailKey := indexKey(u.ApplicationID, u.Email)
		if emails.Get(emailKey) != nil {
			return fmt.Errorf("email %q: %w", u.Email, apperrors.ErrAlreadyExists)
		}

		users := tx.Bucket(usersBucket)

		seq, err := users.NextSequence()
		if err != nil {
			return err
		}

		u.ID = int64(seq)
		id := itob(u.ID)

		if err := putJSON(users, id, u); err != nil {
			return err
		}

		if err := names.Put(nameKey, id); err != nil {
			return err
		}

		return emails.Put(emailKey, id)
	})
}

// GetUser returns a user by ID, or nil if not found.
func (s *State) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u *models.User

	err := s.view(ctx, func(tx *bolt.Tx) error {
		var err error
		u, err = getUser(tx, id)
		return err
	})

	return u, err
}

// FindUserByName returns the user with username in the application, or
// nil if not found. Matching is case-insensitive.
func (s *State) FindUserByName(ctx context.Context, appID int64, username string) (*models.User, error) {
	return s.findUser(ctx, userNamesBucket, indexKey(appID, username))
}

// FindUserByEmail returns the user with email in the application, or nil
// if not found. Matching is case-insensitive.
func (s *State) FindUserByEmail(ctx context.Context, appID int64, email string) (*models.User, error) {
	return s.findUser(ctx, userEmailsBucket, indexKey(appID, email))
}

func (s *State) findUser(ctx context.Context, index, key []byte) (*models.User, error) {
	var u *models.User

	err := s.view(ctx, func(tx *bolt.Tx) error {
		id := tx.Bucket(index).Get(key)
		if id == nil {
			return nil
		}

		var err error
		u, err = getUser(tx, btoi(id))

		return err
	})

	return u, err
}

// Users returns every user belonging to the application.
func (s *State) Users(ctx context.Context, appID int64) ([]models.User, error) {
	var out []models.User

	err := s.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(usersBucket).ForEach(func(k, v []byte) error {
			var u models.User
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}

			if u.ApplicationID == appID {
				out = append(out, u)
			}

			return nil
		})
	})

	return out, err
}

// UpdateUser overwrites a stored user, moving its username and email
// index entries if they changed.
func (s *State) UpdateUser(ctx context.Context, u *models.User) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		prev, err := getUser(tx, u.ID)
		if err != nil {
			return err
		}

		if prev == nil {
			return fmt.Errorf("user %d: %w", u.ID, apperrors.ErrNotFound)
		}

		id := itob(u.ID)

		if err := moveIndex(tx.Bucket(userNamesBucket), indexKey(prev.ApplicationID, prev.Username), indexKey(u.ApplicationID, u.Username), id); err != nil {
			return fmt.Errorf("username %q: %w", u.Username, err)
		}

		if err := moveIndex(tx.Bucket(userEmailsBucket), indexKey(prev.ApplicationID, prev.Email), indexKey(u.ApplicationID, u.Email), id); err != nil {
			return fmt.Errorf("email %q: %w", u.Email, err)
		}

		return putJSON(tx.Bucket(usersBucket), id, u)
	})
}

// DeleteUser removes a user, its index entries and its role assignments.
// Deleting an unknown user is a no-op.
func (s *State) DeleteUser(ctx context.Context, id int64) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		u, err := getUser(tx, id)
		if err != nil || u == nil {
			return err
		}

		if err := tx.Bucket(userNamesBucket).Delete(indexKey(u.ApplicationID, u.Username)); err != nil {
			return err
		}

		if err := tx.Bucket(userEmailsBucket).Delete(indexKey(u.ApplicationID, u.Email)); err != nil {
			return err
		}

		userRoles := tx.Bucket(userRolesBucket)
		for _, roleID := range suffixesWithPrefix(userRoles, itob(id)) {
			if err := userRoles.Delete(pairKey(itob(id), roleID)); err != nil {
				return err
			}
		}

		return tx.Bucket(usersBucket).Delete(itob(id))
	})
}

// RecordAccessFailure increments the user's failed-access counter. When
// the counter reaches threshold the account is locked until now+lockout
// and the counter starts over. Returns the updated user.
func (s *State) RecordAccessFailure(ctx context.Context, id int64, threshold int, lockout time.Duration, now time.Time) (*models.User, error) {
	var u *models.User

	err := s.update(ctx, func(tx *bolt.Tx) error {
		var err error

		u, err = getUser(tx, id)
		if err != nil {
			return err
		}

		if u == nil {
			return fmt.Errorf("user %d: %w", id, apperrors.ErrNotFound)
		}

		u.AccessFailedCount++
		if u.LockoutEnabled && threshold > 0 && u.AccessFailedCount >= threshold {
			u.LockoutEnd = now.Add(lockout)
			u.AccessFailedCount = 0
		}

		return putJSON(tx.Bucket(usersBucket), itob(id), u)
	})

	return u, err
}

// ResetAccessFailures clears the failed-access counter.
func (s *State) ResetAccessFailures(ctx context.Context, id int64) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		u, err := getUser(tx, id)
		if err != nil {
			return err
		}

		if u == nil {
			return fmt.Errorf("user %d: %w", id, apperrors.ErrNotFound)
		}

		if u.AccessFailedCount == 0 {
			return nil
		}

		u.AccessFailedCount = 0

		return putJSON(tx.Bucket(usersBucket), itob(id), u)
	})
}

func getUser(tx *bolt.Tx, id int64) (*models.User, error) {
	var u models.User

	found, err := getJSON(tx.Bucket(usersBucket), itob(id), &u)
	if err != nil || !found {
		return nil, err
	}

	return &u, nil
}

// moveIndex repoints a uniqueness index from oldKey to newKey. It fails
// with ErrAlreadyExists if newKey already belongs to another record.
func moveIndex(b *bolt.Bucket, oldKey, newKey, id []byte) error {
	if string(oldKey) == string(newKey) {
		return nil
	}

	if owner := b.Get(newKey); owner != nil && string(owner) != string(id) {
		return apperrors.ErrAlreadyExists
	}

	if err := b.Delete(oldKey); err != nil {
		return err
	}

	return b.Put(newKey, id)
}
