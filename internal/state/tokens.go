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

// SaveGrant persists a new authorization code. CodeHash must be set.
func (s *State) SaveGrant(ctx context.Context, g *models.AuthorizationGrant) error {
	if g.CodeHash == "" {
		return fmt.Errorf("code hash is required for persistence")
	}

	return s.update(ctx, func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(grantsBucket), []byte(g.CodeHash), g)
	})
}

// RedeemGrant atomically moves an authorization code from issued to
// redeemed and stores the tokens issue returns for it. Exactly one call
// per code can succeed.
//
// When issue fails the code is still consumed and its error is returned
// with nothing stored. A code that was already redeemed has its chain
// revoked in the same transaction and is returned together with
// ErrAlreadyConsumed. A nil issue only marks the code redeemed.
func (s *State) RedeemGrant(ctx context.Context, codeHash string, now time.Time, issue func(*models.AuthorizationGrant) ([]*models.Token, error)) (*models.AuthorizationGrant, error) {
	var (
		grant  *models.AuthorizationGrant
		result error
	)

	err := s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(grantsBucket)

		var g models.AuthorizationGrant

		found, err := getJSON(b, []byte(codeHash), &g)
		if err != nil {
			return err
		}

		switch {
		case !found:
			result = apperrors.ErrNotFound
			return nil
		case g.Status == models.GrantRedeemed:
			if _, err := revokeChain(tx, g.ChainID, now); err != nil {
				return err
			}

			grant = &g
			result = apperrors.ErrAlreadyConsumed

			return nil
		case !now.Before(g.ExpiresAt):
			result = apperrors.ErrExpired
			return nil
		}

		g.Status = models.GrantRedeemed
		g.RedeemedAt = now
		grant = &g

		if err := putJSON(b, []byte(codeHash), &g); err != nil {
			return err
		}

		if issue == nil {
			return nil
		}

		tokens, ierr := issue(&g)
		if ierr != nil {
			result = ierr
			return nil
		}

		for _, t := range tokens {
			if t.ChainID == "" {
				t.ChainID = g.ChainID
			}

			if err := putToken(tx, t); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return grant, result
}

// SaveTokens persists newly issued tokens and their chain links.
func (s *State) SaveTokens(ctx context.Context, tokens ...*models.Token) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		for _, t := range tokens {
			if err := putToken(tx, t); err != nil {
				return err
			}
		}

		return nil
	})
}

// GetToken returns a token by hash, or nil if not found.
func (s *State) GetToken(ctx context.Context, hash string) (*models.Token, error) {
	var t *models.Token

	err := s.view(ctx, func(tx *bolt.Tx) error {
		var err error
		t, err = getToken(tx, hash)
		return err
	})

	return t, err
}

// RotateRefreshToken redeems the refresh token stored under hash and
// stores issued as its children, all in one transaction.
//
// An active token is marked redeemed. A token redeemed no more than
// leeway ago is accepted again: the tokens issued by the earlier
// redemption are revoked so the chain keeps a single active refresh
// token. Either way a token past its expiry fails with ErrExpired. Any
// other redeemed or revoked token is a replay and revokes the whole
// chain before ErrTokenReplayed is returned.
func (s *State) RotateRefreshToken(ctx context.Context, hash string, now time.Time, leeway time.Duration, issued ...*models.Token) error {
	var result error

	err := s.update(ctx, func(tx *bolt.Tx) error {
		t, err := getToken(tx, hash)
		if err != nil {
			return err
		}

		if t == nil || t.Kind != models.KindRefreshToken {
			result = apperrors.ErrNotFound
			return nil
		}

		switch t.Status {
		case models.TokenActive:
			if t.Expired(now) {
				result = apperrors.ErrExpired
				return nil
			}

			t.Status = models.TokenRedeemed
			t.RedeemedAt = now

		case models.TokenRedeemed:
			if leeway <= 0 || now.Sub(t.RedeemedAt) > leeway {
				if _, err := revokeChain(tx, t.ChainID, now); err != nil {
					return err
				}

				result = apperrors.ErrTokenReplayed

				return nil
			}

			if t.Expired(now) {
				result = apperrors.ErrExpired
				return nil
			}

			if _, err := revokeDescendants(tx, t.Hash, now); err != nil {
				return err
			}

		default:
			if _, err := revokeChain(tx, t.ChainID, now); err != nil {
				return err
			}

			result = apperrors.ErrTokenReplayed

			return nil
		}

		for _, child := range issued {
			child.ParentHash = t.Hash
			child.ChainID = t.ChainID

			if child.Kind == models.KindRefreshToken {
				t.ReplacedBy = child.Hash
			}

			if err := putToken(tx, child); err != nil {
				return err
			}
		}

		return putJSON(tx.Bucket(tokensBucket), []byte(t.Hash), t)
	})
	if err != nil {
		return err
	}

	return result
}

// RevokeToken marks a token revoked. Unknown and already revoked tokens
// are a no-op.
func (s *State) RevokeToken(ctx context.Context, hash string, now time.Time) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		t, err := getToken(tx, hash)
		if err != nil || t == nil {
			return err
		}

		_, err = revoke(tx, t, now)

		return err
	})
}

// RevokeChain revokes every token in a rotation chain and returns how
// many changed state.
func (s *State) RevokeChain(ctx context.Context, chainID string, now time.Time) (int, error) {
	var n int

	err := s.update(ctx, func(tx *bolt.Tx) error {
		var err error
		n, err = revokeChain(tx, chainID, now)
		return err
	})

	return n, err
}

// PurgeExpired deletes grants and tokens that expired before the given
// time, along with their chain links. Expiry is enforced at validation
// time regardless; this only reclaims space.
func (s *State) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	var n int

	err := s.update(ctx, func(tx *bolt.Tx) error {
		grants := tx.Bucket(grantsBucket)

		var staleGrants [][]byte

		err := grants.ForEach(func(k, v []byte) error {
			var g models.AuthorizationGrant
			if err := json.Unmarshal(v, &g); err != nil {
				return err
			}

			if g.ExpiresAt.Before(before) {
				staleGrants = append(staleGrants, append([]byte(nil), k...))
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range staleGrants {
			if err := grants.Delete(k); err != nil {
				return err
			}
		}

		var staleTokens []models.Token

		err = tx.Bucket(tokensBucket).ForEach(func(_, v []byte) error {
			var t models.Token
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}

			if t.ExpiresAt.Before(before) {
				staleTokens = append(staleTokens, t)
			}

			return nil
		})
		if err != nil {
			return err
		}

		for i := range staleTokens {
			if err := deleteToken(tx, &staleTokens[i]); err != nil {
				return err
			}
		}

		n = len(staleGrants) + len(staleTokens)

		return nil
	})

	return n, err
}

func getToken(tx *bolt.Tx, hash string) (*models.Token, error) {
	var t models.Token

	found, err := getJSON(tx.Bucket(tokensBucket), []byte(hash), &t)
	if err != nil || !found {
		return nil, err
	}

	return &t, nil
}

func putToken(tx *bolt.Tx, t *models.Token) error {
	if t.Hash == "" {
		return fmt.Errorf("token hash is required for persistence")
	}

	if err := putJSON(tx.Bucket(tokensBucket), []byte(t.Hash), t); err != nil {
		return err
	}

	if t.ChainID != "" {
		if err := tx.Bucket(chainsBucket).Put(pairKey([]byte(t.ChainID), []byte(t.Hash)), present); err != nil {
			return err
		}
	}

	if t.ParentHash != "" {
		return tx.Bucket(childrenBucket).Put(pairKey([]byte(t.ParentHash), []byte(t.Hash)), present)
	}

	return nil
}

func deleteToken(tx *bolt.Tx, t *models.Token) error {
	if t.ChainID != "" {
		if err := tx.Bucket(chainsBucket).Delete(pairKey([]byte(t.ChainID), []byte(t.Hash))); err != nil {
			return err
		}
	}

	if t.ParentHash != "" {
		if err := tx.Bucket(childrenBucket).Delete(pairKey([]byte(t.ParentHash), []byte(t.Hash))); err != nil {
			return err
		}
	}

	return tx.Bucket(tokensBucket).Delete([]byte(t.Hash))
}

// revoke marks t revoked and reports whether its status changed.
func revoke(tx *bolt.Tx, t *models.Token, now time.Time) (bool, error) {
	if t.Status == models.TokenRevoked {
		return false, nil
	}

	t.Status = models.TokenRevoked
	t.RevokedAt = now

	return true, putJSON(tx.Bucket(tokensBucket), []byte(t.Hash), t)
}

func revokeChain(tx *bolt.Tx, chainID string, now time.Time) (int, error) {
	if chainID == "" {
		return 0, nil
	}

	n := 0

	for _, hash := range suffixesWithPrefix(tx.Bucket(chainsBucket), []byte(chainID)) {
		t, err := getToken(tx, string(hash))
		if err != nil {
			return n, err
		}

		if t == nil {
			continue
		}

		changed, err := revoke(tx, t, now)
		if err != nil {
			return n, err
		}

		if changed {
			n++
		}
	}

	return n, nil
}

// revokeDescendants walks the children index from hash and revokes every
// token issued from it, directly or through later rotations.
func revokeDescendants(tx *bolt.Tx, hash string, now time.Time) (int, error) {
	children := tx.Bucket(childrenBucket)
	queue := []string{hash}
	n := 0

	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		for _, child := range suffixesWithPrefix(children, []byte(parent)) {
			t, err := getToken(tx, string(child))
			if err != nil {
				return n, err
			}

			if t == nil {
				continue
			}

			changed, err := revoke(tx, t, now)
			if err != nil {
				return n, err
			}

			if changed {
				n++
			}

			queue = append(queue, t.Hash)
		}
	}

	return n, nil
}
