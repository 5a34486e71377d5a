// Package state persists users, roles, authorization grants and tokens in
// a bbolt database. Every mutation runs in a single bbolt write
// transaction; bbolt serializes writers, so each status transition is an
// atomic compare-and-swap against the stored record.
package state

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/ziggio-identity/internal/errors"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	usersBucket          = []byte("users")
	userNamesBucket      = []byte("user_names")
	userEmailsBucket     = []byte("user_emails")
	roleGroupsBucket     = []byte("role_groups")
	roleGroupNamesBucket = []byte("role_group_names")
	rolesBucket          = []byte("roles")
	userRolesBucket      = []byte("user_roles")
	grantsBucket         = []byte("grants")
	tokensBucket         = []byte("tokens")
	chainsBucket         = []byte("token_chains")
	childrenBucket       = []byte("token_children")
)

// present is the value stored in index buckets where only the key matters.
var present = []byte{1}

var allBuckets = [][]byte{
	usersBucket,
	userNamesBucket,
	userEmailsBucket,
	roleGroupsBucket,
	roleGroupNamesBucket,
	rolesBucket,
	userRolesBucket,
	grantsBucket,
	tokensBucket,
	chainsBucket,
	childrenBucket,
}

// TokenHash returns the SHA-256 hex digest of a raw code or token. Used
// as the bbolt key so raw values are not stored on disk.
func TokenHash(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// State wraps a bbolt database for all persistent identity state.
type State struct {
	db *bolt.DB
}

// LoadAt opens the state database at path, creating it and its buckets
// if they do not exist.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// view runs fn in a read transaction unless ctx is already done.
func (s *State) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return storageErr(s.db.View(fn))
}

// update runs fn in a write transaction unless ctx is already done.
// Returning an error from fn rolls the transaction back.
func (s *State) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return storageErr(s.db.Update(fn))
}

// storageErr tags bbolt and encoding failures with ErrStorage, leaving
// domain errors raised inside a transaction untouched.
func storageErr(err error) error {
	if err == nil {
		return nil
	}

	for _, domain := range []error{
		apperrors.ErrNotFound,
		apperrors.ErrAlreadyExists,
		apperrors.ErrAlreadyConsumed,
		apperrors.ErrExpired,
		apperrors.ErrTokenReplayed,
		apperrors.ErrRoleApplicationMismatch,
	} {
		if errors.Is(err, domain) {
			return err
		}
	}

	return fmt.Errorf("%w: %w", apperrors.ErrStorage, err)
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}

	return int64(binary.BigEndian.Uint64(b))
}

// indexKey builds the per-application uniqueness key for a username,
// email or role group name. Values are NFKC normalized and case folded so
// "Admin@Zigg.io" and "admin@zigg.io" collide.
func indexKey(appID int64, value string) []byte {
	folded := cases.Fold().String(norm.NFKC.String(strings.TrimSpace(value)))
	return []byte(strconv.FormatInt(appID, 10) + "\x00" + folded)
}

// pairKey joins two key parts with a zero byte. Prefixes are hex digests,
// uuids or fixed-width ids, so a prefix scan never matches a longer prefix.
func pairKey(prefix, suffix []byte) []byte {
	k := make([]byte, 0, len(prefix)+1+len(suffix))
	k = append(k, prefix...)
	k = append(k, 0)
	k = append(k, suffix...)
	return k
}

// suffixesWithPrefix returns copies of the key suffixes stored under
// prefix in b. Keys are copied because bbolt memory is only valid for
// the life of the transaction.
func suffixesWithPrefix(b *bolt.Bucket, prefix []byte) [][]byte {
	p := pairKey(prefix, nil)
	var out [][]byte

	c := b.Cursor()
	for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
		out = append(out, append([]byte(nil), k[len(p):]...))
	}

	return out
}

func getJSON(b *bolt.Bucket, key []byte, v any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}

	return true, json.Unmarshal(data, v)
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return b.Put(key, data)
}
