// Package password hashes and verifies account passwords with Argon2id.
package password

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/text/unicode/norm"
)

// SaltLen is the length in bytes of generated salts.
const SaltLen = 32

const (
	// DefaultMemory is the Argon2id memory cost in KiB (64 MiB).
	DefaultMemory = 64 * 1024

	// DefaultIterations is the Argon2id time cost.
	DefaultIterations = 4

	// DefaultParallelism is the number of Argon2id lanes.
	DefaultParallelism = 8

	// DefaultKeyLength is the digest length in bytes.
	DefaultKeyLength = 32
)

// Params are the Argon2id cost parameters. They are deployment constants:
// changing them invalidates every stored hash.
type Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
}

// DefaultParams returns the production cost parameters.
func DefaultParams() Params {
	return Params{
		Memory:      DefaultMemory,
		Iterations:  DefaultIterations,
		Parallelism: DefaultParallelism,
		KeyLength:   DefaultKeyLength,
	}
}

// Hasher computes Argon2id digests. Each hash holds Params.Memory KiB for
// its duration, so the number of hashes in flight is bounded.
type Hasher struct {
	params Params
	slots  *semaphore.Weighted
}

// NewHasher returns a Hasher that runs at most concurrency hashes at once.
// A concurrency below 1 is treated as 1.
func NewHasher(params Params, concurrency int) *Hasher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Hasher{
		params: params,
		slots:  semaphore.NewWeighted(int64(concurrency)),
	}
}

// GenerateSalt returns SaltLen random bytes. Panics if the system's secure
// random source fails, since no credential can be safely created without it.
func GenerateSalt() []byte {
	b := make([]byte, SaltLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return b
}

// Hash derives the digest of password under salt. The password is NFKC
// normalized first. The only error is ctx ending while waiting for a slot.
func (h *Hasher) Hash(ctx context.Context, password string, salt []byte) ([]byte, error) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for hash slot: %w", err)
	}
	defer h.slots.Release(1)

	p := h.params
	return argon2.IDKey([]byte(norm.NFKC.String(password)), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength), nil
}

// Compare hashes password under salt and compares the result with expected
// in constant time.
func (h *Hasher) Compare(ctx context.Context, password string, salt, expected []byte) (bool, error) {
	got, err := h.Hash(ctx, password, salt)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(got, expected) == 1, nil
}
