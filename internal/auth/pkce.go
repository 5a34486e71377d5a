package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

const (
	pkceMethodS256 = "S256"

	// challengeLen is the length of a base64url (unpadded) SHA-256 digest.
	challengeLen = 43
)

// validChallenge reports whether c looks like an S256 code challenge.
func validChallenge(c string) bool {
	if len(c) != challengeLen {
		return false
	}

	_, err := base64.RawURLEncoding.DecodeString(c)

	return err == nil
}

// validVerifier checks the RFC 7636 verifier length and alphabet.
func validVerifier(v string) bool {
	if len(v) < 43 || len(v) > 128 {
		return false
	}

	for i := 0; i < len(v); i++ {
		c := v[i]

		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-' || c == '.' || c == '_' || c == '~':
		default:
			return false
		}
	}

	return true
}

// verifyPKCE checks that SHA256(verifier) matches the challenge (S256 method).
func verifyPKCE(verifier, challenge string) bool {
	h := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(h[:])

	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
