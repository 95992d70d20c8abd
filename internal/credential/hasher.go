// Package credential turns plaintext passwords into one-way secrets and checks
// candidate passwords against them. It never logs and never touches a store.
package credential

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrCryptoFailure is returned when the underlying primitive or the entropy
// source fails. It is never caused by password content.
var ErrCryptoFailure = errors.New("credential: crypto failure")

// PasswordHasher defines one derivation algorithm (abstract so bcrypt and argon2id can coexist).
type PasswordHasher interface {
	// Name identifies the algorithm in config and logs.
	Name() string
	// Hash derives a salted secret that embeds its own work factor.
	Hash(pw string) (string, error)
	// Verify reports whether pw matches secret. Malformed secrets never match.
	Verify(secret, pw string) bool
	// Recognizes reports whether secret is in this hasher's encoding.
	Recognizes(secret string) bool
	// NeedsRehash reports whether secret was derived with a weaker work factor.
	NeedsRehash(secret string) bool
}

// bcrypt only looks at the first 72 bytes of input and x/crypto rejects longer
// ones. Every password is therefore condensed with a keyed SHA-256 before
// bcrypt sees it, and the result is tagged with BcryptSHA256Prefix. Applying
// the condensing step to all inputs means a typed password that equals some
// other password's digest is condensed again and cannot collide with it.
//
// Untagged $2a$/$2b$/$2y$ secrets are raw bcrypt over the password itself.
// They still verify for inputs bcrypt can take and always report NeedsRehash.
const (
	BcryptSHA256Prefix = "$bcrypt-sha256$"
	bcryptMaxInput     = 72
)

var bcryptPrehashKey = []byte("service-music-auth/bcrypt-sha256/v1")

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

// NewBcryptHasher validates cost against the bcrypt bounds.
func NewBcryptHasher(cost int) (BcryptHasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return BcryptHasher{}, fmt.Errorf("bcrypt cost %d outside [%d,%d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return BcryptHasher{Cost: cost}, nil
}

func (b BcryptHasher) Name() string { return AlgoBcrypt }

func (b BcryptHasher) Hash(pw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword(bcryptPrehash(pw), b.cost())
	if err != nil {
		return "", fmt.Errorf("%w: bcrypt: %v", ErrCryptoFailure, err)
	}
	return BcryptSHA256Prefix + string(h), nil
}

// Verify relies on bcrypt.CompareHashAndPassword, which reads the cost and salt
// from the secret and compares digests with subtle.ConstantTimeCompare.
func (b BcryptHasher) Verify(secret, pw string) bool {
	if inner, ok := strings.CutPrefix(secret, BcryptSHA256Prefix); ok {
		if !isRawBcrypt(inner) {
			return false
		}
		return bcrypt.CompareHashAndPassword([]byte(inner), bcryptPrehash(pw)) == nil
	}
	if !isRawBcrypt(secret) || len(pw) > bcryptMaxInput {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(secret), []byte(pw)) == nil
}

func (b BcryptHasher) Recognizes(secret string) bool {
	return isRawBcrypt(strings.TrimPrefix(secret, BcryptSHA256Prefix))
}

func (b BcryptHasher) NeedsRehash(secret string) bool {
	inner, tagged := strings.CutPrefix(secret, BcryptSHA256Prefix)
	cost, err := bcrypt.Cost([]byte(inner))
	if err != nil {
		return false
	}
	return !tagged || cost < b.cost()
}

func (b BcryptHasher) cost() int {
	if b.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return b.Cost
}

func isRawBcrypt(secret string) bool {
	return strings.HasPrefix(secret, "$2a$") ||
		strings.HasPrefix(secret, "$2b$") ||
		strings.HasPrefix(secret, "$2y$")
}

// bcryptPrehash yields 44 base64 bytes, always under bcryptMaxInput.
func bcryptPrehash(pw string) []byte {
	mac := hmac.New(sha256.New, bcryptPrehashKey)
	mac.Write([]byte(pw))
	return []byte(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}
