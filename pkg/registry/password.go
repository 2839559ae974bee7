package registry

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// passwordAlphabet excludes the visually ambiguous characters I, l, O, 0, 1.
const passwordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

// GeneratedPasswordLength is the length of auto-generated room and share
// passwords.
const GeneratedPasswordLength = 6

// MinBcryptCost is the floor enforced on configured bcrypt costs.
const MinBcryptCost = 12

// GeneratePassword returns a random password drawn from the unambiguous
// alphabet.
func GeneratePassword() (string, error) {
	buf := make([]byte, GeneratedPasswordLength)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		buf[i] = passwordAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// HashPassword hashes a plaintext password with bcrypt at the given cost.
// Costs below MinBcryptCost are raised to it.
func HashPassword(plaintext string, cost int) ([]byte, error) {
	if cost < MinBcryptCost {
		cost = MinBcryptCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return hash, nil
}

// CheckPassword reports whether plaintext matches the bcrypt hash.
func CheckPassword(hash []byte, plaintext string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(plaintext)) == nil
}

// PasswordMode enumerates the intents a password field can carry.
type PasswordMode int

const (
	// PasswordNone means the caller did not touch the password field.
	PasswordNone PasswordMode = iota
	// PasswordRemove clears the room password.
	PasswordRemove
	// PasswordGenerate asks the server to mint a fresh random password.
	PasswordGenerate
	// PasswordSet stores the supplied plaintext.
	PasswordSet
)

// PasswordUpdate is the single sentinel type every password-changing call
// site routes through. It replaces the ""/null/undefined ambiguity of the
// wire formats.
type PasswordUpdate struct {
	Mode      PasswordMode
	Plaintext string // only meaningful for PasswordSet
}

// NoPassword leaves the password untouched.
func NoPassword() PasswordUpdate { return PasswordUpdate{Mode: PasswordNone} }

// RemovePassword clears the password.
func RemovePassword() PasswordUpdate { return PasswordUpdate{Mode: PasswordRemove} }

// GeneratePasswordUpdate requests server-side generation.
func GeneratePasswordUpdate() PasswordUpdate { return PasswordUpdate{Mode: PasswordGenerate} }

// SetPassword stores the given plaintext.
func SetPassword(plaintext string) PasswordUpdate {
	return PasswordUpdate{Mode: PasswordSet, Plaintext: plaintext}
}
