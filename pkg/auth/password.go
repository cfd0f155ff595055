package auth

import (
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the longest input bcrypt accepts.
const MaxPasswordBytes = 72

// Hasher produces salted one-way digests of passwords and API key material.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

// BcryptHasher implements Hasher with bcrypt. Every call to Hash draws a fresh
// salt, so hashing the same input twice yields different digests.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a hasher with the given cost. Out-of-range costs
// fall back to bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash returns the bcrypt digest of plaintext.
func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", fmt.Errorf("%w: must be at most %d bytes", ErrWeakPassword, MaxPasswordBytes)
	}
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(b), nil
}

// Verify reports whether digest was produced from plaintext. Malformed digests
// yield false.
func (h *BcryptHasher) Verify(plaintext, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// PasswordPolicy describes the minimum password requirements.
type PasswordPolicy struct {
	MinLength    int
	RequireUpper bool
	RequireLower bool
	RequireDigit bool
}

// DefaultPasswordPolicy requires 8 characters with upper, lower and digit.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 8, RequireUpper: true, RequireLower: true, RequireDigit: true}
}

// Validate returns ErrWeakPassword describing the first unmet rule.
func (p PasswordPolicy) Validate(password string) error {
	if len([]rune(password)) < p.MinLength {
		return fmt.Errorf("%w: must be at least %d characters long", ErrWeakPassword, p.MinLength)
	}
	if len(password) > MaxPasswordBytes {
		return fmt.Errorf("%w: must be at most %d bytes", ErrWeakPassword, MaxPasswordBytes)
	}

	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}

	if p.RequireUpper && !upper {
		return fmt.Errorf("%w: must contain an uppercase letter", ErrWeakPassword)
	}
	if p.RequireLower && !lower {
		return fmt.Errorf("%w: must contain a lowercase letter", ErrWeakPassword)
	}
	if p.RequireDigit && !digit {
		return fmt.Errorf("%w: must contain a digit", ErrWeakPassword)
	}
	return nil
}
