package auth

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength is the shortest password the policy accepts.
	MinPasswordLength = 12

	// MaxPasswordBytes is the longest input bcrypt hashes.
	MaxPasswordBytes = 72
)

// SanitizeUsername trims whitespace and strips control characters and
// brackets from a submitted username.
func SanitizeUsername(username string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune("<>[]{}", r) {
			return -1
		}

		return r
	}, username)

	return strings.TrimSpace(cleaned)
}

// CheckPasswordPolicy requires MinPasswordLength characters, at most
// MaxPasswordBytes bytes, including an upper case letter, a lower case
// letter, a digit and a special character.
func CheckPasswordPolicy(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters",
			ErrWeakPassword, MinPasswordLength)
	}

	if len(password) > MaxPasswordBytes {
		return fmt.Errorf("%w: must be at most %d bytes",
			ErrWeakPassword, MaxPasswordBytes)
	}

	var upper, lower, digit, special bool

	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r):
			special = true
		}
	}

	var missing []string

	if !upper {
		missing = append(missing, "an uppercase letter")
	}

	if !lower {
		missing = append(missing, "a lowercase letter")
	}

	if !digit {
		missing = append(missing, "a digit")
	}

	if !special {
		missing = append(missing, "a special character")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: must contain %s",
			ErrWeakPassword, strings.Join(missing, ", "))
	}

	return nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}

	return string(hash), nil
}

// checkPassword compares a bcrypt hash with a plaintext password.
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword(
		[]byte(hash), []byte(password),
	) == nil
}
