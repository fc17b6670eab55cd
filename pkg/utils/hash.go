package utils

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashOrRead returns secret as-is when it is already a bcrypt hash, otherwise hashes it.
func HashOrRead(secret string) ([]byte, error) {
	if strings.HasPrefix(secret, "$2a$") || strings.HasPrefix(secret, "$2b$") || strings.HasPrefix(secret, "$2y$") {
		return []byte(secret), nil // already bcrypt
	}
	return bcrypt.GenerateFromPassword([]byte(secret), 10)
}

// MatchesHash reports whether plain matches a hash produced by HashOrRead.
func MatchesHash(hash []byte, plain string) bool {
	if len(hash) == 0 || plain == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(plain)) == nil
}
