package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// GenerateSecret generates a cryptographically secure random secret
func GenerateSecret(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateCancellationKey returns a new cancellation key and its bcrypt hash.
// Only the hash is persisted; the plaintext goes out with the confirmation.
func GenerateCancellationKey() (key, hash string, err error) {
	key, err = GenerateSecret(16)
	if err != nil {
		return "", "", err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash cancellation key: %w", err)
	}
	return key, string(hashed), nil
}

// CheckCancellationKey reports whether key matches the stored hash
func CheckCancellationKey(hash, key string) bool {
	if hash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

// ShortID returns a short random suffix for period claim keys
func ShortID() (string, error) {
	return GenerateSecret(4)
}
