package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost     = 12
	TokenLength    = 32 // 256 bits
	MaxPasswordLen = 128
)

// HashPassword produces a bcrypt digest of the password. Policy checks
// (length, character classes, reuse) live in the password policy service;
// this is the opaque hashing primitive.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	if len(password) > MaxPasswordLen {
		// bcrypt truncates at 72 bytes; reject absurd inputs outright
		return "", fmt.Errorf("password exceeds %d characters", MaxPasswordLen)
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// ComparePassword reports whether the password matches the stored digest.
func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// GenerateSessionToken returns an opaque 256-bit bearer credential.
func GenerateSessionToken() (string, error) {
	bytes := make([]byte, TokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
