package quote

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	tokenBytes = 32
	usedPrefix = "used:"
)

// NewToken returns a fresh plaintext token and the hash to store for it.
func NewToken() (plain, hash string, err error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("quote: generate token: %w", err)
	}
	plain = hex.EncodeToString(buf)
	return plain, HashToken(plain), nil
}

// HashToken is applied to every presented token before any lookup.
func HashToken(plain string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(plain)))
	return hex.EncodeToString(sum[:])
}

// consumed marks a stored hash so it can never match a lookup again.
func consumed(hash string) string {
	if strings.HasPrefix(hash, usedPrefix) {
		return hash
	}
	return usedPrefix + hash
}
