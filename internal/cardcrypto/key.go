package cardcrypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// DecodeKey parses a base64 encoded 32 byte key.
func DecodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: not valid base64", ErrKey)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrKey, KeySize, len(key))
	}
	return key, nil
}

// NewEphemeralKey generates a random key for development runs without a
// persistent store. Ciphertext produced with it is unreadable after restart.
func NewEphemeralKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	return key, nil
}
