// Package cardcrypto protects card numbers at rest with AES-256-GCM.
package cardcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize   = 32
	nonceSize = 12
	tagSize   = 16
	panLength = 16
)

var (
	// ErrInvalidPlaintext is returned by Encrypt when the input is not a 16 digit PAN.
	ErrInvalidPlaintext = errors.New("card number must be exactly 16 digits")
	// ErrIntegrity is the single opaque error returned for any decryption failure.
	ErrIntegrity = errors.New("card number ciphertext failed integrity check")
	// ErrKey is returned when the configured key is unusable.
	ErrKey = errors.New("invalid encryption key")
)

var fingerprintInfo = []byte("bankcards/pan-fingerprint/v1")

// Cipher encrypts and decrypts card numbers. It is safe for concurrent use.
type Cipher struct {
	aead           cipher.AEAD
	fingerprintKey []byte
	rand           io.Reader
}

// NewCipher builds a Cipher from a 32 byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrKey, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKey, err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKey, err)
	}

	fpKey := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, nil, fingerprintInfo), fpKey); err != nil {
		return nil, fmt.Errorf("%w: derive fingerprint key: %v", ErrKey, err)
	}

	return &Cipher{aead: aead, fingerprintKey: fpKey, rand: rand.Reader}, nil
}

// Encrypt returns base64(nonce || ciphertext || tag). Each call draws a fresh
// nonce, so the same PAN never encrypts to the same string twice.
func (c *Cipher) Encrypt(pan string) (string, error) {
	if !isPAN(pan) {
		return "", ErrInvalidPlaintext
	}

	nonce := make([]byte, nonceSize, nonceSize+panLength+tagSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(pan), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Every failure is reported as ErrIntegrity.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) < nonceSize+tagSize {
		return "", ErrIntegrity
	}

	plain, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrIntegrity
	}

	pan := string(plain)
	if !isPAN(pan) {
		return "", ErrIntegrity
	}
	return pan, nil
}

// Fingerprint returns a deterministic keyed digest of the PAN used for
// uniqueness checks. It reveals nothing about the PAN without the key.
func (c *Cipher) Fingerprint(pan string) string {
	mac := hmac.New(sha256.New, c.fingerprintKey)
	mac.Write([]byte(pan))
	return hex.EncodeToString(mac.Sum(nil))
}

// MaskPAN renders a card number for display as "**** **** **** NNNN".
func MaskPAN(pan string) string {
	if len(pan) < 4 {
		return "****"
	}
	return "**** **** **** " + pan[len(pan)-4:]
}

func isPAN(s string) bool {
	if len(s) != panLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
