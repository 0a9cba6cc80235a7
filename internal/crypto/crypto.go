package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
)

// Service encrypts bid amounts at rest with AES-256-GCM. Bids stay opaque in
// storage until finalization; decryption failures are per-item errors the
// resolver recovers from, never fatal to a round.
type Service struct {
	aead cipher.AEAD
}

// NewService creates an encryption service from a base64-encoded 32-byte key.
func NewService(keyB64 string) (*Service, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length: expected 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Service{aead: aead}, nil
}

// GenerateKey returns a fresh base64-encoded 32-byte key. Used by tests and
// first-run setup.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// EncryptAmount seals a bid amount into an opaque base64 blob (nonce prefix +
// ciphertext).
func (s *Service) EncryptAmount(amount decimal.Decimal) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(amount.String()), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptAmount opens an opaque blob back into the plaintext amount.
func (s *Service) DecryptAmount(blob string) (decimal.Decimal, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode encrypted payload: %w", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(raw) < nonceSize {
		return decimal.Zero, fmt.Errorf("invalid payload length: %d bytes", len(raw))
	}

	plaintext, err := s.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to decrypt payload: %w", err)
	}

	amount, err := decimal.NewFromString(string(plaintext))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decrypted amount: %w", err)
	}
	return amount, nil
}
