package storage

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var ErrMissingSecret = errors.New("sealed storage requires a secret")

const sealedKeyInfo = "leagueconsole local storage v1"

// SealedStorage encrypts values before handing them to the underlying driver.
// The item key is bound as additional data, so a value copied under another
// key fails to open.
type SealedStorage struct {
	base Storage
	aead cipher.AEAD
}

// Sealed wraps base with XChaCha20-Poly1305 using a key derived from secret.
func Sealed(base Storage, secret string) (*SealedStorage, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(sealedKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive storage key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return &SealedStorage{base: base, aead: aead}, nil
}

// GetItem returns absent for values that fail to decrypt.
func (s *SealedStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	raw, ok, err := s.base.GetItem(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}

	data, err := base64.RawStdEncoding.DecodeString(raw)
	if err != nil || len(data) < s.aead.NonceSize() {
		return "", false, nil
	}

	nonce, ciphertext := data[:s.aead.NonceSize()], data[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return "", false, nil
	}
	return string(plaintext), true, nil
}

func (s *SealedStorage) SetItem(ctx context.Context, key, value string) error {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return s.base.SetItem(ctx, key, base64.RawStdEncoding.EncodeToString(sealed))
}

func (s *SealedStorage) RemoveItem(ctx context.Context, key string) error {
	return s.base.RemoveItem(ctx, key)
}
