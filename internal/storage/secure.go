package storage

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrInvalidKey    = errors.New("secure store key must be 32 bytes")
	ErrDecryptFailed = errors.New("secure store decrypt failed")
)

// SecureStore cifra cada valor con XChaCha20-Poly1305 antes de delegar en inner.
// La clave se usa como dato adicional, asi un valor no puede moverse de clave.
type SecureStore struct {
	inner Store
	key   []byte
}

func NewSecureStore(inner Store, key []byte) (*SecureStore, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &SecureStore{inner: inner, key: k}, nil
}

// DeriveKey obtiene la clave del store a partir de una passphrase (Argon2id).
func DeriveKey(passphrase, salt string) []byte {
	return argon2.IDKey([]byte(passphrase), []byte(salt), 1, 64*1024, 4, chacha20poly1305.KeySize)
}

func (s *SecureStore) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrDecryptFailed
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}

func (s *SecureStore) Set(ctx context.Context, key string, value []byte) error {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(value)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, value, []byte(key))
	return s.inner.Set(ctx, key, sealed)
}

func (s *SecureStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
