package hipaa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

const (
	// NonceSize is the GCM nonce length in bytes (96 bits).
	NonceSize = 12
	// TagSize is the GCM authentication tag length in bytes (128 bits).
	TagSize = 16
)

// gcmSealer performs AES-256-GCM sealing over raw bytes. The output layout is
// nonce || ciphertext || tag.
type gcmSealer struct {
	aead   cipher.AEAD
	random io.Reader
}

func newGCMSealer(key SecretKey, random io.Reader) (*gcmSealer, error) {
	block, err := aes.NewCipher(key.bytes[:])
	if err != nil {
		return nil, fmt.Errorf("identifier vault: create cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("identifier vault: create GCM: %w", err)
	}

	if random == nil {
		random = rand.Reader
	}
	return &gcmSealer{aead: aead, random: random}, nil
}

// seal draws a fresh nonce for every call and prepends it to the sealed output.
func (s *gcmSealer) seal(plaintext []byte) ([]byte, error) {
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(s.random, out); err != nil {
		return nil, fmt.Errorf("identifier vault: generate nonce: %w", err)
	}
	return s.aead.Seal(out, out[:NonceSize], plaintext, nil), nil
}

// open verifies the tag before returning any plaintext. Every failure maps to
// ErrIntegrityFailure without the underlying cause.
func (s *gcmSealer) open(data []byte) ([]byte, error) {
	if len(data) < NonceSize+TagSize {
		return nil, ErrIntegrityFailure
	}

	nonce, sealed := data[:NonceSize], data[NonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrIntegrityFailure
	}
	return plaintext, nil
}
