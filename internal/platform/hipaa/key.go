package hipaa

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// KeySize is the identifier key length in bytes (AES-256).
const KeySize = 32

// SecretKey is an immutable 256-bit symmetric key. The zero value is not a
// usable key; obtain one from ParseKey or GenerateKey.
type SecretKey struct {
	bytes [KeySize]byte
	set   bool
}

// ParseKey decodes a standard base64 encoded 32-byte key.
func ParseKey(encoded string) (SecretKey, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return SecretKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != KeySize {
		return SecretKey{}, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(raw))
	}

	var k SecretKey
	copy(k.bytes[:], raw)
	k.set = true
	return k, nil
}

// GenerateKey returns a new random key read from crypto/rand.
func GenerateKey() (SecretKey, error) {
	return generateKey(rand.Reader)
}

func generateKey(r io.Reader) (SecretKey, error) {
	var k SecretKey
	if _, err := io.ReadFull(r, k.bytes[:]); err != nil {
		return SecretKey{}, fmt.Errorf("generate identifier key: %w", err)
	}
	k.set = true
	return k, nil
}

// Encoded returns the key as standard base64, the same form ParseKey accepts.
func (k SecretKey) Encoded() string {
	return base64.StdEncoding.EncodeToString(k.bytes[:])
}

// IsZero reports whether k was never initialised.
func (k SecretKey) IsZero() bool {
	return !k.set
}

// LoadOrGenerateKey decodes the configured key, or generates a fresh one when
// none is configured. A generated key is surfaced once in the log so the
// operator can persist it; it is never stored by the vault.
func LoadOrGenerateKey(encoded string, logger zerolog.Logger) (SecretKey, error) {
	if strings.TrimSpace(encoded) != "" {
		k, err := ParseKey(encoded)
		if err != nil {
			return SecretKey{}, fmt.Errorf("IDENTIFIER_ENCRYPTION_KEY: %w", err)
		}
		logger.Info().Msg("identifier encryption key loaded")
		return k, nil
	}

	k, err := GenerateKey()
	if err != nil {
		return SecretKey{}, err
	}
	logger.Warn().
		Str("generated_key", k.Encoded()).
		Msg("IDENTIFIER_ENCRYPTION_KEY is not set; generated an ephemeral key. Records sealed with it are unreadable after restart")
	return k, nil
}
