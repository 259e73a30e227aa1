package hipaa

import (
	"encoding/base64"
	"io"
	"strings"
)

// IdentifierLength is the number of digits in a national identifier.
const IdentifierLength = 12

const redactedPrefix = "XXXX-XXXX-"

// Vault seals, indexes and formats 12-digit national identifiers. A Vault is
// immutable after construction and safe for concurrent use.
type Vault struct {
	sealer *gcmSealer
	index  BlindIndexer
}

// Sealed holds the two values persisted for an identifier: the reversible
// ciphertext and the one-way lookup key.
type Sealed struct {
	Ciphertext string `json:"ciphertext"`
	BlindIndex string `json:"blind_index"`
}

// VaultOption configures a Vault.
type VaultOption func(*vaultOptions)

type vaultOptions struct {
	index  BlindIndexer
	random io.Reader
}

// WithBlindIndexer overrides the default SHA-256 blind index.
func WithBlindIndexer(b BlindIndexer) VaultOption {
	return func(o *vaultOptions) { o.index = b }
}

// WithRandom overrides the nonce source. Intended for tests.
func WithRandom(r io.Reader) VaultOption {
	return func(o *vaultOptions) { o.random = r }
}

// NewVault creates a Vault that owns key for its lifetime.
func NewVault(key SecretKey, opts ...VaultOption) (*Vault, error) {
	if key.IsZero() {
		return nil, ErrInvalidKey
	}

	o := vaultOptions{index: SHA256Index{}}
	for _, opt := range opts {
		opt(&o)
	}

	sealer, err := newGCMSealer(key, o.random)
	if err != nil {
		return nil, err
	}
	return &Vault{sealer: sealer, index: o.index}, nil
}

// ValidateFormat returns ErrInvalidFormat unless s is exactly 12 ASCII digits.
func ValidateFormat(s string) error {
	if len(s) != IdentifierLength {
		return ErrInvalidFormat
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return ErrInvalidFormat
		}
	}
	return nil
}

// Encrypt seals plaintext under a fresh random nonce and returns
// base64(nonce || ciphertext || tag).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if err := ValidateFormat(plaintext); err != nil {
		return "", err
	}
	out, err := v.sealer.seal([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Empty input yields ErrInvalidFormat; any decoding
// or authentication failure yields ErrIntegrityFailure.
func (v *Vault) Decrypt(sealed string) (string, error) {
	if strings.TrimSpace(sealed) == "" {
		return "", ErrInvalidFormat
	}
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrIntegrityFailure
	}
	plaintext, err := v.sealer.open(data)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Hash returns the blind index for plaintext.
func (v *Vault) Hash(plaintext string) (string, error) {
	if err := ValidateFormat(plaintext); err != nil {
		return "", err
	}
	return v.index.Index(plaintext), nil
}

// Seal returns both the ciphertext and the blind index of plaintext.
func (v *Vault) Seal(plaintext string) (Sealed, error) {
	ct, err := v.Encrypt(plaintext)
	if err != nil {
		return Sealed{}, err
	}
	return Sealed{Ciphertext: ct, BlindIndex: v.index.Index(plaintext)}, nil
}

// Mask exposes only the last four digits: XXXX-XXXX-9012.
func (v *Vault) Mask(plaintext string) (string, error) {
	return Mask(plaintext)
}

// Format groups the digits 4-4-4: 1234-5678-9012.
func (v *Vault) Format(plaintext string) (string, error) {
	return Format(plaintext)
}

// Mask is the key-independent form of Vault.Mask.
func Mask(plaintext string) (string, error) {
	if err := ValidateFormat(plaintext); err != nil {
		return "", err
	}
	return redactedPrefix + plaintext[8:], nil
}

// Format is the key-independent form of Vault.Format.
func Format(plaintext string) (string, error) {
	if err := ValidateFormat(plaintext); err != nil {
		return "", err
	}
	return plaintext[:4] + "-" + plaintext[4:8] + "-" + plaintext[8:], nil
}
