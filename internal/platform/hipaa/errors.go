package hipaa

import "errors"

var (
	// ErrInvalidFormat is returned when an identifier is not exactly 12 ASCII
	// digits, or when a sealed value is empty.
	ErrInvalidFormat = errors.New("invalid identifier format: must be 12 digits")

	// ErrIntegrityFailure covers tag mismatch, wrong key, truncation and bad
	// encoding alike so callers cannot tell them apart.
	ErrIntegrityFailure = errors.New("decryption failed: data may be corrupted or tampered with")

	// ErrInvalidKey is returned when key material cannot be decoded into a
	// 256-bit key.
	ErrInvalidKey = errors.New("identifier key must be 32 bytes, base64 encoded")
)
