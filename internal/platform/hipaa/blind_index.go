package hipaa

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Blind index modes accepted by NewBlindIndexer.
const (
	IndexModeSHA256 = "sha256"
	IndexModeHMAC   = "hmac"
)

const blindIndexInfo = "identifier-blind-index"

// BlindIndexer computes the deterministic lookup digest stored next to a
// sealed identifier. Output is 64 lowercase hex characters.
type BlindIndexer interface {
	Index(plaintext string) string
}

// SHA256Index is an unkeyed SHA-256 digest over the identifier bytes.
type SHA256Index struct{}

func (SHA256Index) Index(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// HMACIndex is an HMAC-SHA256 digest keyed with material derived from the
// vault key. Without the key the index cannot be recomputed by brute force
// over the 10^12 identifier space.
type HMACIndex struct {
	key []byte
}

// NewHMACIndex derives the index key from the vault key with HKDF-SHA256.
func NewHMACIndex(key SecretKey) (*HMACIndex, error) {
	if key.IsZero() {
		return nil, ErrInvalidKey
	}
	derived := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, key.bytes[:], nil, []byte(blindIndexInfo))
	if _, err := io.ReadFull(r, derived); err != nil {
		return nil, fmt.Errorf("derive blind index key: %w", err)
	}
	return &HMACIndex{key: derived}, nil
}

func (h *HMACIndex) Index(plaintext string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewBlindIndexer returns the indexer for the configured mode. An empty mode
// selects SHA-256.
func NewBlindIndexer(mode string, key SecretKey) (BlindIndexer, error) {
	switch mode {
	case "", IndexModeSHA256:
		return SHA256Index{}, nil
	case IndexModeHMAC:
		return NewHMACIndex(key)
	default:
		return nil, fmt.Errorf("unknown blind index mode %q: want %q or %q", mode, IndexModeSHA256, IndexModeHMAC)
	}
}
