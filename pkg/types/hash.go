package types

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// CryptoHash is a 32-byte NEAR hash (block hash, transaction hash, receipt id).
// Its text form is base58, as used by the NEAR RPC.
type CryptoHash [32]byte

// ParseCryptoHash decodes a base58 encoded 32-byte hash.
func ParseCryptoHash(s string) (CryptoHash, error) {
	var h CryptoHash
	b, err := base58.Decode(s)
	if err != nil {
		return h, fmt.Errorf("decode base58 hash %q: %w", s, err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("hash %q has %d bytes, want %d", s, len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}

// HashFromBytes copies a 32-byte slice into a CryptoHash.
func HashFromBytes(b []byte) (CryptoHash, error) {
	var h CryptoHash
	if len(b) != len(h) {
		return h, fmt.Errorf("hash has %d bytes, want %d", len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}

func (h CryptoHash) String() string {
	return base58.Encode(h[:])
}

func (h CryptoHash) IsZero() bool {
	return h == CryptoHash{}
}

func (h CryptoHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *CryptoHash) UnmarshalText(text []byte) error {
	parsed, err := ParseCryptoHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
