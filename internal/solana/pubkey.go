package solana

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ErrInvalidPublicKey is returned for strings that are not 32-byte base58 keys.
var ErrInvalidPublicKey = errors.New("invalid public key")

// DecodePublicKey decodes a base58 Solana public key.
func DecodePublicKey(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPublicKey)
	}
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidPublicKey, len(b))
	}
	return b, nil
}

// ValidatePublicKey checks that s is a 32-byte base58 public key.
func ValidatePublicKey(s string) error {
	_, err := DecodePublicKey(s)
	return err
}

// IsOnCurve reports whether the key is a point on the ed25519 curve.
// Program derived addresses (bonding curves, pools, vaults) are off-curve.
// Invalid keys report true so they are never mistaken for program accounts.
func IsOnCurve(s string) bool {
	b, err := DecodePublicKey(s)
	if err != nil {
		return true
	}
	_, err = new(edwards25519.Point).SetBytes(b)
	return err == nil
}
