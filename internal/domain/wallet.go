package domain

import (
	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ValidAddress reports whether s is a plausible base58 account address:
// 32 decoded bytes within the 32..44 character envelope.
func ValidAddress(s string) bool {
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return false
	}
	return len(raw) == 32
}

// ValidWallet reports whether s is a valid wallet (system) account:
// a 32-byte base58 key that lies on the ed25519 curve. Program-derived
// addresses are off-curve and rejected here.
func ValidWallet(s string) bool {
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	raw, err := base58.Decode(s)
	if err != nil || len(raw) != 32 {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(raw)
	return err == nil
}
