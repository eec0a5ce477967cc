package rpc

import (
	"crypto/sha256"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// DeriveAssociatedTokenAccount derives the canonical associated token
// account for (owner, mint). Returns "" when no off-curve bump exists or
// the inputs are not valid keys.
func DeriveAssociatedTokenAccount(owner, mint string) string {
	ownerRaw, err := base58.Decode(owner)
	if err != nil || len(ownerRaw) != 32 {
		return ""
	}
	mintRaw, err := base58.Decode(mint)
	if err != nil || len(mintRaw) != 32 {
		return ""
	}
	tokenProgRaw, err := base58.Decode(TokenProgramID)
	if err != nil {
		return ""
	}
	ataProgRaw, err := base58.Decode(AssociatedTokenProgramID)
	if err != nil {
		return ""
	}
	return deriveProgramAddress([][]byte{ownerRaw, tokenProgRaw, mintRaw}, ataProgRaw)
}

// deriveProgramAddress finds the first bump seed (255 downwards) whose
// hash lands off the ed25519 curve, per the program-derived-address rules.
func deriveProgramAddress(seeds [][]byte, programID []byte) string {
	for bump := byte(255); bump > 0; bump-- {
		data := make([]byte, 0, 128)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, bump)
		data = append(data, programID...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)
		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:])
		}
	}
	return ""
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
