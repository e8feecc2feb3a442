package stream

import "darkpool-indexer/pkg/crypto_util"

const tagNullifier = "darkpool/nullifier/v1"

// Nullifier is the spend tag of an object version: a function of its recovery
// id and the public share currently published for it.
func Nullifier(recoveryID Scalar, publicShare []byte) Scalar {
	return hashToScalar([]byte(tagNullifier), recoveryID[:], crypto_util.Keccak256(publicShare))
}

// hashToScalar widens keccak output to 64 bytes (h || keccak(h)) before
// reducing, which keeps the modular bias negligible.
func hashToScalar(parts ...[]byte) Scalar {
	h := crypto_util.Keccak256(parts...)
	wide := append(h, crypto_util.Keccak256(h)...)
	return ScalarFromWide(wide)
}
