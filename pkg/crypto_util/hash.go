package crypto_util

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"
)

// Keccak256 计算所有输入拼接后的 Keccak256 哈希 (以太坊使用的变体)。
func Keccak256(parts ...[]byte) []byte {
	hash := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		hash.Write(p)
	}
	return hash.Sum(nil)
}

// Blake3Keyed returns size bytes of keyed BLAKE3 over the concatenated parts.
// key must be 32 bytes.
func Blake3Keyed(key []byte, size int, parts ...[]byte) []byte {
	h := blake3.New(size, key)
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// Blake3Fingerprint 返回短指纹，用于日志中标识密钥而不暴露密钥本身。
func Blake3Fingerprint(data []byte) string {
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:8])
}
