package stream

import (
	"crypto/subtle"
	"errors"
	"io"

	"lukechampine.com/blake3"

	"darkpool-indexer/pkg/crypto_util"
)

// TagSize is the length of the authenticity tag appended to every ciphertext.
const TagSize = 32

const (
	ctxCipherKey = "darkpool share cipher 2024-06 keystream key"
	ctxMacKey    = "darkpool share cipher 2024-06 authentication key"
)

var (
	ErrCiphertextTooShort = errors.New("ciphertext shorter than authentication tag")
	ErrAuthentication     = errors.New("ciphertext authentication failed")
)

type cipherKeys struct {
	enc [32]byte
	mac [32]byte
}

func deriveCipherKeys(shareSeed Scalar) cipherKeys {
	var k cipherKeys
	blake3.DeriveKey(k.enc[:], ctxCipherKey, shareSeed[:])
	blake3.DeriveKey(k.mac[:], ctxMacKey, shareSeed[:])
	return k
}

func (k cipherKeys) xorKeystream(dst, src []byte) {
	ks := make([]byte, len(src))
	xof := blake3.New(32, k.enc[:]).XOF()
	// XOF 读取不会失败
	_, _ = io.ReadFull(xof, ks)
	subtle.XORBytes(dst, src, ks)
}

func (k cipherKeys) tag(body []byte) []byte {
	return crypto_util.Blake3Keyed(k.mac[:], TagSize, body)
}

// Encrypt seals plaintext under the keystream derived from shareSeed and
// appends a tag that binds the ciphertext to that seed.
func Encrypt(shareSeed Scalar, plaintext []byte) []byte {
	keys := deriveCipherKeys(shareSeed)

	out := make([]byte, len(plaintext), len(plaintext)+TagSize)
	keys.xorKeystream(out, plaintext)
	return append(out, keys.tag(out)...)
}

// Decrypt verifies the tag before returning any plaintext. A ciphertext sealed
// under another seed fails with ErrAuthentication.
func Decrypt(shareSeed Scalar, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < TagSize {
		return nil, ErrCiphertextTooShort
	}
	keys := deriveCipherKeys(shareSeed)

	body := ciphertext[:len(ciphertext)-TagSize]
	if subtle.ConstantTimeCompare(keys.tag(body), ciphertext[len(body):]) != 1 {
		return nil, ErrAuthentication
	}

	plaintext := make([]byte, len(body))
	keys.xorKeystream(plaintext, body)
	return plaintext, nil
}
