package event

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/shopspring/decimal"

	"darkpool-indexer/pkg/stream"
)

// Share is the plaintext of an object's public share. OutputMint is the zero
// address for balances.
type Share struct {
	Mint       common.Address
	OutputMint common.Address
	Amount     *big.Int
}

func (s Share) AmountDecimal() decimal.Decimal {
	if s.Amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(s.Amount, 0)
}

// Seal RLP-encodes the share and encrypts it under shareSeed.
func (s Share) Seal(shareSeed stream.Scalar) ([]byte, error) {
	if s.Amount == nil {
		s.Amount = new(big.Int)
	}
	plain, err := rlp.EncodeToBytes(&s)
	if err != nil {
		return nil, fmt.Errorf("encode share: %w", err)
	}
	return stream.Encrypt(shareSeed, plain), nil
}

// OpenShare authenticates and decodes a public share.
func OpenShare(shareSeed stream.Scalar, ciphertext []byte) (Share, error) {
	var s Share
	plain, err := stream.Decrypt(shareSeed, ciphertext)
	if err != nil {
		return s, err
	}
	if err := rlp.DecodeBytes(plain, &s); err != nil {
		return s, fmt.Errorf("%w: share encoding: %v", ErrMalformed, err)
	}
	return s, nil
}
