package stream

import (
	"database/sql/driver"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"darkpool-indexer/pkg/safe_random"
)

// ScalarSize is the encoded width of a Scalar.
const ScalarSize = fr.Bytes

var (
	ErrScalarOutOfField = errors.New("scalar is not a canonical field element")
	ErrScalarEncoding   = errors.New("malformed scalar encoding")
)

// Scalar is a canonical BN254 scalar field element, big-endian.
type Scalar [ScalarSize]byte

// ScalarFromWide reduces an arbitrary-length big-endian integer modulo the
// field order.
func ScalarFromWide(b []byte) Scalar {
	var e fr.Element
	e.SetBytes(b)
	return Scalar(e.Bytes())
}

// ScalarFromBig rejects values outside [0, r).
func ScalarFromBig(v *big.Int) (Scalar, error) {
	if v == nil || v.Sign() < 0 || v.Cmp(fr.Modulus()) >= 0 {
		return Scalar{}, ErrScalarOutOfField
	}
	var s Scalar
	v.FillBytes(s[:])
	return s, nil
}

// ParseScalar accepts 0x-prefixed or bare hex of at most 32 bytes.
func ParseScalar(text string) (Scalar, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(text, "0x"), "0X")
	if len(raw) == 0 || len(raw) > 2*ScalarSize {
		return Scalar{}, fmt.Errorf("%w: %q", ErrScalarEncoding, text)
	}
	if len(raw)%2 == 1 {
		raw = "0" + raw
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return Scalar{}, fmt.Errorf("%w: %v", ErrScalarEncoding, err)
	}
	return ScalarFromBig(new(big.Int).SetBytes(b))
}

// MustParseScalar is for constants and tests.
func MustParseScalar(text string) Scalar {
	s, err := ParseScalar(text)
	if err != nil {
		panic(err)
	}
	return s
}

// RandomScalar draws a uniformly distributed scalar (wide reduction of 64 random bytes).
func RandomScalar() (Scalar, error) {
	b, err := safe_random.GenerateRandomBytes(2 * ScalarSize)
	if err != nil {
		return Scalar{}, err
	}
	return ScalarFromWide(b), nil
}

func (s Scalar) Bytes() []byte {
	out := make([]byte, ScalarSize)
	copy(out, s[:])
	return out
}

func (s Scalar) Big() *big.Int {
	return new(big.Int).SetBytes(s[:])
}

func (s Scalar) Hex() string {
	return "0x" + hex.EncodeToString(s[:])
}

func (s Scalar) String() string {
	return s.Hex()
}

func (s Scalar) IsZero() bool {
	return s == Scalar{}
}

func (s Scalar) MarshalText() ([]byte, error) {
	return []byte(s.Hex()), nil
}

func (s *Scalar) UnmarshalText(text []byte) error {
	v, err := ParseScalar(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Value stores scalars as fixed-width hex so equality lookups hit the index.
func (s Scalar) Value() (driver.Value, error) {
	return s.Hex(), nil
}

func (s *Scalar) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	case nil:
		*s = Scalar{}
		return nil
	default:
		return fmt.Errorf("%w: unsupported column type %T", ErrScalarEncoding, src)
	}
}
