package event

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"darkpool-indexer/internal/model"
	"darkpool-indexer/pkg/stream"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	rid := stream.MustParseScalar("0xabc")
	env, err := NewRecoveryIDRegistered("arbitrum-one", RecoveryIDRegistered{
		RecoveryID: rid,
		Kind:       model.KindBalance,
		Ciphertext: []byte{1, 2, 3},
		Block:      10,
		TxHash:     common.HexToHash("0x01"),
	})
	require.NoError(t, err)

	body, err := env.Marshal()
	require.NoError(t, err)

	back, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, TypeRecoveryIDRegistered, back.Type)
	assert.Equal(t, "arbitrum-one", back.Chain)

	ev, err := back.RecoveryIDRegistered()
	require.NoError(t, err)
	assert.Equal(t, rid, ev.RecoveryID)
	assert.Equal(t, []byte{1, 2, 3}, []byte(ev.Ciphertext))
	assert.Equal(t, uint64(10), ev.Block)

	_, err = back.NullifierSpent()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{"type":"mystery","payload":{}}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestPayloadValidation(t *testing.T) {
	env := &Envelope{Type: TypeRecoveryIDRegistered, Payload: []byte(`{"recovery_id":"0x01","kind":"vault","block":1}`)}
	_, err := env.RecoveryIDRegistered()
	assert.ErrorIs(t, err, ErrMalformed)

	env, err = NewNullifierSpent("base-mainnet", NullifierSpent{Nullifier: stream.MustParseScalar("0x05"), Transition: TransitionSettle})
	require.NoError(t, err)
	_, err = env.NullifierSpent()
	assert.ErrorIs(t, err, ErrMalformed, "settle needs a successor share")

	env, err = NewRegisterMasterViewSeed(RegisterMasterViewSeed{AccountID: uuid.New()})
	require.NoError(t, err)
	_, err = env.RegisterMasterViewSeed()
	assert.ErrorIs(t, err, ErrMalformed, "zero seed")
}

func TestShareSealOpen(t *testing.T) {
	_, shareSeed := stream.Derive(stream.MustParseScalar("0x5eed"), 0)
	share := Share{
		Mint:   common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Amount: big.NewInt(100),
	}

	ct, err := share.Seal(shareSeed)
	require.NoError(t, err)

	opened, err := OpenShare(shareSeed, ct)
	require.NoError(t, err)
	assert.Equal(t, share.Mint, opened.Mint)
	assert.Equal(t, common.Address{}, opened.OutputMint)
	assert.Equal(t, "100", opened.AmountDecimal().String())

	_, other := stream.Derive(stream.MustParseScalar("0x5eed"), 1)
	_, err = OpenShare(other, ct)
	assert.ErrorIs(t, err, stream.ErrAuthentication)

	// 认证通过但内容不是合法 RLP
	_, err = OpenShare(shareSeed, stream.Encrypt(shareSeed, []byte{0xff}))
	assert.ErrorIs(t, err, ErrMalformed)
}
