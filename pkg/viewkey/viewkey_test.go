package viewkey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestFromMnemonicKnownOwner(t *testing.T) {
	acc, err := FromMnemonic(testMnemonic, "", Path(0))
	require.NoError(t, err)
	// BIP-44 以太坊默认地址测试向量
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", acc.Owner)
	assert.False(t, acc.Seed.IsZero())

	again, err := FromMnemonic(testMnemonic, "", "m/44h/60h/0h/0/0")
	require.NoError(t, err)
	assert.Equal(t, acc.Seed, again.Seed)
}

func TestSeedDependsOnPathAndPassphrase(t *testing.T) {
	a, err := FromMnemonic(testMnemonic, "", Path(0))
	require.NoError(t, err)
	b, err := FromMnemonic(testMnemonic, "", Path(1))
	require.NoError(t, err)
	c, err := FromMnemonic(testMnemonic, "TREZOR", Path(0))
	require.NoError(t, err)

	assert.NotEqual(t, a.Seed, b.Seed)
	assert.NotEqual(t, a.Seed, c.Seed)
	assert.NotEqual(t, a.Owner, b.Owner)
}

func TestNewMnemonic(t *testing.T) {
	m, err := NewMnemonic(256)
	require.NoError(t, err)
	assert.Len(t, strings.Fields(m), 24)

	_, err = FromMnemonic(m, "", Path(3))
	assert.NoError(t, err)
}

func TestRejectsBadInput(t *testing.T) {
	_, err := FromMnemonic("abandon abandon", "", Path(0))
	assert.ErrorIs(t, err, ErrInvalidMnemonic)

	_, err = FromMnemonic(testMnemonic, "", "m/44'/x/0")
	assert.ErrorIs(t, err, ErrInvalidPath)
}
