package cmd

import (
	"bytes"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"darkpool-indexer/pkg/stream"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestStreamMatchesDerive(t *testing.T) {
	out, err := run(t, "stream", "--seed", "0x5eed", "--from", "2", "--count", "2")
	require.NoError(t, err)

	seed := stream.MustParseScalar("0x5eed")
	r2, _ := stream.Derive(seed, 2)
	r3, _ := stream.Derive(seed, 3)
	assert.Contains(t, out, "[2] recovery_id="+r2.Hex())
	assert.Contains(t, out, "[3] recovery_id="+r3.Hex())
}

func TestShareSealThenOpen(t *testing.T) {
	out, err := run(t, "share", "seal", "--share-seed", "0x77",
		"--mint", "0x00000000000000000000000000000000000000aa", "--amount", "1500")
	require.NoError(t, err)

	m := regexp.MustCompile(`ciphertext: (0x[0-9a-f]+)`).FindStringSubmatch(out)
	require.Len(t, m, 2)

	out, err = run(t, "share", "open", "--share-seed", "0x77", m[1])
	require.NoError(t, err)
	assert.Contains(t, out, "amount:      1500")
	assert.Contains(t, strings.ToLower(out), "0x00000000000000000000000000000000000000aa")

	_, err = run(t, "share", "open", "--share-seed", "0x78", m[1])
	assert.ErrorIs(t, err, stream.ErrAuthentication)
}

func TestSeedRecover(t *testing.T) {
	out, err := run(t, "seed", "recover",
		"abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about")
	require.NoError(t, err)
	assert.Contains(t, out, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94")
}
