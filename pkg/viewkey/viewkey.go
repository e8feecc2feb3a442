// Package viewkey derives an account's master view seed and owner address
// from a BIP-39 mnemonic.
package viewkey

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"darkpool-indexer/pkg/crypto_util"
	"darkpool-indexer/pkg/stream"
)

// 修改会导致所有账户的种子变化
const tagMasterViewSeed = "darkpool/master-view-seed/v1"

var (
	ErrInvalidMnemonic = errors.New("无效的助记词")
	ErrInvalidPath     = errors.New("无效的派生路径")
)

// Account is what the indexer needs to watch one owner.
type Account struct {
	Path  string
	Owner string
	Seed  stream.Scalar
}

// NewMnemonic 生成一个新的随机助记词 (BIP-39)。
// bitSize: 熵的位数，通常为 128 (12个单词) 或 256 (24个单词)。
func NewMnemonic(bitSize int) (string, error) {
	entropy, err := bip39.NewEntropy(bitSize)
	if err != nil {
		return "", fmt.Errorf("生成熵失败: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// Path returns the BIP-44 Ethereum path of the given account index.
func Path(index uint32) string {
	return fmt.Sprintf("m/44'/60'/%d'/0/0", index)
}

// FromMnemonic derives the owner key at path and the master view seed keyed
// by it. The same inputs always yield the same Account.
func FromMnemonic(mnemonic, passphrase, path string) (*Account, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, passphrase)

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("生成主密钥失败: %w", err)
	}
	key, err := derivePath(master, path)
	if err != nil {
		return nil, err
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, err
	}

	wide := crypto_util.Blake3Keyed(priv.Serialize(), 2*stream.ScalarSize, []byte(tagMasterViewSeed))
	return &Account{
		Path:  path,
		Owner: ownerAddress(priv.PubKey()),
		Seed:  stream.ScalarFromWide(wide),
	}, nil
}

// ownerAddress 以太坊地址: Keccak256(未压缩公钥去掉 0x04 前缀) 的后 20 字节
func ownerAddress(pub *btcec.PublicKey) string {
	return ethcrypto.PubkeyToAddress(*pub.ToECDSA()).Hex()
}

// derivePath 支持格式: m/44'/60'/0'/0/0 或 m/44h/60h/0h/0/0
func derivePath(key *hdkeychain.ExtendedKey, path string) (*hdkeychain.ExtendedKey, error) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "m/")
	if path == "" || path == "m" {
		return key, nil
	}

	for _, segment := range strings.Split(path, "/") {
		hardened := strings.HasSuffix(segment, "'") || strings.HasSuffix(segment, "h")
		if hardened {
			segment = segment[:len(segment)-1]
		}
		val, err := strconv.ParseUint(segment, 10, 31)
		if err != nil {
			return nil, fmt.Errorf("%w: 路径段 '%s': %v", ErrInvalidPath, segment, err)
		}
		index := uint32(val)
		if hardened {
			index += hdkeychain.HardenedKeyStart
		}
		if key, err = key.Derive(index); err != nil {
			return nil, err
		}
	}
	return key, nil
}
