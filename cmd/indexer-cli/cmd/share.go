package cmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"darkpool-indexer/internal/event"
	"darkpool-indexer/pkg/stream"
)

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "加密或解密公开份额",
}

// shareSealCmd 用份额种子加密一个份额，用于构造测试事件
var shareSealCmd = &cobra.Command{
	Use:   "seal",
	Short: "加密份额并输出密文",
	RunE: func(cmd *cobra.Command, args []string) error {
		shareSeed, err := shareSeedFlag(cmd)
		if err != nil {
			return err
		}
		mint, _ := cmd.Flags().GetString("mint")
		outputMint, _ := cmd.Flags().GetString("output-mint")
		amountText, _ := cmd.Flags().GetString("amount")

		amount, ok := new(big.Int).SetString(amountText, 10)
		if !ok || amount.Sign() < 0 {
			return fmt.Errorf("无效的金额: %s", amountText)
		}
		for _, addr := range []string{mint, outputMint} {
			if addr != "" && !common.IsHexAddress(addr) {
				return fmt.Errorf("无效的地址: %s", addr)
			}
		}

		ct, err := event.Share{
			Mint:       common.HexToAddress(mint),
			OutputMint: common.HexToAddress(outputMint),
			Amount:     amount,
		}.Seal(shareSeed)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ciphertext: 0x%s\n", hex.EncodeToString(ct))
		if rid, _ := cmd.Flags().GetString("recovery-id"); rid != "" {
			recoveryID, err := stream.ParseScalar(rid)
			if err != nil {
				return fmt.Errorf("无效的恢复 ID: %w", err)
			}
			fmt.Fprintf(out, "nullifier:  %s\n", stream.Nullifier(recoveryID, ct).Hex())
		}
		return nil
	},
}

var shareOpenCmd = &cobra.Command{
	Use:   "open [ciphertext]",
	Short: "校验并解密份额",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		shareSeed, err := shareSeedFlag(cmd)
		if err != nil {
			return err
		}
		ct, err := hex.DecodeString(strings.TrimPrefix(args[0], "0x"))
		if err != nil {
			return fmt.Errorf("无效的密文: %w", err)
		}

		s, err := event.OpenShare(shareSeed, ct)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput(cmd) {
			return json.NewEncoder(out).Encode(map[string]string{
				"mint":        s.Mint.Hex(),
				"output_mint": s.OutputMint.Hex(),
				"amount":      s.AmountDecimal().String(),
			})
		}
		fmt.Fprintf(out, "mint:        %s\n", s.Mint.Hex())
		fmt.Fprintf(out, "output_mint: %s\n", s.OutputMint.Hex())
		fmt.Fprintf(out, "amount:      %s\n", s.AmountDecimal().String())
		return nil
	},
}

func shareSeedFlag(cmd *cobra.Command) (stream.Scalar, error) {
	text, _ := cmd.Flags().GetString("share-seed")
	s, err := stream.ParseScalar(text)
	if err != nil {
		return s, fmt.Errorf("无效的份额种子: %w", err)
	}
	return s, nil
}

func init() {
	for _, c := range []*cobra.Command{shareSealCmd, shareOpenCmd} {
		c.Flags().String("share-seed", "", "份额种子 (hex)")
		_ = c.MarkFlagRequired("share-seed")
		shareCmd.AddCommand(c)
	}
	shareSealCmd.Flags().String("mint", "", "资产合约地址")
	shareSealCmd.Flags().String("output-mint", "", "意向的目标资产地址")
	shareSealCmd.Flags().String("amount", "0", "金额 (最小单位)")
	shareSealCmd.Flags().String("recovery-id", "", "同时输出该恢复 ID 对应的 nullifier")
	rootCmd.AddCommand(shareCmd)
}
