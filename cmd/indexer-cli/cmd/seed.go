package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"darkpool-indexer/pkg/viewkey"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "管理主视图种子",
}

// seedNewCmd 生成新的助记词并显示派生的种子
var seedNewCmd = &cobra.Command{
	Use:   "new",
	Short: "生成新的助记词和主视图种子",
	RunE: func(cmd *cobra.Command, args []string) error {
		mnemonic, err := viewkey.NewMnemonic(256) // 24 words
		if err != nil {
			return err
		}
		return printAccount(cmd, mnemonic)
	},
}

var seedRecoverCmd = &cobra.Command{
	Use:   "recover [mnemonic]",
	Short: "从已有助记词恢复主视图种子",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printAccount(cmd, args[0])
	},
}

func printAccount(cmd *cobra.Command, mnemonic string) error {
	passphrase, _ := cmd.Flags().GetString("passphrase")
	index, _ := cmd.Flags().GetUint32("index")

	acc, err := viewkey.FromMnemonic(mnemonic, passphrase, viewkey.Path(index))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput(cmd) {
		return json.NewEncoder(out).Encode(map[string]string{
			"mnemonic": mnemonic,
			"path":     acc.Path,
			"owner":    acc.Owner,
			"seed":     acc.Seed.Hex(),
		})
	}
	fmt.Fprintln(out, "---------------------------------------------------")
	fmt.Fprintf(out, "助记词 (Mnemonic): \n%s\n", mnemonic)
	fmt.Fprintln(out, "---------------------------------------------------")
	fmt.Fprintf(out, "派生路径 (Path): %s\n", acc.Path)
	fmt.Fprintf(out, "所有者地址 (Owner): %s\n", acc.Owner)
	fmt.Fprintf(out, "主视图种子 (Seed): %s\n", acc.Seed.Hex())
	fmt.Fprintln(out, "---------------------------------------------------")
	fmt.Fprintln(out, "种子可以解密该账户的全部份额，请勿泄露。")
	return nil
}

func init() {
	for _, c := range []*cobra.Command{seedNewCmd, seedRecoverCmd} {
		c.Flags().String("passphrase", "", "BIP-39 密码")
		c.Flags().Uint32("index", 0, "BIP-44 账户序号")
		seedCmd.AddCommand(c)
	}
	rootCmd.AddCommand(seedCmd)
}
