package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"darkpool-indexer/pkg/stream"
)

// streamCmd 打印某个种子从 from 开始的恢复 ID 流
var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "预览主视图种子派生的恢复 ID 流",
	RunE: func(cmd *cobra.Command, args []string) error {
		seedText, _ := cmd.Flags().GetString("seed")
		from, _ := cmd.Flags().GetUint64("from")
		count, _ := cmd.Flags().GetInt("count")

		seed, err := stream.ParseScalar(seedText)
		if err != nil {
			return fmt.Errorf("无效的种子: %w", err)
		}
		if count <= 0 {
			return fmt.Errorf("count 必须大于 0")
		}

		s := stream.NewStream(seed, from)
		out := cmd.OutOrStdout()
		enc := json.NewEncoder(out)
		for i := 0; i < count; i++ {
			slot := s.Next()
			if jsonOutput(cmd) {
				if err := enc.Encode(slot); err != nil {
					return err
				}
				continue
			}
			fmt.Fprintf(out, "[%d] recovery_id=%s share_seed=%s\n", slot.Index, slot.RecoveryID.Hex(), slot.ShareSeed.Hex())
		}
		return nil
	},
}

func init() {
	streamCmd.Flags().String("seed", "", "主视图种子 (hex)")
	streamCmd.Flags().Uint64("from", 0, "起始序号")
	streamCmd.Flags().Int("count", 8, "派生数量")
	_ = streamCmd.MarkFlagRequired("seed")
	rootCmd.AddCommand(streamCmd)
}
