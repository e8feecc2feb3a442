package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"darkpool-indexer/internal/model"
	"darkpool-indexer/internal/service/mq"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "查看死信主题",
}

// dlqTailCmd 持续打印 relay 发布到 Kafka 的死信，Ctrl+C 退出
var dlqTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "订阅死信主题并打印",
	RunE: func(cmd *cobra.Command, args []string) error {
		brokers, _ := cmd.Flags().GetStringSlice("brokers")
		topic, _ := cmd.Flags().GetString("topic")
		group, _ := cmd.Flags().GetString("group")
		fromBeginning, _ := cmd.Flags().GetBool("from-beginning")
		if len(brokers) == 0 {
			return fmt.Errorf("至少需要一个 broker")
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		consumer := mq.NewKafkaConsumer(brokers, group, fromBeginning)
		defer consumer.Close()

		out := cmd.OutOrStdout()
		return consumer.Subscribe(ctx, topic, func(msg *mq.Message) error {
			if jsonOutput(cmd) {
				_, err := fmt.Fprintln(out, string(msg.Payload))
				return err
			}
			var dl model.DeadLetter
			if err := json.Unmarshal(msg.Payload, &dl); err != nil {
				fmt.Fprintf(out, "[%s] 无法解析: %v\n", msg.ID, err)
				return nil
			}
			fmt.Fprintf(out, "[%s] id=%d type=%s chain=%s attempts=%d reason=%s\n",
				msg.ID, dl.ID, dl.MessageType, dl.Chain, dl.Attempts, dl.Reason)
			return nil
		})
	},
}

func init() {
	dlqTailCmd.Flags().StringSlice("brokers", []string{"localhost:9092"}, "Kafka broker 列表")
	dlqTailCmd.Flags().String("topic", "darkpool_indexer_dead_letters", "死信主题")
	dlqTailCmd.Flags().String("group", "indexer-cli", "消费组")
	dlqTailCmd.Flags().Bool("from-beginning", false, "新消费组从最早的 offset 开始")
	dlqCmd.AddCommand(dlqTailCmd)
	rootCmd.AddCommand(dlqCmd)
}
