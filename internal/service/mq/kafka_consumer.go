package mq

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"
)

// KafkaConsumer 实现 Consumer 接口，运维用它读取死信主题
type KafkaConsumer struct {
	brokers     []string
	groupID     string
	startOffset int64
	reader      *kafka.Reader
}

// NewKafkaConsumer 创建 Kafka 消费者。fromBeginning 为 true 时新消费组从最早的 offset 开始
func NewKafkaConsumer(brokers []string, groupID string, fromBeginning bool) *KafkaConsumer {
	offset := kafka.LastOffset
	if fromBeginning {
		offset = kafka.FirstOffset
	}
	return &KafkaConsumer{
		brokers:     brokers,
		groupID:     groupID,
		startOffset: offset,
	}
}

// Subscribe blocks until ctx is done. handler errors leave the offset
// uncommitted and stop the subscription.
func (c *KafkaConsumer) Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error {
	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.brokers,
		GroupID:     c.groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: c.startOffset,
	})
	defer c.reader.Close()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}

		msg := &Message{
			ID:      fmt.Sprintf("%d/%d", m.Partition, m.Offset),
			Key:     string(m.Key),
			Payload: m.Value,
			Metadata: map[string]string{
				"topic":     m.Topic,
				"partition": strconv.Itoa(m.Partition),
				"offset":    strconv.FormatInt(m.Offset, 10),
			},
		}
		if err := handler(msg); err != nil {
			return err
		}

		// 手动提交 Offset (确认消费成功)
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			return fmt.Errorf("kafka commit: %w", err)
		}
	}
}

func (c *KafkaConsumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
