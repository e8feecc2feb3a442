package mq

import (
	"context"
	"errors"
	"time"
)

// Message 代表一条通用的业务消息
type Message struct {
	ID       string            // 发送后由队列分配
	Key      string            // 分组/分区键 (例如 recovery id)
	Payload  []byte            // 消息体 (JSON 信封)
	Metadata map[string]string // 元数据
}

// Delivery is a polled message plus the receipt that acknowledges it.
type Delivery struct {
	Message
	Receipt string
	// ReceiveCount is how many times the broker has handed this message out,
	// 0 when the backend does not track it.
	ReceiveCount int
}

// Queue is an at-least-once work queue. A polled message that is not deleted
// within the visibility timeout is handed out again.
type Queue interface {
	Send(ctx context.Context, msg *Message) (receipt string, err error)
	Poll(ctx context.Context, max int, visibility time.Duration) ([]Delivery, error)
	Delete(ctx context.Context, receipt string) error
	Close() error
}

// Producer 生产者接口，用于死信等单向投递
type Producer interface {
	// Publish 发送消息
	// key: 用于分区排序 (Partition Key). 传空字符串则随机分区.
	Publish(ctx context.Context, topic string, key string, payload []byte) error
}

// Consumer 消费者接口
type Consumer interface {
	// Subscribe 订阅主题，handler 返回 error 时不提交
	Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error
	Close() error
}

var ErrUnknownReceipt = errors.New("unknown receipt")
