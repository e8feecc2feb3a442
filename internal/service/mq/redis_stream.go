package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisProducer 实现 Producer 接口 (XADD)
type RedisProducer struct {
	client *redis.Client
}

func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

// Publish 发送消息到 Redis Stream, Stream Name = topic
func (p *RedisProducer) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{
			"payload": payload,
			"key":     key,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd error: %w", err)
	}
	return nil
}

// RedisQueue implements Queue on a Redis Stream consumer group. Entries that
// stay pending longer than the visibility timeout are reclaimed with
// XAUTOCLAIM; Delete acknowledges and removes the entry.
type RedisQueue struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	block    time.Duration
}

// NewRedisQueue 创建 Consumer Group (如果不存在)
func NewRedisQueue(ctx context.Context, client *redis.Client, stream, group, consumer string) (*RedisQueue, error) {
	// XGROUP CREATE <stream> <group> 0 MKSTREAM
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return &RedisQueue{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		block:    time.Second,
	}, nil
}

func (q *RedisQueue) Send(ctx context.Context, msg *Message) (string, error) {
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{
			"payload": msg.Payload,
			"key":     msg.Key,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("redis xadd error: %w", err)
	}
	return id, nil
}

func (q *RedisQueue) Poll(ctx context.Context, max int, visibility time.Duration) ([]Delivery, error) {
	// 1. 先认领超过可见性超时仍未 ACK 的消息 (消费者崩溃后的重投)
	claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  visibility,
		Start:    "0-0",
		Count:    int64(max),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis xautoclaim error: %w", err)
	}

	out := make([]Delivery, 0, max)
	for _, x := range claimed {
		out = append(out, toDelivery(x))
	}
	if len(out) >= max {
		return out, nil
	}

	// 2. 再读取新消息
	// XREADGROUP GROUP <group> <consumer> BLOCK 1000 COUNT n STREAMS <stream> >
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(max - len(out)),
		Block:    q.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("redis xreadgroup error: %w", err)
	}
	for _, s := range streams {
		for _, x := range s.Messages {
			out = append(out, toDelivery(x))
		}
	}
	return out, nil
}

func toDelivery(x redis.XMessage) Delivery {
	d := Delivery{Message: Message{ID: x.ID}, Receipt: x.ID}
	if v, ok := x.Values["payload"].(string); ok {
		d.Payload = []byte(v)
	}
	if v, ok := x.Values["key"].(string); ok {
		d.Key = v
	}
	return d
}

func (q *RedisQueue) Delete(ctx context.Context, receipt string) error {
	pipe := q.client.TxPipeline()
	pipe.XAck(ctx, q.stream, q.group, receipt)
	pipe.XDel(ctx, q.stream, receipt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis ack error: %w", err)
	}
	return nil
}

// Close leaves the shared client open; main owns it.
func (q *RedisQueue) Close() error {
	return nil
}
