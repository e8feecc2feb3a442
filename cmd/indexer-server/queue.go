package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"darkpool-indexer/internal/service/mq"
	"darkpool-indexer/pkg/config"
	"darkpool-indexer/pkg/logger"
)

// queueFactory opens one work queue per chain plus the control queue that
// carries account registrations. All queues of a backend share one connection.
type queueFactory struct {
	cfg config.Config
	rdb *redis.Client
	nc  *nats.Conn
}

func newQueueFactory(cfg config.Config, rdb *redis.Client) (*queueFactory, error) {
	f := &queueFactory{cfg: cfg, rdb: rdb}
	switch cfg.Queue.Backend {
	case "redis":
		logger.Info("使用 Redis Streams 作为消息队列...")
	case "nats":
		logger.Info("使用 NATS JetStream 作为消息队列...")
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("darkpool-indexer"))
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		f.nc = nc
	case "memory":
		logger.Warn("使用进程内队列，重启后未处理的消息会丢失")
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
	return f, nil
}

// open returns the queue of chain; an empty chain is the control queue.
func (f *queueFactory) open(ctx context.Context, chain string) (mq.Queue, error) {
	q := f.cfg.Queue
	switch q.Backend {
	case "redis":
		name := q.Name
		if chain != "" {
			name += ":" + chain
		}
		return mq.NewRedisQueue(ctx, f.rdb, name, q.Group, q.Consumer)
	case "nats":
		// stream 名不能包含 '.'，subject 用 '.' 分层
		stream, subject := f.cfg.NATS.Stream, q.Name
		if chain != "" {
			stream += "_" + chain
			subject += "." + chain
		}
		return mq.NewJetStreamQueue(ctx, f.nc, stream, subject, q.Group, q.VisibilityTimeout)
	default:
		return mq.NewMemoryQueue(), nil
	}
}

func (f *queueFactory) Close() {
	if f.nc != nil {
		f.nc.Close()
	}
}

// newDeadLetterProducer prefers Kafka and falls back to a Redis stream.
func newDeadLetterProducer(cfg config.Config, rdb *redis.Client) (mq.Producer, func()) {
	if len(cfg.Kafka.Brokers) > 0 {
		logger.Info("死信投递: Kafka")
		p := mq.NewKafkaProducer(cfg.Kafka.Brokers)
		return p, func() { _ = p.Close() }
	}
	if rdb != nil {
		logger.Info("死信投递: Redis Streams")
		return mq.NewRedisProducer(rdb), func() {}
	}
	logger.Warn("没有可用的死信投递后端，死信只保存在数据库")
	return discardProducer{}, func() {}
}

type discardProducer struct{}

func (discardProducer) Publish(ctx context.Context, topic, key string, payload []byte) error {
	return fmt.Errorf("no dead-letter sink configured for %s", topic)
}
