package applicator

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"darkpool-indexer/internal/service/mq"
	"darkpool-indexer/internal/store"
	"darkpool-indexer/pkg/monitor"
)

const relayBatch = 50

// Relay 负责将本地死信表的消息搬运到外部死信主题 (Transactional Outbox)
type Relay struct {
	store    *store.Store
	producer mq.Producer
	topic    string
	interval time.Duration
	logger   *zap.Logger
}

func NewRelay(st *store.Store, producer mq.Producer, topic string, interval time.Duration, logger *zap.Logger) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{
		store:    st,
		producer: producer,
		topic:    topic,
		interval: interval,
		logger:   logger,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("Dead-letter relay started", zap.String("topic", r.topic))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Dead-letter relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.flush(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("Dead-letter relay pass failed", zap.Error(err))
			}
		}
	}
}

// flush publishes one batch of PENDING rows and returns how many were sent.
func (r *Relay) flush(ctx context.Context) (int, error) {
	// 1. 获取一批 Pending 消息
	rows, err := r.store.PendingDeadLetters(ctx, relayBatch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, row := range rows {
		body, err := json.Marshal(row)
		if err != nil {
			return sent, err
		}

		// 2. 发送 MQ
		if err := r.producer.Publish(ctx, r.topic, strconv.FormatUint(row.ID, 10), body); err != nil {
			r.logger.Warn("Dead letter publish failed", zap.Uint64("id", row.ID), zap.Error(err))
			continue
		}

		// 3. 更新状态为 SENT
		// 只有发送成功了才更新状态 => At-least-once，消费方需做好幂等
		if err := r.store.MarkDeadLetterSent(ctx, row.ID); err != nil {
			r.logger.Warn("Dead letter status update failed", zap.Uint64("id", row.ID), zap.Error(err))
			continue
		}
		monitor.Indexer.RelayPublished.Inc()
		sent++
	}
	if sent > 0 {
		r.logger.Info("Dead letters relayed", zap.Int("count", sent))
	}
	return sent, nil
}
