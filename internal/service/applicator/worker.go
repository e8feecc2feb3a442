package applicator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"darkpool-indexer/internal/event"
	"darkpool-indexer/internal/model"
	"darkpool-indexer/internal/service/mq"
	"darkpool-indexer/internal/store"
	"darkpool-indexer/pkg/monitor"
	"darkpool-indexer/pkg/retry"
)

// WorkerOptions tunes the queue consumer.
type WorkerOptions struct {
	Concurrency  int
	PollBatch    int
	Visibility   time.Duration
	PollInterval time.Duration
	// MaxAttempts bounds how often an out-of-order nullifier is applied
	// before it is dead-lettered.
	MaxAttempts int
	// Retry supplies the re-queue backoff schedule; MaxRetries is ignored.
	Retry retry.Config
}

// Worker 消费队列并把消息分发到 pond 协程池
// 删除规则:
// - Applied / Duplicate / Unmatched: 删除
// - Rejected: 写入死信表后删除
// - Deferred: 定时器到期后重新入队 (attempt+1)，超过上限写入死信表；等待期间不占用协程池
// - Failed: 不删除，等待可见性超时重投
type Worker struct {
	app    *Applicator
	queue  mq.Queue
	store  *store.Store
	opts   WorkerOptions
	logger *zap.Logger

	// 等待退避到期的重新入队
	pending sync.WaitGroup
}

func NewWorker(app *Applicator, queue mq.Queue, st *store.Store, opts WorkerOptions, logger *zap.Logger) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.PollBatch <= 0 {
		opts.PollBatch = opts.Concurrency
	}
	if opts.Visibility <= 0 {
		opts.Visibility = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Retry.Multiplier == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	return &Worker{app: app, queue: queue, store: st, opts: opts, logger: logger}
}

// Run polls until ctx is cancelled. The batch in flight is finished first;
// re-queues still waiting on their backoff are dropped and their originals
// are redelivered after the visibility timeout.
func (w *Worker) Run(ctx context.Context) error {
	pool := pond.NewPool(w.opts.Concurrency)
	defer w.pending.Wait()
	defer pool.StopAndWait()

	w.logger.Info("Worker started",
		zap.Int("concurrency", w.opts.Concurrency),
		zap.Duration("visibility", w.opts.Visibility))

	for {
		if ctx.Err() != nil {
			w.logger.Info("Worker stopped")
			return nil
		}

		n, err := w.pollOnce(ctx, pool)
		if err != nil && ctx.Err() == nil {
			w.logger.Warn("Queue poll failed", zap.Error(err))
		}
		if n > 0 && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(w.opts.PollInterval):
		}
	}
}

// pollOnce handles one polled batch and returns its size.
func (w *Worker) pollOnce(ctx context.Context, pool pond.Pool) (int, error) {
	deliveries, err := w.queue.Poll(ctx, w.opts.PollBatch, w.opts.Visibility)
	if err != nil {
		return 0, err
	}
	if len(deliveries) == 0 {
		return 0, nil
	}

	// 已领取的消息即使收到退出信号也要处理完
	inflight := context.WithoutCancel(ctx)
	group := pool.NewGroup()
	for _, d := range deliveries {
		group.Submit(func() {
			w.handle(ctx, inflight, d)
		})
	}
	return len(deliveries), group.Wait()
}

func (w *Worker) handle(ctx, inflight context.Context, d mq.Delivery) {
	log := w.logger.With(zap.String("message_id", d.ID), zap.String("key", d.Key))

	env, err := event.Decode(d.Payload)
	if err != nil {
		log.Warn("Undecodable queue message", zap.Error(err))
		w.deadLetter(inflight, d, nil, err.Error())
		return
	}
	log = log.With(zap.String("type", string(env.Type)), zap.Int("attempt", env.Attempt))

	outcome, err := w.app.Apply(inflight, env)
	switch outcome {
	case Applied, Duplicate, Unmatched:
		w.ack(inflight, d, log)
	case Rejected:
		log.Warn("Message rejected", zap.Error(err))
		w.deadLetter(inflight, d, env, err.Error())
	case Deferred:
		w.requeue(ctx, inflight, d, env, log)
	default:
		log.Error("Apply failed, leaving message for redelivery", zap.Error(err))
	}
}

func (w *Worker) ack(ctx context.Context, d mq.Delivery, log *zap.Logger) {
	if err := w.queue.Delete(ctx, d.Receipt); err != nil && !errors.Is(err, mq.ErrUnknownReceipt) {
		log.Warn("Queue delete failed, message will be redelivered", zap.Error(err))
	}
}

// requeue schedules a copy with attempt+1 for after the backoff delay and
// deletes the original once the copy is sent. The wait runs on a timer outside
// the pool and stays below half the visibility timeout.
func (w *Worker) requeue(ctx, inflight context.Context, d mq.Delivery, env *event.Envelope, log *zap.Logger) {
	next := env.Attempt + 1
	if next >= w.opts.MaxAttempts {
		w.deadLetter(inflight, d, env, fmt.Sprintf("%v after %d attempts", ErrPredecessorMissing, next))
		return
	}

	copied := *env
	copied.Attempt = next
	body, err := copied.Marshal()
	if err != nil {
		log.Error("Re-queue encode failed", zap.Error(err))
		return
	}

	delay := retry.Backoff(w.opts.Retry, next)
	if limit := w.opts.Visibility / 2; delay > limit {
		delay = limit
	}
	w.pending.Add(1)
	timer := time.NewTimer(delay)
	go func() {
		defer w.pending.Done()
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := w.queue.Send(inflight, &mq.Message{Key: d.Key, Payload: body, Metadata: d.Metadata}); err != nil {
			log.Warn("Re-queue send failed, message will be redelivered", zap.Error(err))
			return
		}
		log.Debug("Nullifier deferred", zap.Int("next_attempt", next), zap.Duration("backoff", delay))
		w.ack(inflight, d, log)
	}()
}

// deadLetter writes the message to the outbox table and deletes it from the
// queue. If the insert fails the message stays on the queue.
func (w *Worker) deadLetter(ctx context.Context, d mq.Delivery, env *event.Envelope, reason string) {
	row := &model.DeadLetter{
		MessageType: "unknown",
		Reason:      reason,
		Attempts:    1,
		Payload:     d.Payload,
	}
	if env != nil {
		row.MessageType = string(env.Type)
		row.Chain = env.Chain
		row.Attempts = env.Attempt + 1
	}
	log := w.logger.With(zap.String("message_id", d.ID), zap.String("type", row.MessageType))
	if err := w.store.InsertDeadLetter(ctx, row); err != nil {
		log.Error("Dead-letter insert failed", zap.Error(err))
		return
	}
	monitor.Indexer.DeadLetters.WithLabelValues(row.MessageType).Inc()
	log.Error("Message dead-lettered",
		zap.Uint64("dead_letter_id", row.ID),
		zap.Int("attempts", row.Attempts),
		zap.String("reason", reason))
	w.ack(ctx, d, log)
}
