package observer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"darkpool-indexer/internal/service/mq"
	"darkpool-indexer/pkg/monitor"
	"darkpool-indexer/pkg/retry"
	"darkpool-indexer/pkg/utils/lock"
)

// Options configures one chain's scan loop.
type Options struct {
	Chain         string
	Contract      common.Address
	StartBlock    uint64
	Window        uint64
	Confirmations uint64
	PollInterval  time.Duration
	Retry         retry.Config
	LockTTL       time.Duration
}

// EthObserver 实现 ChainObserver 接口
// 每条链一个顺序扫描循环:
// 1. 拉取 (cursor, cursor+window] 范围的合约日志
// 2. 解码并逐条入队
// 3. 整批入队成功后才持久化游标 (at-least-once)
type EthObserver struct {
	opts    Options
	source  LogSource
	decoder LogDecoder
	queue   mq.Queue
	cursors CursorStore
	locker  lock.DistributedLock
	logger  *zap.Logger

	currentHeight atomic.Uint64
}

func NewEthObserver(opts Options, source LogSource, decoder LogDecoder, queue mq.Queue, cursors CursorStore, logger *zap.Logger) *EthObserver {
	if opts.Window == 0 {
		opts.Window = 1000
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Retry.Multiplier == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	return &EthObserver{
		opts:    opts,
		source:  source,
		decoder: decoder,
		queue:   queue,
		cursors: cursors,
		logger:  logger.With(zap.String("chain", opts.Chain), zap.String("decoder", decoder.Name())),
	}
}

// WithLock makes Run hold a distributed lock so only one process scans the chain.
func (o *EthObserver) WithLock(l lock.DistributedLock) *EthObserver {
	o.locker = l
	return o
}

func (o *EthObserver) CurrentHeight() uint64 {
	return o.currentHeight.Load()
}

func (o *EthObserver) lockKey() string {
	return "listener:" + o.opts.Chain
}

// Run scans until ctx is cancelled.
func (o *EthObserver) Run(ctx context.Context) error {
	if o.locker != nil {
		if err := o.acquireLock(ctx); err != nil || ctx.Err() != nil {
			return err
		}
		defer func() {
			_ = o.locker.Release(context.WithoutCancel(ctx), o.lockKey())
		}()
	}

	cursor, err := o.loadCursor(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	o.currentHeight.Store(cursor)
	o.logger.Info("Listener started", zap.Uint64("cursor", cursor), zap.Uint64("window", o.opts.Window))

	for {
		if ctx.Err() != nil {
			o.logger.Info("Listener stopped", zap.Uint64("cursor", cursor))
			return nil
		}

		next, scanned, err := o.scanOnce(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return err
		}
		cursor = next

		if o.locker != nil {
			held, err := o.locker.Refresh(ctx, o.lockKey(), o.opts.LockTTL)
			if err == nil && !held {
				return fmt.Errorf("listener lock for %s lost", o.opts.Chain)
			}
		}

		if !scanned {
			select {
			case <-ctx.Done():
			case <-time.After(o.opts.PollInterval):
			}
		}
	}
}

func (o *EthObserver) acquireLock(ctx context.Context) error {
	for {
		ok, err := o.locker.Acquire(ctx, o.lockKey(), o.opts.LockTTL)
		if err != nil {
			o.logger.Warn("Listener lock unavailable", zap.Error(err))
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(o.opts.LockTTL / 3):
		}
	}
}

func (o *EthObserver) loadCursor(ctx context.Context) (uint64, error) {
	var (
		block uint64
		found bool
	)
	err := retry.WithBackoff(ctx, o.opts.Retry, o.logger, "load cursor", func() error {
		var err error
		block, found, err = o.cursors.Cursor(ctx, o.opts.Chain)
		return err
	})
	if err != nil {
		return 0, err
	}
	if !found && o.opts.StartBlock > 0 {
		block = o.opts.StartBlock - 1
	}
	return block, nil
}

// scanOnce processes at most one window. It returns the new cursor and
// whether any blocks were scanned. The cursor only moves once every event of
// the window has been sent.
func (o *EthObserver) scanOnce(ctx context.Context, cursor uint64) (uint64, bool, error) {
	var head uint64
	err := retry.WithBackoff(ctx, o.opts.Retry, o.logger, "eth_blockNumber", func() error {
		var err error
		head, err = o.source.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return cursor, false, err
	}
	if head < o.opts.Confirmations {
		return cursor, false, nil
	}
	safe := head - o.opts.Confirmations
	if safe <= cursor {
		return cursor, false, nil
	}

	from := cursor + 1
	to := min(cursor+o.opts.Window, safe)

	var logs []types.Log
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{o.opts.Contract},
		Topics:    [][]common.Hash{o.decoder.EventSignatures()},
	}
	err = retry.WithBackoff(ctx, o.opts.Retry, o.logger, "eth_getLogs", func() error {
		var err error
		logs, err = o.source.FilterLogs(ctx, query)
		return err
	})
	if err != nil {
		return cursor, false, err
	}

	// 已拉取的批次: 单次调用不随 ctx 中断，重试循环仍响应退出
	inflight := context.WithoutCancel(ctx)
	sent := 0
	for _, l := range logs {
		ok, err := o.enqueue(ctx, inflight, l)
		if err != nil {
			return cursor, false, err
		}
		if ok {
			sent++
		}
	}

	err = retry.WithBackoff(ctx, o.opts.Retry, o.logger, "save cursor", func() error {
		return o.cursors.SaveCursor(inflight, o.opts.Chain, to)
	})
	if err != nil {
		return cursor, false, err
	}

	o.currentHeight.Store(to)
	monitor.Indexer.CursorHeight.WithLabelValues(o.opts.Chain).Set(float64(to))
	o.logger.Debug("Window scanned",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("logs", len(logs)),
		zap.Int("enqueued", sent))
	return to, true, nil
}

// enqueue decodes and sends one log. Undecodable logs are skipped.
func (o *EthObserver) enqueue(ctx, inflight context.Context, l types.Log) (bool, error) {
	decoded, err := o.decoder.DecodeLog(l)
	if err != nil {
		if errors.Is(err, ErrRemovedLog) {
			return false, nil
		}
		monitor.Indexer.DecodeFailures.WithLabelValues(o.opts.Chain).Inc()
		o.logger.Warn("Skipping undecodable log",
			zap.Uint64("block", l.BlockNumber),
			zap.Stringer("tx", l.TxHash),
			zap.Uint("log_index", l.Index),
			zap.Error(err))
		return false, nil
	}

	env, err := decoded.Envelope(o.opts.Chain)
	if err != nil {
		return false, err
	}
	body, err := env.Marshal()
	if err != nil {
		return false, err
	}

	msg := &mq.Message{Key: decoded.Key(), Payload: body}
	err = retry.WithBackoff(ctx, o.opts.Retry, o.logger, "queue send", func() error {
		_, err := o.queue.Send(inflight, msg)
		return err
	})
	if err != nil {
		return false, err
	}
	monitor.Indexer.EventsEnqueued.WithLabelValues(o.opts.Chain, string(env.Type)).Inc()
	return true, nil
}
