package applicator

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"darkpool-indexer/pkg/utils/lock"
)

const maintenanceLockKey = "cron:lock:maintenance"

// Maintenance 定时任务: 补齐所有账户的 look-ahead 缓冲区，有新候选对象时重放未匹配消息
type Maintenance struct {
	cron    *cron.Cron
	app     *Applicator
	locker  lock.DistributedLock
	spec    string
	lockTTL time.Duration
	logger  *zap.Logger
}

// NewMaintenance schedules the job with a standard cron spec such as
// "@every 5m". locker may be nil for single-instance deployments.
func NewMaintenance(app *Applicator, locker lock.DistributedLock, spec string, logger *zap.Logger) *Maintenance {
	if spec == "" {
		spec = "@every 5m"
	}
	return &Maintenance{
		cron:    cron.New(),
		app:     app,
		locker:  locker,
		spec:    spec,
		lockTTL: time.Minute,
		logger:  logger,
	}
}

// Run registers the job and blocks until ctx is done; the running job is
// allowed to finish.
func (m *Maintenance) Run(ctx context.Context) error {
	_, err := m.cron.AddFunc(m.spec, func() {
		m.RunOnce(context.WithoutCancel(ctx))
	})
	if err != nil {
		return err
	}
	m.cron.Start()
	m.logger.Info("Maintenance cron started", zap.String("spec", m.spec))

	<-ctx.Done()
	<-m.cron.Stop().Done()
	m.logger.Info("Maintenance cron stopped")
	return nil
}

// RunOnce performs one maintenance pass. It reports false when another
// instance holds the lock.
func (m *Maintenance) RunOnce(ctx context.Context) bool {
	if m.locker != nil {
		// 防止多实例同时执行
		locked, err := m.locker.Acquire(ctx, maintenanceLockKey, m.lockTTL)
		if err != nil || !locked {
			m.logger.Debug("Maintenance skipped, lock held elsewhere", zap.Error(err))
			return false
		}
		defer func() { _ = m.locker.Release(ctx, maintenanceLockKey) }()
	}

	start := time.Now()
	derived, err := m.app.TopUpAll(ctx)
	if err != nil {
		m.logger.Error("Buffer top-up failed", zap.Error(err))
	}
	// 只有补充了候选对象才重放；新开户账户的历史事件由显式 backfill 重放
	replayed := 0
	if derived > 0 {
		if replayed, err = m.app.ReplayRetained(ctx); err != nil {
			m.logger.Error("Retained message replay failed", zap.Error(err))
		}
	}
	m.logger.Info("Maintenance pass finished",
		zap.Int("derived", derived),
		zap.Int("replayed", replayed),
		zap.Duration("took", time.Since(start)))
	return true
}
