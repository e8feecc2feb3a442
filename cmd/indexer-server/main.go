package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	gormlogger "gorm.io/gorm/logger"

	"darkpool-indexer/internal/handler"
	"darkpool-indexer/internal/server"
	"darkpool-indexer/internal/service/applicator"
	"darkpool-indexer/internal/service/mq"
	"darkpool-indexer/internal/service/observer"
	"darkpool-indexer/internal/store"
	"darkpool-indexer/pkg/config"
	"darkpool-indexer/pkg/database"
	"darkpool-indexer/pkg/logger"
	"darkpool-indexer/pkg/retry"
	"darkpool-indexer/pkg/utils/lock"
)

func main() {
	// 0. 初始化 Config
	config.Init()
	cfg := config.Global

	// 1. 初始化 Logger
	logger.Init(cfg.App.Env, cfg.App.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 连接数据库
	dbLogLevel := gormlogger.Warn
	if cfg.App.Env == "development" {
		dbLogLevel = gormlogger.Info
	}
	db, err := database.Open(cfg.DB.Driver, cfg.DB.DSN(), dbLogLevel)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	st := store.New(db)

	// 3. 执行数据库迁移
	if cfg.App.Env == "development" {
		logger.Info("开发环境: 自动迁移 Schema (GORM AutoMigrate)...")
		if err := st.AutoMigrate(); err != nil {
			logger.Fatal("数据库自动迁移失败", zap.Error(err))
		}
	} else {
		logger.Info("生产环境: 跳过 AutoMigrate，请使用 migrate 工具管理 Schema")
	}

	// 4. 连接 Redis (队列后端为 redis 时必须可用，否则只用于分布式锁)
	var (
		rdb    *redis.Client
		locker lock.DistributedLock
	)
	rdb, err = database.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		if cfg.Queue.Backend == "redis" {
			logger.Fatal("Redis 连接失败", zap.Error(err))
		}
		logger.Warn("Redis 不可用，单实例运行 (无分布式锁)", zap.Error(err))
		rdb = nil
	} else {
		locker = lock.NewRedisLock(rdb)
	}

	// 5. 初始化消息队列与死信投递: 每条链独立一个队列，开户消息走控制队列
	queues, err := newQueueFactory(cfg, rdb)
	if err != nil {
		logger.Fatal("消息队列初始化失败", zap.Error(err))
	}
	control, err := queues.open(ctx, "")
	if err != nil {
		logger.Fatal("控制队列初始化失败", zap.Error(err))
	}
	opened := []mq.Queue{control}
	chainQueues := make(map[string]mq.Queue, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		q, err := queues.open(ctx, chain.Name)
		if err != nil {
			logger.Fatal("链队列初始化失败", zap.String("chain", chain.Name), zap.Error(err))
		}
		chainQueues[chain.Name] = q
		opened = append(opened, q)
	}
	producer, closeProducer := newDeadLetterProducer(cfg, rdb)

	// 6. 核心组件
	app := applicator.New(st, control, cfg.Indexer.Lookahead, logger.Named("applicator"))
	for name, q := range chainQueues {
		app.RouteChain(name, q)
	}
	workerOpts := applicator.WorkerOptions{
		Concurrency:  cfg.Indexer.Workers,
		PollBatch:    cfg.Queue.PollBatch,
		Visibility:   cfg.Queue.VisibilityTimeout,
		PollInterval: cfg.Queue.PollInterval,
		MaxAttempts:  cfg.Indexer.MaxAttempts,
		Retry: retry.Config{
			InitialDelay:  cfg.Indexer.RetryBaseDelay,
			MaxDelay:      cfg.Indexer.RetryMaxDelay,
			Multiplier:    2,
			JitterEnabled: true,
		},
	}
	relay := applicator.NewRelay(st, producer, cfg.Kafka.DeadLetterTopic, cfg.Indexer.RelayInterval, logger.Named("relay"))
	maintenance := applicator.NewMaintenance(app, locker, cfg.Indexer.MaintenanceSpec, logger.Named("maintenance"))

	g, gctx := errgroup.WithContext(ctx)

	// 7. 每条链一个区块扫描器和一个 worker，各自的游标和队列互不影响
	for _, chain := range cfg.Chains {
		client, err := ethclient.DialContext(ctx, chain.RpcUrl)
		if err != nil {
			logger.Fatal("RPC 连接失败", zap.String("chain", chain.Name), zap.Error(err))
		}
		defer client.Close()

		decoder, err := observer.DecoderFor(chain.Decoder, chain.Name)
		if err != nil {
			logger.Fatal("日志解码器初始化失败", zap.String("chain", chain.Name), zap.Error(err))
		}
		queue := chainQueues[chain.Name]
		obs := observer.NewEthObserver(observer.Options{
			Chain:         chain.Name,
			Contract:      common.HexToAddress(chain.Contract),
			StartBlock:    chain.StartBlock,
			Window:        chain.Window,
			Confirmations: chain.Confirmations,
			PollInterval:  chain.PollInterval,
		}, client, decoder, queue, st, logger.Named("observer"))
		if locker != nil {
			obs.WithLock(locker)
		}
		worker := applicator.NewWorker(app, queue, st, workerOpts, logger.Named("worker").With(zap.String("chain", chain.Name)))
		g.Go(func() error { return obs.Run(gctx) })
		g.Go(func() error { return worker.Run(gctx) })
	}

	// 8. 控制队列 Worker / Relay / Cron / HTTP
	controlWorker := applicator.NewWorker(app, control, st, workerOpts, logger.Named("worker").With(zap.String("queue", "control")))
	g.Go(func() error { return controlWorker.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return maintenance.Run(gctx) })

	router := server.NewHTTPRouter(server.Handlers{
		Health:   handler.NewHealthHandler(st),
		Accounts: handler.NewAccountHandler(app),
		Messages: handler.NewMessageHandler(control),
		Objects:  handler.NewObjectHandler(app),
	})
	httpApp := server.New(server.Config{HttpPort: cfg.App.HttpPort}, router)
	g.Go(func() error { return httpApp.Run(gctx) })

	logger.Info("Indexer started",
		zap.Int("chains", len(cfg.Chains)),
		zap.String("queue", cfg.Queue.Backend),
		zap.Int("workers", cfg.Indexer.Workers))

	exitCode := 0
	if err := g.Wait(); err != nil {
		logger.Error("Indexer stopped with error", zap.Error(err))
		exitCode = 1
	}

	// 9. 退出后资源清理
	logger.Info("正在关闭连接...")
	for _, q := range opened {
		_ = q.Close()
	}
	queues.Close()
	closeProducer()
	if rdb != nil {
		_ = rdb.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Info("系统已退出")
	if exitCode != 0 {
		logger.Sync()
		os.Exit(exitCode)
	}
}
