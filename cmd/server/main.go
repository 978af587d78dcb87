package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yinz628/email-filter-sub001/internal/cleanup"
	"github.com/yinz628/email-filter-sub001/internal/config"
	"github.com/yinz628/email-filter-sub001/internal/dynamic"
	"github.com/yinz628/email-filter-sub001/internal/filter"
	"github.com/yinz628/email-filter-sub001/internal/monitor"
	"github.com/yinz628/email-filter-sub001/internal/pipeline"
	"github.com/yinz628/email-filter-sub001/internal/pkg/distlock"
	"github.com/yinz628/email-filter-sub001/internal/pkg/logger"
	"github.com/yinz628/email-filter-sub001/internal/pkg/rootdomain"
	"github.com/yinz628/email-filter-sub001/internal/repository/postgres"
	"github.com/yinz628/email-filter-sub001/internal/rules"
	"github.com/yinz628/email-filter-sub001/internal/scheduler"
	"github.com/yinz628/email-filter-sub001/internal/service/analytics"
	"github.com/yinz628/email-filter-sub001/internal/stats"
	"github.com/yinz628/email-filter-sub001/internal/storage"
	"github.com/yinz628/email-filter-sub001/internal/worker"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.RedactPII != nil {
		logger.SetRedactPII(*cfg.Logging.RedactPII)
	}
	if cfg.Analytics.SecondLevelTLDFile != "" {
		if err := rootdomain.Load(cfg.Analytics.SecondLevelTLDFile); err != nil {
			logger.Warn("second-level TLD file not loaded",
				"path", cfg.Analytics.SecondLevelTLDFile, "error", err)
		}
	}

	db, err := storage.Open(cfg.Database)
	if err != nil {
		if errors.Is(err, storage.ErrNoDSN) {
			log.Fatalf("no database configured: %v", err)
		}
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := storage.Migrate(ctx, db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	// Optional Redis: alert fan-out and the scheduler tick lock.
	var alertPublisher monitor.AlertPublisher = monitor.NoopAlertPublisher{}
	var ratioPublisher monitor.RatioPublisher = monitor.NoopAlertPublisher{}
	var tickLock distlock.Lock = distlock.NoopLock{}
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		pub := monitor.NewRedisAlertPublisher(rdb)
		alertPublisher = pub
		ratioPublisher = pub
		tickLock = distlock.NewRedisLock(rdb, "scheduler:tick",
			time.Duration(cfg.Scheduler.LockTTLSeconds)*time.Second)
	}

	// Rule set: store plus the shared in-memory cache the filter engine and
	// the dynamic detector both see.
	ruleStore := rules.NewStore(db)
	ruleCache := rules.NewCache()
	if err := ruleCache.LoadFromStore(ctx, ruleStore); err != nil {
		log.Fatalf("load rules: %v", err)
	}
	logger.Info("rules loaded", "count", ruleCache.Len())

	configStore := rules.NewConfigStore(db)
	detector := dynamic.NewDetector(dynamic.NewPostgresTracker(db), ruleStore, configStore, ruleCache)
	engine := filter.NewEngine(ruleCache)

	// Campaign analytics.
	analyticsRepo := postgres.NewAnalyticsRepo(db)
	analyticsSvc := analytics.NewService(analyticsRepo)
	analyticsSvc.SetMainPathThreshold(cfg.Analytics.MainPathThresholdPercent)
	if len(cfg.Analytics.RootCampaignKeywords) > 0 {
		analyticsSvc.SetRootKeywords(cfg.Analytics.RootCampaignKeywords)
	}

	// Monitoring.
	monitorStore := monitor.NewStore(db)
	hitProcessor := monitor.NewProcessor(monitorStore, alertPublisher)
	ratioStore := monitor.NewRatioStore(db)
	ratioEvaluator := monitor.NewRatioEvaluator(ratioStore, ratioPublisher)

	// Async task processor.
	statsStore := stats.NewStore(db)
	queue := worker.NewQueue(cfg.Queue.Capacity, worker.OverflowPolicy(cfg.Queue.OverflowPolicy))
	processor := worker.NewProcessor(queue, cfg.Queue.BatchSize, cfg.Queue.BatchTimeout())
	processor.Register(worker.TaskStats, worker.NewStatsHandler(db, ruleStore, statsStore))
	processor.Register(worker.TaskLog, worker.NewLogHandler(db))
	processor.Register(worker.TaskWatch, worker.NewWatchHandler(db, ruleStore, ruleCache))
	processor.Register(worker.TaskDynamic, worker.NewDynamicHandler(detector))
	processor.Register(worker.TaskCampaign, worker.NewCampaignHandler(analyticsSvc, queue))
	processor.Register(worker.TaskMonitoring, worker.NewMonitoringHandler(hitProcessor, queue))
	processor.Start()

	// Retention and heartbeat.
	cleanupSvc := cleanup.New(db, ruleCache, configStore, cfg.Cleanup.PendingMerchantDays)
	sched := scheduler.New(monitorStore, ratioEvaluator, alertPublisher, cleanupSvc.RunAll, tickLock,
		scheduler.Config{
			StateTick:   cfg.Scheduler.StateTick(),
			CounterTick: cfg.Scheduler.CounterTick(),
			CleanupTick: cfg.Scheduler.CleanupTick(),
		})
	sched.Start()

	decide := pipeline.New(engine, detector, queue)
	ln, err := listenDecisions(os.Getenv("DECISION_SOCKET"))
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	go serveDecisions(ctx, ln, decide)

	logger.Info("control plane started",
		"socket", ln.Addr().String(),
		"queue_capacity", cfg.Queue.Capacity,
		"overflow_policy", cfg.Queue.OverflowPolicy)

	// Graceful shutdown: stop timers first, then drain the queue.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown requested")

	sched.Stop()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	processor.DrainAndStop(drainCtx)
	drainCancel()
	logger.Info("shutdown complete")
}
