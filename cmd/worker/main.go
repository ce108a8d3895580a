package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"minoj/internal/common/cache"
	"minoj/internal/common/db"
	"minoj/internal/config"
	judgequeue "minoj/internal/judge/queue"
	"minoj/internal/judge/sandbox"
	judgesvc "minoj/internal/judge/service"
	problemrepo "minoj/internal/problem/repository"
	submitrepo "minoj/internal/submit/repository"
	userrepo "minoj/internal/user/repository"
	"minoj/pkg/utils/logger"
)

const defaultConfigPath = "configs/worker.yaml"

// The worker binary runs judge queue workers without the HTTP API. It
// shares the server config file; HTTP and auth sections are ignored.
func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return
	}

	if err := logger.Init(cfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() { _ = logger.Sync() }()

	mysqlDB, err := db.NewMySQLWithConfig(&cfg.MySQL)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() { _ = mysqlDB.Close() }()

	redisCache, err := cache.NewRedisCacheWithConfig(&cfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() { _ = redisCache.Close() }()

	coordinator := cache.NewCoordinator(redisCache, cfg.Cache.Prefix, cfg.Cache.ListTTL)

	userRepo := userrepo.NewUserRepository(mysqlDB, redisCache)
	problemRepo := problemrepo.NewProblemRepository(mysqlDB, redisCache)
	languageRepo := problemrepo.NewLanguageRepository(mysqlDB, redisCache)
	submissionRepo := submitrepo.NewSubmissionRepository(mysqlDB, coordinator)
	resolveRepo := submitrepo.NewResolveRepository(mysqlDB, userRepo)

	engine, err := sandbox.NewEngine(sandbox.Config{
		CgroupRoot:       cfg.Judge.CgroupRoot,
		HelperPath:       cfg.Judge.SandboxInitPath,
		EnableSeccomp:    cfg.Judge.EnableSeccomp,
		EnableCgroup:     cfg.Judge.EnableCgroup,
		EnableNamespaces: cfg.Judge.EnableNamespaces,
		Profiles:         cfg.Judge.Profiles,
		DefaultProfile:   cfg.Judge.DefaultProfile,
	})
	if err != nil {
		logger.Error(context.Background(), "init sandbox engine failed", zap.Error(err))
		return
	}

	judgeService, err := judgesvc.NewService(judgesvc.Config{
		Runner:    sandbox.NewRunner(engine),
		Languages: languageRepo,
		Problems:  problemRepo,
		WorkRoot:  cfg.Judge.WorkDir,
	})
	if err != nil {
		logger.Error(context.Background(), "init judge service failed", zap.Error(err))
		return
	}

	queue, err := judgequeue.New(judgequeue.Config{
		Cache:        redisCache,
		Submissions:  submissionRepo,
		Resolves:     resolveRepo,
		Judger:       judgeService,
		Workers:      cfg.Queue.Workers,
		PollInterval: cfg.Queue.PollInterval,
	})
	if err != nil {
		logger.Error(context.Background(), "init judge queue failed", zap.Error(err))
		return
	}

	queue.Start(context.Background())
	logger.Info(context.Background(), "judge workers started", zap.Int("workers", cfg.Queue.Workers))

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-shutdownCtx.Done()

	logger.Info(context.Background(), "shutdown signal received")
	queue.Stop()
}
