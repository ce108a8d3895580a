package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"minoj/internal/common/cache"
	"minoj/internal/common/db"
	commonmw "minoj/internal/common/http/middleware"
	"minoj/internal/common/storage"
	"minoj/internal/config"
	judgequeue "minoj/internal/judge/queue"
	"minoj/internal/judge/sandbox"
	judgesvc "minoj/internal/judge/service"
	problemctl "minoj/internal/problem/controller"
	problemrepo "minoj/internal/problem/repository"
	problemsvc "minoj/internal/problem/service"
	submitctl "minoj/internal/submit/controller"
	submitrepo "minoj/internal/submit/repository"
	submitsvc "minoj/internal/submit/service"
	userctl "minoj/internal/user/controller"
	userrepo "minoj/internal/user/repository"
	usersvc "minoj/internal/user/service"
	"minoj/pkg/utils/logger"
)

const defaultConfigPath = "configs/server.yaml"

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

	var objStorage storage.ObjectStorage
	if cfg.Storage.Enabled {
		minioStorage, err := storage.NewMinIOStorage(cfg.Storage.MinIOConfig)
		if err != nil {
			logger.Error(context.Background(), "init minio failed", zap.Error(err))
			return
		}
		objStorage = minioStorage
	}

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

	submitService, err := submitsvc.NewSubmitService(submitsvc.Config{
		Problems:        problemRepo,
		Languages:       languageRepo,
		Users:           userRepo,
		Submissions:     submissionRepo,
		Enqueuer:        queue,
		RateLimiter:     submitsvc.NewRateLimiter(redisCache, cfg.Rate.Window, int64(cfg.Rate.Max)),
		Coordinator:     coordinator,
		Storage:         objStorage,
		SourceBucket:    cfg.Storage.Bucket,
		SourceKeyPrefix: cfg.Storage.SourceKeyPrefix,
	})
	if err != nil {
		logger.Error(context.Background(), "init submit service failed", zap.Error(err))
		return
	}

	problemService, err := problemsvc.NewProblemService(problemRepo, languageRepo)
	if err != nil {
		logger.Error(context.Background(), "init problem service failed", zap.Error(err))
		return
	}

	authService, err := usersvc.NewAuthService(userRepo, redisCache, usersvc.AuthServiceConfig{
		JWTSecret:      []byte(cfg.Auth.JWTSecret),
		JWTIssuer:      cfg.Auth.JWTIssuer,
		TokenTTL:       cfg.Auth.TokenTTL,
		LoginFailTTL:   cfg.Auth.LoginFailTTL,
		LoginFailLimit: cfg.Auth.LoginFailLimit,
	})
	if err != nil {
		logger.Error(context.Background(), "init auth service failed", zap.Error(err))
		return
	}

	queue.Start(context.Background())

	httpServer := buildHTTPServer(cfg, authService, submitService, problemService)
	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "http server started", zap.String("addr", cfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	queue.Stop()
}

func buildHTTPServer(cfg *config.AppConfig, authService *usersvc.AuthService, submitService *submitsvc.SubmitService, problemService *problemsvc.ProblemService) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.CORS(cfg.CORS))
	router.Use(commonmw.TraceContext())
	router.Use(requestLogger())

	api := router.Group("/api/v1")
	userctl.NewAuthController(authService).RegisterRoutes(api)

	authorized := api.Group("")
	authorized.Use(commonmw.AuthRequired(authService))
	adminOnly := commonmw.AdminOnly()
	submitctl.NewSubmitController(submitService).RegisterRoutes(authorized, adminOnly)
	problemctl.NewProblemController(problemService).RegisterRoutes(authorized, adminOnly)

	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
