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

	"arenaoj/internal/common/cache"
	"arenaoj/internal/common/db"
	commonmw "arenaoj/internal/common/http/middleware"
	"arenaoj/internal/common/mq"
	"arenaoj/internal/common/storage"
	contestcontroller "arenaoj/internal/contest/controller"
	contestmodel "arenaoj/internal/contest/model"
	contestrepo "arenaoj/internal/contest/repository"
	contestservice "arenaoj/internal/contest/service"
	"arenaoj/internal/judge/controller"
	"arenaoj/internal/judge/grading"
	"arenaoj/internal/judge/metrics"
	"arenaoj/internal/judge/model"
	"arenaoj/internal/judge/queue"
	"arenaoj/internal/judge/repository"
	"arenaoj/internal/judge/sandbox"
	"arenaoj/internal/judge/sandbox/engine"
	"arenaoj/internal/judge/sandbox/profile"
	"arenaoj/internal/judge/service"
	"arenaoj/internal/judge/testcase"
	"arenaoj/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "judge service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		return fmt.Errorf("init minio failed: %w", err)
	}

	var redisCache *cache.RedisCache
	if appCfg.Redis.Addr != "" {
		redisCache, err = cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis failed: %w", err)
		}
		defer func() {
			_ = redisCache.Close()
		}()
	}

	cacheClient := optionalCache(redisCache)

	var mysqlDB *db.MySQL
	if appCfg.Database.DSN != "" {
		mysqlDB, err = db.NewMySQLWithConfig(&appCfg.Database)
		if err != nil {
			return fmt.Errorf("init database failed: %w", err)
		}
		defer func() {
			_ = mysqlDB.Close()
		}()
	}

	langs, err := profile.NewRegistry(appCfg.Languages)
	if err != nil {
		return fmt.Errorf("load languages failed: %w", err)
	}
	dockerEngine, err := engine.NewDockerEngine(appCfg.Sandbox.Engine)
	if err != nil {
		return fmt.Errorf("init docker engine failed: %w", err)
	}
	defer func() {
		_ = dockerEngine.Close()
	}()
	if err := dockerEngine.Ping(ctx); err != nil {
		logger.Warn(ctx, "container runtime unreachable, submissions will end in InfraError until it recovers", zap.Error(err))
	}
	executor, err := sandbox.NewExecutor(appCfg.Sandbox.Executor, langs, dockerEngine)
	if err != nil {
		return fmt.Errorf("init executor failed: %w", err)
	}
	cases, err := testcase.NewSource(objStorage, langs, appCfg.TestCase)
	if err != nil {
		return fmt.Errorf("init test case source failed: %w", err)
	}
	grader, err := grading.NewEngine(executor, cases, appCfg.Grading)
	if err != nil {
		return fmt.Errorf("init grading engine failed: %w", err)
	}

	var store queue.Store
	switch appCfg.Queue.Backend {
	case queueBackendRedis:
		store, err = queue.NewRedisStore(redisCache, appCfg.Queue.Redis)
		if err != nil {
			return fmt.Errorf("init redis queue failed: %w", err)
		}
	default:
		store = queue.NewMemoryStoreWithConfig(appCfg.Queue.Memory)
	}

	var (
		problems    repository.ProblemRepository
		submissions repository.SubmissionRepository
		contests    contestrepo.ContestRepository
	)
	if mysqlDB != nil {
		problems = repository.NewProblemRepository(mysqlDB, cacheClient, appCfg.Problem.MetaTTL)
		submissions = repository.NewSubmissionRepository(mysqlDB)
		contests = contestrepo.NewContestRepository(mysqlDB, cacheClient, appCfg.Contest.MetaTTL)
	} else {
		static := make([]model.ProblemMeta, 0, len(appCfg.Problem.Static))
		for _, p := range appCfg.Problem.Static {
			static = append(static, p.toMeta())
		}
		problems = repository.NewStaticProblemRepository(static...)
		submissions = repository.NewMemorySubmissionRepository()
		staticContests := make([]contestmodel.Contest, 0, len(appCfg.Contest.Static))
		for _, c := range appCfg.Contest.Static {
			staticContests = append(staticContests, c.toModel())
		}
		contests = contestrepo.NewStaticContestRepository(staticContests...)
	}

	var board contestrepo.LeaderboardStore = contestrepo.NewMemoryLeaderboard()
	if redisCache != nil {
		board, err = contestrepo.NewRedisLeaderboard(redisCache)
		if err != nil {
			return fmt.Errorf("init leaderboard failed: %w", err)
		}
	}
	contestSvc, err := contestservice.NewService(contests, board, appCfg.Contest.Scoring, appCfg.Retry)
	if err != nil {
		return fmt.Errorf("init contest service failed: %w", err)
	}

	artifacts, err := repository.NewArtifactStore(objStorage, appCfg.MinIO.Bucket)
	if err != nil {
		return fmt.Errorf("init artifact store failed: %w", err)
	}

	var publisher repository.StatusEventPublisher
	if appCfg.Kafka.Producer.Enabled() {
		producer, err := mq.NewKafkaProducer(appCfg.Kafka.Producer)
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = producer.Close()
		}()
		publisher = repository.NewMQStatusEventPublisher(producer, appCfg.Kafka.FinalTopic)
	}

	judgeMetrics := metrics.New()
	judgeSvc, err := service.NewService(service.Config{
		Store:          store,
		Grader:         grader,
		Languages:      langs,
		Problems:       problems,
		Submissions:    submissions,
		Artifacts:      artifacts,
		Publisher:      publisher,
		Contests:       contestSvc,
		Metrics:        judgeMetrics,
		MaxSourceBytes: appCfg.Submit.maxCodeBytes(executor.MaxSourceBytes()),
		Worker:         appCfg.Worker,
		Queue:          appCfg.Queue.Polling,
		Retry:          appCfg.Retry,
	})
	if err != nil {
		return fmt.Errorf("init judge service failed: %w", err)
	}

	httpServer := buildHTTPServer(appCfg.Server, judgeSvc, contestSvc, judgeMetrics)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	httpErr := make(chan error, 1)
	go func() {
		logger.Info(ctx, "judge http server started", zap.String("addr", appCfg.Server.Addr))
		httpErr <- httpServer.Serve(listener)
	}()
	workerErr := make(chan error, 1)
	go func() {
		workerErr <- judgeSvc.Run(workerCtx)
	}()

	var runErr error
	select {
	case err := <-httpErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server stopped: %w", err)
		}
	case err := <-workerErr:
		runErr = err
		workerErr <- nil
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	sctx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	cancelWorkers()
	select {
	case <-workerErr:
	case <-sctx.Done():
		logger.Warn(ctx, "workers did not stop before the shutdown deadline")
	}
	return runErr
}

// optionalCache keeps a missing Redis client a nil interface so repositories skip their cache layer.
func optionalCache(rc *cache.RedisCache) cache.Cache {
	if rc == nil {
		return nil
	}
	return rc
}

func buildHTTPServer(cfg ServerConfig, judgeSvc *service.Service, contestSvc *contestservice.Service, judgeMetrics *metrics.Metrics) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogger())

	judgeController := controller.NewJudgeController(judgeSvc)
	api := router.Group("/api/v1/judge")
	api.POST("/submissions", judgeController.Submit)
	api.GET("/submissions/:id", judgeController.GetStatus)
	api.GET("/queue", judgeController.GetQueue)
	api.GET("/languages", judgeController.GetLanguages)

	contestController := contestcontroller.NewContestController(contestSvc)
	router.GET("/api/v1/contests/:id/leaderboard", contestController.GetLeaderboard)

	router.GET("/metrics", gin.WrapH(judgeMetrics.Handler()))

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
