package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/handlers"
	"github.com/3Eeeecho/go-filevault/internal/pkg/cache"
	"github.com/3Eeeecho/go-filevault/internal/pkg/cache/consumer"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/metrics"
	"github.com/3Eeeecho/go-filevault/internal/pkg/mq"
	"github.com/3Eeeecho/go-filevault/internal/pkg/mq/worker"
	"github.com/3Eeeecho/go-filevault/internal/pkg/search"
	"github.com/3Eeeecho/go-filevault/internal/repositories"
	"github.com/3Eeeecho/go-filevault/internal/router"
	"github.com/3Eeeecho/go-filevault/internal/services/admin"
	"github.com/3Eeeecho/go-filevault/internal/services/audit"
	"github.com/3Eeeecho/go-filevault/internal/services/explorer"
	"github.com/3Eeeecho/go-filevault/internal/services/permission"
	"github.com/3Eeeecho/go-filevault/internal/services/share"
	"github.com/3Eeeecho/go-filevault/internal/setup"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Server struct {
	router         *gin.Engine
	httpServer     *http.Server
	db             *gorm.DB
	redisClient    *redis.Client
	rabbitMQClient *mq.RabbitMQClient // RabbitMQ 不可用时为 nil，删除改为同步清理
	auditSink      *audit.Sink
	stopConsumer   context.CancelFunc
}

// NewServer 负责构建所有依赖
func NewServer(cfg *config.Config) (*Server, error) {
	// 初始化数据库连接
	db := setup.InitDatabase(&cfg.Database)
	if err := setup.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	// 初始化 Redis 连接
	redisClient := setup.InitRedis(context.Background(), &cfg.Redis)

	// 初始化指标
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	// 初始化对象存储
	ss := setup.InitStorage(cfg, m)

	// 初始化Elasticsearch
	esClient := setup.InitElasticsearchClient(&cfg.Elasticsearch)

	//初始化rabbitmq
	var publisher mq.Publisher
	rabbitMQClient, err := mq.NewRabbitMQClient(cfg.RabbitMQ.URL)
	if err != nil {
		logger.Warn("RabbitMQ 不可用，文件清理将同步执行", zap.Error(err))
		rabbitMQClient = nil
	} else if _, err := rabbitMQClient.DeclareQueue(mq.FileDeleteQueue); err != nil {
		logger.Warn("声明删除队列失败，文件清理将同步执行", zap.Error(err))
		rabbitMQClient.Close()
		rabbitMQClient = nil
	} else {
		publisher = rabbitMQClient
	}

	//  初始化 Repositories
	timeout := cfg.Database.QueryTimeout
	redisCache := cache.NewRedisCache(redisClient)
	fileRepo := repositories.NewCachedFileRepository(repositories.NewDBFileRepository(db, timeout), redisCache)
	userRepo := repositories.NewUserRepository(db, timeout)
	permRepo := repositories.NewPermissionRepository(db, timeout)
	shareRepo := repositories.NewShareRepository(db, timeout, cfg.Share.CommitMaxAttempts, m)
	auditRepo := repositories.NewAuditRepository(db, timeout)

	// 审计管道: Sink 写 Redis Stream，消费者落库并建索引
	auditSink := audit.NewSink(&cfg.Audit, redisCache, auditRepo, m)
	auditSink.Start()

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	if cfg.Audit.StreamEnabled {
		auditConsumer := consumer.NewAuditConsumer(redisClient, &cfg.Audit, auditRepo, search.NewAuditIndexer(esClient, cfg.Audit.IndexName))
		go auditConsumer.Run(consumerCtx)
	}

	//初始化其他服务
	tm := explorer.NewTransactionManager(db)
	purger := explorer.NewPurger(tm, ss, cfg.BucketName())
	resolver := permission.NewResolver(fileRepo, permRepo, auditSink)

	//  初始化 Services
	authService := admin.NewAuthService(userRepo, cfg)
	userService := admin.NewUserService(userRepo, auditSink)
	fileService := explorer.NewFileService(fileRepo, permRepo, userRepo, shareRepo, resolver, explorer.FileServiceDeps{
		Storage:   ss,
		Publisher: publisher,
		Purger:    purger,
		Recorder:  auditSink,
		Config:    cfg,
	})
	shareService := share.NewShareService(shareRepo, fileRepo, resolver, ss, auditSink, m, share.NewPolicy(cfg.Share), cfg)
	auditQuery := audit.NewQueryService(auditRepo)

	//  初始化 Handlers
	authHandler := handlers.NewAuthHandler(authService)
	userHandler := handlers.NewUserHandler(userService)
	fileHandler := handlers.NewFileHandler(fileService, cfg)
	shareHandler := handlers.NewShareHandler(shareService)
	auditHandler := handlers.NewAuditHandler(auditQuery)

	// 启动所有后台 Worker
	if rabbitMQClient != nil {
		if err := worker.StartAllWorkers(rabbitMQClient, purger); err != nil {
			logger.Error("启动后台 Worker 失败", zap.Error(err))
		}
	}

	// 初始化 Gin 引擎和注册路由
	engine := router.InitRouter(&router.RouterConfig{
		AuthHandler:  authHandler,
		UserHandler:  userHandler,
		FileHandler:  fileHandler,
		ShareHandler: shareHandler,
		AuditHandler: auditHandler,
		Gatherer:     registry,
		Config:       cfg,
	})

	addr := ":" + cfg.Server.Port
	logger.Info(fmt.Sprintf("Server is running on %s", cfg.Server.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		router:         engine,
		httpServer:     httpServer,
		db:             db,
		redisClient:    redisClient,
		rabbitMQClient: rabbitMQClient,
		auditSink:      auditSink,
		stopConsumer:   stopConsumer,
	}, nil
}

// Run 启动服务器，并处理优雅关机
func (s *Server) Run(ctx context.Context, stopChan chan os.Signal) {
	// 关闭顺序: HTTP -> 审计 Sink(写完队列) -> 消费者 -> MQ / Redis / DB
	defer setup.CloseDatabase(s.db)
	defer setup.CloseRedis(s.redisClient)
	defer func() {
		if s.rabbitMQClient != nil {
			s.rabbitMQClient.Close()
		}
	}()
	defer s.stopConsumer()
	defer s.auditSink.Close()

	// 启动 HTTP 服务器
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// 等待停止信号
	select {
	case <-stopChan:
	case <-ctx.Done():
	}
	logger.Info("Shutting down server...")

	// 优雅关机
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return
	}
	logger.Info("Server exited gracefully")
}
