package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"codelens-go/internal/ai"
	"codelens-go/internal/config"
	"codelens-go/internal/handler"
	"codelens-go/internal/middleware"
	"codelens-go/internal/pipeline"
	"codelens-go/internal/repository"
	"codelens-go/internal/service"
	"codelens-go/internal/source"
	"codelens-go/pkg/database"
	"codelens-go/pkg/embedding"
	"codelens-go/pkg/es"
	"codelens-go/pkg/githost"
	"codelens-go/pkg/kafka"
	"codelens-go/pkg/llm"
	"codelens-go/pkg/log"
	"codelens-go/pkg/secret"
	"codelens-go/pkg/storage"
	"codelens-go/pkg/tika"
	"codelens-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the ingestion consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*configPath)
		},
	}
}

func serve(configPath string) error {
	// 1. 初始化配置
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和 Redis
	database.InitPostgres(cfg.Database.Postgres.DSN, cfg.Embedding.Dimensions)
	database.InitRedis(cfg.Database.Redis)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. 初始化 Repository
	projectRepo := repository.NewProjectRepository(database.DB)
	userRepo := repository.NewUserRepository(database.DB)
	knowledgeRepo := repository.NewFileKnowledgeRepository(database.DB)
	commitRepo := repository.NewCommitRepository(database.DB)
	cacheRepo := repository.NewCacheRepository(database.RDB)

	// 5. 初始化外部客户端
	box, err := secret.NewBox(cfg.Security.TokenKey)
	if err != nil {
		return fmt.Errorf("初始化令牌加密失败: %w", err)
	}
	host, err := githost.NewClient(cfg.GitHub)
	if err != nil {
		return fmt.Errorf("初始化代码托管客户端失败: %w", err)
	}
	gateway := newGateway(cfg)
	loader := source.NewLoader(host, textExtractor(cfg), cfg.Pipeline.FetchConcurrency)

	var (
		mirror  pipeline.KnowledgeMirror
		cleaner service.KnowledgeCleaner
		archive service.DiffArchive
	)
	if cfg.Elasticsearch.Addresses != "" {
		m, err := es.NewMirror(cfg.Elasticsearch, cfg.Embedding.Dimensions)
		if err != nil {
			return fmt.Errorf("初始化 Elasticsearch 失败: %w", err)
		}
		mirror, cleaner = m, m
	}
	if cfg.MinIO.Endpoint != "" {
		a, err := storage.NewDiffArchive(ctx, cfg.MinIO)
		if err != nil {
			return fmt.Errorf("初始化 MinIO 失败: %w", err)
		}
		archive = a
	}

	// 6. 初始化 Service 与摄取流水线
	commitService := service.NewCommitService(projectRepo, commitRepo, cacheRepo, host, gateway, box, archive,
		service.CommitServiceOptions{
			Limit:       cfg.Pipeline.CommitLimit,
			FetchWindow: cfg.Pipeline.CommitFetch,
			Concurrency: cfg.Pipeline.AIConcurrency,
		})
	indexer := pipeline.NewIndexer(loader, gateway, knowledgeRepo, mirror, cfg.Pipeline.AIConcurrency, cfg.Embedding.Model)
	processor := pipeline.NewProcessor(projectRepo, userRepo, indexer, commitService, box, cfg.Pipeline.RunTimeout)
	estimator := service.NewEstimateService(loader, cacheRepo, cfg.Pipeline.EstimateCacheTTL)

	// 7. 配置了 Kafka 时异步摄取，否则在请求内同步执行
	dispatcher := service.NewInlineDispatcher(processor)
	consumerDone := make(chan struct{})
	if cfg.Kafka.Brokers != "" {
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		dispatcher = service.NewQueueDispatcher(producer)

		consumer := kafka.NewConsumer(cfg.Kafka, processor, cacheRepo)
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(ctx); err != nil {
				log.Errorf("[Kafka] 消费者异常退出: %v", err)
			}
		}()
	} else {
		close(consumerDone)
	}
	projectService := service.NewProjectService(projectRepo, userRepo, estimator, commitService, dispatcher, box, cleaner)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 9. 注册路由
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(jwtManager, userRepo))
	handler.NewProjectHandler(projectService).Register(apiV1)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		stop()
		<-consumerDone
		return fmt.Errorf("HTTP 服务监听失败: %w", err)
	case <-ctx.Done():
	}
	log.Info("接收到停机信号，正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	<-consumerDone
	log.Info("服务已优雅关闭")
	return nil
}

func newGateway(cfg config.Config) *ai.Gateway {
	return ai.NewGateway(llm.NewClient(cfg.LLM), embedding.NewClient(cfg.Embedding), ai.Options{
		Dimensions:        cfg.Embedding.Dimensions,
		MaxSummaryChars:   cfg.Pipeline.MaxSummaryChars,
		Timeout:           cfg.Pipeline.ItemTimeout,
		RequestsPerSecond: cfg.AI.RequestsPerSecond,
		Burst:             cfg.AI.Burst,
	})
}

// textExtractor 在未配置 Tika 时返回 nil 接口，避免包装 nil 指针。
func textExtractor(cfg config.Config) source.TextExtractor {
	if c := tika.NewClient(cfg.Tika); c != nil {
		return c
	}
	log.Warnf("[Tika] 未配置 server_url，非文本文件将被跳过")
	return nil
}
