package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Tohoso/ai-fortune-service/internal/claude"
	"github.com/Tohoso/ai-fortune-service/internal/dispatcher"
	"github.com/Tohoso/ai-fortune-service/internal/generator"
	"github.com/Tohoso/ai-fortune-service/internal/intake"
	"github.com/Tohoso/ai-fortune-service/internal/pipeline"
	"github.com/Tohoso/ai-fortune-service/internal/renderer"
	"github.com/Tohoso/ai-fortune-service/internal/scheduler"
	"github.com/Tohoso/ai-fortune-service/internal/server/handlers/admin"
	"github.com/Tohoso/ai-fortune-service/internal/server/handlers/webhook"
	"github.com/Tohoso/ai-fortune-service/internal/server/handlers/workerapi"
	"github.com/Tohoso/ai-fortune-service/internal/server/routers"
	"github.com/Tohoso/ai-fortune-service/internal/store"
	"github.com/Tohoso/ai-fortune-service/pkg/config"
	"github.com/Tohoso/ai-fortune-service/pkg/infra/mysql"
	"github.com/Tohoso/ai-fortune-service/pkg/infra/redis"
	"github.com/Tohoso/ai-fortune-service/pkg/lmstfy"
	"github.com/Tohoso/ai-fortune-service/pkg/logger"
)

var (
	configPath = flag.String("config", "./config/apiserver.yaml", "配置文件路径")
)

func main() {
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	// 2. 初始化 Logger
	zapLogger, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// 3. 启动前校验プロンプトテンプレート
	if err := generator.ValidateTemplates(); err != nil {
		log.Fatalf("Template validation failed: %v", err)
	}

	// 4. 组装依赖
	st, err := store.NewFileStore(cfg.Store.DataDir, zapLogger)
	if err != nil {
		log.Fatalf("Failed to create file store: %v", err)
	}

	var textGen generator.TextGenerator
	if cfg.Claude.Stub {
		textGen = claude.NewStub()
	} else {
		textGen = claude.NewClient(cfg.Claude.APIKey, cfg.Claude.Model, cfg.Claude.MaxTokens, cfg.Claude.Timeout)
	}
	gen := generator.New(textGen, generator.CostModel{
		InputCostPerMTok:  cfg.Claude.InputCostPerMTok,
		OutputCostPerMTok: cfg.Claude.OutputCostPerMTok,
		ExchangeRate:      cfg.Claude.ExchangeRate,
	}, zapLogger)

	ren := renderer.New(cfg.PDF.OutputDir, cfg.PDF.FontPath, zapLogger)
	disp := dispatcher.New(cfg.Email, zapLogger)

	var notifier pipeline.Notifier
	if cfg.Redis.Addr != "" {
		pubsub, err := redis.NewPubSub(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel)
		if err != nil {
			log.Fatalf("Failed to connect redis: %v", err)
		}
		defer pubsub.Close()
		notifier = pubsub
	}

	pipe := pipeline.New(st, gen, ren, disp,
		pipeline.RetryPolicy{Attempts: cfg.Retry.Attempts, Backoff: cfg.Retry.Backoff},
		notifier, zapLogger)

	var queue intake.JobPublisher
	if cfg.Lmstfy.Host != "" {
		mq, err := lmstfy.NewClient(cfg.Lmstfy.Host, cfg.Lmstfy.Port, cfg.Lmstfy.Namespace, cfg.Lmstfy.Token, cfg.Lmstfy.Queue)
		if err != nil {
			log.Fatalf("Failed to create lmstfy client: %v", err)
		}
		queue = mq
	}

	var archiver intake.OrderArchiver
	var commerceOrders admin.CommerceOrders
	if cfg.MySQL.DSN != "" {
		dao, err := mysql.NewOrderDAO(cfg.MySQL.DSN)
		if err != nil {
			log.Fatalf("Failed to connect mysql: %v", err)
		}
		defer dao.Close()
		archiver = dao
		commerceOrders = dao
	}

	ingestor := intake.NewService(st, queue, archiver, zapLogger)

	// 5. 启动定时批处理
	sched := scheduler.New(cfg.Scheduler.CronSpec, cfg.Scheduler.BatchLimit, pipe, zapLogger)
	if err := sched.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// 6. 创建 HTTP Server
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := routers.SetupRoutes(
		webhook.NewHandler(ingestor, zapLogger),
		admin.NewHandler(pipe, st, commerceOrders, zapLogger),
		workerapi.NewHandler(sched, pipe, zapLogger),
		cfg.Server.AdminToken,
		cfg.Server.APIToken,
		zapLogger,
	)

	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	// 7. 优雅停机处理
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("Received shutdown signal, gracefully shutting down...")
		gracefulShutdown(server)
	case err := <-serverErrChan:
		log.Fatalf("HTTP server error: %v", err)
	}

	log.Println("Application stopped")
}

// gracefulShutdown 优雅停机
func gracefulShutdown(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	} else {
		log.Println("HTTP server stopped gracefully")
	}
}
