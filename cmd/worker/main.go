package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tohoso/ai-fortune-service/internal/claude"
	"github.com/Tohoso/ai-fortune-service/internal/dispatcher"
	"github.com/Tohoso/ai-fortune-service/internal/generator"
	"github.com/Tohoso/ai-fortune-service/internal/pipeline"
	"github.com/Tohoso/ai-fortune-service/internal/renderer"
	"github.com/Tohoso/ai-fortune-service/internal/store"
	"github.com/Tohoso/ai-fortune-service/internal/worker"
	"github.com/Tohoso/ai-fortune-service/pkg/config"
	"github.com/Tohoso/ai-fortune-service/pkg/infra/redis"
	"github.com/Tohoso/ai-fortune-service/pkg/lmstfy"
	"github.com/Tohoso/ai-fortune-service/pkg/logger"
)

var (
	configPath = flag.String("config", "./config/worker.yaml", "配置文件路径")
)

func main() {
	flag.Parse()

	log.Println("========================================")
	log.Println("  Fortune Order Worker Starting...")
	log.Println("========================================")

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}
	if cfg.Lmstfy.Host == "" {
		log.Fatalf("lmstfy.host is required for the worker")
	}

	log.Printf("Config loaded: %s, env: %s, log_level: %s\n", cfg.App.Name, cfg.App.Env, cfg.App.LogLevel)

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

	// 4. 组装 Pipeline
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

	// 5. 创建 Worker
	source, err := lmstfy.NewClient(cfg.Lmstfy.Host, cfg.Lmstfy.Port, cfg.Lmstfy.Namespace, cfg.Lmstfy.Token, cfg.Lmstfy.Queue)
	if err != nil {
		log.Fatalf("Failed to create lmstfy client: %v", err)
	}

	handler := worker.NewOrderHandler(pipe, zapLogger)
	subCfg := &worker.SubscriberConfig{
		QueueName:    cfg.Lmstfy.Queue,
		Concurrency:  cfg.Worker.SubscriberThreads,
		Timeout:      cfg.Worker.ConsumeTimeout,
		TTR:          cfg.Worker.TTR,
		ErrorBackoff: cfg.Worker.ErrorBackoff,
	}
	procCfg := &worker.ProcessorConfig{
		Concurrency: cfg.Worker.ProcessorThreads,
		BufferSize:  cfg.Worker.BufferSize,
		Timeout:     cfg.Worker.TaskTimeout,
	}

	w, err := worker.NewInstance(context.Background(), "fortune-order-worker", subCfg, procCfg, source, handler.Handle, zapLogger)
	if err != nil {
		log.Fatalf("Failed to create worker: %v", err)
	}

	// 6. 启动 Worker（goroutine）
	go w.Start()

	log.Println("Worker started. Press Ctrl+C to shutdown.")

	// 7. 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Println("========================================")
	log.Printf("  Received signal: %v\n", sig)
	log.Println("  Shutting down Worker...")
	log.Println("========================================")

	// 8. 优雅关闭 Worker
	w.Shutdown()

	fmt.Println("========================================")
	fmt.Println("  Worker exited gracefully")
	fmt.Println("========================================")
}
