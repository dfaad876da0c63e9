package worker

import (
	"context"
	"sync"
	"time"

	"github.com/Tohoso/ai-fortune-service/pkg/logger"
)

// 設定で task_timeout が欠けていた場合の上限
const defaultTaskTimeout = 2 * time.Minute

// Processor 处理器：接收消息，调用业务处理函数，按结果 ACK
type Processor struct {
	cfg        *ProcessorConfig
	handle     HandleFunc
	source     MessageSource
	log        logger.Logger
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// NewProcessor 创建处理器
func NewProcessor(cfg *ProcessorConfig, handle HandleFunc, source MessageSource, log logger.Logger) *Processor {
	return &Processor{
		cfg:        cfg,
		handle:     handle,
		source:     source,
		log:        log,
		shutdownCh: make(chan struct{}),
	}
}

// Start 启动处理协程
func (p *Processor) Start(ctx context.Context, inputChan <-chan *Message) error {
	p.log.Infof(ctx, "[Processor] Starting with %d workers", p.cfg.Concurrency)

	for i := 0; i < p.cfg.Concurrency; i++ {
		workerID := i
		p.wg.Add(1)
		go p.loop(ctx, workerID, inputChan)
	}

	return nil
}

// SignalShutdown 通知 Processor 准备退出（进入 Drain 模式）
func (p *Processor) SignalShutdown() {
	p.log.Infof(context.Background(), "[Processor] Shutdown signal received")
	close(p.shutdownCh)
}

// Wait 等待所有处理协程退出
func (p *Processor) Wait() {
	p.wg.Wait()
	p.log.Infof(context.Background(), "[Processor] All workers exited")
}

// loop 处理循环（单个 Worker）
func (p *Processor) loop(ctx context.Context, workerID int, inputChan <-chan *Message) {
	defer p.wg.Done()
	p.log.Infof(ctx, "[Processor-%d] Started", workerID)

	for {
		select {
		// A. 正常业务处理
		case msg := <-inputChan:
			p.process(ctx, msg, workerID)

		// B. Drain 模式：处理完剩余消息再退出
		case <-p.shutdownCh:
			p.log.Infof(ctx, "[Processor-%d] Entering DRAIN mode", workerID)
			count := 0
			for {
				select {
				case msg := <-inputChan:
					p.process(ctx, msg, workerID)
					count++
				default:
					p.log.Infof(ctx, "[Processor-%d] Drained %d messages, exiting", workerID, count)
					return
				}
			}
		}
	}
}

// process 处理单个消息
func (p *Processor) process(ctx context.Context, msg *Message, workerID int) {
	if msg == nil {
		return
	}

	startTime := time.Now()

	timeout := p.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	procCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	procCtx = logger.WithTraceID(procCtx, msg.ID)

	p.log.Infof(procCtx, "[Processor-%d] Processing message: %s", workerID, msg.ID)

	result := p.handle(procCtx, msg)

	duration := time.Since(startTime)
	if result.Err != nil {
		p.log.Warnf(procCtx, "[Processor-%d] Message handled with error: %s, action: %d, duration: %v, error: %v",
			workerID, msg.ID, result.Action, duration, result.Err)
	} else {
		p.log.Infof(procCtx, "[Processor-%d] Message processed: %s, duration: %v", workerID, msg.ID, duration)
	}

	// 业务结果已落库，无论成败都删除消息；Drop 亦删除（毒消息不再重投）
	if err := p.source.Ack(msg.Queue, msg.ID); err != nil {
		p.log.Errorf(procCtx, "[Processor-%d] Ack failed: %s, error: %v", workerID, msg.ID, err)
	}
}
