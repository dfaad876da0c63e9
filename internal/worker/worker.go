package worker

import (
	"context"

	"github.com/Tohoso/ai-fortune-service/pkg/logger"
)

// Worker 接口
type Worker interface {
	Start()
	Shutdown()
	GetName() string
}

// Instance Worker 实例：Subscriber + Processor + 缓冲通道
type Instance struct {
	ctx        context.Context
	name       string
	subscriber *Subscriber
	processor  *Processor
	inputChan  chan *Message
	shutdownCh chan struct{}
	log        logger.Logger
}

// NewInstance 创建 Worker 实例
func NewInstance(
	ctx context.Context,
	name string,
	subscriberCfg *SubscriberConfig,
	processorCfg *ProcessorConfig,
	source MessageSource,
	handle HandleFunc,
	log logger.Logger,
) (Worker, error) {
	inputChan := make(chan *Message, processorCfg.BufferSize)

	subscriber := NewSubscriber(subscriberCfg, source, log)
	processor := NewProcessor(processorCfg, handle, source, log)

	return &Instance{
		ctx:        ctx,
		name:       name,
		subscriber: subscriber,
		processor:  processor,
		inputChan:  inputChan,
		shutdownCh: make(chan struct{}),
		log:        log,
	}, nil
}

// Start 启动 Worker（阻塞直到 Shutdown）
func (w *Instance) Start() {
	w.log.Infof(w.ctx, "[Worker] %s started", w.name)

	w.processor.Start(w.ctx, w.inputChan)
	w.subscriber.Start(w.ctx, w.inputChan)

	<-w.shutdownCh
}

// Shutdown 优雅退出（4 步链路）
func (w *Instance) Shutdown() {
	w.log.Infof(w.ctx, "[Worker] %s began to close", w.name)

	// 【第 1 步】停止拉取新消息
	w.subscriber.Stop()

	// 【第 2 步】等待 Subscriber 完全退出
	w.subscriber.Wait()

	// 【第 3 步】通知 Processor 进入 Drain 模式
	w.processor.SignalShutdown()

	// 【第 4 步】等待 Processor 处理完剩余消息
	w.processor.Wait()

	close(w.shutdownCh)
	w.log.Infof(w.ctx, "[Worker] %s shutdown complete", w.name)
}

// GetName 获取 Worker 名称
func (w *Instance) GetName() string {
	return w.name
}
