// Package workerapi ワーカーの手動駆動 API
package workerapi

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/Tohoso/ai-fortune-service/internal/domain"
	"github.com/Tohoso/ai-fortune-service/internal/pipeline"
	"github.com/Tohoso/ai-fortune-service/internal/scheduler"
	"github.com/Tohoso/ai-fortune-service/pkg/ginx"
	"github.com/Tohoso/ai-fortune-service/pkg/logger"
)

// BatchTrigger 手動バッチ実行（scheduler.Scheduler）
type BatchTrigger interface {
	RunNow(ctx context.Context) (*pipeline.BatchResult, error)
	Status() scheduler.State
}

// OrderProcessor 単一注文の駆動（pipeline.Pipeline）
type OrderProcessor interface {
	Process(ctx context.Context, orderID string) (*domain.OrderRecord, error)
}

// Handler ワーカー API 处理器
type Handler struct {
	trigger BatchTrigger
	proc    OrderProcessor
	log     logger.Logger
}

// NewHandler 创建ワーカー API 处理器
func NewHandler(trigger BatchTrigger, proc OrderProcessor, log logger.Logger) *Handler {
	return &Handler{trigger: trigger, proc: proc, log: log}
}

// Run 手動バッチ実行
// POST /api/worker/run
func (h *Handler) Run(c *gin.Context) {
	ctx := c.Request.Context()
	result, err := h.trigger.RunNow(ctx)
	if err != nil {
		ginx.ErrorFrom(c, err)
		return
	}

	h.log.Infof(ctx, "[WorkerAPI] Manual batch run: processed=%d, failed=%d", result.Processed, result.Failed)
	ginx.OK(c, result)
}

// ProcessOrder 単一注文の処理
// POST /api/worker/process/:orderId
func (h *Handler) ProcessOrder(c *gin.Context) {
	orderID := c.Param("orderId")
	ctx := c.Request.Context()

	rec, err := h.proc.Process(ctx, orderID)
	if err != nil {
		ginx.ErrorFrom(c, err)
		return
	}

	ginx.OK(c, gin.H{
		"orderId": rec.OrderID,
		"status":  rec.Status,
	})
}

// Status スケジューラ状態の取得
// GET /api/worker/status
func (h *Handler) Status(c *gin.Context) {
	ginx.OK(c, h.trigger.Status())
}
