package worker

import (
	"context"
	"encoding/json"

	"github.com/Tohoso/ai-fortune-service/internal/domain"
	"github.com/Tohoso/ai-fortune-service/pkg/logger"
)

// OrderProcessor 注文をターミナル状態まで駆動する（pipeline.Process）
type OrderProcessor interface {
	Process(ctx context.Context, orderID string) (*domain.OrderRecord, error)
}

// OrderHandler 注文ジョブのハンドラ
type OrderHandler struct {
	proc OrderProcessor
	log  logger.Logger
}

// NewOrderHandler 创建注文ジョブハンドラ
func NewOrderHandler(proc OrderProcessor, log logger.Logger) *OrderHandler {
	return &OrderHandler{proc: proc, log: log}
}

// Handle 解析并处理一条注文ジョブ
// 处理结果（包括业务失败）已由 pipeline 落库，因此总是返回可 ACK 的结果；
// 只有无法解析的消息返回 Drop。
func (h *OrderHandler) Handle(ctx context.Context, msg *Message) Result {
	var job OrderJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		h.log.Errorf(ctx, "[OrderHandler] Failed to unmarshal job: id=%s, error: %v", msg.ID, err)
		return Result{Action: ActionDrop, Err: err}
	}
	if job.OrderID == "" {
		h.log.Errorf(ctx, "[OrderHandler] Job missing order_id: id=%s", msg.ID)
		return Result{Action: ActionDrop}
	}

	ctx = logger.WithOrderID(ctx, job.OrderID)
	rec, err := h.proc.Process(ctx, job.OrderID)
	if err != nil {
		// 失败状态已持久化，由管理画面重新驱动
		h.log.Warnf(ctx, "[OrderHandler] Order processing failed: order=%s, error: %v", job.OrderID, err)
		return Result{Action: ActionAck, Err: err}
	}

	h.log.Infof(ctx, "[OrderHandler] Order processed: order=%s, status=%s", job.OrderID, rec.Status)
	return Result{Action: ActionAck}
}
