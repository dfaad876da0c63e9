// Package webhook EC 決済 Webhook とフォーム回答の受け口
package webhook

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Tohoso/ai-fortune-service/internal/domain"
	"github.com/Tohoso/ai-fortune-service/internal/intake"
	"github.com/Tohoso/ai-fortune-service/pkg/ginx"
	"github.com/Tohoso/ai-fortune-service/pkg/logger"
)

// Ingestor 受注取り込みサービス（intake.Service）
type Ingestor interface {
	IngestWebhook(ctx context.Context, event intake.WebhookEvent, raw []byte) (*domain.OrderRecord, bool, error)
	IngestFormResponse(ctx context.Context, form intake.FormResponse) (*domain.OrderRecord, error)
}

// Handler Webhook 处理器
type Handler struct {
	ingestor Ingestor
	log      logger.Logger
}

// NewHandler 创建 Webhook 处理器
func NewHandler(ingestor Ingestor, log logger.Logger) *Handler {
	return &Handler{ingestor: ingestor, log: log}
}

// Stores Stores 決済完了 Webhook
// POST /api/webhook/stores
func (h *Handler) Stores(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		ginx.InternalError(c, err.Error())
		return
	}

	var event intake.WebhookEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		ginx.InternalError(c, "invalid webhook payload")
		return
	}

	// Stores の死活監視はプレーンテキストで応答する
	if event.Mode == intake.ModeWorkerCheck {
		c.String(http.StatusOK, "OK")
		return
	}

	ctx := c.Request.Context()
	rec, _, err := h.ingestor.IngestWebhook(ctx, event, raw)
	if err != nil {
		// EC 側には 500 を返して再送させる
		h.log.Errorf(ctx, "[Webhook] Ingest failed: order=%s, error: %v", event.OrderID, err)
		ginx.InternalError(c, err.Error())
		return
	}

	ginx.OK(c, gin.H{
		"orderId": rec.OrderID,
		"email":   rec.Customer.Email,
	})
}

// formRequest フォーム回答リクエスト
type formRequest struct {
	ResponseData *intake.FormResponse `json:"responseData" binding:"required"`
}

// FormResponse フォーム回答の取り込み
// POST /api/form/process
func (h *Handler) FormResponse(c *gin.Context) {
	var req formRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}

	rec, err := h.ingestor.IngestFormResponse(c.Request.Context(), *req.ResponseData)
	if err != nil {
		ginx.ErrorFrom(c, err)
		return
	}

	ginx.OK(c, gin.H{
		"orderId":     rec.OrderID,
		"name":        rec.Customer.Name,
		"fortuneType": rec.FortuneType,
		"status":      rec.Status,
	})
}
