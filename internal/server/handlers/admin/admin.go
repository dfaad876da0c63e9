// Package admin 管理 API（鑑定結果の閲覧・編集・再生成）
package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Tohoso/ai-fortune-service/internal/domain"
	"github.com/Tohoso/ai-fortune-service/internal/store"
	"github.com/Tohoso/ai-fortune-service/pkg/errorutil"
	"github.com/Tohoso/ai-fortune-service/pkg/ginx"
	"github.com/Tohoso/ai-fortune-service/pkg/infra/mysql"
	"github.com/Tohoso/ai-fortune-service/pkg/logger"
)

const defaultPageLimit = 20

// Editor 管理者操作（pipeline.Pipeline）
type Editor interface {
	EditContent(ctx context.Context, orderID, content string) (*domain.OrderRecord, error)
	RegenerateAndSend(ctx context.Context, orderID string) (*domain.OrderRecord, error)
}

// CommerceOrders EC 受注アーカイブの参照（pkg/infra/mysql.OrderDAO）
type CommerceOrders interface {
	GetByID(ctx context.Context, orderID string) (*mysql.CommerceOrder, error)
	List(ctx context.Context, q mysql.ListQuery) ([]*mysql.CommerceOrder, error)
}

// Handler 管理 API 处理器
type Handler struct {
	editor Editor
	store  store.Store
	orders CommerceOrders
	log    logger.Logger
}

// NewHandler 创建管理 API 处理器
// orders は nil 可（MySQL なしの環境では受注一覧は無効）
func NewHandler(editor Editor, s store.Store, orders CommerceOrders, log logger.Logger) *Handler {
	return &Handler{editor: editor, store: s, orders: orders, log: log}
}

// editRequest 鑑定結果編集リクエスト
type editRequest struct {
	RequestID string `json:"requestId" binding:"required"`
	Content   string `json:"content" binding:"required"`
}

// Edit 鑑定結果の編集
// POST /api/admin/fortune/edit
func (h *Handler) Edit(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}

	ctx := c.Request.Context()
	rec, err := h.editor.EditContent(ctx, req.RequestID, req.Content)
	if err != nil {
		ginx.ErrorFrom(c, err)
		return
	}

	h.log.Infof(ctx, "[Admin] Fortune content edited: order=%s", req.RequestID)
	ginx.OK(c, gin.H{
		"id":        rec.OrderID,
		"updatedAt": rec.UpdatedAt,
	})
}

// regenerateRequest PDF 再生成リクエスト
type regenerateRequest struct {
	RequestID string `json:"requestId" binding:"required"`
}

// Regenerate PDF 再生成・再送信
// POST /api/admin/fortune/regenerate
func (h *Handler) Regenerate(c *gin.Context) {
	var req regenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}

	ctx := c.Request.Context()
	rec, err := h.editor.RegenerateAndSend(ctx, req.RequestID)
	if err != nil {
		ginx.ErrorFrom(c, err)
		return
	}

	h.log.Infof(ctx, "[Admin] Fortune regenerated and sent: order=%s", req.RequestID)
	ginx.OK(c, gin.H{
		"id":      rec.OrderID,
		"pdfPath": rec.PDFPath,
		"sentAt":  rec.SentAt,
	})
}

// List 鑑定依頼一覧
// GET /api/admin/fortunes?page=1&limit=20&status=pending&from=2026-01-01&to=2026-01-31
func (h *Handler) List(c *gin.Context) {
	filter := store.Filter{}

	if status := c.Query("status"); status != "" {
		filter.Status = domain.Status(status)
	}
	if from, ok := parseDate(c.Query("from")); ok {
		filter.From = from
	}
	if to, ok := parseDate(c.Query("to")); ok {
		// to は当日を含む
		filter.To = to.Add(24*time.Hour - time.Nanosecond)
	}

	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", defaultPageLimit)

	records, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		ginx.ErrorFrom(c, err)
		return
	}

	total := len(records)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	ginx.OK(c, gin.H{
		"items": records[start:end],
		"page":  page,
		"limit": limit,
		"total": total,
	})
}

// Detail 鑑定結果の単一取得
// GET /api/admin/fortune/:id
func (h *Handler) Detail(c *gin.Context) {
	rec, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		ginx.ErrorFrom(c, err)
		return
	}
	ginx.OK(c, rec)
}

// orderItem 受注アーカイブ + 占い進捗
type orderItem struct {
	OrderID       string  `json:"orderId"`
	CustomerEmail string  `json:"customerEmail"`
	ProductName   string  `json:"productName"`
	PaymentStatus string  `json:"paymentStatus"`
	Price         float64 `json:"price"`
	Currency      string  `json:"currency"`
	CreatedAt     string  `json:"createdAt"`
	FortuneStatus string  `json:"fortuneStatus"`
}

// Orders EC 受注一覧（占いステータス付き）
// GET /api/admin/orders?page=1&limit=20&paymentStatus=paid&from=2026-01-01&to=2026-01-31
func (h *Handler) Orders(c *gin.Context) {
	if h.orders == nil {
		ginx.Error(c, http.StatusServiceUnavailable, "受注アーカイブが設定されていません")
		return
	}

	q := mysql.ListQuery{
		PaymentStatus: c.Query("paymentStatus"),
		Page:          queryInt(c, "page", 1),
		Limit:         queryInt(c, "limit", defaultPageLimit),
	}
	if from, ok := parseDate(c.Query("from")); ok {
		q.From = from
	}
	if to, ok := parseDate(c.Query("to")); ok {
		q.To = to.Add(24*time.Hour - time.Nanosecond)
	}

	ctx := c.Request.Context()
	orders, err := h.orders.List(ctx, q)
	if err != nil {
		ginx.ErrorFrom(c, err)
		return
	}

	items := make([]orderItem, 0, len(orders))
	for _, o := range orders {
		items = append(items, h.enrich(ctx, o))
	}

	ginx.OK(c, gin.H{
		"items": items,
		"page":  q.Page,
		"limit": q.Limit,
	})
}

// OrderDetail EC 受注の単一取得（占いステータス付き）
// GET /api/admin/order/:id
func (h *Handler) OrderDetail(c *gin.Context) {
	if h.orders == nil {
		ginx.Error(c, http.StatusServiceUnavailable, "受注アーカイブが設定されていません")
		return
	}

	ctx := c.Request.Context()
	order, err := h.orders.GetByID(ctx, c.Param("id"))
	if err != nil {
		ginx.ErrorFrom(c, err)
		return
	}
	ginx.OK(c, h.enrich(ctx, order))
}

// enrich 受注に占いパイプラインの進捗を付与する
// まだ取り込まれていない受注は unknown
func (h *Handler) enrich(ctx context.Context, o *mysql.CommerceOrder) orderItem {
	item := orderItem{
		OrderID:       o.ID,
		CustomerEmail: o.CustomerEmail,
		ProductName:   o.ProductName,
		PaymentStatus: o.PaymentStatus,
		Price:         o.Price,
		Currency:      o.Currency,
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
		FortuneStatus: "unknown",
	}

	rec, err := h.store.Get(ctx, o.ID)
	if err != nil {
		if !errorutil.IsKind(err, errorutil.KindNotFound) {
			h.log.Warnf(ctx, "[Admin] Failed to load fortune record: order=%s, error: %v", o.ID, err)
		}
		return item
	}
	item.FortuneStatus = string(rec.Status)
	return item
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
