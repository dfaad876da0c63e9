package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/Tohoso/ai-fortune-service/internal/intake"
	"github.com/Tohoso/ai-fortune-service/pkg/errorutil"
)

// CommerceOrder EC 受注アーカイブ实体
// ファイルストアとは別に、決済イベントの原文を監査用に保持する
type CommerceOrder struct {
	ID            string         `gorm:"column:id;primaryKey;type:varchar(64)"`
	CustomerEmail string         `gorm:"column:customer_email;type:varchar(255);not null"`
	ProductName   string         `gorm:"column:product_name;type:varchar(255)"`
	PaymentStatus string         `gorm:"column:payment_status;type:varchar(32);index:idx_payment_status"`
	Price         float64        `gorm:"column:price"`
	Currency      string         `gorm:"column:currency;type:varchar(8)"`
	RawPayload    datatypes.JSON `gorm:"column:raw_payload;type:json"`
	CreatedAt     time.Time      `gorm:"column:created_at;not null;index:idx_created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;not null"`
}

// TableName 指定表名
func (CommerceOrder) TableName() string {
	return "commerce_orders"
}

// OrderDAO 受注アーカイブ数据访问对象
type OrderDAO struct {
	db *gorm.DB
}

// NewOrderDAO 创建 OrderDAO 实例
func NewOrderDAO(dsn string) (*OrderDAO, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &OrderDAO{
		db: db,
	}, nil
}

// Archive 保存決済イベント（实现 intake.OrderArchiver 接口）
// 同一 order_id の再送は原文のみ更新する
func (dao *OrderDAO) Archive(ctx context.Context, event intake.WebhookEvent, raw []byte) error {
	if len(raw) == 0 {
		encoded, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal webhook event: %w", err)
		}
		raw = encoded
	}

	order := &CommerceOrder{
		ID:            event.OrderID,
		CustomerEmail: event.CustomerEmail,
		ProductName:   event.ProductName,
		PaymentStatus: event.PaymentStatus,
		Price:         event.Price,
		Currency:      event.Currency,
		RawPayload:    datatypes.JSON(raw),
	}

	result := dao.db.WithContext(ctx).Save(order)
	if result.Error != nil {
		return fmt.Errorf("failed to archive order: %w", result.Error)
	}

	return nil
}

// GetByID 根据受注 ID 获取アーカイブ
func (dao *OrderDAO) GetByID(ctx context.Context, orderID string) (*CommerceOrder, error) {
	var order CommerceOrder
	result := dao.db.WithContext(ctx).Where("id = ?", orderID).First(&order)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, errorutil.NotFound("commerce order not found: %s", orderID)
		}
		return nil, fmt.Errorf("failed to get order: %w", result.Error)
	}
	return &order, nil
}

// ListQuery アーカイブ検索条件
type ListQuery struct {
	PaymentStatus string
	From          time.Time
	To            time.Time
	Page          int
	Limit         int
}

// List 条件に合うアーカイブを新しい順に返す
func (dao *OrderDAO) List(ctx context.Context, q ListQuery) ([]*CommerceOrder, error) {
	db := dao.db.WithContext(ctx).Model(&CommerceOrder{})
	if q.PaymentStatus != "" {
		db = db.Where("payment_status = ?", q.PaymentStatus)
	}
	if !q.From.IsZero() {
		db = db.Where("created_at >= ?", q.From)
	}
	if !q.To.IsZero() {
		db = db.Where("created_at <= ?", q.To)
	}
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
		if q.Page > 1 {
			db = db.Offset((q.Page - 1) * q.Limit)
		}
	}

	var orders []*CommerceOrder
	if err := db.Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// Close 关闭数据库连接
func (dao *OrderDAO) Close() error {
	sqlDB, err := dao.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
