package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tohoso/ai-fortune-service/internal/domain"
)

// PubSub Redis 发布/订阅客户端
// 鑑定完了通知を管理画面・監視系へ流す
type PubSub struct {
	client  *redis.Client
	channel string
}

// NewPubSub 创建 PubSub 实例
func NewPubSub(addr, password string, db int, channel string) (*PubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &PubSub{
		client:  client,
		channel: channel,
	}, nil
}

// FortuneNotification 鑑定完了通知消息
type FortuneNotification struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"` // sent/error
	Timestamp int64  `json:"timestamp"`
}

// NotifyOrderComplete 发布鑑定完了通知（实现 pipeline.Notifier 接口）
func (p *PubSub) NotifyOrderComplete(ctx context.Context, orderID string, status domain.Status) error {
	notification := &FortuneNotification{
		OrderID:   orderID,
		Status:    string(status),
		Timestamp: time.Now().Unix(),
	}

	msgJSON, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, msgJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	return nil
}

// Close 关闭 Redis 连接
func (p *PubSub) Close() error {
	return p.client.Close()
}
