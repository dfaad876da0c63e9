package lmstfy

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bitleak/lmstfy/client"

	"github.com/Tohoso/ai-fortune-service/internal/worker"
)

// Client Lmstfy 客户端封装
type Client struct {
	cli       *client.LmstfyClient
	namespace string
	queue     string
}

// NewClient 创建 Lmstfy 客户端
func NewClient(host string, port int, namespace, token, queue string) (*Client, error) {
	cli := client.NewLmstfyClient(host, port, namespace, token)
	return &Client{
		cli:       cli,
		namespace: namespace,
		queue:     queue,
	}, nil
}

// Consume 消费消息（实现 worker.MessageSource 接口）
func (c *Client) Consume(queue string, timeout time.Duration, ttr time.Duration) (*worker.Message, error) {
	timeoutSec := uint32(timeout.Seconds())
	ttrSec := uint32(ttr.Seconds())

	job, err := c.cli.Consume(queue, ttrSec, timeoutSec)
	if err != nil {
		return nil, fmt.Errorf("lmstfy consume failed: %w", err)
	}

	// 超时未拉到消息
	if job == nil {
		return nil, nil
	}

	return &worker.Message{
		ID:    job.ID,
		Queue: job.Queue,
		Data:  job.Data,
	}, nil
}

// Ack 确认消息（实现 worker.MessageSource 接口）
func (c *Client) Ack(queue string, jobID string) error {
	if err := c.cli.Ack(queue, jobID); err != nil {
		return fmt.Errorf("lmstfy ack failed: %w", err)
	}
	return nil
}

// Publish 发布消息
func (c *Client) Publish(queue string, data []byte, ttl, delay uint32) error {
	if _, err := c.cli.Publish(queue, data, ttl, 3, delay); err != nil {
		return fmt.Errorf("lmstfy publish failed: %w", err)
	}
	return nil
}

// PublishOrderJob 发布注文処理ジョブ（實現 intake.JobPublisher 接口）
func (c *Client) PublishOrderJob(orderID string) error {
	data, err := json.Marshal(worker.OrderJob{OrderID: orderID})
	if err != nil {
		return err
	}
	return c.Publish(c.queue, data, 3600, 0)
}
