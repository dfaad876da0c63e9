package worker

import "time"

// Message 消息结构（框架内部流转）
type Message struct {
	ID       string // 消息 ID
	Queue    string // 队列名称
	Data     []byte // 原始 Job 数据
	Attempts int    // 重试次数
}

// OrderJob 注文処理ジョブのペイロード
type OrderJob struct {
	OrderID string `json:"order_id"`
}

// Action 消息处理结果动作
type Action int

const (
	// ActionAck 处理完成（成功或已落库的业务失败），删除消息
	ActionAck Action = iota
	// ActionDrop 消息本身无法解析，丢弃并告警
	ActionDrop
)

// Result 消息处理结果
type Result struct {
	Action Action
	Err    error
}

// SubscriberConfig Subscriber 配置
type SubscriberConfig struct {
	QueueName    string        // 队列名称
	Concurrency  int           // 并发拉取数
	Timeout      time.Duration // 拉取超时
	TTR          time.Duration // Time-To-Run
	Rate         time.Duration // 速率限制（拉取间隔）
	ErrorBackoff time.Duration // 错误退避时间
}

// ProcessorConfig Processor 配置
type ProcessorConfig struct {
	Concurrency int           // 并发处理数
	BufferSize  int           // inputChan 缓冲区大小
	Timeout     time.Duration // 单个消息处理超时
}
