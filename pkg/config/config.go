package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Claude    ClaudeConfig    `mapstructure:"claude"`
	PDF       PDFConfig       `mapstructure:"pdf"`
	Email     EmailConfig     `mapstructure:"email"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Lmstfy    LmstfyConfig    `mapstructure:"lmstfy"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Retry     RetryConfig     `mapstructure:"retry"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"` // development / production
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port       string `mapstructure:"port"`
	AdminToken string `mapstructure:"admin_token"` // 管理接口 Bearer Token
	APIToken   string `mapstructure:"api_token"`   // Worker 手动触发接口 X-Api-Token
}

// StoreConfig 注文状态存储配置
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"` // 鉴定 JSON 文档目录
}

// ClaudeConfig Claude API 配置
type ClaudeConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Stub      bool          `mapstructure:"stub"` // 非生产环境使用确定性桩实现

	// コスト计算：美元单价（每 1M tokens）与日元汇率
	InputCostPerMTok  float64 `mapstructure:"input_cost_per_mtok"`
	OutputCostPerMTok float64 `mapstructure:"output_cost_per_mtok"`
	ExchangeRate      float64 `mapstructure:"exchange_rate"`
}

// PDFConfig PDF 渲染配置
type PDFConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	FontPath  string `mapstructure:"font_path"` // 日文字体（NotoSansJP 等）
}

// EmailConfig 邮件投递配置
type EmailConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	FromName string        `mapstructure:"from_name"`
	Simulate bool          `mapstructure:"simulate"` // 非生产环境仅打日志，不真正发送
	Timeout  time.Duration `mapstructure:"timeout"`  // SMTP 送信全体の上限
}

// MySQLConfig MySQL 配置（EC 平台订单副本）
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig Redis 配置（处理完成通知）
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// LmstfyConfig Lmstfy 配置（注文处理队列）
type LmstfyConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Namespace string `mapstructure:"namespace"`
	Token     string `mapstructure:"token"`
	Queue     string `mapstructure:"queue"`
}

// WorkerConfig Worker 配置
type WorkerConfig struct {
	SubscriberThreads int           `mapstructure:"subscriber_threads"` // 并发拉取数
	ProcessorThreads  int           `mapstructure:"processor_threads"`  // 并发处理数
	BufferSize        int           `mapstructure:"buffer_size"`        // Channel 缓冲大小
	ConsumeTimeout    time.Duration `mapstructure:"consume_timeout"`    // 拉取超时
	TTR               time.Duration `mapstructure:"ttr"`                // Time-To-Run
	ErrorBackoff      time.Duration `mapstructure:"error_backoff"`      // 拉取错误退避
	TaskTimeout       time.Duration `mapstructure:"task_timeout"`       // 单个注文处理超时
}

// SchedulerConfig 定时批处理配置
type SchedulerConfig struct {
	CronSpec   string `mapstructure:"cron_spec"`   // 例: "*/5 * * * *"
	BatchLimit int    `mapstructure:"batch_limit"` // 单次扫描处理上限
}

// RetryConfig 阶段重试策略（只对可重试错误生效）
type RetryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Backoff  time.Duration `mapstructure:"backoff"`
}

// Load 加载配置文件（支持环境变量覆盖，前缀 FORTUNE_）
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("FORTUNE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults 设置默认值
func setDefaults() {
	viper.SetDefault("app.name", "ai-fortune-service")
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("store.data_dir", "./data")
	viper.SetDefault("claude.model", "claude-3-5-sonnet-20241022")
	viper.SetDefault("claude.max_tokens", 4000)
	viper.SetDefault("claude.timeout", "120s")
	viper.SetDefault("claude.input_cost_per_mtok", 3.0)
	viper.SetDefault("claude.output_cost_per_mtok", 15.0)
	viper.SetDefault("claude.exchange_rate", 150.0)
	viper.SetDefault("pdf.output_dir", "./data/pdfs")
	viper.SetDefault("email.port", 587)
	viper.SetDefault("email.from", "fortune@example.com")
	viper.SetDefault("email.from_name", "AI占いサービス")
	viper.SetDefault("email.timeout", 60*time.Second)
	viper.SetDefault("redis.channel", "fortune_order_complete")
	viper.SetDefault("lmstfy.queue", "fortune_orders")
	viper.SetDefault("worker.subscriber_threads", 1)
	viper.SetDefault("worker.processor_threads", 2)
	viper.SetDefault("worker.buffer_size", 16)
	viper.SetDefault("worker.consume_timeout", "3s")
	viper.SetDefault("worker.ttr", "300s")
	viper.SetDefault("worker.error_backoff", "2s")
	viper.SetDefault("worker.task_timeout", "300s")
	viper.SetDefault("scheduler.cron_spec", "*/5 * * * *")
	viper.SetDefault("scheduler.batch_limit", 5)
	viper.SetDefault("retry.attempts", 3)
	viper.SetDefault("retry.backoff", "2s")
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	if !c.Claude.Stub && c.Claude.APIKey == "" {
		return fmt.Errorf("claude.api_key is required when claude.stub is disabled")
	}
	if !c.Email.Simulate && c.Email.Host == "" {
		return fmt.Errorf("email.host is required when email.simulate is disabled")
	}
	if c.Scheduler.BatchLimit <= 0 {
		return fmt.Errorf("scheduler.batch_limit must be positive")
	}
	if c.Retry.Attempts <= 0 {
		return fmt.Errorf("retry.attempts must be positive")
	}
	return nil
}

// IsProduction 是否生产环境
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
