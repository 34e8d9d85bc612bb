package notify

import (
	"fmt"
	"time"

	"github.com/tokmz/chatd/pkg/cache"
)

// Driver 投递方式
type Driver string

const (
	DriverNoop     Driver = "noop"
	DriverRedis    Driver = "redis"
	DriverKafka    Driver = "kafka"
	DriverRabbitMQ Driver = "rabbitmq"
	DriverWebhook  Driver = "webhook"
)

// Config 事件发布配置
type Config struct {
	Driver   Driver   `mapstructure:"driver" yaml:"driver"`
	Channel  string   `mapstructure:"channel" yaml:"channel"` // redis 频道
	Brokers  []string `mapstructure:"brokers" yaml:"brokers"` // kafka
	Topic    string   `mapstructure:"topic" yaml:"topic"`
	URL      string   `mapstructure:"url" yaml:"url"` // amqp://
	Exchange string   `mapstructure:"exchange" yaml:"exchange"`

	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"` // 异步投递队列，0 为同步

	// webhook
	WebhookURL     string        `mapstructure:"webhook_url" yaml:"webhook_url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout" yaml:"webhook_timeout"`
	MaxAttempts    uint          `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// DefaultConfig 默认不投递
func DefaultConfig() *Config {
	return &Config{
		Driver:   DriverNoop,
		Channel:  "chatd:events",
		Topic:    "chatd.events",
		Exchange: "chatd.events",

		QueueSize:      1024,
		WebhookTimeout: 5 * time.Second,
		MaxAttempts:    3,
	}
}

// NewSink 按配置创建投递目标，redis 方式复用缓存存储
func NewSink(cfg *Config, store cache.Store) (Sink, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	switch cfg.Driver {
	case "", DriverNoop:
		return NoopSink{}, nil
	case DriverRedis:
		if store == nil {
			return nil, fmt.Errorf("notify: redis driver requires a cache store")
		}
		return NewCacheSink(store, cfg.Channel), nil
	case DriverKafka:
		if len(cfg.Brokers) == 0 {
			return nil, fmt.Errorf("notify: kafka driver requires brokers")
		}
		return NewKafkaSink(cfg.Brokers, cfg.Topic)
	case DriverRabbitMQ:
		if cfg.URL == "" {
			return nil, fmt.Errorf("notify: rabbitmq driver requires url")
		}
		return NewAMQPSink(cfg.URL, cfg.Exchange)
	case DriverWebhook:
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("notify: webhook driver requires webhook_url")
		}
		return NewWebhookSink(cfg.WebhookURL,
			WithTimeout(cfg.WebhookTimeout),
			WithMaxAttempts(cfg.MaxAttempts),
		), nil
	default:
		return nil, fmt.Errorf("notify: unsupported driver %q", cfg.Driver)
	}
}
