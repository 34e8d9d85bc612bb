package request

import (
	"net/http"
	"time"

	"github.com/tokmz/chatd/pkg/logger"
)

// Config HTTP 客户端配置
type Config struct {
	Timeout             time.Duration     // 单次请求超时（默认 10s）
	Headers             map[string]string // 默认请求头
	MaxIdleConnsPerHost int               // 每 Host 最大空闲连接（默认 10）
	IdleConnTimeout     time.Duration     // 空闲连接超时（默认 90s）
	Retry               *RetryConfig      // nil 不重试
	EnableTracing       bool              // 客户端 span 与 trace header 注入
	Transport           http.RoundTripper // 自定义 Transport（覆盖连接池配置）
	Logger              logger.Logger
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Timeout:             10 * time.Second,
		Headers:             make(map[string]string),
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		EnableTracing:       true,
	}
}

func (c *Config) buildTransport() http.RoundTripper {
	if c.Transport != nil {
		return c.Transport
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConnsPerHost = c.MaxIdleConnsPerHost
	t.IdleConnTimeout = c.IdleConnTimeout
	return t
}

// Option 配置选项
type Option func(*Config)

// WithTimeout 设置单次请求超时
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithHeader 设置默认请求头
func WithHeader(key, value string) Option {
	return func(c *Config) { c.Headers[key] = value }
}

// WithRetry 设置重试
func WithRetry(r *RetryConfig) Option {
	return func(c *Config) { c.Retry = r }
}

// WithTracing 启用链路追踪
func WithTracing(enable bool) Option {
	return func(c *Config) { c.EnableTracing = enable }
}

// WithTransport 自定义 Transport
func WithTransport(t http.RoundTripper) Option {
	return func(c *Config) { c.Transport = t }
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
