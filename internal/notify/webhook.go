package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tokmz/chatd/pkg/request"
)

// WebhookSink 以 HTTP POST 投递事件，网络错误和 5xx 按指数退避重试，4xx 不重试
type WebhookSink struct {
	url    string
	client *request.Client
}

type webhookOptions struct {
	timeout   time.Duration
	retry     request.RetryConfig
	transport http.RoundTripper
}

// WebhookOption 选项
type WebhookOption func(*webhookOptions)

// WithTimeout 单次请求超时
func WithTimeout(d time.Duration) WebhookOption {
	return func(o *webhookOptions) { o.timeout = d }
}

// WithMaxAttempts 最大尝试次数，含首次
func WithMaxAttempts(n uint) WebhookOption {
	return func(o *webhookOptions) {
		if n > 0 {
			o.retry.MaxAttempts = n
		}
	}
}

// WithTransport 自定义 Transport
func WithTransport(t http.RoundTripper) WebhookOption {
	return func(o *webhookOptions) { o.transport = t }
}

// WithBackoff 退避区间
func WithBackoff(initial, max time.Duration) WebhookOption {
	return func(o *webhookOptions) {
		o.retry.InitialDelay = initial
		o.retry.MaxDelay = max
	}
}

// NewWebhookSink 创建 webhook 投递
func NewWebhookSink(url string, opts ...WebhookOption) *WebhookSink {
	o := &webhookOptions{
		timeout: 5 * time.Second,
		retry: request.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(o)
	}

	copts := []request.Option{
		request.WithTimeout(o.timeout),
		request.WithHeader("Content-Type", "application/json"),
		request.WithRetry(&o.retry),
	}
	if o.transport != nil {
		copts = append(copts, request.WithTransport(o.transport))
	}
	return &WebhookSink{url: url, client: request.New(copts...)}
}

func (s *WebhookSink) Send(ctx context.Context, e *Event, body []byte) error {
	_, err := s.client.Post(ctx, s.url, body, map[string]string{
		"X-Chatd-Event":    string(e.Type),
		"X-Chatd-Event-ID": e.ID,
	})
	if err != nil {
		return fmt.Errorf("notify: webhook: %w", err)
	}
	return nil
}

func (s *WebhookSink) Close() error {
	s.client.Close()
	return nil
}
