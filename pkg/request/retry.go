package request

import (
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig 重试配置，按指数退避（带抖动）
type RetryConfig struct {
	MaxAttempts  uint                                 // 最大尝试次数，含首次（默认 3）
	InitialDelay time.Duration                        // 初始退避（默认 100ms）
	MaxDelay     time.Duration                        // 最大退避（默认 5s）
	RetryIf      func(resp *Response, err error) bool // 自定义重试条件
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		RetryIf:      defaultRetryIf,
	}
}

// defaultRetryIf 未得到响应或 5xx
func defaultRetryIf(resp *Response, err error) bool {
	if resp == nil {
		return err != nil
	}
	return resp.StatusCode >= http.StatusInternalServerError
}

func (rc RetryConfig) normalized() RetryConfig {
	if rc.MaxAttempts == 0 {
		rc.MaxAttempts = 3
	}
	if rc.InitialDelay <= 0 {
		rc.InitialDelay = 100 * time.Millisecond
	}
	if rc.MaxDelay <= 0 {
		rc.MaxDelay = 5 * time.Second
	}
	if rc.RetryIf == nil {
		rc.RetryIf = defaultRetryIf
	}
	return rc
}

func (rc RetryConfig) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = rc.InitialDelay
	b.MaxInterval = rc.MaxDelay
	return b
}
