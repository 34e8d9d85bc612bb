// Package request 出站 HTTP 客户端：默认请求头、指数退避重试与链路追踪
package request

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/tokmz/chatd/pkg/logger"
)

// maxBodySize 响应体读取上限
const maxBodySize = 1 << 20

// Client HTTP 客户端
type Client struct {
	cfg    *Config
	client *http.Client
	logger logger.Logger
}

// New 创建客户端
func New(opts ...Option) *Client {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	transport := cfg.buildTransport()
	if cfg.EnableTracing {
		transport = newTracingTransport(transport)
	}
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		logger: l,
	}
}

// Post 发送 POST 请求
func (c *Client) Post(ctx context.Context, url string, body []byte, headers map[string]string) (*Response, error) {
	return c.Do(ctx, http.MethodPost, url, body, headers)
}

// Do 发送请求。非 2xx 返回 ErrStatus 且 Response 非空；
// 配置了重试时按 RetryIf 判定，4xx 等不可重试结果立即返回。
func (c *Client) Do(ctx context.Context, method, url string, body []byte, headers map[string]string) (*Response, error) {
	if c.cfg.Retry == nil {
		resp, err := c.doOnce(ctx, method, url, body, headers)
		if resp != nil {
			resp.Attempts = 1
		}
		return resp, err
	}

	rc := c.cfg.Retry.normalized()
	var attempts uint
	resp, err := backoff.Retry(ctx, func() (*Response, error) {
		attempts++
		resp, err := c.doOnce(ctx, method, url, body, headers)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrInvalidRequest) && rc.RetryIf(resp, err) {
			c.logger.DebugContext(ctx, "http request will retry",
				zap.String("method", method),
				zap.Uint("attempt", attempts),
				zap.Error(err),
			)
			return resp, err
		}
		return resp, backoff.Permanent(err)
	}, backoff.WithBackOff(rc.backOff()), backoff.WithMaxTries(rc.MaxAttempts))
	if resp != nil {
		resp.Attempts = attempts
	}
	return resp, err
}

func (c *Client) doOnce(ctx context.Context, method, url string, body []byte, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, ErrInvalidRequest.WithError(err)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	httpResp, err := c.client.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "http request failed",
			zap.String("method", method),
			zap.String("url", req.URL.Redacted()),
			zap.Error(err),
		)
		return nil, ErrRequestFailed.WithError(err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, ErrRequestFailed.WithError(err)
	}
	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       data,
		Duration:   time.Since(start),
	}
	if resp.IsError() {
		return resp, ErrStatus.WithMessage(fmt.Sprintf("unexpected response status %d", resp.StatusCode))
	}
	return resp, nil
}

// Close 释放空闲连接
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}
