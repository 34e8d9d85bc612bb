package request

import (
	"net/http"
	"time"
)

// Response HTTP 响应
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Attempts   uint // 实际尝试次数
}

// IsSuccess 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsError 4xx/5xx
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}
