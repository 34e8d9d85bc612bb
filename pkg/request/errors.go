package request

import (
	"net/http"

	"github.com/tokmz/chatd/pkg/errors"
)

// 4000 段错误码
var (
	// ErrRequestFailed 请求未得到响应
	ErrRequestFailed = errors.New(4001, http.StatusBadGateway, "request failed", nil)
	// ErrStatus 对端返回错误状态码
	ErrStatus = errors.New(4002, http.StatusBadGateway, "unexpected response status", nil)
	// ErrInvalidRequest 无法构造请求
	ErrInvalidRequest = errors.New(4003, http.StatusBadRequest, "invalid request", nil)
)
