package ws

import "errors"

// 错误定义
var (
	ErrConnectionClosed = errors.New("ws: connection closed")
	ErrSendQueueFull    = errors.New("ws: send queue full")
	ErrInvalidConfig    = errors.New("ws: invalid config")
)
