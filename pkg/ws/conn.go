package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// 关闭码
const (
	CloseNormalClosure   = websocket.CloseNormalClosure
	CloseGoingAway       = websocket.CloseGoingAway
	ClosePolicyViolation = websocket.ClosePolicyViolation
	CloseInternalError   = websocket.CloseInternalServerErr
)

// Transport 底层连接，*websocket.Conn 满足此接口
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Conn 带发送队列的 WebSocket 连接
type Conn struct {
	id        string
	transport Transport
	config    *Config
	metrics   Metrics

	send chan []byte

	lastPong atomic.Int64 // Unix 秒

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	writeDone chan struct{}
	startOnce sync.Once

	closeCode   int
	closeReason string
}

// NewConn 包装传输连接，调用 Start 后开始写协程
func NewConn(t Transport, config *Config) *Conn {
	if config == nil {
		config = DefaultConfig()
	}
	c := &Conn{
		id:        NewConnID(),
		transport: t,
		config:    config,
		metrics:   config.metrics(),
		send:      make(chan []byte, config.SendQueueSize),
		done:      make(chan struct{}),
		writeDone: make(chan struct{}),
		closeCode: CloseNormalClosure,
	}
	c.lastPong.Store(time.Now().Unix())
	return c
}

// ID 连接 ID
func (c *Conn) ID() string {
	return c.id
}

// Start 设置读限制与心跳并启动写协程，重复调用无副作用
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		c.metrics.IncrementConnections()
		c.transport.SetReadLimit(c.config.MaxMessageSize)
		_ = c.transport.SetReadDeadline(time.Now().Add(c.config.HeartbeatTimeout))
		c.transport.SetPongHandler(func(string) error {
			c.lastPong.Store(time.Now().Unix())
			return c.transport.SetReadDeadline(time.Now().Add(c.config.HeartbeatTimeout))
		})
		go c.writePump()
	})
}

// ReadMessage 读取下一帧数据，只能由一个协程调用
func (c *Conn) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := c.transport.ReadMessage()
		if err != nil {
			if !IsNormalClose(err) {
				c.metrics.IncrementReadErrors()
			}
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Send 非阻塞入队
func (c *Conn) Send(data []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		c.metrics.IncrementDroppedMessages()
		return ErrSendQueueFull
	}
}

// Close 正常关闭
func (c *Conn) Close() {
	c.CloseWithCode(CloseNormalClosure, "")
}

// CloseWithCode 以指定关闭码关闭，写协程负责发送关闭帧
func (c *Conn) CloseWithCode(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		c.closed.Store(true)
		close(c.done)
		c.startOnce.Do(func() {
			// 未启动写协程时直接关闭传输
			close(c.writeDone)
			_ = CloseTransport(c.transport, code, reason, c.config.WriteWait)
		})
	})
}

// Wait 等待写协程退出
func (c *Conn) Wait() {
	<-c.writeDone
}

// Done 关闭信号
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// IsClosed 是否已关闭
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// LastPong 最近一次收到 pong 的时间
func (c *Conn) LastPong() time.Time {
	return time.Unix(c.lastPong.Load(), 0)
}

// writePump 唯一的写协程
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.metrics.DecrementConnections()
		close(c.writeDone)
	}()

	for {
		select {
		case <-c.done:
			_ = CloseTransport(c.transport, c.closeCode, c.closeReason, c.config.WriteWait)
			return

		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.metrics.IncrementWriteErrors()
				c.abort()
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.metrics.IncrementWriteErrors()
				c.abort()
				return
			}
		}
	}
}

func (c *Conn) write(messageType int, data []byte) error {
	if err := c.transport.SetWriteDeadline(time.Now().Add(c.config.WriteWait)); err != nil {
		return err
	}
	return c.transport.WriteMessage(messageType, data)
}

// abort 写失败后标记关闭并断开传输，读端随之返回错误
func (c *Conn) abort() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
	_ = c.transport.Close()
}

// CloseTransport 发送关闭帧后关闭传输
func CloseTransport(t Transport, code int, reason string, wait time.Duration) error {
	if wait <= 0 {
		wait = time.Second
	}
	msg := websocket.FormatCloseMessage(code, reason)
	err := t.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wait))
	if cerr := t.Close(); err == nil {
		err = cerr
	}
	return err
}

// IsNormalClose 对端正常关闭或离开
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
