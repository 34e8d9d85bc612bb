// Package notify 领域事件发布
//
// 消息创建、编辑、删除以及用户上下线时发布事件，供进程外的订阅方消费。
// 发布是尽力而为的，失败只记录日志，不影响实时消息链路。
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tokmz/chatd/pkg/logger"
)

// Type 事件类型
type Type string

const (
	MessageCreated Type = "message.created"
	MessageUpdated Type = "message.updated"
	MessageDeleted Type = "message.deleted"
	UserOnline     Type = "user.online"
	UserOffline    Type = "user.offline"
)

// Event 领域事件
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	RoomID     int64     `json:"room_id,omitempty"`
	UserID     int64     `json:"user_id"`
	Payload    any       `json:"payload,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink 事件投递目标
type Sink interface {
	Send(ctx context.Context, e *Event, body []byte) error
	Close() error
}

// Publisher 事件发布器
type Publisher struct {
	sink   Sink
	logger logger.Logger

	queueSize int
	queue     chan queued
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
}

type queued struct {
	ctx   context.Context
	event Event
}

// Option 选项
type Option func(*Publisher)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithQueue Notify 改为入队后由后台协程投递，队列满时丢弃
func WithQueue(size int) Option {
	return func(p *Publisher) { p.queueSize = size }
}

// NewPublisher 创建发布器，sink 为 nil 时丢弃全部事件
func NewPublisher(sink Sink, opts ...Option) *Publisher {
	if sink == nil {
		sink = NoopSink{}
	}
	p := &Publisher{sink: sink, logger: logger.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.queueSize > 0 {
		p.queue = make(chan queued, p.queueSize)
		p.done = make(chan struct{})
		go p.drain()
	}
	return p
}

func (p *Publisher) drain() {
	defer close(p.done)
	for q := range p.queue {
		p.notify(q.ctx, q.event)
	}
}

// Publish 补全 ID 与时间后投递
func (p *Publisher) Publish(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %w", e.Type, err)
	}
	if err := p.sink.Send(ctx, &e, body); err != nil {
		return fmt.Errorf("notify: send %s: %w", e.Type, err)
	}
	return nil
}

// Notify 尽力发布，失败只记日志
func (p *Publisher) Notify(ctx context.Context, e Event) {
	if p.queue == nil {
		p.notify(ctx, e)
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- queued{ctx: context.WithoutCancel(ctx), event: e}:
	default:
		p.logger.WarnContext(ctx, "event queue full, dropping", zap.String("type", string(e.Type)))
	}
}

func (p *Publisher) notify(ctx context.Context, e Event) {
	if err := p.Publish(ctx, e); err != nil {
		p.logger.WarnContext(ctx, "publish event failed",
			zap.String("type", string(e.Type)),
			zap.Int64("room_id", e.RoomID),
			zap.Error(err),
		)
	}
}

// Close 投递完队列中的事件后关闭投递目标
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.queue != nil {
		close(p.queue)
	}
	p.mu.Unlock()

	if p.done != nil {
		<-p.done
	}
	return p.sink.Close()
}

// Decode 解析事件
func Decode(body []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("notify: decode: %w", err)
	}
	return &e, nil
}

// NoopSink 丢弃事件
type NoopSink struct{}

func (NoopSink) Send(context.Context, *Event, []byte) error { return nil }
func (NoopSink) Close() error                               { return nil }
