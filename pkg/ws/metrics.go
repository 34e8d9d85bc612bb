package ws

import (
	"sync/atomic"
	"time"
)

// Metrics 监控接口
type Metrics interface {
	IncrementConnections()
	DecrementConnections()
	IncrementMessageCount(msgType string)
	IncrementDroppedMessages()
	IncrementReadErrors()
	IncrementWriteErrors()
	IncrementInvalidMessages()
	RecordBroadcastLatency(d time.Duration)
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (NoopMetrics) IncrementConnections()                  {}
func (NoopMetrics) DecrementConnections()                  {}
func (NoopMetrics) IncrementMessageCount(string)           {}
func (NoopMetrics) IncrementDroppedMessages()              {}
func (NoopMetrics) IncrementReadErrors()                   {}
func (NoopMetrics) IncrementWriteErrors()                  {}
func (NoopMetrics) IncrementInvalidMessages()              {}
func (NoopMetrics) RecordBroadcastLatency(d time.Duration) {}

// CounterMetrics 原子计数实现，供诊断接口读取
type CounterMetrics struct {
	active        atomic.Int64
	accepted      atomic.Int64
	messages      atomic.Int64
	dropped       atomic.Int64
	readErrors    atomic.Int64
	writeErrors   atomic.Int64
	invalid       atomic.Int64
	broadcasts    atomic.Int64
	broadcastNano atomic.Int64
}

// CounterSnapshot 计数快照
type CounterSnapshot struct {
	ActiveConnections   int64   `json:"active_connections"`
	AcceptedConnections int64   `json:"accepted_connections"`
	Messages            int64   `json:"messages"`
	DroppedMessages     int64   `json:"dropped_messages"`
	ReadErrors          int64   `json:"read_errors"`
	WriteErrors         int64   `json:"write_errors"`
	InvalidMessages     int64   `json:"invalid_messages"`
	Broadcasts          int64   `json:"broadcasts"`
	AvgBroadcastMillis  float64 `json:"avg_broadcast_ms"`
}

func (m *CounterMetrics) IncrementConnections() {
	m.active.Add(1)
	m.accepted.Add(1)
}

func (m *CounterMetrics) DecrementConnections()        { m.active.Add(-1) }
func (m *CounterMetrics) IncrementMessageCount(string) { m.messages.Add(1) }
func (m *CounterMetrics) IncrementDroppedMessages()    { m.dropped.Add(1) }
func (m *CounterMetrics) IncrementReadErrors()         { m.readErrors.Add(1) }
func (m *CounterMetrics) IncrementWriteErrors()        { m.writeErrors.Add(1) }
func (m *CounterMetrics) IncrementInvalidMessages()    { m.invalid.Add(1) }

func (m *CounterMetrics) RecordBroadcastLatency(d time.Duration) {
	m.broadcasts.Add(1)
	m.broadcastNano.Add(int64(d))
}

// Snapshot 读取当前计数
func (m *CounterMetrics) Snapshot() CounterSnapshot {
	s := CounterSnapshot{
		ActiveConnections:   m.active.Load(),
		AcceptedConnections: m.accepted.Load(),
		Messages:            m.messages.Load(),
		DroppedMessages:     m.dropped.Load(),
		ReadErrors:          m.readErrors.Load(),
		WriteErrors:         m.writeErrors.Load(),
		InvalidMessages:     m.invalid.Load(),
		Broadcasts:          m.broadcasts.Load(),
	}
	if s.Broadcasts > 0 {
		s.AvgBroadcastMillis = float64(m.broadcastNano.Load()) / float64(s.Broadcasts) / float64(time.Millisecond)
	}
	return s
}
