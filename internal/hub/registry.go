// Package hub 进程内连接注册表
//
// 维护 房间 -> 连接 的映射，提供定向发送与带排除的房间广播。广播遍历的是房间连接的快照，
// 发送失败的连接在整轮广播结束后统一注销，单个失效连接不会影响其他连接的投递。
package hub

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/chatd/internal/event"
	"github.com/tokmz/chatd/internal/model"
	"github.com/tokmz/chatd/pkg/logger"
	"github.com/tokmz/chatd/pkg/ws"
)

// ErrConnNotFound 连接不在注册表中
var ErrConnNotFound = errors.New("hub: connection not found")

// Sender 注册表持有的连接句柄，*ws.Conn 满足此接口
type Sender interface {
	ID() string
	Send(data []byte) error
	Close()
}

type closerWithCode interface {
	CloseWithCode(code int, reason string)
}

// Client 注册表中的一条连接
type Client struct {
	ConnID   string
	RoomID   int64
	UserID   int64
	Username string

	sender Sender
}

// RoomStats 单个房间统计
type RoomStats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
}

// Stats 注册表统计快照
type Stats struct {
	TotalConnections int                 `json:"total_connections"`
	TotalRooms       int                 `json:"total_rooms"`
	Rooms            map[int64]RoomStats `json:"rooms"`
}

// Registry 连接注册表，每个进程构造一次并注入到各连接会话
type Registry struct {
	mu    sync.RWMutex
	rooms map[int64]map[string]*Client

	logger       logger.Logger
	metrics      ws.Metrics
	onRegister   func(c Client)
	onUnregister func(c Client)
}

// Option 注册表选项
type Option func(*Registry)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics 设置监控
func WithMetrics(m ws.Metrics) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithOnRegister 连接加入后回调
func WithOnRegister(fn func(c Client)) Option {
	return func(r *Registry) { r.onRegister = fn }
}

// WithOnUnregister 连接移除后回调
func WithOnUnregister(fn func(c Client)) Option {
	return func(r *Registry) { r.onUnregister = fn }
}

// New 创建注册表
func New(opts ...Option) *Registry {
	r := &Registry{
		rooms:   make(map[int64]map[string]*Client),
		logger:  logger.NewNop(),
		metrics: ws.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register 加入房间：通知房间内其他连接，再向新连接私发 connected 及当前成员列表。
// 私发失败视为传输失败，连接会被移除并返回错误。
func (r *Registry) Register(s Sender, roomID, userID int64, username string) (string, error) {
	c := &Client{
		ConnID:   s.ID(),
		RoomID:   roomID,
		UserID:   userID,
		Username: username,
		sender:   s,
	}

	r.mu.Lock()
	conns, ok := r.rooms[roomID]
	if !ok {
		conns = make(map[string]*Client)
		r.rooms[roomID] = conns
	}
	hadPeers := len(conns) > 0
	conns[c.ConnID] = c
	roster := rosterLocked(conns, userID)
	r.mu.Unlock()

	r.logger.Debug("connection registered",
		zap.Int64("room_id", roomID),
		zap.Int64("uid", userID),
		zap.String("conn_id", c.ConnID),
	)
	if r.onRegister != nil {
		r.onRegister(*c)
	}

	if hadPeers {
		r.Broadcast(roomID, event.UserJoined{UserID: userID, Username: username}, c.ConnID)
	}

	if err := r.SendTo(roomID, c.ConnID, event.Connected{RoomID: roomID, ActiveUsers: roster}); err != nil {
		r.Unregister(roomID, c.ConnID)
		return "", err
	}
	return c.ConnID, nil
}

// Unregister 移除连接，重复调用无副作用。房间最后一个连接移除时房间一并删除，
// 否则向剩余连接广播 user_left。
func (r *Registry) Unregister(roomID int64, connID string) bool {
	r.mu.Lock()
	conns, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	c, ok := conns[connID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(conns, connID)
	remaining := len(conns)
	if remaining == 0 {
		delete(r.rooms, roomID)
	}
	r.mu.Unlock()

	r.logger.Debug("connection unregistered",
		zap.Int64("room_id", roomID),
		zap.Int64("uid", c.UserID),
		zap.String("conn_id", connID),
		zap.Int("remaining", remaining),
	)
	if r.onUnregister != nil {
		r.onUnregister(*c)
	}

	if remaining > 0 {
		r.Broadcast(roomID, event.UserLeft{UserID: c.UserID, Username: c.Username}, "")
	}
	return true
}

// SendTo 向单个连接发送事件
func (r *Registry) SendTo(roomID int64, connID string, e event.Event) error {
	r.mu.RLock()
	c, ok := r.rooms[roomID][connID]
	r.mu.RUnlock()
	if !ok {
		return ErrConnNotFound
	}

	data, err := event.Encode(e)
	if err != nil {
		return err
	}
	if err := c.sender.Send(data); err != nil {
		r.logger.Warn("send failed",
			zap.Int64("room_id", roomID),
			zap.String("conn_id", connID),
			zap.String("type", string(e.Type())),
			zap.Error(err),
		)
		return err
	}
	r.metrics.IncrementMessageCount(string(e.Type()))
	return nil
}

// Broadcast 向房间内除 exclude 外的所有连接发送事件，返回成功投递数。
// 发送失败的连接在本轮结束后注销并关闭。
func (r *Registry) Broadcast(roomID int64, e event.Event, exclude string) int {
	start := time.Now()
	targets := r.snapshot(roomID)
	if len(targets) == 0 {
		return 0
	}

	data, err := event.Encode(e)
	if err != nil {
		r.logger.Error("encode broadcast event failed", zap.String("type", string(e.Type())), zap.Error(err))
		return 0
	}

	var (
		delivered int
		dead      []*Client
	)
	for _, c := range targets {
		if c.ConnID == exclude {
			continue
		}
		if err := c.sender.Send(data); err != nil {
			r.logger.Warn("broadcast send failed",
				zap.Int64("room_id", roomID),
				zap.String("conn_id", c.ConnID),
				zap.Error(err),
			)
			dead = append(dead, c)
			continue
		}
		delivered++
		r.metrics.IncrementMessageCount(string(e.Type()))
	}
	r.metrics.RecordBroadcastLatency(time.Since(start))

	for _, c := range dead {
		if r.Unregister(roomID, c.ConnID) {
			c.sender.Close()
		}
	}
	return delivered
}

// RoomRoster 房间成员，同一用户的多个连接只出现一次
func (r *Registry) RoomRoster(roomID int64) []model.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return rosterLocked(r.rooms[roomID], 0)
}

// Connections 房间内连接数
func (r *Registry) Connections(roomID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// HasRoom 房间是否存在活跃连接
func (r *Registry) HasRoom(roomID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID]
	return ok
}

// Stats 统计快照
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		TotalRooms: len(r.rooms),
		Rooms:      make(map[int64]RoomStats, len(r.rooms)),
	}
	for roomID, conns := range r.rooms {
		users := make(map[int64]struct{}, len(conns))
		for _, c := range conns {
			users[c.UserID] = struct{}{}
		}
		s.TotalConnections += len(conns)
		s.Rooms[roomID] = RoomStats{Connections: len(conns), Users: len(users)}
	}
	return s
}

// CloseAll 以指定关闭码关闭全部连接并清空注册表，不再广播 user_left
func (r *Registry) CloseAll(code int, reason string) int {
	r.mu.Lock()
	var all []*Client
	for _, conns := range r.rooms {
		for _, c := range conns {
			all = append(all, c)
		}
	}
	r.rooms = make(map[int64]map[string]*Client)
	r.mu.Unlock()

	for _, c := range all {
		if cc, ok := c.sender.(closerWithCode); ok {
			cc.CloseWithCode(code, reason)
		} else {
			c.sender.Close()
		}
		if r.onUnregister != nil {
			r.onUnregister(*c)
		}
	}
	return len(all)
}

func (r *Registry) snapshot(roomID int64) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.rooms[roomID]
	out := make([]*Client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// rosterLocked 按用户去重，excludeUser 为 0 时不排除
func rosterLocked(conns map[string]*Client, excludeUser int64) []model.Member {
	seen := make(map[int64]struct{}, len(conns))
	out := make([]model.Member, 0, len(conns))
	for _, c := range conns {
		if c.UserID == excludeUser {
			continue
		}
		if _, ok := seen[c.UserID]; ok {
			continue
		}
		seen[c.UserID] = struct{}{}
		out = append(out, model.Member{UserID: c.UserID, Username: c.Username})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
