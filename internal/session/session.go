// Package session 单个 WebSocket 连接的房间会话协议
//
// 状态：鉴权 -> 接入 -> 接收循环 -> 关闭。每个连接一个协程，按到达顺序逐帧处理；
// 无论从哪条路径退出，注册表、在线状态与持久层会话都会被释放。
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/tokmz/chatd/internal/event"
	"github.com/tokmz/chatd/internal/hub"
	"github.com/tokmz/chatd/internal/msgcache"
	"github.com/tokmz/chatd/internal/notify"
	"github.com/tokmz/chatd/internal/presence"
	"github.com/tokmz/chatd/internal/store"
	pkgerrors "github.com/tokmz/chatd/pkg/errors"
	"github.com/tokmz/chatd/pkg/logger"
	"github.com/tokmz/chatd/pkg/ws"
)

// 关闭原因
const (
	reasonInvalidToken   = "Invalid token"
	reasonTokenExpired   = "Token expired"
	reasonUserNotFound   = "User not found"
	reasonUserInactive   = "Inactive user"
	reasonRoomNotFound   = "Room not found"
	reasonNotParticipant = "Not a participant"
	reasonServerError    = "Internal error"
	reasonShutdown       = "server shutdown"
)

// 私有错误事件文本
const (
	errInvalidFormat = "Invalid message format (must be JSON)"
	errUnknownType   = "Unknown event type: %s"
	errSaveFailed    = "Error saving message"
	errEmptyContent  = "Message content cannot be empty"
	errContentTooBig = "Message content too long"
)

// Authenticator 令牌校验与用户查询
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*store.User, error)
}

// Rooms 房间与成员查询
type Rooms interface {
	RoomByID(ctx context.Context, id int64) (*store.ChatRoom, error)
	IsParticipant(ctx context.Context, roomID, userID int64) (bool, error)
}

// Persistence 连接期间持有的持久层会话
type Persistence interface {
	CreateMessage(ctx context.Context, roomID, userID int64, content string) (*store.Message, error)
	Close()
}

// Opener 为每个连接打开持久层会话
type Opener func(ctx context.Context) Persistence

// Config 会话协议配置
type Config struct {
	EnforceParticipancy bool `mapstructure:"enforce_participancy" yaml:"enforce_participancy"`
	MaxContentLength    int  `mapstructure:"max_content_length" yaml:"max_content_length"`
	InboundRate         int  `mapstructure:"inbound_rate" yaml:"inbound_rate"` // 每秒入站帧数，0 不限制
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		EnforceParticipancy: true,
		MaxContentLength:    4000,
	}
}

// Deps 会话依赖
type Deps struct {
	Registry  *hub.Registry
	Presence  *presence.Tracker
	Messages  *msgcache.Cache
	Auth      Authenticator
	Rooms     Rooms
	Open      Opener
	Publisher *notify.Publisher
}

// Handler 接受 WebSocket 连接并运行会话
type Handler struct {
	Deps
	config   *Config
	wsConfig *ws.Config
	upgrader *ws.Upgrader
	metrics  ws.Metrics
	logger   logger.Logger

	mu       sync.Mutex
	draining bool
	sessions sync.WaitGroup
}

// Option 选项
type Option func(*Handler)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithConfig 设置会话配置
func WithConfig(c *Config) Option {
	return func(h *Handler) {
		if c != nil {
			h.config = c
		}
	}
}

// WithWSConfig 设置传输配置
func WithWSConfig(c *ws.Config) Option {
	return func(h *Handler) {
		if c != nil {
			h.wsConfig = c
		}
	}
}

// NewHandler 创建会话处理器
func NewHandler(deps Deps, opts ...Option) *Handler {
	h := &Handler{
		Deps:     deps,
		config:   DefaultConfig(),
		wsConfig: ws.DefaultConfig(),
		logger:   logger.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.Publisher == nil {
		h.Publisher = notify.NewPublisher(nil)
	}
	h.upgrader = ws.NewUpgrader(h.wsConfig)
	h.metrics = h.wsConfig.Metrics
	if h.metrics == nil {
		h.metrics = ws.NoopMetrics{}
	}
	return h
}

// Serve 升级连接并运行会话直到连接关闭
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, roomID int64, token string) {
	raw, err := h.upgrader.Upgrade(w, r)
	if err != nil {
		// Upgrade 已写回错误响应
		h.logger.Warn("websocket upgrade failed", zap.Int64("room_id", roomID), zap.Error(err))
		return
	}
	conn := ws.NewConn(raw, h.wsConfig)

	ctx := logger.WithRoomID(context.WithoutCancel(r.Context()), roomID)
	ctx = logger.WithConnID(ctx, conn.ID())
	h.Run(ctx, conn, roomID, token)
}

// Run 在已升级的连接上运行会话协议，返回时注册表与在线状态均已清理
func (h *Handler) Run(ctx context.Context, conn *ws.Conn, roomID int64, token string) {
	if !h.enter() {
		conn.CloseWithCode(ws.CloseGoingAway, reasonShutdown)
		return
	}
	defer h.sessions.Done()

	persistence := h.Open(ctx)
	defer persistence.Close()

	user, reason := h.authenticate(ctx, roomID, token)
	if user == nil {
		conn.CloseWithCode(ws.ClosePolicyViolation, reason)
		return
	}
	ctx = logger.WithUID(ctx, user.ID)

	s := &session{
		handler:     h,
		conn:        conn,
		persistence: persistence,
		roomID:      roomID,
		userID:      user.ID,
		username:    user.Username,
		limiter:     ratelimit.NewUnlimited(),
	}
	if h.config.InboundRate > 0 {
		s.limiter = ratelimit.New(h.config.InboundRate)
	}
	s.run(ctx)
}

func (h *Handler) enter() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.sessions.Add(1)
	return true
}

func (h *Handler) isDraining() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.draining
}

// Shutdown 拒绝新会话，以 1001 关闭全部连接并等待会话退出
func (h *Handler) Shutdown(ctx context.Context) (int, error) {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()

	n := h.Registry.CloseAll(ws.CloseGoingAway, reasonShutdown)

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return n, nil
	case <-ctx.Done():
		return n, fmt.Errorf("sessions: %w", ctx.Err())
	}
}

// authenticate 返回 nil 用户时附带关闭原因
func (h *Handler) authenticate(ctx context.Context, roomID int64, token string) (*store.User, string) {
	user, err := h.Auth.Authenticate(ctx, token)
	if err != nil {
		reason := reasonServerError
		switch {
		case pkgerrors.Is(err, pkgerrors.ErrInvalidToken):
			reason = reasonInvalidToken
		case pkgerrors.Is(err, pkgerrors.ErrTokenExpired):
			reason = reasonTokenExpired
		case pkgerrors.Is(err, pkgerrors.ErrUserNotFound):
			reason = reasonUserNotFound
		case pkgerrors.Is(err, pkgerrors.ErrUserInactive):
			reason = reasonUserInactive
		default:
			h.logger.ErrorContext(ctx, "authenticate websocket failed", zap.Error(err))
		}
		h.logger.InfoContext(ctx, "websocket rejected", zap.String("reason", reason))
		return nil, reason
	}

	if !h.config.EnforceParticipancy {
		return user, ""
	}
	if _, err := h.Rooms.RoomByID(ctx, roomID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, reasonRoomNotFound
		}
		h.logger.ErrorContext(ctx, "load room failed", zap.Error(err))
		return nil, reasonServerError
	}
	ok, err := h.Rooms.IsParticipant(ctx, roomID, user.ID)
	if err != nil {
		h.logger.ErrorContext(ctx, "check participant failed", zap.Error(err))
		return nil, reasonServerError
	}
	if !ok {
		h.logger.InfoContext(ctx, "websocket rejected", zap.String("reason", reasonNotParticipant), zap.Int64("uid", user.ID))
		return nil, reasonNotParticipant
	}
	return user, ""
}

// session 一个已鉴权连接的会话状态
type session struct {
	handler     *Handler
	conn        *ws.Conn
	persistence Persistence
	limiter     ratelimit.Limiter

	roomID   int64
	userID   int64
	username string
	connID   string
}

func (s *session) run(ctx context.Context) {
	h := s.handler
	defer func() {
		if r := recover(); r != nil {
			h.logger.ErrorContext(ctx, "session panic", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	s.conn.Start()
	defer func() {
		s.conn.Close()
		s.conn.Wait()
	}()

	connID, err := h.Registry.Register(s.conn, s.roomID, s.userID, s.username)
	if err != nil {
		h.logger.WarnContext(ctx, "register connection failed", zap.Error(err))
		return
	}
	s.connID = connID
	defer h.Registry.Unregister(s.roomID, connID)
	if h.isDraining() {
		// 在 CloseAll 之后才完成注册
		s.conn.CloseWithCode(ws.CloseGoingAway, reasonShutdown)
		return
	}

	if _, err := h.Presence.AddConnection(ctx, s.userID, connID); err != nil {
		h.logger.ErrorContext(ctx, "add presence failed", zap.Error(err))
		s.conn.CloseWithCode(ws.CloseInternalError, reasonServerError)
		return
	}
	defer s.removePresence(ctx)

	h.logger.InfoContext(ctx, "websocket connected", zap.String("username", s.username))
	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			if !ws.IsNormalClose(err) && !s.conn.IsClosed() {
				h.logger.DebugContext(ctx, "websocket read ended", zap.Error(err))
			}
			break
		}
		s.limiter.Take()
		if err := s.dispatch(ctx, data); err != nil {
			h.logger.DebugContext(ctx, "connection treated as dead", zap.Error(err))
			break
		}
	}
	h.logger.InfoContext(ctx, "websocket disconnected")
}

func (s *session) removePresence(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := s.handler.Presence.RemoveConnection(ctx, s.userID, s.connID); err != nil {
		s.handler.logger.ErrorContext(ctx, "remove presence failed", zap.Error(err))
	}
}

// dispatch 处理一帧；返回错误表示私发失败，连接应被关闭
func (s *session) dispatch(ctx context.Context, data []byte) error {
	frame, err := event.ParseFrame(data)
	if err != nil {
		s.handler.metrics.IncrementInvalidMessages()
		return s.reply(event.Error{Message: errInvalidFormat})
	}

	switch frame.Type {
	case event.TypeMessage:
		return s.submit(ctx, frame.Content)
	case event.TypeTyping:
		s.handler.Registry.Broadcast(s.roomID, event.Typing{
			UserID:   s.userID,
			Username: s.username,
			IsTyping: frame.Typing(),
		}, s.connID)
		return nil
	case event.TypePing:
		return s.reply(event.Pong{})
	default:
		s.handler.metrics.IncrementInvalidMessages()
		return s.reply(event.Error{Message: fmt.Sprintf(errUnknownType, frame.Type)})
	}
}

func (s *session) reply(e event.Event) error {
	return s.handler.Registry.SendTo(s.roomID, s.connID, e)
}

// submit 校验、持久化、确认并广播一条消息
func (s *session) submit(ctx context.Context, content string) error {
	h := s.handler
	if strings.TrimSpace(content) == "" {
		h.metrics.IncrementInvalidMessages()
		return s.reply(event.Error{Message: errEmptyContent})
	}
	if max := h.config.MaxContentLength; max > 0 && utf8.RuneCountInString(content) > max {
		h.metrics.IncrementInvalidMessages()
		return s.reply(event.Error{
			Message: errContentTooBig,
			Details: fmt.Sprintf("max %d characters", max),
		})
	}

	stored, err := s.persistence.CreateMessage(ctx, s.roomID, s.userID, content)
	if err != nil {
		h.logger.ErrorContext(ctx, "save message failed", zap.Error(err))
		return s.reply(event.Error{Message: errSaveFailed, Details: err.Error()})
	}

	snapshot := stored.Snapshot(s.username)

	if _, err := h.Messages.AppendIfWarm(ctx, s.roomID, snapshot); err != nil {
		h.logger.WarnContext(ctx, "append message cache failed", zap.Int64("message_id", snapshot.ID), zap.Error(err))
	}

	ackErr := s.reply(event.MessageSent{MessageID: snapshot.ID, Timestamp: snapshot.CreatedAt})
	// 确认失败时消息已落库，其余成员仍应收到
	h.Registry.Broadcast(s.roomID, event.Message{Message: snapshot}, "")

	h.Publisher.Notify(ctx, notify.Event{
		Type:    notify.MessageCreated,
		RoomID:  s.roomID,
		UserID:  s.userID,
		Payload: snapshot,
	})
	return ackErr
}
