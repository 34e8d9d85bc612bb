// Package server HTTP 与 WebSocket 入口
package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/chatd/internal/auth"
	"github.com/tokmz/chatd/internal/hub"
	"github.com/tokmz/chatd/internal/msgcache"
	"github.com/tokmz/chatd/internal/notify"
	"github.com/tokmz/chatd/internal/presence"
	"github.com/tokmz/chatd/internal/session"
	"github.com/tokmz/chatd/internal/store"
	"github.com/tokmz/chatd/pkg/logger"
	"github.com/tokmz/chatd/pkg/tracing"
)

// Authenticator 令牌校验与用户查询
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*store.User, error)
}

// Deps 处理器依赖
type Deps struct {
	Store     *store.Store
	Tokens    *auth.TokenManager
	Passwords *auth.PasswordHasher
	Auth      Authenticator
	Registry  *hub.Registry
	Presence  *presence.Tracker
	Messages  *msgcache.Cache
	Publisher *notify.Publisher
	Sessions  *session.Handler
}

// Server HTTP 服务
type Server struct {
	Deps
	config *Config
	engine *gin.Engine
	http   *http.Server
	logger logger.Logger

	maxContentLength int
}

// Option 选项
type Option func(*Server)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxContentLength 编辑消息时的内容长度上限（字符数）
func WithMaxContentLength(n int) Option {
	return func(s *Server) { s.maxContentLength = n }
}

// New 创建服务并注册路由
func New(deps Deps, cfg *Config, opts ...Option) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		Deps:             deps,
		config:           cfg,
		logger:           logger.NewNop(),
		maxContentLength: session.DefaultConfig().MaxContentLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Publisher == nil {
		s.Publisher = notify.NewPublisher(nil)
	}

	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	engine := gin.New()
	// 为空时不信任任何代理头
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		s.logger.Warn("set trusted proxies failed", zap.Error(err))
	}
	s.engine = engine
	s.routes()

	s.http = &http.Server{
		Addr:           cfg.Addr,
		Handler:        engine,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}
	return s
}

func (s *Server) routes() {
	e := s.engine
	e.Use(
		requestID(),
		recovery(s.logger),
		tracing.Middleware(tracing.WithFilter(func(c *gin.Context) bool {
			// 长连接不建 Span
			return c.FullPath() != "/ws/:room_id"
		})),
		accessLog(s.logger, "/health"),
		cors(s.config.CORSOrigins),
	)

	e.GET("/health", s.health)
	e.GET("/ws/stats", handleOnly(s.wsStats))
	e.GET("/cache/stats", handleOnly(s.cacheStats))
	e.GET("/ws/:room_id", s.websocket)

	api := e.Group("/api/v1", timeout(s.config.RequestTimeout))
	if s.config.Compression {
		api.Use(compress(s.config.CompressionLevel, s.config.CompressMinLength))
	}
	account := api.Group("/auth", rateLimit(s.config.AuthRateLimit, s.config.AuthRateWindow))
	account.POST("/register", handle(s.register))
	account.POST("/login", handle(s.login))

	authed := api.Group("", requireAuth(s.Auth))
	authed.POST("/rooms", handle(s.createRoom))
	authed.DELETE("/rooms/:room_id", handle0(s.deleteRoom))
	authed.GET("/rooms/:room_id/messages/latest", handle(s.latestMessages))
	authed.PUT("/messages/:message_id", handle(s.updateMessage))
	authed.DELETE("/messages/:message_id", handle0(s.deleteMessage))
	authed.GET("/users/online", handleOnly(s.onlineUsers))
	authed.GET("/users/:user_id/presence", handleOnly(s.userPresence))
}

// Handler 根处理器
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr 监听地址
func (s *Server) Addr() string {
	return s.config.Addr
}

// Serve 在 ln 上提供服务，Shutdown 后返回 nil
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe 监听配置地址
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown 停止接受新请求并等待进行中的请求结束。
// 已升级的 WebSocket 连接不受影响，由注册表单独关闭。
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
