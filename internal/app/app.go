// Package app 组装并运行 chatd
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tokmz/chatd/internal/auth"
	"github.com/tokmz/chatd/internal/conf"
	"github.com/tokmz/chatd/internal/hub"
	"github.com/tokmz/chatd/internal/janitor"
	"github.com/tokmz/chatd/internal/msgcache"
	"github.com/tokmz/chatd/internal/notify"
	"github.com/tokmz/chatd/internal/presence"
	"github.com/tokmz/chatd/internal/server"
	"github.com/tokmz/chatd/internal/session"
	"github.com/tokmz/chatd/internal/store"
	"github.com/tokmz/chatd/pkg/cache"
	"github.com/tokmz/chatd/pkg/config"
	"github.com/tokmz/chatd/pkg/logger"
	"github.com/tokmz/chatd/pkg/orm"
	"github.com/tokmz/chatd/pkg/tracing"
	"github.com/tokmz/chatd/pkg/ws"
)

// App 进程内全部组件
type App struct {
	config *conf.Config
	source *config.Config
	logger logger.Logger

	tracer    *tracing.Provider
	cache     cache.Store
	db        *gorm.DB
	store     *store.Store
	publisher *notify.Publisher
	registry  *hub.Registry
	presence  *presence.Tracker
	messages  *msgcache.Cache
	metrics   *ws.CounterMetrics
	sessions  *session.Handler
	server    *server.Server
	janitor   *janitor.Janitor

	tracingOpts []tracing.Option
}

// Option 选项
type Option func(*App)

// WithLogger 使用外部 Logger，不再按配置创建
func WithLogger(l logger.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithSource 配置源，用于监听文件变更
func WithSource(src *config.Config) Option {
	return func(a *App) { a.source = src }
}

// WithCache 使用外部缓存存储，不再按配置创建；关闭时一并释放
func WithCache(store cache.Store) Option {
	return func(a *App) { a.cache = store }
}

// WithTracingOptions 透传给 tracing.New
func WithTracingOptions(opts ...tracing.Option) Option {
	return func(a *App) { a.tracingOpts = append(a.tracingOpts, opts...) }
}

// New 按配置创建全部组件，出错时释放已创建的资源
func New(ctx context.Context, cfg *conf.Config, opts ...Option) (a *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a = &App{config: cfg}
	for _, opt := range opts {
		opt(a)
	}
	defer func() {
		if err != nil {
			a.release(context.Background())
		}
	}()

	if a.logger == nil {
		if a.logger, err = logger.New(cfg.Log); err != nil {
			return nil, fmt.Errorf("app: logger: %w", err)
		}
	}
	if a.tracer, err = tracing.New(ctx, cfg.Tracing, a.tracingOpts...); err != nil {
		return nil, fmt.Errorf("app: tracing: %w", err)
	}
	if a.cache == nil {
		if a.cache, err = cache.New(cfg.Cache); err != nil {
			return nil, fmt.Errorf("app: cache: %w", err)
		}
	}
	if a.db, err = orm.Open(cfg.Database, orm.WithLogger(a.logger)); err != nil {
		return nil, fmt.Errorf("app: database: %w", err)
	}
	a.store = store.New(a.db)

	sink, err := notify.NewSink(cfg.Notify, a.cache)
	if err != nil {
		return nil, fmt.Errorf("app: notify: %w", err)
	}
	a.publisher = notify.NewPublisher(sink,
		notify.WithLogger(a.logger.Named("notify")),
		notify.WithQueue(cfg.Notify.QueueSize),
	)

	a.metrics = &ws.CounterMetrics{}
	a.registry = hub.New(
		hub.WithLogger(a.logger.Named("hub")),
		hub.WithMetrics(a.metrics),
	)
	a.presence = presence.New(a.cache,
		presence.WithLogger(a.logger.Named("presence")),
		presence.WithOnTransition(a.publishPresence),
	)
	a.messages = msgcache.New(a.cache, cfg.MessageCache, msgcache.WithLogger(a.logger.Named("msgcache")))

	tokens := auth.NewTokenManager(cfg.Auth)
	authenticator := auth.NewAuthenticator(tokens, a.store)

	wsCfg := cfg.WS.Transport
	wsCfg.Metrics = a.metrics
	a.sessions = session.NewHandler(session.Deps{
		Registry:  a.registry,
		Presence:  a.presence,
		Messages:  a.messages,
		Auth:      authenticator,
		Rooms:     a.store,
		Open:      func(ctx context.Context) session.Persistence { return a.store.Session(ctx) },
		Publisher: a.publisher,
	},
		session.WithLogger(a.logger.Named("session")),
		session.WithConfig(&cfg.WS.Session),
		session.WithWSConfig(&wsCfg),
	)

	if a.janitor, err = janitor.New(cfg.Janitor, a.store,
		janitor.WithLogger(a.logger.Named("janitor")),
		janitor.WithStats(a.runtimeStats),
	); err != nil {
		return nil, fmt.Errorf("app: janitor: %w", err)
	}

	a.server = server.New(server.Deps{
		Store:     a.store,
		Tokens:    tokens,
		Passwords: auth.NewPasswordHasher(cfg.Auth.BcryptCost),
		Auth:      authenticator,
		Registry:  a.registry,
		Presence:  a.presence,
		Messages:  a.messages,
		Publisher: a.publisher,
		Sessions:  a.sessions,
	}, cfg.Server,
		server.WithLogger(a.logger.Named("http")),
		server.WithMaxContentLength(cfg.WS.Session.MaxContentLength),
	)
	return a, nil
}

func (a *App) runtimeStats(ctx context.Context) []zap.Field {
	hubStats := a.registry.Stats()
	counters := a.metrics.Snapshot()
	return []zap.Field{
		zap.Int("rooms", hubStats.TotalRooms),
		zap.Int("connections", hubStats.TotalConnections),
		zap.Int64("accepted", counters.AcceptedConnections),
		zap.Int64("dropped_frames", counters.DroppedMessages),
		zap.Int64("invalid_frames", counters.InvalidMessages),
		zap.Float64("avg_broadcast_ms", counters.AvgBroadcastMillis),
		zap.Bool("cache_connected", a.messages.Stats(ctx).RedisConnected),
		zap.Int64("open_db_sessions", a.store.OpenSessions()),
	}
}

func (a *App) publishPresence(ctx context.Context, userID int64, online bool) {
	typ := notify.UserOffline
	if online {
		typ = notify.UserOnline
	}
	a.publisher.Notify(ctx, notify.Event{Type: typ, UserID: userID})
}

// Logger 应用日志
func (a *App) Logger() logger.Logger {
	return a.logger
}

// Handler HTTP 根处理器
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Store 持久层
func (a *App) Store() *store.Store {
	return a.store
}

// Cache 缓存存储
func (a *App) Cache() cache.Store {
	return a.cache
}

// Migrate 建表
func (a *App) Migrate(ctx context.Context) error {
	return a.store.Migrate(ctx)
}

// Run 监听配置地址，收到 SIGINT/SIGTERM 或 ctx 结束时优雅退出
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", a.server.Addr())
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve 在 ln 上服务直到 ctx 结束，随后关闭全部组件
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.watchConfig()
	a.janitor.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Serve(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.Server.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown 停止接收请求，以 1001 关闭全部连接，等待会话清理后释放资源
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")
	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	if a.janitor != nil {
		if err := a.janitor.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	n, err := a.sessions.Shutdown(ctx)
	a.logger.Info("websocket connections closed", zap.Int("count", n))
	if err != nil {
		errs = append(errs, err)
	}
	if err := a.release(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) release(ctx context.Context) error {
	var errs []error
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("notify: %w", err))
		}
	}
	if a.db != nil {
		if err := orm.Close(a.db); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}

// watchConfig 配置文件变更时热更新日志级别，其余配置需重启生效
func (a *App) watchConfig() {
	if a.source == nil {
		return
	}
	a.source.OnChange(func(e config.Event) {
		cfg, err := conf.Decode(a.source)
		if err != nil {
			a.logger.Warn("config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		lvl, err := logger.ParseLevel(cfg.Log.Level)
		if err != nil {
			a.logger.Warn("invalid log level", zap.String("level", cfg.Log.Level), zap.Error(err))
			return
		}
		if lvl != a.logger.Level() {
			a.logger.SetLevel(lvl)
			a.logger.Info("log level changed", zap.String("level", lvl.String()))
		}
	})
	a.source.Watch()
}
