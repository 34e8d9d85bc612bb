// Package msgcache 房间最近消息缓存
//
// 每个房间一个列表 messages:room:<id>，按时间倒序，长度不超过上限。
// 列表存在即表示缓存已预热；冷缓存只能通过 ReplaceWithSnapshot 整体回填，不会被单条新消息创建。
package msgcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/chatd/internal/model"
	"github.com/tokmz/chatd/pkg/cache"
	"github.com/tokmz/chatd/pkg/logger"
)

const keyPrefix = "messages:room:"

// Config 缓存策略
type Config struct {
	MaxPerRoom int64         `mapstructure:"max_messages_per_room" yaml:"max_messages_per_room"`
	TTL        time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// DefaultConfig 默认每房间 50 条，1 小时滑动过期
func DefaultConfig() *Config {
	return &Config{
		MaxPerRoom: 50,
		TTL:        time.Hour,
	}
}

// Stats 缓存状态
type Stats struct {
	RedisConnected     bool  `json:"redis_connected"`
	TTL                int64 `json:"ttl"`
	MaxMessagesPerRoom int64 `json:"max_messages_per_room"`
}

// Source 最近消息的来源
type Source string

const (
	SourceCache   Source = "cache"
	SourceStorage Source = "storage"
)

// LoadFunc 从持久层读取最近 limit 条消息，按时间倒序
type LoadFunc func(ctx context.Context, limit int) ([]model.Message, error)

// Cache 最近消息缓存
type Cache struct {
	store      cache.Store
	config     *Config
	serializer cache.Serializer
	loader     *cache.Loader
	logger     logger.Logger

	mu      sync.Mutex
	loading map[int64]*pendingLoad
}

// pendingLoad 回源期间到达的新消息计数
type pendingLoad struct {
	refs    int
	appends int
}

// Option 选项
type Option func(*Cache)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSerializer 设置序列化器
func WithSerializer(s cache.Serializer) Option {
	return func(c *Cache) {
		if s != nil {
			c.serializer = s
		}
	}
}

// New 创建消息缓存
func New(store cache.Store, config *Config, opts ...Option) *Cache {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxPerRoom <= 0 {
		config.MaxPerRoom = 50
	}
	if config.TTL <= 0 {
		config.TTL = time.Hour
	}
	c := &Cache{
		store:      store,
		config:     config,
		serializer: cache.JSONSerializer{},
		loader:     cache.NewLoader(),
		logger:     logger.NewNop(),
		loading:    make(map[int64]*pendingLoad),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func roomKey(roomID int64) string {
	return keyPrefix + strconv.FormatInt(roomID, 10)
}

// AppendIfWarm 仅在缓存已存在时插入到表头，裁剪并刷新过期时间
func (c *Cache) AppendIfWarm(ctx context.Context, roomID int64, m model.Message) (bool, error) {
	c.noteAppend(roomID)

	key := roomKey(roomID)
	warm, err := c.store.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("msgcache: exists: %w", err)
	}
	if !warm {
		return false, nil
	}

	data, err := c.serializer.Marshal(m)
	if err != nil {
		return false, fmt.Errorf("msgcache: marshal: %w", err)
	}

	// 期间键过期时 LPUSHX 不会创建残缺列表
	if err := c.store.Tx(ctx, func(tx cache.Tx) {
		tx.LPushX(key, string(data))
		tx.LTrim(key, 0, c.config.MaxPerRoom-1)
		tx.Expire(key, c.config.TTL)
	}); err != nil {
		return false, fmt.Errorf("msgcache: append: %w", err)
	}
	return true, nil
}

// ReadRecent 读取最近 limit 条，hit 为 false 表示缓存未命中
func (c *Cache) ReadRecent(ctx context.Context, roomID int64, limit int) (msgs []model.Message, hit bool, err error) {
	if limit <= 0 || int64(limit) > c.config.MaxPerRoom {
		limit = int(c.config.MaxPerRoom)
	}

	// 预热的列表不会为空，空结果即未命中
	raw, err := c.store.LRange(ctx, roomKey(roomID), 0, int64(limit)-1)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("msgcache: range: %w", err)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}

	msgs = make([]model.Message, 0, len(raw))
	for _, item := range raw {
		var m model.Message
		if err := c.serializer.Unmarshal([]byte(item), &m); err != nil {
			return nil, false, fmt.Errorf("msgcache: unmarshal: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, true, nil
}

// ReplaceWithSnapshot 用持久层结果整体替换缓存，msgs 按时间倒序
func (c *Cache) ReplaceWithSnapshot(ctx context.Context, roomID int64, msgs []model.Message) error {
	if int64(len(msgs)) > c.config.MaxPerRoom {
		msgs = msgs[:c.config.MaxPerRoom]
	}

	values := make([]string, 0, len(msgs))
	for _, m := range msgs {
		data, err := c.serializer.Marshal(m)
		if err != nil {
			return fmt.Errorf("msgcache: marshal: %w", err)
		}
		values = append(values, string(data))
	}

	key := roomKey(roomID)
	if err := c.store.Tx(ctx, func(tx cache.Tx) {
		tx.Del(key)
		if len(values) > 0 {
			tx.RPush(key, values...)
			tx.Expire(key, c.config.TTL)
		}
	}); err != nil {
		return fmt.Errorf("msgcache: replace: %w", err)
	}
	return nil
}

// Invalidate 删除房间缓存
func (c *Cache) Invalidate(ctx context.Context, roomID int64) error {
	if err := c.store.Del(ctx, roomKey(roomID)); err != nil {
		return fmt.Errorf("msgcache: invalidate: %w", err)
	}
	c.loader.Forget(roomKey(roomID))
	return nil
}

// Recent 读穿：命中直接返回，否则回源、回填并返回。
// 缓存故障只记录日志并降级到持久层；同一房间的并发回源合并为一次。
func (c *Cache) Recent(ctx context.Context, roomID int64, limit int, load LoadFunc) ([]model.Message, Source, error) {
	if limit <= 0 || int64(limit) > c.config.MaxPerRoom {
		limit = int(c.config.MaxPerRoom)
	}

	msgs, hit, err := c.ReadRecent(ctx, roomID, limit)
	if err != nil {
		c.logger.WarnContext(ctx, "message cache read failed, falling back to storage",
			zap.Int64("room_id", roomID), zap.Error(err))
	} else if hit {
		return msgs, SourceCache, nil
	}

	full, _, err := cache.Load(ctx, c.loader, roomKey(roomID), func(ctx context.Context) ([]model.Message, error) {
		c.beginLoad(roomID)
		loaded, err := load(ctx, int(c.config.MaxPerRoom))
		if err != nil {
			c.endLoad(roomID)
			return nil, err
		}
		if err := c.ReplaceWithSnapshot(ctx, roomID, loaded); err != nil {
			c.logger.WarnContext(ctx, "message cache backfill failed",
				zap.Int64("room_id", roomID), zap.Error(err))
		}
		if c.endLoad(roomID) {
			// 回源期间有新消息落库，快照可能缺少它
			if err := c.Invalidate(ctx, roomID); err != nil {
				c.logger.WarnContext(ctx, "message cache invalidate failed",
					zap.Int64("room_id", roomID), zap.Error(err))
			}
		}
		return loaded, nil
	})
	if err != nil {
		return nil, SourceStorage, err
	}

	if len(full) > limit {
		full = full[:limit]
	}
	return full, SourceStorage, nil
}

func (c *Cache) beginLoad(roomID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.loading[roomID]
	if p == nil {
		p = &pendingLoad{}
		c.loading[roomID] = p
	}
	p.refs++
}

// endLoad 返回回源期间是否有新消息
func (c *Cache) endLoad(roomID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.loading[roomID]
	if p == nil {
		return false
	}
	stale := p.appends > 0
	p.refs--
	if p.refs == 0 {
		delete(c.loading, roomID)
	}
	return stale
}

func (c *Cache) noteAppend(roomID int64) {
	c.mu.Lock()
	if p := c.loading[roomID]; p != nil {
		p.appends++
	}
	c.mu.Unlock()
}

// Stats 缓存状态，Ping 失败时 redis_connected 为 false
func (c *Cache) Stats(ctx context.Context) Stats {
	return Stats{
		RedisConnected:     c.store.Ping(ctx) == nil,
		TTL:                int64(c.config.TTL / time.Second),
		MaxMessagesPerRoom: c.config.MaxPerRoom,
	}
}

// Config 当前配置
func (c *Cache) Config() Config {
	return *c.config
}
