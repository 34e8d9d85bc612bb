// Package presence 在线状态跟踪
//
// 在线按连接计数：users:online 保存在线用户，user:connections:<id> 保存该用户的连接。
// 用户在线当且仅当其连接集合非空，只有 0->1 与 1->0 时才变更在线集合。
package presence

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/tokmz/chatd/pkg/cache"
	"github.com/tokmz/chatd/pkg/logger"
)

const (
	onlineKey        = "users:online"
	connectionPrefix = "user:connections:"

	lockShards = 64
)

// TransitionFunc 上线或下线回调，online 为 true 表示 0->1
type TransitionFunc func(ctx context.Context, userID int64, online bool)

// Tracker 在线状态跟踪器
type Tracker struct {
	store  cache.Store
	logger logger.Logger

	onTransition TransitionFunc

	// 同一用户的增删按顺序执行
	locks [lockShards]sync.Mutex
}

// Option 选项
type Option func(*Tracker)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithOnTransition 设置上下线回调
func WithOnTransition(fn TransitionFunc) Option {
	return func(t *Tracker) { t.onTransition = fn }
}

// New 创建跟踪器
func New(store cache.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		logger: logger.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func connectionsKey(userID int64) string {
	return connectionPrefix + strconv.FormatInt(userID, 10)
}

func (t *Tracker) lock(userID int64) func() {
	mu := &t.locks[uint64(userID)%lockShards]
	mu.Lock()
	return mu.Unlock
}

// AddConnection 登记连接，返回该用户当前连接数
func (t *Tracker) AddConnection(ctx context.Context, userID int64, connID string) (int64, error) {
	defer t.lock(userID)()

	uid := strconv.FormatInt(userID, 10)
	wasOnline, err := t.store.SIsMember(ctx, onlineKey, uid)
	if err != nil {
		return 0, fmt.Errorf("presence: check online: %w", err)
	}

	key := connectionsKey(userID)
	if err := t.store.Tx(ctx, func(tx cache.Tx) {
		tx.SAdd(key, connID)
		tx.SAdd(onlineKey, uid)
	}); err != nil {
		return 0, fmt.Errorf("presence: add connection: %w", err)
	}

	count, err := t.store.SCard(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("presence: count connections: %w", err)
	}

	if !wasOnline {
		t.logger.InfoContext(ctx, "user online", zap.Int64("uid", userID))
		if t.onTransition != nil {
			t.onTransition(ctx, userID, true)
		}
	}
	return count, nil
}

// RemoveConnection 注销连接，返回该用户剩余连接数
func (t *Tracker) RemoveConnection(ctx context.Context, userID int64, connID string) (int64, error) {
	defer t.lock(userID)()

	key := connectionsKey(userID)
	removed, err := t.store.SRem(ctx, key, connID)
	if err != nil {
		return 0, fmt.Errorf("presence: remove connection: %w", err)
	}

	count, err := t.store.SCard(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("presence: count connections: %w", err)
	}
	if count > 0 {
		return count, nil
	}

	uid := strconv.FormatInt(userID, 10)
	if err := t.store.Tx(ctx, func(tx cache.Tx) {
		tx.SRem(onlineKey, uid)
		tx.Del(key)
	}); err != nil {
		return 0, fmt.Errorf("presence: mark offline: %w", err)
	}

	if removed > 0 {
		t.logger.InfoContext(ctx, "user offline", zap.Int64("uid", userID))
		if t.onTransition != nil {
			t.onTransition(ctx, userID, false)
		}
	}
	return 0, nil
}

// IsOnline 用户是否在线
func (t *Tracker) IsOnline(ctx context.Context, userID int64) (bool, error) {
	ok, err := t.store.SIsMember(ctx, onlineKey, strconv.FormatInt(userID, 10))
	if err != nil {
		return false, fmt.Errorf("presence: is online: %w", err)
	}
	return ok, nil
}

// OnlineUsers 在线用户，按 ID 升序
func (t *Tracker) OnlineUsers(ctx context.Context) ([]int64, error) {
	members, err := t.store.SMembers(ctx, onlineKey)
	if err != nil {
		return nil, fmt.Errorf("presence: online users: %w", err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			t.logger.Warn("skip malformed online member", zap.String("member", m))
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ConnectionCount 用户当前连接数
func (t *Tracker) ConnectionCount(ctx context.Context, userID int64) (int64, error) {
	n, err := t.store.SCard(ctx, connectionsKey(userID))
	if err != nil {
		return 0, fmt.Errorf("presence: connection count: %w", err)
	}
	return n, nil
}
