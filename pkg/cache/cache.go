package cache

import (
	"context"
	"time"
)

// Store 缓存存储接口（键值、列表、集合、过期、发布订阅）
// 语义与 Redis 对齐：列表或集合被清空后键随之消失
type Store interface {
	// 键值
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	// 过期
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)

	// 列表
	LPush(ctx context.Context, key string, values ...string) (int64, error)
	RPush(ctx context.Context, key string, values ...string) (int64, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)

	// 集合
	SAdd(ctx context.Context, key string, members ...string) (int64, error)
	SRem(ctx context.Context, key string, members ...string) (int64, error)
	SCard(ctx context.Context, key string) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// Tx 原子执行一组写命令（MULTI/EXEC）
	Tx(ctx context.Context, fn func(tx Tx)) error

	// 发布订阅
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// Tx 事务内可排队的写命令
type Tx interface {
	Set(key, value string, ttl time.Duration)
	Del(keys ...string)
	Expire(key string, ttl time.Duration)
	LPush(key string, values ...string)
	LPushX(key string, values ...string) // 仅当列表已存在时插入
	RPush(key string, values ...string)
	LTrim(key string, start, stop int64)
	SAdd(key string, members ...string)
	SRem(key string, members ...string)
}

// Message 订阅收到的消息
type Message struct {
	Channel string
	Payload string
}

// Subscription 订阅句柄
type Subscription interface {
	// Channel 消息通道，Close 后关闭
	Channel() <-chan Message
	Close() error
}

// Serializer 序列化接口
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}
