package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore Redis 存储实现
type redisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// newRedisStore 创建 Redis 存储并测试连接
func newRedisStore(cfg *Config) (Store, error) {
	rc := cfg.Redis
	var client redis.UniversalClient

	switch rc.Mode {
	case RedisStandalone, "":
		client = redis.NewClient(&redis.Options{
			Addr:         rc.Addr,
			Username:     rc.Username,
			Password:     rc.Password,
			DB:           rc.DB,
			PoolSize:     rc.PoolSize,
			MinIdleConns: rc.MinIdleConns,
			MaxRetries:   rc.MaxRetries,
			DialTimeout:  rc.DialTimeout,
			ReadTimeout:  rc.ReadTimeout,
			WriteTimeout: rc.WriteTimeout,
		})
	case RedisCluster:
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        rc.Addrs,
			Username:     rc.Username,
			Password:     rc.Password,
			PoolSize:     rc.PoolSize,
			MinIdleConns: rc.MinIdleConns,
			MaxRetries:   rc.MaxRetries,
			DialTimeout:  rc.DialTimeout,
			ReadTimeout:  rc.ReadTimeout,
			WriteTimeout: rc.WriteTimeout,
		})
	case RedisSentinel:
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    rc.MasterName,
			SentinelAddrs: rc.Addrs,
			Username:      rc.Username,
			Password:      rc.Password,
			DB:            rc.DB,
			PoolSize:      rc.PoolSize,
			MinIdleConns:  rc.MinIdleConns,
			MaxRetries:    rc.MaxRetries,
			DialTimeout:   rc.DialTimeout,
			ReadTimeout:   rc.ReadTimeout,
			WriteTimeout:  rc.WriteTimeout,
		})
	default:
		return nil, fmt.Errorf("%w: unsupported redis mode: %s", ErrCacheInvalidConfig, rc.Mode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %w", ErrCacheConnection, err)
	}

	return NewRedisFromClient(client, cfg.KeyPrefix), nil
}

// NewRedisFromClient 使用已有客户端创建存储
func NewRedisFromClient(client redis.UniversalClient, keyPrefix string) Store {
	return &redisStore{client: client, keyPrefix: keyPrefix}
}

func (r *redisStore) buildKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *redisStore) buildKeys(keys []string) []string {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.buildKey(k)
	}
	return full
}

// wrapErr 统一包装 Redis 错误
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if strings.HasPrefix(err.Error(), "WRONGTYPE") {
		return fmt.Errorf("%w: %w", ErrWrongType, err)
	}
	return fmt.Errorf("%w: %w", ErrCacheOperation, err)
}

func (r *redisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.buildKey(key)).Result()
	return v, wrapErr(err)
}

func (r *redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrapErr(r.client.Set(ctx, r.buildKey(key), value, ttl).Err())
}

func (r *redisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return wrapErr(r.client.Del(ctx, r.buildKeys(keys)...).Err())
}

func (r *redisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.buildKey(key)).Result()
	if err != nil {
		return false, wrapErr(err)
	}
	return n > 0, nil
}

func (r *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrapErr(r.client.Expire(ctx, r.buildKey(key), ttl).Err())
}

// TTL 键不存在返回 ErrNotFound，未设置过期返回 -1
func (r *redisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.client.TTL(ctx, r.buildKey(key)).Result()
	if err != nil {
		return 0, wrapErr(err)
	}
	if d == -2 {
		return 0, ErrNotFound
	}
	if d < 0 {
		return -1, nil
	}
	return d, nil
}

func (r *redisStore) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	n, err := r.client.LPush(ctx, r.buildKey(key), toArgs(values)...).Result()
	return n, wrapErr(err)
}

func (r *redisStore) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	n, err := r.client.RPush(ctx, r.buildKey(key), toArgs(values)...).Result()
	return n, wrapErr(err)
}

func (r *redisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	return wrapErr(r.client.LTrim(ctx, r.buildKey(key), start, stop).Err())
}

func (r *redisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := r.client.LRange(ctx, r.buildKey(key), start, stop).Result()
	return vals, wrapErr(err)
}

func (r *redisStore) LLen(ctx context.Context, key string) (int64, error) {
	n, err := r.client.LLen(ctx, r.buildKey(key)).Result()
	return n, wrapErr(err)
}

func (r *redisStore) SAdd(ctx context.Context, key string, members ...string) (int64, error) {
	n, err := r.client.SAdd(ctx, r.buildKey(key), toArgs(members)...).Result()
	return n, wrapErr(err)
}

func (r *redisStore) SRem(ctx context.Context, key string, members ...string) (int64, error) {
	n, err := r.client.SRem(ctx, r.buildKey(key), toArgs(members)...).Result()
	return n, wrapErr(err)
}

func (r *redisStore) SCard(ctx context.Context, key string) (int64, error) {
	n, err := r.client.SCard(ctx, r.buildKey(key)).Result()
	return n, wrapErr(err)
}

func (r *redisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	vals, err := r.client.SMembers(ctx, r.buildKey(key)).Result()
	return vals, wrapErr(err)
}

func (r *redisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.buildKey(key), member).Result()
	return ok, wrapErr(err)
}

// Tx 使用 MULTI/EXEC 原子提交
func (r *redisStore) Tx(ctx context.Context, fn func(tx Tx)) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fn(&redisTx{ctx: ctx, pipe: pipe, store: r})
		return nil
	})
	return wrapErr(err)
}

// Publish 频道名同样带前缀
func (r *redisStore) Publish(ctx context.Context, channel, payload string) error {
	return wrapErr(r.client.Publish(ctx, r.buildKey(channel), payload).Err())
}

func (r *redisStore) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	ps := r.client.Subscribe(ctx, r.buildKeys(channels)...)
	// 等待订阅确认
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, wrapErr(err)
	}

	sub := &redisSubscription{ps: ps, ch: make(chan Message, 64)}
	go sub.forward(r.keyPrefix)
	return sub, nil
}

func (r *redisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheConnection, err)
	}
	return nil
}

func (r *redisStore) Close() error {
	return r.client.Close()
}

// redisTx 事务命令排队
type redisTx struct {
	ctx   context.Context
	pipe  redis.Pipeliner
	store *redisStore
}

func (t *redisTx) Set(key, value string, ttl time.Duration) {
	t.pipe.Set(t.ctx, t.store.buildKey(key), value, ttl)
}

func (t *redisTx) Del(keys ...string) {
	if len(keys) > 0 {
		t.pipe.Del(t.ctx, t.store.buildKeys(keys)...)
	}
}

func (t *redisTx) Expire(key string, ttl time.Duration) {
	t.pipe.Expire(t.ctx, t.store.buildKey(key), ttl)
}

func (t *redisTx) LPush(key string, values ...string) {
	if len(values) > 0 {
		t.pipe.LPush(t.ctx, t.store.buildKey(key), toArgs(values)...)
	}
}

func (t *redisTx) LPushX(key string, values ...string) {
	if len(values) > 0 {
		t.pipe.LPushX(t.ctx, t.store.buildKey(key), toArgs(values)...)
	}
}

func (t *redisTx) RPush(key string, values ...string) {
	if len(values) > 0 {
		t.pipe.RPush(t.ctx, t.store.buildKey(key), toArgs(values)...)
	}
}

func (t *redisTx) LTrim(key string, start, stop int64) {
	t.pipe.LTrim(t.ctx, t.store.buildKey(key), start, stop)
}

func (t *redisTx) SAdd(key string, members ...string) {
	if len(members) > 0 {
		t.pipe.SAdd(t.ctx, t.store.buildKey(key), toArgs(members)...)
	}
}

func (t *redisTx) SRem(key string, members ...string) {
	if len(members) > 0 {
		t.pipe.SRem(t.ctx, t.store.buildKey(key), toArgs(members)...)
	}
}

// redisSubscription 将 go-redis 消息转换为 Message
type redisSubscription struct {
	ps *redis.PubSub
	ch chan Message
}

func (s *redisSubscription) forward(prefix string) {
	defer close(s.ch)
	for msg := range s.ps.Channel() {
		s.ch <- Message{
			Channel: strings.TrimPrefix(msg.Channel, prefix),
			Payload: msg.Payload,
		}
	}
}

func (s *redisSubscription) Channel() <-chan Message {
	return s.ch
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}

func toArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
