package notify

import (
	"context"

	"github.com/tokmz/chatd/pkg/cache"
)

// CacheSink 通过缓存存储的发布订阅投递（Redis PUBLISH）
type CacheSink struct {
	store   cache.Store
	channel string
}

// NewCacheSink 创建发布订阅投递
func NewCacheSink(store cache.Store, channel string) *CacheSink {
	return &CacheSink{store: store, channel: channel}
}

func (s *CacheSink) Send(ctx context.Context, _ *Event, body []byte) error {
	return s.store.Publish(ctx, s.channel, string(body))
}

// Close 存储由调用方管理，这里不关闭
func (s *CacheSink) Close() error { return nil }

// Watch 订阅频道并逐条回调，ctx 取消或订阅关闭时返回
func Watch(ctx context.Context, store cache.Store, channel string, fn func(*Event)) error {
	sub, err := store.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Channel():
			if !ok {
				return nil
			}
			e, err := Decode([]byte(msg.Payload))
			if err != nil {
				continue
			}
			fn(e)
		}
	}
}
