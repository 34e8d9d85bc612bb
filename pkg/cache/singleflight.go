package cache

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Loader 合并同一 key 的并发回源（防击穿）
type Loader struct {
	group singleflight.Group
}

// NewLoader 创建回源合并器
func NewLoader() *Loader {
	return &Loader{}
}

// Forget 丢弃进行中的回源结果，下次调用重新执行
func (l *Loader) Forget(key string) {
	l.group.Forget(key)
}

// Load 同一 key 的并发调用只执行一次 fn，shared 表示结果被多个调用共享
func Load[T any](ctx context.Context, l *Loader, key string, fn func(ctx context.Context) (T, error)) (result T, shared bool, err error) {
	ch := l.group.DoChan(key, func() (any, error) {
		return fn(ctx)
	})

	select {
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			var zero T
			return zero, r.Shared, r.Err
		}
		v, ok := r.Val.(T)
		if !ok {
			var zero T
			return zero, r.Shared, ErrCacheSerialization.WithMessage("unexpected loader result type")
		}
		return v, r.Shared, nil
	}
}
