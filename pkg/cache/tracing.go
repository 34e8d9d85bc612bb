package cache

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const cacheTracerName = "chatd.cache"

// tracedStore 链路追踪装饰器
type tracedStore struct {
	Store
	tracer trace.Tracer
}

// NewTracing 创建带链路追踪的存储
func NewTracing(s Store) Store {
	return &tracedStore{
		Store:  s,
		tracer: otel.Tracer(cacheTracerName),
	}
}

// span 包装一次操作，缓存未命中不记为错误
func (t *tracedStore) span(ctx context.Context, op, key string, fn func(ctx context.Context) error) error {
	ctx, span := t.tracer.Start(ctx, "cache."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("cache.operation", op),
		attribute.String("cache.key", key),
	)

	err := fn(ctx)
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, ErrNotFound):
		span.SetAttributes(attribute.Bool("cache.hit", false))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (t *tracedStore) Get(ctx context.Context, key string) (v string, err error) {
	err = t.span(ctx, "Get", key, func(ctx context.Context) error {
		v, err = t.Store.Get(ctx, key)
		return err
	})
	return v, err
}

func (t *tracedStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return t.span(ctx, "Set", key, func(ctx context.Context) error {
		return t.Store.Set(ctx, key, value, ttl)
	})
}

func (t *tracedStore) Del(ctx context.Context, keys ...string) error {
	key := ""
	if len(keys) > 0 {
		key = keys[0]
	}
	return t.span(ctx, "Del", key, func(ctx context.Context) error {
		return t.Store.Del(ctx, keys...)
	})
}

func (t *tracedStore) Exists(ctx context.Context, key string) (ok bool, err error) {
	err = t.span(ctx, "Exists", key, func(ctx context.Context) error {
		ok, err = t.Store.Exists(ctx, key)
		return err
	})
	return ok, err
}

func (t *tracedStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return t.span(ctx, "Expire", key, func(ctx context.Context) error {
		return t.Store.Expire(ctx, key, ttl)
	})
}

func (t *tracedStore) TTL(ctx context.Context, key string) (d time.Duration, err error) {
	err = t.span(ctx, "TTL", key, func(ctx context.Context) error {
		d, err = t.Store.TTL(ctx, key)
		return err
	})
	return d, err
}

func (t *tracedStore) LPush(ctx context.Context, key string, values ...string) (n int64, err error) {
	err = t.span(ctx, "LPush", key, func(ctx context.Context) error {
		n, err = t.Store.LPush(ctx, key, values...)
		return err
	})
	return n, err
}

func (t *tracedStore) RPush(ctx context.Context, key string, values ...string) (n int64, err error) {
	err = t.span(ctx, "RPush", key, func(ctx context.Context) error {
		n, err = t.Store.RPush(ctx, key, values...)
		return err
	})
	return n, err
}

func (t *tracedStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	return t.span(ctx, "LTrim", key, func(ctx context.Context) error {
		return t.Store.LTrim(ctx, key, start, stop)
	})
}

func (t *tracedStore) LRange(ctx context.Context, key string, start, stop int64) (vals []string, err error) {
	err = t.span(ctx, "LRange", key, func(ctx context.Context) error {
		vals, err = t.Store.LRange(ctx, key, start, stop)
		return err
	})
	return vals, err
}

func (t *tracedStore) LLen(ctx context.Context, key string) (n int64, err error) {
	err = t.span(ctx, "LLen", key, func(ctx context.Context) error {
		n, err = t.Store.LLen(ctx, key)
		return err
	})
	return n, err
}

func (t *tracedStore) SAdd(ctx context.Context, key string, members ...string) (n int64, err error) {
	err = t.span(ctx, "SAdd", key, func(ctx context.Context) error {
		n, err = t.Store.SAdd(ctx, key, members...)
		return err
	})
	return n, err
}

func (t *tracedStore) SRem(ctx context.Context, key string, members ...string) (n int64, err error) {
	err = t.span(ctx, "SRem", key, func(ctx context.Context) error {
		n, err = t.Store.SRem(ctx, key, members...)
		return err
	})
	return n, err
}

func (t *tracedStore) SCard(ctx context.Context, key string) (n int64, err error) {
	err = t.span(ctx, "SCard", key, func(ctx context.Context) error {
		n, err = t.Store.SCard(ctx, key)
		return err
	})
	return n, err
}

func (t *tracedStore) SMembers(ctx context.Context, key string) (vals []string, err error) {
	err = t.span(ctx, "SMembers", key, func(ctx context.Context) error {
		vals, err = t.Store.SMembers(ctx, key)
		return err
	})
	return vals, err
}

func (t *tracedStore) SIsMember(ctx context.Context, key, member string) (ok bool, err error) {
	err = t.span(ctx, "SIsMember", key, func(ctx context.Context) error {
		ok, err = t.Store.SIsMember(ctx, key, member)
		return err
	})
	return ok, err
}

func (t *tracedStore) Tx(ctx context.Context, fn func(tx Tx)) error {
	return t.span(ctx, "Tx", "", func(ctx context.Context) error {
		return t.Store.Tx(ctx, fn)
	})
}

func (t *tracedStore) Publish(ctx context.Context, channel, payload string) error {
	return t.span(ctx, "Publish", channel, func(ctx context.Context) error {
		return t.Store.Publish(ctx, channel, payload)
	})
}
