package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"

	pkgerrors "github.com/tokmz/chatd/pkg/errors"
)

// windowLimiter 按客户端 IP 的固定窗口计数，进程内有效
type windowLimiter struct {
	limit  int64
	window time.Duration
	counts *gocache.Cache
	now    func() time.Time
}

func newWindowLimiter(limit int, window time.Duration) *windowLimiter {
	return &windowLimiter{
		limit:  int64(limit),
		window: window,
		counts: gocache.New(window, 2*window),
		now:    time.Now,
	}
}

// allow 返回是否放行以及窗口重置前的剩余秒数
func (l *windowLimiter) allow(key string) (bool, int64) {
	now := l.now()
	slot := now.UnixNano() / int64(l.window)
	k := key + ":" + strconv.FormatInt(slot, 10)

	// 键不存在时初始化，已存在时 Add 失败可忽略
	_ = l.counts.Add(k, int64(0), l.window)
	n, err := l.counts.IncrementInt64(k, 1)
	if err != nil {
		return true, 0
	}
	reset := time.Unix(0, (slot+1)*int64(l.window)).Sub(now)
	return n <= l.limit, int64(reset/time.Second) + 1
}

// rateLimit 超过阈值返回 429，limit 为 0 时不限制
func rateLimit(limit int, window time.Duration) gin.HandlerFunc {
	if limit <= 0 || window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	l := newWindowLimiter(limit, window)
	return func(c *gin.Context) {
		ok, retry := l.allow(c.ClientIP())
		if !ok {
			c.Header("Retry-After", strconv.FormatInt(retry, 10))
			abortError(c, pkgerrors.ErrTooManyRequests)
			return
		}
		c.Next()
	}
}
