package cache

import (
	"net/http"

	"github.com/tokmz/chatd/pkg/errors"
)

// 预定义错误
var (
	ErrNotFound           = errors.New(1201, http.StatusNotFound, "cache key not found", nil)
	ErrCacheConnection    = errors.New(1202, http.StatusServiceUnavailable, "cache connection failed", nil)
	ErrCacheSerialization = errors.New(1203, http.StatusInternalServerError, "cache serialization failed", nil)
	ErrCacheInvalidConfig = errors.New(1204, http.StatusInternalServerError, "cache invalid config", nil)
	ErrCacheOperation     = errors.New(1205, http.StatusInternalServerError, "cache operation failed", nil)
	ErrWrongType          = errors.New(1206, http.StatusInternalServerError, "operation against a key holding the wrong kind of value", nil)
	ErrStoreClosed        = errors.New(1207, http.StatusServiceUnavailable, "cache store closed", nil)
)
