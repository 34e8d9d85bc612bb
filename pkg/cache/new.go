package cache

import "fmt"

// New 创建缓存存储
func New(cfg *Config) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		store Store
		err   error
	)
	switch cfg.Driver {
	case DriverRedis:
		store, err = newRedisStore(cfg)
	case DriverMemory:
		store = newMemoryStore(cfg)
	default:
		err = fmt.Errorf("%w: unsupported driver type", ErrCacheInvalidConfig)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Tracing {
		store = NewTracing(store)
	}
	return store, nil
}

// NewWithOptions 使用 Options 模式创建缓存存储
func NewWithOptions(opts ...Option) (Store, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return New(cfg)
}
