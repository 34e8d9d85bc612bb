package config

import (
	"github.com/fsnotify/fsnotify"
)

// Event 配置文件变更事件
type Event struct {
	Name string
	Op   fsnotify.Op
}

// OnChange 注册变更回调，回调在 viper 重新读取文件之后执行
func (c *Config) OnChange(fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// Watch 开始监控配置文件，重复调用无副作用
func (c *Config) Watch() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watching || c.viper.ConfigFileUsed() == "" {
		return
	}

	c.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		c.mu.RLock()
		callbacks := make([]func(Event), len(c.onChange))
		copy(callbacks, c.onChange)
		c.mu.RUnlock()

		for _, fn := range callbacks {
			c.safeCall(fn, Event{Name: e.Name, Op: e.Op})
		}
	})
	c.viper.WatchConfig()
	c.watching = true
}

// safeCall 回调 panic 不影响监控协程
func (c *Config) safeCall(fn func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil && c.onError != nil {
			c.onError(&panicError{value: r})
		}
	}()
	fn(e)
}

type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return "config: change callback panicked"
}
