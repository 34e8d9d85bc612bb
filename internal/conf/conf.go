// Package conf 应用配置
package conf

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/tokmz/chatd/internal/auth"
	"github.com/tokmz/chatd/internal/janitor"
	"github.com/tokmz/chatd/internal/msgcache"
	"github.com/tokmz/chatd/internal/notify"
	"github.com/tokmz/chatd/internal/server"
	"github.com/tokmz/chatd/internal/session"
	"github.com/tokmz/chatd/pkg/cache"
	"github.com/tokmz/chatd/pkg/config"
	"github.com/tokmz/chatd/pkg/logger"
	"github.com/tokmz/chatd/pkg/orm"
	"github.com/tokmz/chatd/pkg/tracing"
	"github.com/tokmz/chatd/pkg/ws"
)

// EnvPrefix 环境变量前缀，如 CHATD_AUTH_JWT_SECRET
const EnvPrefix = "CHATD"

// Config 应用配置
type Config struct {
	Server       *server.Config   `mapstructure:"server" yaml:"server"`
	Log          *logger.Config   `mapstructure:"log" yaml:"log"`
	Cache        *cache.Config    `mapstructure:"cache" yaml:"cache"`
	Database     *orm.Config      `mapstructure:"database" yaml:"database"`
	Auth         *auth.Config     `mapstructure:"auth" yaml:"auth"`
	WS           *WSConfig        `mapstructure:"ws" yaml:"ws"`
	MessageCache *msgcache.Config `mapstructure:"message_cache" yaml:"message_cache"`
	Notify       *notify.Config   `mapstructure:"notify" yaml:"notify"`
	Tracing      *tracing.Config  `mapstructure:"tracing" yaml:"tracing"`
	Janitor      *janitor.Config  `mapstructure:"janitor" yaml:"janitor"`
}

// WSConfig 传输参数与会话协议参数共用 ws 配置段
type WSConfig struct {
	Transport ws.Config      `mapstructure:",squash" yaml:",inline"`
	Session   session.Config `mapstructure:",squash" yaml:",inline"`
}

// Default 默认配置
func Default() *Config {
	cacheCfg := cache.DefaultConfig()
	cacheCfg.KeyPrefix = "chatd:"
	cacheCfg.Redis = cache.DefaultRedisConfig()

	return &Config{
		Server:       server.DefaultConfig(),
		Log:          logger.DefaultConfig(),
		Cache:        cacheCfg,
		Database:     orm.DefaultConfig(),
		Auth:         auth.DefaultConfig(),
		WS:           &WSConfig{Transport: *ws.DefaultConfig(), Session: *session.DefaultConfig()},
		MessageCache: msgcache.DefaultConfig(),
		Notify:       notify.DefaultConfig(),
		Tracing:      tracing.DefaultConfig(),
		Janitor:      janitor.DefaultConfig(),
	}
}

// Validate 校验各配置段
func (c *Config) Validate() error {
	if c.Server == nil || c.Log == nil || c.Cache == nil || c.Database == nil || c.Auth == nil ||
		c.WS == nil || c.MessageCache == nil || c.Notify == nil || c.Tracing == nil || c.Janitor == nil {
		return errors.New("conf: missing config section")
	}
	if c.Server.Addr == "" {
		return errors.New("conf: server.addr is required")
	}
	checks := []struct {
		section string
		fn      func() error
	}{
		{"cache", c.Cache.Validate},
		{"database", c.Database.Validate},
		{"auth", c.Auth.Validate},
		{"ws", c.WS.Transport.Validate},
		{"tracing", c.Tracing.Validate},
		{"janitor", c.Janitor.Validate},
	}
	for _, check := range checks {
		if err := check.fn(); err != nil {
			return fmt.Errorf("conf: %s: %w", check.section, err)
		}
	}
	if c.WS.Session.MaxContentLength <= 0 {
		return errors.New("conf: ws.max_content_length must be positive")
	}
	if c.WS.Session.InboundRate < 0 {
		return errors.New("conf: ws.inbound_rate must not be negative")
	}
	if c.MessageCache.MaxPerRoom <= 0 || c.MessageCache.TTL <= 0 {
		return errors.New("conf: message_cache limits must be positive")
	}
	return nil
}

// Load 加载配置，path 为空时在当前目录和 /etc/chatd 查找 chatd.yaml，文件可缺省
// 返回的 Source 用于后续监听变更
func Load(path string) (*Config, *config.Config, error) {
	defaults, err := Defaults()
	if err != nil {
		return nil, nil, err
	}

	opts := []config.Option{
		config.WithDefaults(defaults),
		config.WithEnvPrefix(EnvPrefix),
	}
	if path != "" {
		opts = append(opts, config.WithConfigFile(path))
	} else {
		opts = append(opts,
			config.WithConfigName("chatd"),
			config.WithConfigType("yaml"),
			config.WithConfigPaths(".", "/etc/chatd"),
			config.WithOptionalFile(),
		)
	}

	src := config.New(opts...)
	if err := src.Load(); err != nil {
		return nil, nil, err
	}
	cfg, err := Decode(src)
	if err != nil {
		return nil, nil, err
	}
	return cfg, src, nil
}

// Decode 从配置源解析并校验
func Decode(src *config.Config) (*Config, error) {
	cfg := Default()
	if err := src.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults 默认配置展开为点分键，环境变量只覆盖已知键
func Defaults() (map[string]any, error) {
	def := Default()
	sections := []struct {
		key string
		val any
	}{
		{"server", def.Server},
		{"log", def.Log},
		{"cache", def.Cache},
		{"database", def.Database},
		{"auth", def.Auth},
		{"ws", def.WS.Transport},
		{"ws", def.WS.Session},
		{"message_cache", def.MessageCache},
		{"notify", def.Notify},
		{"tracing", def.Tracing},
		{"janitor", def.Janitor},
	}

	out := make(map[string]any)
	for _, s := range sections {
		raw, err := yaml.Marshal(s.val)
		if err != nil {
			return nil, fmt.Errorf("conf: encode %s defaults: %w", s.key, err)
		}
		var m map[string]any
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("conf: decode %s defaults: %w", s.key, err)
		}
		flatten(out, s.key, m)
	}
	// 无默认值但常需通过环境变量注入的键
	for _, key := range []string{"auth.jwt_secret", "cache.redis.password", "notify.url", "tracing.endpoint"} {
		if _, ok := out[key]; !ok {
			out[key] = ""
		}
	}
	return out, nil
}

func flatten(out map[string]any, prefix string, m map[string]any) {
	for k, v := range m {
		key := prefix + "." + k
		switch val := v.(type) {
		case nil:
		case map[string]any:
			flatten(out, key, val)
		default:
			out[key] = val
		}
	}
}

// Dump 以 YAML 输出生效配置，敏感字段打码
func Dump(src *config.Config) ([]byte, error) {
	settings := src.AllSettings()
	redact(settings, "")
	return yaml.MarshalWithOptions(settings, yaml.IndentSequence(true))
}

var secretKeys = map[string]struct{}{
	"auth.jwt_secret":      {},
	"cache.redis.password": {},
	"notify.url":           {},
}

func redact(m map[string]any, prefix string) {
	for k, v := range m {
		full := strings.TrimPrefix(prefix+"."+k, ".")
		switch val := v.(type) {
		case map[string]any:
			redact(val, full)
		case string:
			if _, ok := secretKeys[full]; ok && val != "" {
				m[k] = "******"
			}
		}
	}
}
