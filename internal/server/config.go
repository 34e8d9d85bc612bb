package server

import "time"

// Config HTTP 服务配置
type Config struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	Mode            string        `mapstructure:"mode" yaml:"mode"` // debug | release | test
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes" yaml:"max_header_bytes"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies" yaml:"trusted_proxies,omitempty"`

	// 注册与登录按客户端 IP 限流，0 不限制
	AuthRateLimit  int           `mapstructure:"auth_rate_limit" yaml:"auth_rate_limit"`
	AuthRateWindow time.Duration `mapstructure:"auth_rate_window" yaml:"auth_rate_window"`

	// REST 响应 gzip 压缩
	Compression       bool `mapstructure:"compression" yaml:"compression"`
	CompressionLevel  int  `mapstructure:"compression_level" yaml:"compression_level"` // -1 默认级别，1-9
	CompressMinLength int  `mapstructure:"compress_min_length" yaml:"compress_min_length"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":8000",
		Mode:            "release",
		ReadTimeout:     15 * time.Second,
		IdleTimeout:     60 * time.Second,
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxHeaderBytes:  1 << 20,
		CORSOrigins:     []string{"*"},

		AuthRateLimit:  20,
		AuthRateWindow: time.Minute,

		Compression:       true,
		CompressionLevel:  -1,
		CompressMinLength: 512,
	}
}
