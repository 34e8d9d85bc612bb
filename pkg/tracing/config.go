package tracing

import (
	"errors"
	"fmt"
	"time"
)

// 导出器类型
const (
	ExporterOTLPHTTP = "otlp-http"
	ExporterStdout   = "stdout"
	ExporterNoop     = "noop"
)

// ErrInvalidConfig 配置无效
var ErrInvalidConfig = errors.New("tracing: invalid config")

// Config 链路追踪配置
type Config struct {
	Enabled        bool              `mapstructure:"enabled" yaml:"enabled"`
	ServiceName    string            `mapstructure:"service_name" yaml:"service_name"`
	ServiceVersion string            `mapstructure:"service_version" yaml:"service_version"`
	Environment    string            `mapstructure:"environment" yaml:"environment"`
	Exporter       string            `mapstructure:"exporter" yaml:"exporter"`
	Endpoint       string            `mapstructure:"endpoint" yaml:"endpoint"` // host:port，空时读 OTEL_EXPORTER_OTLP_ENDPOINT
	Insecure       bool              `mapstructure:"insecure" yaml:"insecure"`
	Headers        map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
	SampleRate     float64           `mapstructure:"sample_rate" yaml:"sample_rate"`

	BatchTimeout       time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
	MaxExportBatchSize int           `mapstructure:"max_export_batch_size" yaml:"max_export_batch_size"`
	MaxQueueSize       int           `mapstructure:"max_queue_size" yaml:"max_queue_size"`
}

// DefaultConfig 默认关闭
func DefaultConfig() *Config {
	return &Config{
		Enabled:            false,
		ServiceName:        "chatd",
		ServiceVersion:     "dev",
		Environment:        "development",
		Exporter:           ExporterStdout,
		SampleRate:         1.0,
		BatchTimeout:       5 * time.Second,
		MaxExportBatchSize: 512,
		MaxQueueSize:       2048,
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("%w: service_name is required", ErrInvalidConfig)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("%w: sample_rate must be within [0, 1]", ErrInvalidConfig)
	}
	switch c.Exporter {
	case ExporterOTLPHTTP, ExporterStdout, ExporterNoop:
	default:
		return fmt.Errorf("%w: unknown exporter %q", ErrInvalidConfig, c.Exporter)
	}
	return nil
}
