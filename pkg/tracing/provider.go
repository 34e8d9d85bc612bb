// Package tracing OpenTelemetry 链路追踪
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Provider 持有 TracerProvider，负责关闭时刷新
type Provider struct {
	tp       trace.TracerProvider
	shutdown func(context.Context) error
}

// Option 选项
type Option func(*options)

type options struct {
	exporter sdktrace.SpanExporter
	writer   io.Writer
	global   bool
}

// WithExporter 使用指定导出器，忽略配置中的导出器类型
func WithExporter(e sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = e }
}

// WithWriter stdout 导出器的输出
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithoutGlobal 不注册为全局 Provider
func WithoutGlobal() Option {
	return func(o *options) { o.global = false }
}

// New 创建 Provider；未启用时返回 noop 实现
func New(ctx context.Context, cfg *Config, opts ...Option) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	o := &options{writer: os.Stdout, global: true}
	for _, opt := range opts {
		opt(o)
	}

	if !cfg.Enabled {
		p := &Provider{tp: noop.NewTracerProvider(), shutdown: func(context.Context) error { return nil }}
		if o.global {
			otel.SetTracerProvider(p.tp)
		}
		return p, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	exporter := o.exporter
	if exporter == nil {
		var err error
		if exporter, err = newExporter(ctx, cfg, o.writer); err != nil {
			return nil, fmt.Errorf("tracing: create exporter: %w", err)
		}
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(newSampler(cfg.SampleRate)),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(cfg.BatchTimeout),
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			sdktrace.WithMaxQueueSize(cfg.MaxQueueSize),
		),
		sdktrace.WithResource(res),
	)
	if o.global {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}
	return &Provider{tp: tp, shutdown: tp.Shutdown}, nil
}

// TracerProvider 底层 Provider
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tp
}

// Tracer 获取指定名称的 Tracer
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Shutdown 导出剩余 Span 并关闭
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}
