// Package janitor 周期性维护任务：清理过期的软删除消息、输出运行统计
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tokmz/chatd/pkg/logger"
)

// Config 维护任务配置，调度表达式为空时不注册对应任务
type Config struct {
	PurgeSchedule string        `mapstructure:"purge_schedule" yaml:"purge_schedule"`
	Retention     time.Duration `mapstructure:"retention" yaml:"retention"` // 软删除后保留时长
	StatsSchedule string        `mapstructure:"stats_schedule" yaml:"stats_schedule"`
}

// DefaultConfig 每小时清理 30 天前删除的消息，每 5 分钟输出统计
func DefaultConfig() *Config {
	return &Config{
		PurgeSchedule: "@every 1h",
		Retention:     30 * 24 * time.Hour,
		StatsSchedule: "@every 5m",
	}
}

// Validate 校验调度表达式
func (c *Config) Validate() error {
	for _, sched := range []string{c.PurgeSchedule, c.StatsSchedule} {
		if sched == "" {
			continue
		}
		if _, err := cron.ParseStandard(sched); err != nil {
			return fmt.Errorf("janitor: invalid schedule %q: %w", sched, err)
		}
	}
	if c.PurgeSchedule != "" && c.Retention <= 0 {
		return fmt.Errorf("janitor: retention must be positive")
	}
	return nil
}

// Purger 物理删除过期消息
type Purger interface {
	PurgeDeletedMessages(ctx context.Context, before time.Time) (int64, error)
}

// StatsFunc 采集统计字段
type StatsFunc func(ctx context.Context) []zap.Field

// Janitor 维护任务调度器
type Janitor struct {
	config *Config
	purger Purger
	stats  StatsFunc
	logger logger.Logger
	cron   *cron.Cron
	now    func() time.Time
}

// Option 选项
type Option func(*Janitor)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(j *Janitor) {
		if l != nil {
			j.logger = l
		}
	}
}

// WithStats 设置统计采集
func WithStats(fn StatsFunc) Option {
	return func(j *Janitor) { j.stats = fn }
}

// New 注册任务，尚未启动
func New(cfg *Config, purger Purger, opts ...Option) (*Janitor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	j := &Janitor{
		config: cfg,
		purger: purger,
		logger: logger.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}

	cl := cronLogger{j.logger}
	j.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if cfg.PurgeSchedule != "" && purger != nil {
		if _, err := j.cron.AddFunc(cfg.PurgeSchedule, j.runPurge); err != nil {
			return nil, fmt.Errorf("janitor: purge job: %w", err)
		}
	}
	if cfg.StatsSchedule != "" && j.stats != nil {
		if _, err := j.cron.AddFunc(cfg.StatsSchedule, j.runStats); err != nil {
			return nil, fmt.Errorf("janitor: stats job: %w", err)
		}
	}
	return j, nil
}

// Jobs 已注册任务数
func (j *Janitor) Jobs() int {
	return len(j.cron.Entries())
}

// Start 后台运行
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop 停止调度并等待执行中的任务
func (j *Janitor) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("janitor: stop: %w", ctx.Err())
	}
}

// Purge 立即清理一次
func (j *Janitor) Purge(ctx context.Context) (int64, error) {
	return j.purger.PurgeDeletedMessages(ctx, j.now().Add(-j.config.Retention))
}

func (j *Janitor) runPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := j.Purge(ctx)
	if err != nil {
		j.logger.Error("purge deleted messages failed", zap.Error(err))
		return
	}
	if n > 0 {
		j.logger.Info("purged deleted messages", zap.Int64("count", n))
	}
}

func (j *Janitor) runStats() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	j.logger.Info("runtime stats", j.stats(ctx)...)
}

// cronLogger 将 cron 的键值日志转给 Logger
type cronLogger struct {
	l logger.Logger
}

func (c cronLogger) Info(msg string, kv ...any) {
	c.l.Debug(msg, fields(kv)...)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error(msg, append(fields(kv), zap.Error(err))...)
}

func fields(kv []any) []zap.Field {
	out := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		out = append(out, zap.Any(key, kv[i+1]))
	}
	return out
}
