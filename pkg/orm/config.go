package orm

import (
	"fmt"
	"time"
)

// Driver 数据库驱动
type Driver string

const (
	MySQL     Driver = "mysql"
	Postgres  Driver = "postgres"
	SQLite    Driver = "sqlite"
	SQLServer Driver = "sqlserver"
)

// Config 数据库配置
type Config struct {
	Driver Driver `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`

	// 连接池
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`

	PrepareStmt   bool          `mapstructure:"prepare_stmt" yaml:"prepare_stmt"`
	SlowThreshold time.Duration `mapstructure:"slow_threshold" yaml:"slow_threshold"`
	LogLevel      string        `mapstructure:"log_level" yaml:"log_level"` // silent, error, warn, info
	TablePrefix   string        `mapstructure:"table_prefix" yaml:"table_prefix"`

	// 只读副本，非空时启用读写分离
	Replicas []string `mapstructure:"replicas" yaml:"replicas"`
	Policy   string   `mapstructure:"policy" yaml:"policy"` // random, round_robin

	Tracing  bool `mapstructure:"tracing" yaml:"tracing"`
	TraceSQL bool `mapstructure:"trace_sql" yaml:"trace_sql"` // span 中记录完整 SQL
}

// DefaultConfig 默认使用本地 SQLite
func DefaultConfig() *Config {
	return &Config{
		Driver:          SQLite,
		DSN:             "chatd.db",
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		SlowThreshold:   200 * time.Millisecond,
		LogLevel:        "warn",
		Policy:          "random",
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Driver {
	case MySQL, Postgres, SQLite, SQLServer:
	default:
		return fmt.Errorf("orm: unsupported driver %q", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("orm: dsn is required")
	}
	switch c.Policy {
	case "", "random", "round_robin":
	default:
		return fmt.Errorf("orm: unsupported replica policy %q", c.Policy)
	}
	return nil
}
