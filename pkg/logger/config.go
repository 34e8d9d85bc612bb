package logger

// Format 日志格式
type Format string

const (
	// JSONFormat JSON 格式（生产环境推荐）
	JSONFormat Format = "json"
	// ConsoleFormat 控制台格式（开发环境推荐）
	ConsoleFormat Format = "console"
)

// Config 日志配置
type Config struct {
	Level  string `mapstructure:"level" yaml:"level"`   // 日志级别 debug/info/warn/error（默认 info）
	Format Format `mapstructure:"format" yaml:"format"` // 日志格式 json/console（默认 json）

	Console bool          `mapstructure:"console" yaml:"console"` // 是否输出到控制台
	File    string        `mapstructure:"file" yaml:"file"`       // 文件路径（空则不输出到文件）
	Rotate  *RotateConfig `mapstructure:"rotate" yaml:"rotate"`   // 轮转配置（nil 则不轮转）

	DisableCaller     bool `mapstructure:"disable_caller" yaml:"disable_caller"`         // 关闭调用位置
	DisableStacktrace bool `mapstructure:"disable_stacktrace" yaml:"disable_stacktrace"` // 关闭 Error 级别堆栈
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Level:   "info",
		Format:  JSONFormat,
		Console: true,
	}
}

// setDefaults 设置默认值
func (c *Config) setDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = JSONFormat
	}
	// 没有任何输出时回退到控制台
	if !c.Console && c.File == "" && c.Rotate == nil {
		c.Console = true
	}
}
