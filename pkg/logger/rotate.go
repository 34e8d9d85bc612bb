package logger

// RotateConfig 文件轮转配置
type RotateConfig struct {
	Filename   string `mapstructure:"filename" yaml:"filename"`       // 日志文件路径
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`       // 单文件最大大小（MB，默认 100MB）
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`         // 文件保留天数（默认 30 天）
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"` // 最多保留文件数（默认 10 个）
	Compress   bool   `mapstructure:"compress" yaml:"compress"`       // 是否压缩
}

// setDefaults 设置默认值
func (r *RotateConfig) setDefaults() {
	if r.MaxSize == 0 {
		r.MaxSize = 100
	}
	if r.MaxAge == 0 {
		r.MaxAge = 30
	}
	if r.MaxBackups == 0 {
		r.MaxBackups = 10
	}
}
