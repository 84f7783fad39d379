// Logging for nono
// 日志：基于zerolog的包级日志器，供错误汇、调度器和日志钩子使用
package nono

import (
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	// FormatJSON JSON日志格式
	FormatJSON = "json"
	// FormatConsole 人类可读的控制台格式
	FormatConsole = "console"
)

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
	Output string `mapstructure:"output" validate:"oneof=stdout stderr"`
}

// ApplyDefaults 填充默认值
func (c *LogConfig) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = FormatJSON
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

var logger atomic.Pointer[zerolog.Logger]

func init() {
	l := NewLogger(LogConfig{})
	logger.Store(&l)
}

// NewLogger 根据配置创建zerolog日志器
func NewLogger(cfg LogConfig) zerolog.Logger {
	cfg.ApplyDefaults()

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if cfg.Output == "stdout" {
		out = os.Stdout
	}
	if strings.ToLower(cfg.Format) == FormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("component", "nono").
		Logger()
}

// SetLogger 替换包内使用的日志器
func SetLogger(l zerolog.Logger) {
	logger.Store(&l)
}

// Logger 返回包内使用的日志器
func Logger() zerolog.Logger {
	return *logger.Load()
}
