// Configuration for nono
// 配置：文件、环境变量与.env加载，结构体校验，以及进程级默认值
package nono

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
)

const (
	// DefaultBufferSize MergeDelayError的默认并发数
	DefaultBufferSize = 128
	// DefaultPrefetch ConcatIter的默认预取数量
	DefaultPrefetch = 2
	// EnvPrefix 环境变量前缀
	EnvPrefix = "NONO"

	instrumentationName = "github.com/xinjiayu/nono"
)

// ============================================================================
// 配置结构
// ============================================================================

// Config 配置结构
type Config struct {
	// ComputationWorkers 计算调度器的worker数量，0表示CPU数量
	ComputationWorkers int `mapstructure:"computation_workers" validate:"gte=0"`
	// BufferSize MergeDelayError的默认并发数
	BufferSize int `mapstructure:"buffer_size" validate:"gte=1"`
	// Prefetch ConcatIter预取的源数量
	Prefetch int `mapstructure:"prefetch" validate:"gte=1"`
	// Logging 日志配置
	Logging LogConfig `mapstructure:"logging"`
	// Tracing 为true时Init安装OpenTelemetry追踪钩子
	Tracing bool `mapstructure:"tracing"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	cfg := Config{
		BufferSize: DefaultBufferSize,
		Prefetch:   DefaultPrefetch,
	}
	cfg.Logging.ApplyDefaults()
	return cfg
}

// ApplyDefaults 填充零值字段
func (c *Config) ApplyDefaults() {
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Prefetch == 0 {
		c.Prefetch = DefaultPrefetch
	}
	c.Logging.ApplyDefaults()
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate 校验配置，失败时返回*InvalidArgumentError
func (c Config) Validate() error {
	err := getValidator().Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return NewInvalidArgumentError("config", err.Error())
	}

	fields := make([]string, 0, len(fieldErrs))
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Namespace())
		messages = append(messages, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
	}
	return NewInvalidArgumentError(strings.Join(fields, ","), strings.Join(messages, "; "))
}

// ============================================================================
// 配置选项
// ============================================================================

// Option 配置选项接口
type Option interface {
	Apply(config *Config)
}

// OptionFunc 函数形式的配置选项
type OptionFunc func(config *Config)

// Apply 应用选项
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithComputationWorkers 设置计算调度器的worker数量
func WithComputationWorkers(workers int) Option {
	return OptionFunc(func(c *Config) { c.ComputationWorkers = workers })
}

// WithBufferSize 设置MergeDelayError的默认并发数
func WithBufferSize(size int) Option {
	return OptionFunc(func(c *Config) { c.BufferSize = size })
}

// WithPrefetch 设置ConcatIter的预取数量
func WithPrefetch(prefetch int) Option {
	return OptionFunc(func(c *Config) { c.Prefetch = prefetch })
}

// WithLogging 设置日志配置
func WithLogging(logging LogConfig) Option {
	return OptionFunc(func(c *Config) { c.Logging = logging })
}

// WithTracing 启用或关闭追踪钩子
func WithTracing(enabled bool) Option {
	return OptionFunc(func(c *Config) { c.Tracing = enabled })
}

// NewConfig 在默认配置上应用选项
func NewConfig(options ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range options {
		if opt != nil {
			opt.Apply(&cfg)
		}
	}
	return cfg
}

// ============================================================================
// 加载
// ============================================================================

// LoadConfig 加载配置
//
// 顺序：envFile（为空时尝试当前目录的.env，不存在则忽略），configFile（YAML/JSON/TOML，
// 为空时跳过），NONO_前缀的环境变量，例如NONO_BUFFER_SIZE、NONO_LOGGING_LEVEL。
func LoadConfig(configFile, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	defaults := DefaultConfig()
	v.SetDefault("computation_workers", defaults.ComputationWorkers)
	v.SetDefault("buffer_size", defaults.BufferSize)
	v.SetDefault("prefetch", defaults.Prefetch)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.output", defaults.Logging.Output)
	v.SetDefault("tracing", defaults.Tracing)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ============================================================================
// 进程级设置
// ============================================================================

var (
	bufferSize atomic.Int64
	prefetch   atomic.Int64
)

func init() {
	bufferSize.Store(DefaultBufferSize)
	prefetch.Store(DefaultPrefetch)
}

// BufferSize MergeDelayError使用的默认并发数
func BufferSize() int {
	return int(bufferSize.Load())
}

// Prefetch ConcatIter使用的预取数量
func Prefetch() int {
	return int(prefetch.Load())
}

// Init 应用配置：安装日志器、设置默认值、调整计算调度器，启用追踪时安装追踪钩子
//
// 只影响之后构建的节点；Tracing为false时不会清除已有的组装钩子。
func Init(cfg Config) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	SetLogger(NewLogger(cfg.Logging))
	bufferSize.Store(int64(cfg.BufferSize))
	prefetch.Store(int64(cfg.Prefetch))
	resizeComputation(cfg.ComputationWorkers)

	if cfg.Tracing {
		SetOnAssembly(TracingAssemblyHook(otel.Tracer(instrumentationName)))
	}

	l := Logger()
	l.Debug().
		Int("computation_workers", cfg.ComputationWorkers).
		Int("buffer_size", cfg.BufferSize).
		Int("prefetch", cfg.Prefetch).
		Bool("tracing", cfg.Tracing).
		Msg("nono initialized")
	return nil
}
