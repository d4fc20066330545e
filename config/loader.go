// =============================================================================
// 📦 ImageFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("IMAGEFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 ImageFlow 的完整配置结构
type Config struct {
	// Server HTTP 调用入口配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Gemini 模型 API 配置
	Gemini GeminiConfig `yaml:"gemini" env:"GEMINI"`

	// Batch 批处理分块与提交配置
	Batch BatchConfig `yaml:"batch" env:"BATCH"`

	// Download 输入图片下载配置
	Download DownloadConfig `yaml:"download" env:"DOWNLOAD"`

	// Collect 结果收集配置
	Collect CollectConfig `yaml:"collect" env:"COLLECT"`

	// Worker 同步生成扇出配置
	Worker WorkerConfig `yaml:"worker" env:"WORKER"`

	// Storage 对象存储默认配置
	Storage StorageConfig `yaml:"storage" env:"STORAGE"`

	// Cleanup 清理配置
	Cleanup CleanupConfig `yaml:"cleanup" env:"CLEANUP"`

	// Redis 提交记录存储配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时（同步生成可能很慢）
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每秒请求数限制
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 请求体大小上限（字节）
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// GeminiConfig Gemini API 配置
type GeminiConfig struct {
	// API Key，未设置时回退到 GEMINI_API_KEY
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 默认模型
	Model string `yaml:"model" env:"MODEL"`
	// REST 基础 URL（结果文件下载）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 单次调用超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 同步生成超时
	GenerateTimeout time.Duration `yaml:"generate_timeout" env:"GENERATE_TIMEOUT"`
}

// BatchConfig 批处理配置
type BatchConfig struct {
	// 单个请求文件的字节上限
	MaxChunkBytes int `yaml:"max_chunk_bytes" env:"MAX_CHUNK_BYTES"`
	// 单个请求文件的行数上限
	MaxChunkLines int `yaml:"max_chunk_lines" env:"MAX_CHUNK_LINES"`
	// 图片上传到 File API 的并发上限
	UploadConcurrency int `yaml:"upload_concurrency" env:"UPLOAD_CONCURRENCY"`
	// 图片传输方式: inline, file
	ImageTransport string `yaml:"image_transport" env:"IMAGE_TRANSPORT"`
	// 创建批任务的速率（每秒）
	CreateRPS float64 `yaml:"create_rps" env:"CREATE_RPS"`
	// 暂存目录，空值使用系统临时目录
	StagingDir string `yaml:"staging_dir" env:"STAGING_DIR"`
	// 是否把请求文件镜像到存储
	MirrorRequests bool `yaml:"mirror_requests" env:"MIRROR_REQUESTS"`
}

// DownloadConfig 下载配置
type DownloadConfig struct {
	// 最大尝试次数（含首次）
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// 线性退避基数
	Backoff time.Duration `yaml:"backoff" env:"BACKOFF"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 并发下载数
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY"`
}

// CollectConfig 结果收集配置
type CollectConfig struct {
	// 结果流读取的最大尝试次数
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// 线性退避基数
	Backoff time.Duration `yaml:"backoff" env:"BACKOFF"`
	// 上传并发数
	UploadConcurrency int `yaml:"upload_concurrency" env:"UPLOAD_CONCURRENCY"`
	// 是否把原始响应镜像到存储
	MirrorResponses bool `yaml:"mirror_responses" env:"MIRROR_RESPONSES"`
}

// WorkerConfig 同步扇出配置
type WorkerConfig struct {
	// 同时进行的生成任务上限
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	// 自动模式提示词最小长度
	MinPromptLength int `yaml:"min_prompt_length" env:"MIN_PROMPT_LENGTH"`
	// 单次调用总超时
	InvokeTimeout time.Duration `yaml:"invoke_timeout" env:"INVOKE_TIMEOUT"`
}

// StorageConfig 对象存储默认配置（请求未携带 gcs_config 时使用）
type StorageConfig struct {
	// 后端: gcs, local
	Backend string `yaml:"backend" env:"BACKEND"`
	// Bucket 名称
	BucketName string `yaml:"bucket_name" env:"BUCKET_NAME"`
	// 服务账号凭证文件
	CredentialsFile string `yaml:"credentials_file" env:"CREDENTIALS_FILE"`
	// 路径前缀
	PathPrefix string `yaml:"path_prefix" env:"PATH_PREFIX"`
	// CDN 地址
	CDNURL string `yaml:"cdn_url" env:"CDN_URL"`
	// 本地后端根目录
	LocalDir string `yaml:"local_dir" env:"LOCAL_DIR"`
	// 签名 URL 有效期
	SignedURLTTL time.Duration `yaml:"signed_url_ttl" env:"SIGNED_URL_TTL"`
	// 单次存储操作超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// CleanupConfig 清理配置
type CleanupConfig struct {
	// 是否允许 purge_all（删除账号下全部远程文件与任务）
	AllowPurgeAll bool `yaml:"allow_purge_all" env:"ALLOW_PURGE_ALL"`
	// 未给出句柄时是否删除提交记录中的远端文件与任务
	RecordedHandles bool `yaml:"recorded_handles" env:"RECORDED_HANDLES"`
	// 删除并发数
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址，空值表示不启用提交记录
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 提交记录保留时间
	SubmissionTTL time.Duration `yaml:"submission_ttl" env:"SUBMISSION_TTL"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "IMAGEFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 兼容部署环境里通用的 GEMINI_API_KEY
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 校验
// =============================================================================

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, errors.New("invalid HTTP port"))
	}
	if c.Batch.MaxChunkBytes <= 0 {
		errs = append(errs, errors.New("batch.max_chunk_bytes must be positive"))
	}
	if c.Batch.MaxChunkLines <= 0 {
		errs = append(errs, errors.New("batch.max_chunk_lines must be positive"))
	}
	if c.Batch.UploadConcurrency <= 0 {
		errs = append(errs, errors.New("batch.upload_concurrency must be positive"))
	}
	switch c.Batch.ImageTransport {
	case "inline", "file":
	default:
		errs = append(errs, fmt.Errorf("batch.image_transport %q must be inline or file", c.Batch.ImageTransport))
	}
	if c.Download.MaxAttempts <= 0 {
		errs = append(errs, errors.New("download.max_attempts must be positive"))
	}
	if c.Collect.MaxAttempts <= 0 {
		errs = append(errs, errors.New("collect.max_attempts must be positive"))
	}
	if c.Worker.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("worker.max_concurrency must be positive"))
	}
	switch c.Storage.Backend {
	case "gcs":
	case "local":
		if c.Storage.LocalDir == "" {
			errs = append(errs, errors.New("storage.local_dir is required for the local backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be gcs or local", c.Storage.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}
	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}
