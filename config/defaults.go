// =============================================================================
// 📦 ImageFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultModel 默认图像生成模型
const DefaultModel = "gemini-2.5-flash-image"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Gemini:    DefaultGeminiConfig(),
		Batch:     DefaultBatchConfig(),
		Download:  DefaultDownloadConfig(),
		Collect:   DefaultCollectConfig(),
		Worker:    DefaultWorkerConfig(),
		Storage:   DefaultStorageConfig(),
		Cleanup:   DefaultCleanupConfig(),
		Redis:     DefaultRedisConfig(),
		Metrics:   DefaultMetricsConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    15 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
		MaxBodyBytes:    64 << 20,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultGeminiConfig 返回默认 Gemini 配置
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		Model:           DefaultModel,
		BaseURL:         "https://generativelanguage.googleapis.com",
		Timeout:         2 * time.Minute,
		GenerateTimeout: 3 * time.Minute,
	}
}

// DefaultBatchConfig 返回默认批处理配置
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxChunkBytes:     100 << 20,
		MaxChunkLines:     5000,
		UploadConcurrency: 10,
		ImageTransport:    "inline",
		CreateRPS:         2,
		MirrorRequests:    true,
	}
}

// DefaultDownloadConfig 返回默认下载配置
func DefaultDownloadConfig() DownloadConfig {
	return DownloadConfig{
		MaxAttempts: 3,
		Backoff:     time.Second,
		Timeout:     60 * time.Second,
		Concurrency: 8,
	}
}

// DefaultCollectConfig 返回默认收集配置
func DefaultCollectConfig() CollectConfig {
	return CollectConfig{
		MaxAttempts:       3,
		Backoff:           2 * time.Second,
		UploadConcurrency: 8,
		MirrorResponses:   true,
	}
}

// DefaultWorkerConfig 返回默认扇出配置
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		MaxConcurrency:  20,
		MinPromptLength: 3,
		InvokeTimeout:   15 * time.Minute,
	}
}

// DefaultStorageConfig 返回默认存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Backend:      "gcs",
		SignedURLTTL: 24 * time.Hour,
		Timeout:      60 * time.Second,
	}
}

// DefaultCleanupConfig 返回默认清理配置
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		AllowPurgeAll:   false,
		RecordedHandles: true,
		Concurrency:     8,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "",
		Password:      "",
		DB:            0,
		PoolSize:      10,
		MinIdleConns:  2,
		SubmissionTTL: 7 * 24 * time.Hour,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "imageflow",
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "imageflow",
		SampleRate:   0.1,
	}
}
