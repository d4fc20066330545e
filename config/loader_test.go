// 配置加载器与默认配置测试。
package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)

	assert.Equal(t, DefaultModel, cfg.Gemini.Model)
	assert.Equal(t, "https://generativelanguage.googleapis.com", cfg.Gemini.BaseURL)

	// 上传并发默认 10
	assert.Equal(t, 10, cfg.Batch.UploadConcurrency)
	assert.Equal(t, "inline", cfg.Batch.ImageTransport)
	assert.Equal(t, 100<<20, cfg.Batch.MaxChunkBytes)

	assert.Equal(t, 3, cfg.Download.MaxAttempts)
	assert.Equal(t, 20, cfg.Worker.MaxConcurrency)
	assert.Equal(t, 3, cfg.Worker.MinPromptLength)

	assert.False(t, cfg.Cleanup.AllowPurgeAll)
	assert.True(t, cfg.Cleanup.RecordedHandles)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Storage.SignedURLTTL)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Empty(t, cfg.Gemini.APIKey)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s

gemini:
  model: "gemini-3-pro-image-preview"
  timeout: 90s

batch:
  max_chunk_bytes: 1048576
  max_chunk_lines: 50
  image_transport: file

storage:
  bucket_name: "assets"
  cdn_url: "https://cdn.example.com"

redis:
  addr: "redis.example.com:6379"
  db: 1

log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, "gemini-3-pro-image-preview", cfg.Gemini.Model)
	assert.Equal(t, 90*time.Second, cfg.Gemini.Timeout)

	assert.Equal(t, 1048576, cfg.Batch.MaxChunkBytes)
	assert.Equal(t, 50, cfg.Batch.MaxChunkLines)
	assert.Equal(t, "file", cfg.Batch.ImageTransport)
	// 未出现在 YAML 中的字段保留默认值
	assert.Equal(t, 10, cfg.Batch.UploadConcurrency)

	assert.Equal(t, "assets", cfg.Storage.BucketName)
	assert.Equal(t, "https://cdn.example.com", cfg.Storage.CDNURL)

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("IMAGEFLOW_SERVER_HTTP_PORT", "7777")
	t.Setenv("IMAGEFLOW_GEMINI_MODEL", "gemini-3-pro-image-preview")
	t.Setenv("IMAGEFLOW_BATCH_UPLOAD_CONCURRENCY", "4")
	t.Setenv("IMAGEFLOW_DOWNLOAD_BACKOFF", "250ms")
	t.Setenv("IMAGEFLOW_CLEANUP_ALLOW_PURGE_ALL", "true")
	t.Setenv("IMAGEFLOW_CLEANUP_RECORDED_HANDLES", "false")
	t.Setenv("IMAGEFLOW_LOG_OUTPUT_PATHS", "stdout, /var/log/imageflow.log")
	t.Setenv("IMAGEFLOW_TELEMETRY_SAMPLE_RATE", "0.5")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, "gemini-3-pro-image-preview", cfg.Gemini.Model)
	assert.Equal(t, 4, cfg.Batch.UploadConcurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Download.Backoff)
	assert.True(t, cfg.Cleanup.AllowPurgeAll)
	assert.False(t, cfg.Cleanup.RecordedHandles)
	assert.Equal(t, []string{"stdout", "/var/log/imageflow.log"}, cfg.Log.OutputPaths)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRate)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
gemini:
  api_key: "yaml-key"
  model: "yaml-model"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	t.Setenv("IMAGEFLOW_SERVER_HTTP_PORT", "9999")
	t.Setenv("IMAGEFLOW_GEMINI_API_KEY", "env-key")

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "env-key", cfg.Gemini.APIKey)
	assert.Equal(t, "yaml-model", cfg.Gemini.Model)
}

func TestLoader_GeminiAPIKeyFallback(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "fallback-key")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "fallback-key", cfg.Gemini.APIKey)

	t.Setenv("IMAGEFLOW_GEMINI_API_KEY", "prefixed-key")
	cfg, err = NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "prefixed-key", cfg.Gemini.APIKey)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("IMAGEFLOW_BATCH_MAX_CHUNK_LINES", "many")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IMAGEFLOW_BATCH_MAX_CHUNK_LINES")
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	require.Error(t, err)
}

func TestLoader_WithValidator(t *testing.T) {
	sentinel := errors.New("rejected")

	_, err := NewLoader().
		WithValidator(func(*Config) error { return sentinel }).
		Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)

	cfg, err := NewLoader().
		WithValidator((*Config).Validate).
		Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }, "invalid HTTP port"},
		{"zero chunk bytes", func(c *Config) { c.Batch.MaxChunkBytes = 0 }, "max_chunk_bytes"},
		{"zero chunk lines", func(c *Config) { c.Batch.MaxChunkLines = 0 }, "max_chunk_lines"},
		{"zero uploads", func(c *Config) { c.Batch.UploadConcurrency = 0 }, "upload_concurrency"},
		{"bad transport", func(c *Config) { c.Batch.ImageTransport = "carrier-pigeon" }, "image_transport"},
		{"zero download attempts", func(c *Config) { c.Download.MaxAttempts = 0 }, "download.max_attempts"},
		{"zero collect attempts", func(c *Config) { c.Collect.MaxAttempts = 0 }, "collect.max_attempts"},
		{"zero workers", func(c *Config) { c.Worker.MaxConcurrency = 0 }, "max_concurrency"},
		{"local without dir", func(c *Config) { c.Storage.Backend = "local" }, "local_dir"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Validate_CollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.HTTPPort = -1
	cfg.Worker.MaxConcurrency = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
	assert.Contains(t, err.Error(), "max_concurrency")
}
