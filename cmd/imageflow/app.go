package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/config"
	"github.com/BaSui01/imageflow/internal/cache"
	"github.com/BaSui01/imageflow/internal/metrics"
	"github.com/BaSui01/imageflow/internal/objectstore"
	"github.com/BaSui01/imageflow/internal/tlsutil"
	"github.com/BaSui01/imageflow/llm/imagesource"
	"github.com/BaSui01/imageflow/llm/providers/gemini"
	"github.com/BaSui01/imageflow/worker"
)

// =============================================================================
// 🧩 组件装配
// =============================================================================

// appOptions 区分 serve 与 invoke 的装配差异
type appOptions struct {
	// allowLocalSources 允许 folder 指向本机路径，仅 CLI 开启
	allowLocalSources bool
	// metrics 为 nil 时不记录指标
	metrics *metrics.Collector
}

// app 持有一次进程生命周期内共享的客户端
type app struct {
	worker *worker.Worker
	cache  *cache.Manager
	logger *zap.Logger
}

// newApp 按配置装配 Worker。Redis 不可用时降级为无提交记录。
func newApp(cfg *config.Config, opts appOptions, logger *zap.Logger) (*app, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool := gemini.NewPool(gemini.Config{
		APIKey:  cfg.Gemini.APIKey,
		BaseURL: cfg.Gemini.BaseURL,
		Timeout: cfg.Gemini.Timeout,
		HTTPClient: tlsutil.SecureHTTPClient(tlsutil.Options{
			MaxIdleConnsPerHost:   cfg.Worker.MaxConcurrency,
			ResponseHeaderTimeout: cfg.Gemini.GenerateTimeout,
			UserAgent:             userAgent(),
		}),
	}, logger)

	downloader := imagesource.NewDownloader(imagesource.DownloaderConfig{
		MaxAttempts: cfg.Download.MaxAttempts,
		Backoff:     cfg.Download.Backoff,
		Timeout:     cfg.Download.Timeout,
		HTTPClient: tlsutil.SecureHTTPClient(tlsutil.Options{
			MaxIdleConnsPerHost:   cfg.Download.Concurrency,
			ResponseHeaderTimeout: cfg.Download.Timeout,
			UserAgent:             userAgent(),
		}),
	}, logger)

	deps := worker.Dependencies{
		Backends: func(ctx context.Context, apiKey string) (worker.Backend, error) {
			c, err := pool.Client(ctx, apiKey)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		Loader:  imagesource.NewLoader(downloader, cfg.Download.Concurrency, logger),
		Stores:  newOpener(cfg.Storage, logger),
		Metrics: opts.metrics,
	}

	a := &app{logger: logger}

	if cfg.Redis.Addr != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = cfg.Redis.Addr
		cacheCfg.Password = cfg.Redis.Password
		cacheCfg.DB = cfg.Redis.DB
		cacheCfg.PoolSize = cfg.Redis.PoolSize
		cacheCfg.MinIdleConns = cfg.Redis.MinIdleConns
		cacheCfg.DefaultTTL = cfg.Redis.SubmissionTTL

		manager, err := cache.NewManager(cacheCfg, logger)
		if err != nil {
			logger.Warn("redis not available, submissions will not be recorded", zap.Error(err))
		} else {
			a.cache = manager
			deps.Registry = cache.NewRegistry(manager, cfg.Redis.SubmissionTTL, logger)
		}
	}

	wcfg := worker.FromConfig(cfg)
	wcfg.AllowLocalSources = opts.allowLocalSources
	a.worker = worker.New(wcfg, deps, logger)

	logger.Info("worker initialized",
		zap.String("model", wcfg.Model),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("registry", deps.Registry != nil),
		zap.Bool("default_api_key", cfg.Gemini.APIKey != ""),
	)
	return a, nil
}

func userAgent() string {
	return "imageflow/" + Version
}

// newOpener 按 storage.backend 选择对象存储实现
func newOpener(cfg config.StorageConfig, logger *zap.Logger) objectstore.Opener {
	if cfg.Backend == "local" {
		return objectstore.FileOpener{Root: cfg.LocalDir}
	}
	return objectstore.NewGCSOpener(objectstore.GCSOptions{
		CredentialsFile: cfg.CredentialsFile,
		SignedURLTTL:    cfg.SignedURLTTL,
		Timeout:         cfg.Timeout,
	}, logger)
}

// Close 释放共享连接
func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
}
