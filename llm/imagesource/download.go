package imagesource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/imageflow/llm/retry"
	"github.com/BaSui01/imageflow/types"
	"go.uber.org/zap"
)

// DownloaderConfig HTTP 下载配置
type DownloaderConfig struct {
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
	// MaxBytes 单张图片的大小上限
	MaxBytes int64
	// HTTPClient 为空时按 Timeout 创建
	HTTPClient *http.Client
}

// DefaultDownloaderConfig 返回默认下载配置
func DefaultDownloaderConfig() DownloaderConfig {
	return DownloaderConfig{
		MaxAttempts: 3,
		Backoff:     time.Second,
		Timeout:     60 * time.Second,
		MaxBytes:    50 << 20,
	}
}

// Downloader 带重试的 HTTP 下载器
type Downloader struct {
	client   *http.Client
	retryer  retry.Retryer
	timeout  time.Duration
	maxBytes int64
	logger   *zap.Logger
}

// NewDownloader 创建下载器
func NewDownloader(cfg DownloaderConfig, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultDownloaderConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger = logger.With(zap.String("component", "image_downloader"))

	return &Downloader{
		client:   client,
		retryer:  retry.NewBackoffRetryer(retry.LinearPolicy(cfg.MaxAttempts, cfg.Backoff), logger),
		timeout:  cfg.Timeout,
		maxBytes: cfg.MaxBytes,
		logger:   logger,
	}
}

// Get 下载 url 的完整内容，返回数据与响应的 Content-Type。
// 连接错误、5xx、408 与 429 会重试，其余 4xx 立即失败。
func (d *Downloader) Get(ctx context.Context, url string) ([]byte, string, error) {
	var contentType string
	data, err := retry.DoWithResult(ctx, d.retryer, func(attempt int) ([]byte, error) {
		b, ct, err := d.getOnce(ctx, url)
		if err != nil {
			d.logger.Debug("download attempt failed",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return nil, err
		}
		contentType = ct
		return b, nil
	})
	if err != nil {
		return nil, "", err
	}
	return data, contentType, nil
}

func (d *Downloader) getOnce(ctx context.Context, url string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", types.NewInvalidInputError("invalid image url %q", url).WithCause(err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", types.NewUpstreamError(fmt.Sprintf("download %s failed", url), 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// 读取少量响应体便于排查
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", types.NewUpstreamError(
			fmt.Sprintf("download %s failed (status %d): %s", url, resp.StatusCode, strings.TrimSpace(string(snippet))),
			resp.StatusCode, nil,
		)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, "", types.NewUpstreamError(fmt.Sprintf("download %s interrupted", url), 0, err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, "", types.NewInvalidInputError("image %s exceeds %d bytes", url, d.maxBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
