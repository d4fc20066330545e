package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/imageflow/llm/batch"
	"github.com/BaSui01/imageflow/types"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// DefaultBaseURL Gemini API 默认地址
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// Config 适配层配置
type Config struct {
	APIKey  string
	BaseURL string
	// Timeout 作用于非流式调用；结果下载与流式生成只受 ctx 控制
	Timeout time.Duration
	// HTTPClient 可注入，测试与自定义传输使用
	HTTPClient *http.Client
}

// Client 实现 batch.FileService、batch.JobService、batch.ResultOpener 与 image.StreamClient
type Client struct {
	sdk     *genai.Client
	http    *http.Client
	apiKey  string
	baseURL string
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient 创建适配层客户端
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, types.NewMissingConfigError("GEMINI_API_KEY")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	sdk, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL + "/"},
	})
	if err != nil {
		return nil, types.WrapError(err, types.ErrMissingConfig, "failed to create gemini client")
	}

	return &Client{
		sdk:     sdk,
		http:    httpClient,
		apiKey:  apiKey,
		baseURL: baseURL,
		timeout: cfg.Timeout,
		logger:  logger.With(zap.String("component", "gemini")),
	}, nil
}

// Name 返回适配层名称
func (c *Client) Name() string { return "gemini" }

// withTimeout 为单次非流式调用加超时
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// mapError 把 SDK 与 HTTP 错误翻译为统一错误
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	default:
		// 没拿到响应（网络错误等），按状态 0 处理
		return types.NewUpstreamError(fmt.Sprintf("gemini %s: %v", op, err), 0, err)
	}
	return statusError(op, apiErr.Code, apiErr.Message, err)
}

// statusError 按 HTTP 状态码构造错误
func statusError(op string, status int, msg string, cause error) error {
	msg = strings.TrimSpace(msg)
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: gemini %s: %s", batch.ErrRemoteNotFound, op, msg)
	}
	uerr := types.NewUpstreamError(fmt.Sprintf("gemini %s: status=%d msg=%s", op, status, msg), status, cause)
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		uerr.Code = types.ErrForbidden
	case http.StatusBadRequest:
		uerr.Code = types.ErrInvalidInput
	}
	return uerr
}
