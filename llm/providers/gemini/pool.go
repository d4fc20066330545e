package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/BaSui01/imageflow/types"
	"go.uber.org/zap"
)

// Pool 按 API Key 复用客户端。请求可以携带自己的 key，
// 未携带时使用配置中的默认 key。
type Pool struct {
	mu      sync.Mutex
	base    Config
	clients map[string]*Client
	logger  *zap.Logger
}

// NewPool 创建客户端池，base.APIKey 为默认 key，可为空
func NewPool(base Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		base:    base,
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Client 返回 apiKey 对应的客户端，首次使用时创建
func (p *Pool) Client(ctx context.Context, apiKey string) (*Client, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		key = strings.TrimSpace(p.base.APIKey)
	}
	if key == "" {
		return nil, types.NewMissingConfigError("GEMINI_API_KEY")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	fp := fingerprint(key)
	if c, ok := p.clients[fp]; ok {
		return c, nil
	}

	cfg := p.base
	cfg.APIKey = key
	c, err := NewClient(ctx, cfg, p.logger)
	if err != nil {
		return nil, err
	}
	p.clients[fp] = c
	p.logger.Debug("gemini client created", zap.String("key_fingerprint", fp[:8]))
	return c, nil
}

// Len 返回已缓存的客户端数量
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// fingerprint 避免把明文 key 作为 map 键或写入日志
func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
