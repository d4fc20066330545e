// Package cache provides the Redis-backed submission registry.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrCacheMiss 键不存在
var ErrCacheMiss = errors.New("cache miss")

// ErrClosed 管理器已关闭
var ErrClosed = errors.New("cache manager is closed")

// IsCacheMiss 判断是否为未命中
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// connectTimeout 建连时 PING 的超时
const connectTimeout = 5 * time.Second

// Config Redis 连接配置
type Config struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`

	// KeyPrefix 区分同一 Redis 上的多个部署
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// DefaultTTL 写入未指定 ttl 时使用，0 表示不过期
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	MaxRetries   int `yaml:"max_retries" json:"max_retries"`
	PoolSize     int `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`
}

// DefaultConfig 返回默认配置，提交记录保留一周
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		KeyPrefix:    "imageflow:",
		DefaultTTL:   7 * 24 * time.Hour,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// =============================================================================
// 💾 Manager
// =============================================================================

// Manager 持有 Redis 连接，以带前缀的键读写 JSON 记录
type Manager struct {
	rdb    *redis.Client
	cfg    Config
	logger *zap.Logger
	closed atomic.Bool
}

// NewManager 连接 Redis，PING 失败时返回错误
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	m := &Manager{
		rdb:    rdb,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "cache")),
	}
	m.logger.Info("redis connected",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.String("key_prefix", cfg.KeyPrefix))
	return m, nil
}

func (m *Manager) key(k string) string {
	return m.cfg.KeyPrefix + k
}

// GetJSON 读取 key 并解码到 dest，键不存在返回 ErrCacheMiss
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	if m.closed.Load() {
		return ErrClosed
	}
	raw, err := m.rdb.Get(ctx, m.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	case err != nil:
		m.logger.Warn("redis get failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON 编码 value 后写入，ttl 为 0 时使用 DefaultTTL
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if m.closed.Load() {
		return ErrClosed
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if ttl == 0 {
		ttl = m.cfg.DefaultTTL
	}
	if err := m.rdb.Set(ctx, m.key(key), raw, ttl).Err(); err != nil {
		m.logger.Warn("redis set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete 删除若干键，不存在的键忽略
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, m.key(k))
	}
	if err := m.rdb.Del(ctx, full...).Err(); err != nil {
		m.logger.Warn("redis delete failed", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Ping 供就绪探针使用
func (m *Manager) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return m.rdb.Ping(ctx).Err()
}

// Close 关闭连接，重复调用返回 nil
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.logger.Info("closing redis connection")
	return m.rdb.Close()
}
